package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/auth"
	"github.com/frahmantamala/consultation-booking/internal/database"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
	walletpg "github.com/frahmantamala/consultation-booking/internal/wallet/postgres"
	"github.com/frahmantamala/consultation-booking/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	clearData    bool
	seedUsers    int
	seedBalance  string
	seedTokenTTL time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Open funded wallets for sample users and print bearer tokens for them.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		cfg, err := loadConfig(configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		balance, err := decimal.NewFromString(seedBalance)
		if err != nil {
			log.Fatalf("invalid --balance %q: %v", seedBalance, err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := database.Open(db.DB)
		if err != nil {
			log.Fatalf("failed to open gorm: %v", err)
		}

		if clearData {
			for _, table := range []string{"transactions", "appointments", "wallets"} {
				if err := gormDB.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared transactions, appointments and wallets")
		}

		wallets := wallet.NewService(walletpg.NewWalletRepository(gormDB), cfg.Payment.Currency, logger.LoggerWrapper())
		tokens := auth.NewJWTTokenManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer)

		for userID := int64(1); userID <= int64(seedUsers); userID++ {
			if _, err := wallets.GetWallet(ctx, userID); err == nil {
				fmt.Printf("user %d already has a wallet; skipping\n", userID)
			} else if errors.Is(err, internal.ErrWalletNotFound) {
				if _, err := wallets.OpenWallet(ctx, userID, balance); err != nil {
					log.Fatalf("failed to open wallet for user %d: %v", userID, err)
				}
				fmt.Printf("Seeded wallet for user %d with balance %s %s\n", userID, balance.StringFixed(2), cfg.Payment.Currency)
			} else {
				log.Fatalf("failed to read wallet for user %d: %v", userID, err)
			}

			token, err := tokens.GenerateAccessToken(userID, seedTokenTTL)
			if err != nil {
				log.Fatalf("failed to sign token for user %d: %v", userID, err)
			}
			fmt.Printf("user %d token: %s\n", userID, token)
		}

		fmt.Println("Seeding completed")
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
	seedCmd.Flags().IntVar(&seedUsers, "users", 3, "number of sample users, ids starting at 1")
	seedCmd.Flags().StringVar(&seedBalance, "balance", "500.00", "opening wallet balance")
	seedCmd.Flags().DurationVar(&seedTokenTTL, "token-ttl", 24*time.Hour, "lifetime of the printed tokens")
}
