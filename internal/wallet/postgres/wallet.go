package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/consultation-booking/internal"
	walletdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/wallet"
	"github.com/frahmantamala/consultation-booking/internal/database"
	walletpkg "github.com/frahmantamala/consultation-booking/internal/wallet"
)

type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) walletpkg.RepositoryAPI {
	return &WalletRepository{db: db}
}

func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*walletdm.Wallet, error) {
	var w walletdm.Wallet
	err := database.Conn(ctx, r.db).Where("user_id = ?", userID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) Create(ctx context.Context, w *walletdm.Wallet) error {
	return database.Conn(ctx, r.db).Create(w).Error
}

// Debit decrements only when the balance covers amount, in one statement.
func (r *WalletRepository) Debit(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	res := database.Conn(ctx, r.db).Model(&walletdm.Wallet{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Credit upserts so a refund to a user without a wallet opens one.
func (r *WalletRepository) Credit(ctx context.Context, userID int64, amount decimal.Decimal, currency string) error {
	now := time.Now().UTC()
	w := &walletdm.Wallet{
		UserID:    userID,
		Balance:   amount,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return database.Conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"balance":    gorm.Expr("wallets.balance + excluded.balance"),
			"updated_at": now,
		}),
	}).Create(w).Error
}
