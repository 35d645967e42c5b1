// Package dbtest opens an in-memory SQLite database with the production
// models migrated, for repository and service tests.
package dbtest

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	walletdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/wallet"
)

// partial unique indexes from db/migrations that AutoMigrate cannot express
var indexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_pending_payment
		ON transactions(appointment_id) WHERE type = 'payment' AND status = 'pending'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_active_refund
		ON transactions(appointment_id) WHERE type = 'refund' AND status <> 'failed'`,
}

func Open() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&walletdm.Wallet{}, &apptdm.Appointment{}, &txdm.Transaction{}); err != nil {
		return nil, err
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
