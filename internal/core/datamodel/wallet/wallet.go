package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

type Wallet struct {
	ID        int64           `gorm:"primaryKey"`
	UserID    int64           `gorm:"column:user_id;not null;uniqueIndex"`
	Balance   decimal.Decimal `gorm:"column:balance;type:numeric(12,2);not null;check:chk_wallets_balance,balance >= 0"`
	Currency  string          `gorm:"column:currency;not null"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}
