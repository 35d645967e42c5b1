package transaction

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TypePayment = "payment"
	TypeRefund  = "refund"
)

const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Reconciliation keys. A payment row is found by its gateway order id, a
// refund row by the gateway transaction it reverses.
const (
	RefKindOrder    = "order"
	RefKindRefundOf = "refund_of"
)

// Metadata keys written into the JSON bag.
const (
	MetaOrderID               = "orderId"
	MetaMerchantOrderID       = "merchantOrderId"
	MetaTransactionID         = "transactionId"
	MetaOriginalTransactionID = "originalTransactionId"
	MetaMethod                = "method"
	MetaSourceData            = "sourceData"
	MetaAmountCents           = "amountCents"
	MetaProcessedAt           = "processedAt"
)

const (
	MethodGateway = "gateway"
	MethodBank    = "bank"
	MethodWallet  = "wallet"
)

type Transaction struct {
	ID            int64           `gorm:"primaryKey"`
	UserID        int64           `gorm:"column:user_id;not null;index"`
	AppointmentID *int64          `gorm:"column:appointment_id;index"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Type          string          `gorm:"column:type;not null"`
	Status        string          `gorm:"column:status;not null;index"`
	RefKind       string          `gorm:"column:ref_kind;index:idx_transactions_ref"`
	RefID         string          `gorm:"column:ref_id;index:idx_transactions_ref"`
	Metadata      datatypes.JSON  `gorm:"column:metadata;type:jsonb"`
	Description   string          `gorm:"column:description"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

type Metadata map[string]interface{}

func (t *Transaction) Meta() (Metadata, error) {
	m := Metadata{}
	if len(t.Metadata) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(t.Metadata, &m); err != nil {
		return nil, fmt.Errorf("decode transaction metadata: %w", err)
	}
	return m, nil
}

// MetaString returns a metadata value as a string, or "" when missing.
func (t *Transaction) MetaString(key string) string {
	m, err := t.Meta()
	if err != nil {
		return ""
	}
	return m.String(key)
}

func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Merge copies every key of other into a new bag; other wins on conflict.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (m Metadata) JSON() (datatypes.JSON, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}
	return datatypes.JSON(b), nil
}

func (t *Transaction) IsPending() bool {
	return t.Status == StatusPending
}
