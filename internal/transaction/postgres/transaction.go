package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/frahmantamala/consultation-booking/internal"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/database"
)

// TransactionRepository is the append-only ledger. Rows are inserted and
// moved out of pending once; nothing is deleted.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, t *txdm.Transaction) error {
	return database.Conn(ctx, r.db).Create(t).Error
}

func (r *TransactionRepository) FindPendingPayment(ctx context.Context, appointmentID, userID int64) (*txdm.Transaction, error) {
	return r.first(database.Conn(ctx, r.db).
		Where("appointment_id = ? AND user_id = ? AND type = ? AND status = ?",
			appointmentID, userID, txdm.TypePayment, txdm.StatusPending).
		Order("id DESC"))
}

func (r *TransactionRepository) FindPendingByRef(ctx context.Context, txType, refKind, refID string) (*txdm.Transaction, error) {
	return r.first(database.Conn(ctx, r.db).
		Where("ref_kind = ? AND ref_id = ? AND type = ? AND status = ?",
			refKind, refID, txType, txdm.StatusPending).
		Order("id DESC"))
}

// FindPendingRefundByOrderID is the fallback for refund callbacks that carry
// the order but not the parent transaction.
func (r *TransactionRepository) FindPendingRefundByOrderID(ctx context.Context, orderID string) (*txdm.Transaction, error) {
	return r.first(database.Conn(ctx, r.db).
		Where("type = ? AND status = ?", txdm.TypeRefund, txdm.StatusPending).
		Where(datatypes.JSONQuery("metadata").Equals(orderID, txdm.MetaOrderID)).
		Order("id DESC"))
}

func (r *TransactionRepository) FindCompletedPayment(ctx context.Context, appointmentID int64) (*txdm.Transaction, error) {
	return r.first(database.Conn(ctx, r.db).
		Where("appointment_id = ? AND type = ? AND status = ?",
			appointmentID, txdm.TypePayment, txdm.StatusCompleted).
		Order("id DESC"))
}

// HasActiveRefund reports a pending or completed refund for the appointment.
func (r *TransactionRepository) HasActiveRefund(ctx context.Context, appointmentID int64) (bool, error) {
	var count int64
	err := database.Conn(ctx, r.db).Model(&txdm.Transaction{}).
		Where("appointment_id = ? AND type = ? AND status IN ?",
			appointmentID, txdm.TypeRefund, []string{txdm.StatusPending, txdm.StatusCompleted}).
		Count(&count).Error
	return count > 0, err
}

func (r *TransactionRepository) Finalize(ctx context.Context, id int64, status string, metadata datatypes.JSON, description string) (bool, error) {
	values := map[string]interface{}{
		"status":     status,
		"metadata":   metadata,
		"updated_at": time.Now().UTC(),
	}
	if description != "" {
		values["description"] = description
	}

	res := database.Conn(ctx, r.db).Model(&txdm.Transaction{}).
		Where("id = ? AND status = ?", id, txdm.StatusPending).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *TransactionRepository) FailPendingPayments(ctx context.Context, appointmentID int64, description string) (int64, error) {
	res := database.Conn(ctx, r.db).Model(&txdm.Transaction{}).
		Where("appointment_id = ? AND type = ? AND status = ?",
			appointmentID, txdm.TypePayment, txdm.StatusPending).
		Updates(map[string]interface{}{
			"status":      txdm.StatusFailed,
			"description": description,
			"updated_at":  time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

func (r *TransactionRepository) first(q *gorm.DB) (*txdm.Transaction, error) {
	var t txdm.Transaction
	if err := q.First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}
