package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/datatypes"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	pgdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/paymentgateway"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
)

var tracer = otel.Tracer("github.com/frahmantamala/consultation-booking/internal/transaction")

type RepositoryAPI interface {
	Create(ctx context.Context, t *txdm.Transaction) error
	FindPendingPayment(ctx context.Context, appointmentID, userID int64) (*txdm.Transaction, error)
	FindPendingByRef(ctx context.Context, txType, refKind, refID string) (*txdm.Transaction, error)
	FindPendingRefundByOrderID(ctx context.Context, orderID string) (*txdm.Transaction, error)
	FindCompletedPayment(ctx context.Context, appointmentID int64) (*txdm.Transaction, error)
	HasActiveRefund(ctx context.Context, appointmentID int64) (bool, error)
	// Finalize moves a pending row to status. It reports false when the row
	// had already left pending.
	Finalize(ctx context.Context, id int64, status string, metadata datatypes.JSON, description string) (bool, error)
	FailPendingPayments(ctx context.Context, appointmentID int64, description string) (int64, error)
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, merchantOrderID string) (string, error)
	GeneratePaymentToken(ctx context.Context, amount decimal.Decimal, orderID, email, phone string) (string, error)
	Refund(ctx context.Context, gatewayTransactionID string, amount decimal.Decimal) error
	PaymentURL(paymentToken string) string
}

type AppointmentReader interface {
	GetByID(ctx context.Context, id int64) (*apptdm.Appointment, error)
}

type WalletCreditor interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) error
}

// BookingHandler is the booking side the reconciler drives once a gateway
// payment settles.
type BookingHandler interface {
	ConfirmPayment(ctx context.Context, appointmentID int64) error
	FailPayment(ctx context.Context, appointmentID int64) error
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{})
}

type Transactor interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

type WebhookOutcome string

const (
	// WebhookIgnored means no pending row matched the event.
	WebhookIgnored WebhookOutcome = "ignored"
	// WebhookDuplicate means the row was finalized by an earlier delivery.
	WebhookDuplicate WebhookOutcome = "duplicate"
	WebhookProcessed WebhookOutcome = "processed"
)

const refundCutoff = 24 * time.Hour

type Service struct {
	repo         RepositoryAPI
	gateway      Gateway
	appointments AppointmentReader
	wallets      WalletCreditor
	bookings     BookingHandler
	notifier     Notifier
	tx           Transactor
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(
	repo RepositoryAPI,
	gateway Gateway,
	appointments AppointmentReader,
	wallets WalletCreditor,
	notifier Notifier,
	tx Transactor,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		gateway:      gateway,
		appointments: appointments,
		wallets:      wallets,
		notifier:     notifier,
		tx:           tx,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetBookingHandler completes the wiring once the booking service exists;
// the two services call into each other.
func (s *Service) SetBookingHandler(h BookingHandler) {
	s.bookings = h
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// InitiatePayment returns a hosted payment URL for the appointment. A pending
// payment already on file is reused so retries never open a second order.
func (s *Service) InitiatePayment(ctx context.Context, appointmentID, userID int64, amount decimal.Decimal, email, phone string) (string, error) {
	ctx, span := tracer.Start(ctx, "transaction.InitiatePayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", appointmentID), attribute.Int64("user_id", userID))

	existing, err := s.repo.FindPendingPayment(ctx, appointmentID, userID)
	switch {
	case err == nil:
		s.logger.Info("reusing pending gateway order", "appointment_id", appointmentID, "order_id", existing.RefID)
		return s.remint(ctx, existing, email, phone)
	case !errors.Is(err, internal.ErrTransactionNotFound):
		s.logger.Error("failed to look up pending payment", "error", err, "appointment_id", appointmentID)
		return "", internal.NewInternalError("failed to look up pending payment", err)
	}

	merchantOrderID := fmt.Sprintf("appt-%d-%s", appointmentID, uuid.NewString()[:8])
	orderID, err := s.gateway.CreateOrder(ctx, amount, merchantOrderID)
	if err != nil {
		s.logger.Error("gateway order creation failed", "error", err, "appointment_id", appointmentID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return "", internal.NewExternalError("Payment gateway unavailable", internal.ErrCodeGatewayFailed, err)
	}

	token, err := s.gateway.GeneratePaymentToken(ctx, amount, orderID, email, phone)
	if err != nil {
		s.logger.Error("gateway payment token failed", "error", err, "order_id", orderID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment token failed")
		return "", internal.NewExternalError("Payment gateway unavailable", internal.ErrCodeGatewayFailed, err)
	}

	meta, err := txdm.Metadata{
		txdm.MetaOrderID:         orderID,
		txdm.MetaMerchantOrderID: merchantOrderID,
		txdm.MetaMethod:          txdm.MethodGateway,
	}.JSON()
	if err != nil {
		return "", internal.NewInternalError("failed to encode payment metadata", err)
	}

	txn := &txdm.Transaction{
		UserID:        userID,
		AppointmentID: &appointmentID,
		Amount:        amount,
		Type:          txdm.TypePayment,
		Status:        txdm.StatusPending,
		RefKind:       txdm.RefKindOrder,
		RefID:         orderID,
		Metadata:      meta,
		Description:   fmt.Sprintf("Payment for appointment #%d", appointmentID),
	}
	if err := s.repo.Create(ctx, txn); err != nil {
		// a concurrent call may hold the one pending slot for this appointment
		if winner, findErr := s.repo.FindPendingPayment(ctx, appointmentID, userID); findErr == nil {
			s.logger.Warn("lost race opening gateway order, reusing winner", "appointment_id", appointmentID, "order_id", winner.RefID)
			return s.remint(ctx, winner, email, phone)
		}
		s.logger.Error("failed to record pending payment", "error", err, "appointment_id", appointmentID)
		return "", internal.NewInternalError("failed to record pending payment", err)
	}

	s.logger.Info("gateway payment initiated",
		"appointment_id", appointmentID,
		"transaction_id", txn.ID,
		"order_id", orderID,
		"amount", amount.String())

	return s.gateway.PaymentURL(token), nil
}

func (s *Service) remint(ctx context.Context, txn *txdm.Transaction, email, phone string) (string, error) {
	token, err := s.gateway.GeneratePaymentToken(ctx, txn.Amount, txn.RefID, email, phone)
	if err != nil {
		s.logger.Error("gateway payment token failed", "error", err, "order_id", txn.RefID)
		return "", internal.NewExternalError("Payment gateway unavailable", internal.ErrCodeGatewayFailed, err)
	}
	return s.gateway.PaymentURL(token), nil
}

// HandleWebhook finalizes the pending transaction a gateway callback refers
// to. Only the first delivery finds the row pending; later ones are reported
// as duplicates and change nothing. An error means the store failed and the
// gateway should retry.
func (s *Service) HandleWebhook(ctx context.Context, cb *pgdm.Callback) (WebhookOutcome, error) {
	ctx, span := tracer.Start(ctx, "transaction.HandleWebhook")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway_transaction_id", cb.ID.String()),
		attribute.String("order_id", cb.Order.ID.String()),
		attribute.Bool("is_refund", cb.IsRefund),
		attribute.Bool("success", cb.Success),
	)

	if cb.Pending && !cb.Success {
		s.logger.Info("webhook ignored: transaction still pending at gateway", "gateway_transaction_id", cb.ID.String())
		return WebhookIgnored, nil
	}

	txn, err := s.matchPending(ctx, cb)
	if err != nil {
		if errors.Is(err, internal.ErrTransactionNotFound) {
			s.logger.Info("webhook ignored: no pending transaction",
				"order_id", cb.Order.ID.String(),
				"parent_transaction", cb.ParentTransaction.String(),
				"is_refund", cb.IsRefund)
			return WebhookIgnored, nil
		}
		span.RecordError(err)
		return "", internal.NewInternalError("failed to match webhook", err)
	}

	if want := pgdm.ToCents(txn.Amount); cb.AmountCents != want {
		s.logger.Warn("webhook ignored: amount does not match transaction",
			"transaction_id", txn.ID,
			"gateway_transaction_id", cb.ID.String(),
			"amount_cents", cb.AmountCents,
			"expected_cents", want)
		span.SetStatus(codes.Error, "amount mismatch")
		return WebhookIgnored, nil
	}

	status := txdm.StatusFailed
	if cb.Success {
		status = txdm.StatusCompleted
	}

	meta, err := txn.Meta()
	if err != nil {
		s.logger.Warn("discarding unreadable transaction metadata", "error", err, "transaction_id", txn.ID)
		meta = txdm.Metadata{}
	}
	update := txdm.Metadata{
		txdm.MetaTransactionID: cb.ID.String(),
		txdm.MetaAmountCents:   cb.AmountCents,
		txdm.MetaProcessedAt:   s.now().Format(time.RFC3339),
	}
	if len(cb.SourceData) > 0 {
		var source interface{}
		if err := json.Unmarshal(cb.SourceData, &source); err == nil {
			update[txdm.MetaSourceData] = source
		}
	}
	merged, err := meta.Merge(update).JSON()
	if err != nil {
		return "", internal.NewInternalError("failed to encode webhook metadata", err)
	}

	outcome := WebhookProcessed
	err = s.tx.Exec(ctx, func(ctx context.Context) error {
		changed, err := s.repo.Finalize(ctx, txn.ID, status, merged, describe(txn, status))
		if err != nil {
			return err
		}
		if !changed {
			outcome = WebhookDuplicate
			return nil
		}
		if txn.Type != txdm.TypePayment || txn.AppointmentID == nil {
			return nil
		}
		if s.bookings == nil {
			s.logger.Warn("no booking handler wired, appointment left unchanged", "transaction_id", txn.ID)
			return nil
		}
		if cb.Success {
			return s.bookings.ConfirmPayment(ctx, *txn.AppointmentID)
		}
		return s.bookings.FailPayment(ctx, *txn.AppointmentID)
	})
	if err != nil {
		s.logger.Error("failed to apply webhook", "error", err, "transaction_id", txn.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply webhook failed")
		if _, ok := internal.IsAppError(err); ok {
			return "", err
		}
		return "", internal.NewInternalError("failed to apply webhook", err)
	}
	if outcome == WebhookDuplicate {
		s.logger.Info("webhook duplicate: transaction already final", "transaction_id", txn.ID)
		return outcome, nil
	}

	s.logger.Info("webhook applied",
		"transaction_id", txn.ID,
		"type", txn.Type,
		"status", status,
		"gateway_transaction_id", cb.ID.String())
	payload := map[string]interface{}{
		"transaction_id": txn.ID,
		"amount":         txn.Amount.String(),
	}
	if txn.AppointmentID != nil {
		payload["appointment_id"] = *txn.AppointmentID
	}
	s.notifier.Notify(ctx, txn.UserID, webhookKind(txn.Type, cb.Success), payload)
	return outcome, nil
}

func (s *Service) matchPending(ctx context.Context, cb *pgdm.Callback) (*txdm.Transaction, error) {
	if !cb.IsRefund {
		orderID := cb.Order.ID.String()
		if orderID == "" {
			return nil, internal.ErrTransactionNotFound
		}
		return s.repo.FindPendingByRef(ctx, txdm.TypePayment, txdm.RefKindOrder, orderID)
	}

	if parent := cb.ParentTransaction.String(); parent != "" {
		txn, err := s.repo.FindPendingByRef(ctx, txdm.TypeRefund, txdm.RefKindRefundOf, parent)
		if !errors.Is(err, internal.ErrTransactionNotFound) {
			return txn, err
		}
	}
	if orderID := cb.Order.ID.String(); orderID != "" {
		return s.repo.FindPendingRefundByOrderID(ctx, orderID)
	}
	return nil, internal.ErrTransactionNotFound
}

func describe(txn *txdm.Transaction, status string) string {
	target := "payment"
	if txn.Type == txdm.TypeRefund {
		target = "refund"
	}
	if txn.AppointmentID != nil {
		return fmt.Sprintf("Gateway %s %s for appointment #%d", target, status, *txn.AppointmentID)
	}
	return fmt.Sprintf("Gateway %s %s", target, status)
}

func webhookKind(txType string, success bool) string {
	switch {
	case txType == txdm.TypeRefund && success:
		return events.RefundCompleted
	case txType == txdm.TypeRefund:
		return events.RefundFailed
	case success:
		return events.PaymentCompleted
	default:
		return events.PaymentFailed
	}
}

// FailStalePayments marks every pending payment of the appointment failed.
// It runs when a pending booking expires or is canceled, so a late success
// callback finds nothing to complete.
func (s *Service) FailStalePayments(ctx context.Context, appointmentID int64, description string) (int64, error) {
	return s.repo.FailPendingPayments(ctx, appointmentID, description)
}

func (s *Service) lookupAppointment(ctx context.Context, appointmentID int64) (*apptdm.Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, internal.ErrAppointmentNotFound) {
			return nil, internal.ErrAppointmentNotFound
		}
		s.logger.Error("failed to load appointment", "error", err, "appointment_id", appointmentID)
		return nil, internal.NewInternalError("failed to load appointment", err)
	}
	return appt, nil
}
