package transaction

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/database"
)

// RefundPolicy refunds a canceled appointment. More than 24 hours ahead the
// gateway payment is reversed and settles later by webhook; otherwise, or
// when there is no gateway payment to reverse, the wallet is credited at
// once. An appointment with a refund already in flight or done is skipped.
func (s *Service) RefundPolicy(ctx context.Context, appointmentID int64) error {
	ctx, span := tracer.Start(ctx, "transaction.RefundPolicy")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", appointmentID))

	appt, err := s.lookupAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}

	active, err := s.repo.HasActiveRefund(ctx, appt.ID)
	if err != nil {
		s.logger.Error("failed to check existing refunds", "error", err, "appointment_id", appt.ID)
		return internal.NewInternalError("failed to check existing refunds", err)
	}
	if active {
		s.logger.Info("refund skipped: already refunded", "appointment_id", appt.ID)
		return nil
	}

	untilStart := appt.StartTime.Sub(s.now())
	span.SetAttributes(attribute.Float64("hours_until_start", untilStart.Hours()))

	if untilStart > refundCutoff {
		payment, err := s.repo.FindCompletedPayment(ctx, appt.ID)
		switch {
		case err == nil && payment.MetaString(txdm.MetaTransactionID) != "":
			span.SetAttributes(attribute.String("refund_method", txdm.MethodBank))
			return s.refundViaGateway(ctx, appt, payment)
		case err != nil && !errors.Is(err, internal.ErrTransactionNotFound):
			s.logger.Error("failed to load completed payment", "error", err, "appointment_id", appt.ID)
			return internal.NewInternalError("failed to load completed payment", err)
		}
		s.logger.Info("no gateway payment to reverse, refunding to wallet", "appointment_id", appt.ID)
	}

	span.SetAttributes(attribute.String("refund_method", txdm.MethodWallet))
	if err := s.refundToWallet(ctx, appt); err != nil {
		if errors.Is(err, internal.ErrAlreadyRefunded) {
			return nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet refund failed")
		return err
	}
	return nil
}

func (s *Service) refundViaGateway(ctx context.Context, appt *apptdm.Appointment, payment *txdm.Transaction) error {
	gatewayTxnID := payment.MetaString(txdm.MetaTransactionID)

	if err := s.gateway.Refund(ctx, gatewayTxnID, payment.Amount); err != nil {
		s.logger.Error("gateway refund failed", "error", err, "appointment_id", appt.ID, "gateway_transaction_id", gatewayTxnID)
		return internal.NewExternalError("Refund could not be issued", internal.ErrCodeRefundFailed, err)
	}

	meta, err := txdm.Metadata{
		txdm.MetaMethod:                txdm.MethodBank,
		txdm.MetaOriginalTransactionID: gatewayTxnID,
		txdm.MetaOrderID:               payment.MetaString(txdm.MetaOrderID),
	}.JSON()
	if err != nil {
		return internal.NewInternalError("failed to encode refund metadata", err)
	}

	refund := &txdm.Transaction{
		UserID:        appt.ClientID,
		AppointmentID: &appt.ID,
		Amount:        payment.Amount,
		Type:          txdm.TypeRefund,
		Status:        txdm.StatusPending,
		RefKind:       txdm.RefKindRefundOf,
		RefID:         gatewayTxnID,
		Metadata:      meta,
		Description:   fmt.Sprintf("Refund to original payment method for appointment #%d", appt.ID),
	}
	if err := s.repo.Create(ctx, refund); err != nil {
		// the gateway has the refund; only the local record is missing
		s.logger.Error("gateway refund issued but not recorded",
			"error", err,
			"appointment_id", appt.ID,
			"gateway_transaction_id", gatewayTxnID)
		return internal.NewInternalError("failed to record refund", err)
	}

	s.logger.Info("gateway refund initiated",
		"appointment_id", appt.ID,
		"refund_transaction_id", refund.ID,
		"gateway_transaction_id", gatewayTxnID,
		"amount", payment.Amount.String())
	s.notifier.Notify(ctx, appt.ClientID, events.RefundInitiated, map[string]interface{}{
		"appointment_id": appt.ID,
		"amount":         payment.Amount.String(),
		"method":         txdm.MethodBank,
	})
	return nil
}

// refundToWallet credits the client and records a completed refund in the
// same database transaction.
func (s *Service) refundToWallet(ctx context.Context, appt *apptdm.Appointment) error {
	amount := appt.Total()

	meta, err := txdm.Metadata{txdm.MetaMethod: txdm.MethodWallet}.JSON()
	if err != nil {
		return internal.NewInternalError("failed to encode refund metadata", err)
	}
	refund := &txdm.Transaction{
		UserID:        appt.ClientID,
		AppointmentID: &appt.ID,
		Amount:        amount,
		Type:          txdm.TypeRefund,
		Status:        txdm.StatusCompleted,
		Metadata:      meta,
		Description:   fmt.Sprintf("Wallet refund for appointment #%d", appt.ID),
	}

	err = s.tx.Exec(ctx, func(ctx context.Context) error {
		if err := s.wallets.Credit(ctx, appt.ClientID, amount); err != nil {
			return err
		}
		if err := s.repo.Create(ctx, refund); err != nil {
			return err
		}
		database.AfterCommit(ctx, func() {
			s.notifier.Notify(ctx, appt.ClientID, events.WalletCredited, map[string]interface{}{
				"appointment_id": appt.ID,
				"amount":         amount.String(),
			})
		})
		return nil
	})
	if err != nil {
		// a concurrent cancel recorded its refund first; ours rolled back
		if active, checkErr := s.repo.HasActiveRefund(ctx, appt.ID); checkErr == nil && active {
			s.logger.Warn("wallet refund rolled back: already refunded", "appointment_id", appt.ID, "client_id", appt.ClientID)
			return internal.ErrAlreadyRefunded
		}
		s.logger.Error("wallet refund failed", "error", err, "appointment_id", appt.ID, "client_id", appt.ClientID)
		if _, ok := internal.IsAppError(err); ok {
			return err
		}
		return internal.NewInternalError("failed to refund to wallet", err)
	}

	s.logger.Info("wallet refunded",
		"appointment_id", appt.ID,
		"client_id", appt.ClientID,
		"refund_transaction_id", refund.ID,
		"amount", amount.String())
	return nil
}
