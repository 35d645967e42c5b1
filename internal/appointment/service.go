package appointment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/database"
	"github.com/frahmantamala/consultation-booking/internal/video"
)

const (
	ReasonPaymentFailed           = "payment failed"
	ReasonPaymentInitiationFailed = "payment initiation failed"
	ReasonCanceledByUser          = "canceled by user"
)

var tracer = otel.Tracer("github.com/frahmantamala/consultation-booking/internal/appointment")

type RepositoryAPI interface {
	Create(ctx context.Context, a *apptdm.Appointment) error
	GetByID(ctx context.Context, id int64) (*apptdm.Appointment, error)
	// TransitionStatus applies to and updates only while the row is in one of
	// from. It reports whether a row changed.
	TransitionStatus(ctx context.Context, id int64, from []string, to string, updates map[string]interface{}) (bool, error)
	UpdateSchedule(ctx context.Context, id int64, startTime, endTime time.Time) (bool, error)
}

type WalletAPI interface {
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) error
}

type MeetingProvider interface {
	CreateMeeting(ctx context.Context, hostIdentity, topic string, startTime time.Time, durationMinutes int) (*video.Meeting, error)
	UpdateMeeting(ctx context.Context, meetingID string, update video.MeetingUpdate) error
	DeleteMeeting(ctx context.Context, meetingID string) error
}

// PaymentCoordinator is the reconciler side of the booking flow.
type PaymentCoordinator interface {
	InitiatePayment(ctx context.Context, appointmentID, userID int64, amount decimal.Decimal, email, phone string) (string, error)
	RefundPolicy(ctx context.Context, appointmentID int64) error
	FailStalePayments(ctx context.Context, appointmentID int64, description string) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{})
}

type Transactor interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

type Service struct {
	repo         RepositoryAPI
	wallets      WalletAPI
	meetings     MeetingProvider
	payments     PaymentCoordinator
	notifier     Notifier
	tx           Transactor
	hostIdentity string
	logger       *slog.Logger
	now          func() time.Time
}

func NewService(
	repo RepositoryAPI,
	wallets WalletAPI,
	meetings MeetingProvider,
	payments PaymentCoordinator,
	notifier Notifier,
	tx Transactor,
	hostIdentity string,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:         repo,
		wallets:      wallets,
		meetings:     meetings,
		payments:     payments,
		notifier:     notifier,
		tx:           tx,
		hostIdentity: hostIdentity,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateBooking books a session. The meeting is created first; the wallet
// debit and the scheduled insert then commit together. When the wallet
// cannot cover the total the booking falls through to the gateway and stays
// pending until the webhook confirms it.
func (s *Service) CreateBooking(ctx context.Context, dto CreateBookingDTO) (*BookingResult, error) {
	ctx, span := tracer.Start(ctx, "appointment.CreateBooking")
	defer span.End()

	if err := dto.Validate(s.now()); err != nil {
		return nil, err
	}

	appt := &apptdm.Appointment{
		ProviderID:  dto.ProviderID,
		ClientID:    dto.ClientID,
		StartTime:   dto.StartTime.UTC(),
		EndTime:     dto.EndTime.UTC(),
		Price:       dto.Price,
		PlatformFee: dto.PlatformFee,
	}
	total := appt.Total()
	span.SetAttributes(
		attribute.Int64("client_id", appt.ClientID),
		attribute.Int64("provider_id", appt.ProviderID),
		attribute.String("total", total.String()),
	)

	meeting, err := s.meetings.CreateMeeting(ctx, s.hostIdentity, meetingTopic(appt), appt.StartTime, appt.DurationMinutes())
	if err != nil {
		s.logger.Error("failed to create meeting", "error", err, "client_id", appt.ClientID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "meeting creation failed")
		return nil, internal.ErrBookingFailed.Wrap(err)
	}
	appt.SetMeeting(meeting.JoinURL, meeting.ID, meeting.Password)

	err = s.tx.Exec(ctx, func(ctx context.Context) error {
		if err := s.wallets.Debit(ctx, appt.ClientID, total); err != nil {
			return err
		}
		appt.Status = apptdm.StatusScheduled
		return s.repo.Create(ctx, appt)
	})
	switch {
	case err == nil:
		s.logger.Info("booking confirmed via wallet",
			"appointment_id", appt.ID,
			"client_id", appt.ClientID,
			"amount", total.String())
		s.notifyParticipants(ctx, appt, events.AppointmentConfirmed, map[string]interface{}{
			"payment_method": "wallet",
			"meeting_url":    meeting.JoinURL,
		})
		span.SetAttributes(attribute.String("payment_path", "wallet"))
		return &BookingResult{Confirmed: true, AppointmentID: appt.ID}, nil

	case errors.Is(err, internal.ErrInsufficientFunds), errors.Is(err, internal.ErrWalletNotFound):
		s.logger.Info("wallet cannot cover booking, routing to gateway",
			"client_id", appt.ClientID,
			"amount", total.String(),
			"reason", err.Error())

	default:
		s.logger.Error("failed to book via wallet", "error", err, "client_id", appt.ClientID)
		s.discardMeeting(ctx, meeting.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "wallet booking failed")
		return nil, internal.ErrBookingFailed.Wrap(err)
	}

	span.SetAttributes(attribute.String("payment_path", "gateway"))
	appt.ID = 0
	appt.Status = apptdm.StatusPending
	appt.CreatedAt = time.Time{}
	appt.UpdatedAt = time.Time{}
	if err := s.repo.Create(ctx, appt); err != nil {
		s.logger.Error("failed to persist pending appointment", "error", err, "client_id", appt.ClientID)
		s.discardMeeting(ctx, meeting.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, internal.ErrBookingFailed.Wrap(err)
	}

	paymentURL, err := s.payments.InitiatePayment(ctx, appt.ID, appt.ClientID, total, dto.ClientEmail, dto.ClientPhone)
	if err != nil {
		s.logger.Error("failed to initiate gateway payment", "error", err, "appointment_id", appt.ID)
		s.abandon(ctx, appt, ReasonPaymentInitiationFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment initiation failed")
		return nil, internal.ErrBookingFailed.Wrap(err)
	}

	s.logger.Info("booking awaiting gateway payment",
		"appointment_id", appt.ID,
		"client_id", appt.ClientID,
		"amount", total.String())
	s.notifier.Notify(ctx, appt.ClientID, events.AppointmentPaymentRequired, map[string]interface{}{
		"appointment_id": appt.ID,
		"payment_url":    paymentURL,
		"amount":         total.String(),
	})

	return &BookingResult{Confirmed: false, AppointmentID: appt.ID, PaymentURL: paymentURL}, nil
}

// ConfirmPayment moves a pending appointment to scheduled. Any other status
// is left alone so repeated webhooks are harmless.
func (s *Service) ConfirmPayment(ctx context.Context, appointmentID int64) error {
	ctx, span := tracer.Start(ctx, "appointment.ConfirmPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", appointmentID))

	changed, err := s.repo.TransitionStatus(ctx, appointmentID, []string{apptdm.StatusPending}, apptdm.StatusScheduled, nil)
	if err != nil {
		s.logger.Error("failed to confirm appointment", "error", err, "appointment_id", appointmentID)
		return internal.NewInternalError("failed to confirm appointment", err)
	}
	if !changed {
		s.logger.Info("confirm skipped: appointment not pending", "appointment_id", appointmentID)
		return nil
	}

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		s.logger.Warn("confirmed appointment could not be reloaded for notification", "error", err, "appointment_id", appointmentID)
		return nil
	}

	s.logger.Info("appointment confirmed", "appointment_id", appointmentID)
	payload := map[string]interface{}{"payment_method": "gateway"}
	if appt.MeetingURL != nil {
		payload["meeting_url"] = *appt.MeetingURL
	}
	s.notifyParticipants(ctx, appt, events.AppointmentConfirmed, payload)
	return nil
}

// FailPayment cancels a pending appointment whose gateway payment failed and
// tears its meeting down.
func (s *Service) FailPayment(ctx context.Context, appointmentID int64) error {
	ctx, span := tracer.Start(ctx, "appointment.FailPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", appointmentID))

	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return s.lookupError(err, appointmentID)
	}
	if appt.Status != apptdm.StatusPending {
		s.logger.Info("fail skipped: appointment not pending", "appointment_id", appointmentID, "status", appt.Status)
		return nil
	}

	changed, err := s.repo.TransitionStatus(ctx, appointmentID, []string{apptdm.StatusPending}, apptdm.StatusCanceled, cancelUpdates(ReasonPaymentFailed))
	if err != nil {
		s.logger.Error("failed to cancel appointment after payment failure", "error", err, "appointment_id", appointmentID)
		return internal.NewInternalError("failed to cancel appointment", err)
	}
	if !changed {
		return nil
	}

	s.logger.Info("appointment canceled after payment failure", "appointment_id", appointmentID)
	s.discardMeetingAfterCommit(ctx, appt)
	s.notifyParticipants(ctx, appt, events.AppointmentCanceled, map[string]interface{}{
		"reason": ReasonPaymentFailed,
	})
	return nil
}

// CancelBooking cancels a pending or scheduled appointment. A scheduled one
// is refunded first; if the refund cannot be issued nothing is canceled.
func (s *Service) CancelBooking(ctx context.Context, dto CancelBookingDTO) (*apptdm.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.CancelBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", dto.AppointmentID))

	if err := dto.Validate(); err != nil {
		return nil, err
	}
	reason := dto.Reason
	if reason == "" {
		reason = ReasonCanceledByUser
	}

	appt, err := s.repo.GetByID(ctx, dto.AppointmentID)
	if err != nil {
		return nil, s.lookupError(err, dto.AppointmentID)
	}
	if dto.UserID != 0 && !appt.IsParticipant(dto.UserID) {
		s.logger.Warn("cancel denied: not a participant", "appointment_id", appt.ID, "user_id", dto.UserID)
		return nil, internal.ErrUnauthorizedAccess
	}
	if !appt.CanCancel() {
		return nil, internal.ErrInvalidAppointmentStatus
	}

	if appt.Status == apptdm.StatusScheduled {
		if err := s.payments.RefundPolicy(ctx, appt.ID); err != nil {
			s.logger.Error("refund failed, appointment left as is", "error", err, "appointment_id", appt.ID)
			span.RecordError(err)
			span.SetStatus(codes.Error, "refund failed")
			return nil, err
		}
	}

	// only from the status the refund decision was made on; a booking that
	// got paid in the meantime must be canceled again to be refunded
	changed := false
	err = s.tx.Exec(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.repo.TransitionStatus(ctx, appt.ID, []string{appt.Status}, apptdm.StatusCanceled, cancelUpdates(reason))
		if err != nil || !changed {
			return err
		}
		if appt.Status == apptdm.StatusPending {
			// a checkout finished after this point is discarded by the webhook
			failed, err := s.payments.FailStalePayments(ctx, appt.ID, fmt.Sprintf("Appointment #%d canceled before payment", appt.ID))
			if err != nil {
				return err
			}
			if failed > 0 {
				s.logger.Info("open gateway payment closed", "appointment_id", appt.ID, "failed_payments", failed)
			}
		}
		s.discardMeetingAfterCommit(ctx, appt)
		s.notifyParticipants(ctx, appt, events.AppointmentCanceled, map[string]interface{}{
			"reason":          reason,
			"previous_status": appt.Status,
		})
		return nil
	})
	if err != nil {
		s.logger.Error("failed to cancel appointment", "error", err, "appointment_id", appt.ID)
		span.RecordError(err)
		return nil, internal.NewInternalError("failed to cancel appointment", err)
	}
	if !changed {
		return nil, internal.ErrInvalidAppointmentStatus
	}

	s.logger.Info("appointment canceled", "appointment_id", appt.ID, "previous_status", appt.Status, "reason", reason)

	updated, err := s.repo.GetByID(ctx, appt.ID)
	if err != nil {
		return nil, s.lookupError(err, appt.ID)
	}
	return updated, nil
}

// RescheduleBooking moves a future pending or scheduled session. The video
// provider is updated before the local row.
func (s *Service) RescheduleBooking(ctx context.Context, dto RescheduleDTO) (*apptdm.Appointment, error) {
	ctx, span := tracer.Start(ctx, "appointment.RescheduleBooking")
	defer span.End()
	span.SetAttributes(attribute.Int64("appointment_id", dto.AppointmentID))

	now := s.now()
	if err := dto.Validate(now); err != nil {
		return nil, err
	}

	appt, err := s.repo.GetByID(ctx, dto.AppointmentID)
	if err != nil {
		return nil, s.lookupError(err, dto.AppointmentID)
	}
	if dto.UserID != 0 && !appt.IsParticipant(dto.UserID) {
		return nil, internal.ErrUnauthorizedAccess
	}
	if !appt.CanReschedule(now) {
		return nil, internal.ErrInvalidAppointmentStatus
	}

	start, end := dto.StartTime.UTC(), dto.EndTime.UTC()
	if appt.HasMeeting() {
		duration := int(end.Sub(start).Minutes())
		update := video.MeetingUpdate{StartTime: &start, DurationMinutes: &duration}
		if err := s.meetings.UpdateMeeting(ctx, *appt.MeetingID, update); err != nil {
			s.logger.Error("failed to move meeting", "error", err, "appointment_id", appt.ID)
			span.RecordError(err)
			return nil, internal.NewExternalError("Could not update the video session", internal.ErrCodeMeetingFailed, err)
		}
	}

	changed, err := s.repo.UpdateSchedule(ctx, appt.ID, start, end)
	if err != nil {
		s.logger.Error("failed to reschedule appointment", "error", err, "appointment_id", appt.ID)
		return nil, internal.NewInternalError("failed to reschedule appointment", err)
	}
	if !changed {
		return nil, internal.ErrInvalidAppointmentStatus
	}

	s.logger.Info("appointment rescheduled", "appointment_id", appt.ID, "start_time", start)
	s.notifyParticipants(ctx, appt, events.AppointmentRescheduled, map[string]interface{}{
		"previous_start_time": appt.StartTime,
		"start_time":          start,
		"end_time":            end,
	})

	updated, err := s.repo.GetByID(ctx, appt.ID)
	if err != nil {
		return nil, s.lookupError(err, appt.ID)
	}
	return updated, nil
}

func (s *Service) GetAppointment(ctx context.Context, userID, appointmentID int64) (*apptdm.Appointment, error) {
	appt, err := s.repo.GetByID(ctx, appointmentID)
	if err != nil {
		return nil, s.lookupError(err, appointmentID)
	}
	if !appt.IsParticipant(userID) {
		s.logger.Warn("unauthorized access to appointment", "appointment_id", appointmentID, "user_id", userID)
		return nil, internal.ErrUnauthorizedAccess
	}
	return appt, nil
}

// abandon cancels a pending booking that never reached the gateway.
func (s *Service) abandon(ctx context.Context, appt *apptdm.Appointment, reason string) {
	if appt.HasMeeting() {
		s.discardMeeting(ctx, *appt.MeetingID)
	}
	if _, err := s.repo.TransitionStatus(ctx, appt.ID, []string{apptdm.StatusPending}, apptdm.StatusCanceled, cancelUpdates(reason)); err != nil {
		s.logger.Error("failed to cancel abandoned booking", "error", err, "appointment_id", appt.ID)
	}
}

// discardMeetingAfterCommit keeps the provider call out of the database
// transaction. Outside one it runs at once.
func (s *Service) discardMeetingAfterCommit(ctx context.Context, appt *apptdm.Appointment) {
	if !appt.HasMeeting() {
		return
	}
	meetingID := *appt.MeetingID
	database.AfterCommit(ctx, func() {
		s.discardMeeting(ctx, meetingID)
	})
}

// discardMeeting is best-effort; the video client already maps 404 to nil.
func (s *Service) discardMeeting(ctx context.Context, meetingID string) {
	if err := s.meetings.DeleteMeeting(ctx, meetingID); err != nil {
		s.logger.Warn("failed to delete meeting", "error", err, "meeting_id", meetingID)
	}
}

func (s *Service) notifyParticipants(ctx context.Context, appt *apptdm.Appointment, kind string, extra map[string]interface{}) {
	database.AfterCommit(ctx, func() {
		for _, userID := range []int64{appt.ClientID, appt.ProviderID} {
			payload := map[string]interface{}{
				"appointment_id": appt.ID,
				"start_time":     appt.StartTime,
				"end_time":       appt.EndTime,
			}
			for k, v := range extra {
				payload[k] = v
			}
			s.notifier.Notify(ctx, userID, kind, payload)
		}
	})
}

func (s *Service) lookupError(err error, appointmentID int64) error {
	if errors.Is(err, internal.ErrAppointmentNotFound) {
		return internal.ErrAppointmentNotFound
	}
	s.logger.Error("failed to load appointment", "error", err, "appointment_id", appointmentID)
	return internal.NewInternalError("failed to load appointment", err)
}

func cancelUpdates(reason string) map[string]interface{} {
	return map[string]interface{}{
		"cancel_reason":    reason,
		"meeting_url":      nil,
		"meeting_id":       nil,
		"meeting_password": nil,
	}
}

func meetingTopic(appt *apptdm.Appointment) string {
	return fmt.Sprintf("Consultation %s", appt.StartTime.Format("2006-01-02 15:04 MST"))
}
