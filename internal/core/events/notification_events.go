package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	AppointmentConfirmed       = "appointment.confirmed"
	AppointmentPaymentRequired = "appointment.payment_required"
	AppointmentCanceled        = "appointment.canceled"
	AppointmentExpired         = "appointment.expired"
	AppointmentRescheduled     = "appointment.rescheduled"
	AppointmentReminder        = "appointment.reminder"
	PaymentCompleted           = "payment.completed"
	PaymentFailed              = "payment.failed"
	RefundInitiated            = "refund.initiated"
	RefundCompleted            = "refund.completed"
	RefundFailed               = "refund.failed"
	WalletCredited             = "wallet.credited"
)

// NotificationEvent addresses one user. Delivery channels subscribe to the
// bus and route on UserID.
type NotificationEvent struct {
	BaseEvent
	UserID int64 `json:"user_id"`
}

func NewNotificationEvent(userID int64, kind string, payload map[string]interface{}) *NotificationEvent {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &NotificationEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      kind,
			Timestamp: time.Now().UTC(),
			Data:      payload,
		},
		UserID: userID,
	}
}
