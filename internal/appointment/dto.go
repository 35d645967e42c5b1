package appointment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/core/common/validation"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
)

type CreateBookingDTO struct {
	ClientID    int64           `json:"-"`
	ProviderID  int64           `json:"provider_id"`
	StartTime   time.Time       `json:"start_time"`
	EndTime     time.Time       `json:"end_time"`
	Price       decimal.Decimal `json:"price"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
	ClientEmail string          `json:"client_email"`
	ClientPhone string          `json:"client_phone"`
}

func (dto *CreateBookingDTO) Validate(now time.Time) error {
	validator := validation.NewValidator()
	validator.Field("client_id", dto.ClientID).Required()
	validator.Field("provider_id", dto.ProviderID).Required().Custom(func(value interface{}) *internal.AppError {
		if dto.ClientID != 0 && value.(int64) == dto.ClientID {
			return internal.NewValidationFieldError("provider_id", "cannot book a session with yourself", internal.ErrCodeValidationFailed)
		}
		return nil
	})
	validator.Field("price", dto.Price).PositiveDecimal()
	validator.Field("platform_fee", dto.PlatformFee).NonNegativeDecimal()
	validator.Field("client_email", dto.ClientEmail).Required().Email().MaxLength(255)
	validator.Field("client_phone", dto.ClientPhone).MaxLength(32)
	if err := validator.Validate(); err != nil {
		return err
	}

	if err := validation.ValidateSessionWindow(dto.StartTime, dto.EndTime, now); err != nil {
		return err
	}
	return nil
}

// BookingResult tells the caller whether the session is confirmed or still
// needs a gateway payment at PaymentURL.
type BookingResult struct {
	Confirmed     bool   `json:"confirmed"`
	AppointmentID int64  `json:"appointment_id"`
	PaymentURL    string `json:"payment_url,omitempty"`
}

type CancelBookingDTO struct {
	AppointmentID int64  `json:"-"`
	UserID        int64  `json:"-"`
	Reason        string `json:"reason"`
}

func (dto *CancelBookingDTO) Validate() error {
	validator := validation.NewValidator()
	validator.Field("reason", dto.Reason).MaxLength(500)
	if err := validator.Validate(); err != nil {
		return err
	}
	return nil
}

type RescheduleDTO struct {
	AppointmentID int64     `json:"-"`
	UserID        int64     `json:"-"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
}

func (dto *RescheduleDTO) Validate(now time.Time) error {
	if err := validation.ValidateSessionWindow(dto.StartTime, dto.EndTime, now); err != nil {
		return err
	}
	return nil
}

type AppointmentView struct {
	ID              int64           `json:"id"`
	ProviderID      int64           `json:"provider_id"`
	ClientID        int64           `json:"client_id"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
	Price           decimal.Decimal `json:"price"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Status          string          `json:"status"`
	CancelReason    *string         `json:"cancel_reason,omitempty"`
	MeetingURL      *string         `json:"meeting_url,omitempty"`
	MeetingID       *string         `json:"meeting_id,omitempty"`
	MeetingPassword *string         `json:"meeting_password,omitempty"`
	Diagnosis       *string         `json:"diagnosis,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Prescription    *string         `json:"prescription,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func NewAppointmentView(a *apptdm.Appointment) *AppointmentView {
	return &AppointmentView{
		ID:              a.ID,
		ProviderID:      a.ProviderID,
		ClientID:        a.ClientID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		Price:           a.Price,
		PlatformFee:     a.PlatformFee,
		Status:          a.Status,
		CancelReason:    a.CancelReason,
		MeetingURL:      a.MeetingURL,
		MeetingID:       a.MeetingID,
		MeetingPassword: a.MeetingPassword,
		Diagnosis:       a.Diagnosis,
		Notes:           a.Notes,
		Prescription:    a.Prescription,
		CreatedAt:       a.CreatedAt,
	}
}
