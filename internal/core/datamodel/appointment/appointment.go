package appointment

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
	StatusCanceled  = "canceled"
	StatusNoShow    = "no_show"
)

type Appointment struct {
	ID              int64           `gorm:"primaryKey"`
	ProviderID      int64           `gorm:"column:provider_id;not null;index"`
	ClientID        int64           `gorm:"column:client_id;not null;index"`
	StartTime       time.Time       `gorm:"column:start_time;not null;index"`
	EndTime         time.Time       `gorm:"column:end_time;not null"`
	Price           decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	PlatformFee     decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	Status          string          `gorm:"column:status;not null;index"`
	CancelReason    *string         `gorm:"column:cancel_reason"`
	MeetingURL      *string         `gorm:"column:meeting_url"`
	MeetingID       *string         `gorm:"column:meeting_id"`
	MeetingPassword *string         `gorm:"column:meeting_password"`
	Diagnosis       *string         `gorm:"column:diagnosis"`
	Notes           *string         `gorm:"column:notes"`
	Prescription    *string         `gorm:"column:prescription"`
	CreatedAt       time.Time       `gorm:"column:created_at;index"`
	UpdatedAt       time.Time       `gorm:"column:updated_at"`
}

// Total is what the client pays: session price plus platform fee.
func (a *Appointment) Total() decimal.Decimal {
	return a.Price.Add(a.PlatformFee)
}

func (a *Appointment) DurationMinutes() int {
	return int(a.EndTime.Sub(a.StartTime).Minutes())
}

func (a *Appointment) HasMeeting() bool {
	return a.MeetingID != nil && *a.MeetingID != ""
}

func (a *Appointment) SetMeeting(url, id, password string) {
	a.MeetingURL = &url
	a.MeetingID = &id
	a.MeetingPassword = &password
}

func (a *Appointment) IsParticipant(userID int64) bool {
	return a.ClientID == userID || a.ProviderID == userID
}

func (a *Appointment) CanConfirm() bool {
	return a.Status == StatusPending
}

func (a *Appointment) CanCancel() bool {
	return a.Status == StatusPending || a.Status == StatusScheduled
}

func (a *Appointment) CanReschedule(now time.Time) bool {
	return a.CanCancel() && a.StartTime.After(now)
}
