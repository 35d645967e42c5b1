package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	txdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/transaction"
	"github.com/frahmantamala/consultation-booking/internal/database"
)

// AppointmentRepository stores appointments with gorm. Every status change
// is a conditional UPDATE so concurrent writers cannot both win.
type AppointmentRepository struct {
	db *gorm.DB
}

func NewAppointmentRepository(db *gorm.DB) *AppointmentRepository {
	return &AppointmentRepository{db: db}
}

func (r *AppointmentRepository) Create(ctx context.Context, a *apptdm.Appointment) error {
	return database.Conn(ctx, r.db).Create(a).Error
}

func (r *AppointmentRepository) GetByID(ctx context.Context, id int64) (*apptdm.Appointment, error) {
	var a apptdm.Appointment
	err := database.Conn(ctx, r.db).Where("id = ?", id).First(&a).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AppointmentRepository) TransitionStatus(ctx context.Context, id int64, from []string, to string, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range updates {
		values[k] = v
	}

	res := database.Conn(ctx, r.db).Model(&apptdm.Appointment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *AppointmentRepository) UpdateSchedule(ctx context.Context, id int64, startTime, endTime time.Time) (bool, error) {
	res := database.Conn(ctx, r.db).Model(&apptdm.Appointment{}).
		Where("id = ? AND status IN ?", id, []string{apptdm.StatusPending, apptdm.StatusScheduled}).
		Updates(map[string]interface{}{
			"start_time": startTime,
			"end_time":   endTime,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStalePending returns pending appointments created before cutoff,
// oldest first.
func (r *AppointmentRepository) ListStalePending(ctx context.Context, createdBefore time.Time) ([]*apptdm.Appointment, error) {
	var out []*apptdm.Appointment
	err := database.Conn(ctx, r.db).
		Where("status = ? AND created_at < ?", apptdm.StatusPending, createdBefore).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

// ExpirePending cancels a pending appointment unless a completed payment for
// it exists, which means a confirmation is about to land.
func (r *AppointmentRepository) ExpirePending(ctx context.Context, id int64, reason string) (bool, error) {
	conn := database.Conn(ctx, r.db)
	paid := conn.Session(&gorm.Session{NewDB: true}).
		Table("transactions").
		Select("1").
		Where("transactions.appointment_id = appointments.id AND transactions.type = ? AND transactions.status = ?",
			txdm.TypePayment, txdm.StatusCompleted)

	res := conn.Model(&apptdm.Appointment{}).
		Where("id = ? AND status = ?", id, apptdm.StatusPending).
		Where("NOT EXISTS (?)", paid).
		Updates(map[string]interface{}{
			"status":        apptdm.StatusCanceled,
			"cancel_reason": reason,
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *AppointmentRepository) ListScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*apptdm.Appointment, error) {
	var out []*apptdm.Appointment
	err := database.Conn(ctx, r.db).
		Where("status = ? AND start_time >= ? AND start_time <= ?", apptdm.StatusScheduled, from, to).
		Order("start_time ASC").
		Find(&out).Error
	return out, err
}
