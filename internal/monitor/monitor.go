package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/frahmantamala/consultation-booking/internal"
	apptdm "github.com/frahmantamala/consultation-booking/internal/core/datamodel/appointment"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/database"
)

var tracer = otel.Tracer("github.com/frahmantamala/consultation-booking/internal/monitor")

type AppointmentStore interface {
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]*apptdm.Appointment, error)
	// ExpirePending cancels only while the row is pending and unpaid.
	ExpirePending(ctx context.Context, id int64, reason string) (bool, error)
	ListScheduledStartingBetween(ctx context.Context, from, to time.Time) ([]*apptdm.Appointment, error)
}

type PaymentExpirer interface {
	FailStalePayments(ctx context.Context, appointmentID int64, description string) (int64, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, kind string, payload map[string]interface{})
}

type Transactor interface {
	Exec(ctx context.Context, fn func(ctx context.Context) error) error
}

type Config struct {
	Interval        time.Duration
	PendingTimeout  time.Duration
	ReminderOffsets []time.Duration
	ReminderWindow  time.Duration
	LockKey         string
}

// ConfigFrom maps the application's monitor settings onto a Config.
func ConfigFrom(c internal.MonitorConfig) Config {
	return Config{
		Interval:        c.Interval,
		PendingTimeout:  c.PendingTimeout,
		ReminderOffsets: c.ReminderOffsets,
		ReminderWindow:  c.ReminderWindow,
		LockKey:         c.LockKey,
	}
}

// Monitor runs the periodic sweeps: it cancels bookings whose gateway
// payment never arrived and sends reminders ahead of scheduled sessions.
// Reminders are at-least-once; a start time near a window edge can be seen
// by two ticks.
type Monitor struct {
	cfg          Config
	appointments AppointmentStore
	payments     PaymentExpirer
	notifier     Notifier
	tx           Transactor
	locker       Locker
	logger       *slog.Logger
	now          func() time.Time
	cron         *cron.Cron
}

func New(
	cfg Config,
	appointments AppointmentStore,
	payments PaymentExpirer,
	notifier Notifier,
	tx Transactor,
	locker Locker,
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		cfg:          cfg,
		appointments: appointments,
		payments:     payments,
		notifier:     notifier,
		tx:           tx,
		locker:       locker,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// Start schedules Tick every Interval. Overlapping ticks are skipped.
func (m *Monitor) Start() error {
	if m.cfg.Interval <= 0 {
		return errors.New("monitor interval must be positive")
	}

	cl := cronLogger{logger: m.logger}
	m.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.cfg.Interval), func() {
		m.Tick(context.Background())
	}); err != nil {
		return fmt.Errorf("failed to schedule monitor: %w", err)
	}

	m.cron.Start()
	m.logger.Info("monitor started",
		"interval", m.cfg.Interval.String(),
		"pending_timeout", m.cfg.PendingTimeout.String(),
		"reminder_window", m.cfg.ReminderWindow.String())
	return nil
}

// Stop waits for a running tick to finish or ctx to expire.
func (m *Monitor) Stop(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	done := m.cron.Stop()
	select {
	case <-done.Done():
		m.logger.Info("monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one expiry sweep and one reminder sweep while holding the
// monitor lock. A tick that cannot take the lock does nothing.
func (m *Monitor) Tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "monitor.Tick")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Interval)
	defer cancel()

	unlock, acquired, err := m.locker.TryLock(ctx, m.cfg.LockKey)
	if err != nil {
		m.logger.Error("monitor lock failed", "error", err)
		return
	}
	if !acquired {
		m.logger.Debug("monitor tick skipped: lock held elsewhere")
		span.SetAttributes(attribute.Bool("skipped", true))
		return
	}
	defer unlock()

	expired, err := m.ExpireStale(ctx)
	if err != nil {
		m.logger.Error("expiry sweep failed", "error", err)
	}
	reminded, err := m.SendReminders(ctx)
	if err != nil {
		m.logger.Error("reminder sweep failed", "error", err)
	}

	span.SetAttributes(attribute.Int("expired", expired), attribute.Int("reminded", reminded))
	if expired > 0 || reminded > 0 {
		m.logger.Info("monitor tick", "expired", expired, "reminded", reminded)
	}
}

// ExpireStale cancels pending appointments older than PendingTimeout and
// fails their pending payments. The meeting is left to expire on its own.
func (m *Monitor) ExpireStale(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.cfg.PendingTimeout)
	stale, err := m.appointments.ListStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	minutes := int(m.cfg.PendingTimeout.Minutes())
	reason := fmt.Sprintf("automatically cancelled after %d minutes of no payment", minutes)
	description := fmt.Sprintf("payment window expired after %d minutes", minutes)

	expired := 0
	for _, appt := range stale {
		var failed int64
		changed := false
		err := m.tx.Exec(ctx, func(ctx context.Context) error {
			var err error
			changed, err = m.appointments.ExpirePending(ctx, appt.ID, reason)
			if err != nil || !changed {
				return err
			}
			failed, err = m.payments.FailStalePayments(ctx, appt.ID, description)
			if err != nil {
				return err
			}
			database.AfterCommit(ctx, func() {
				m.notifier.Notify(ctx, appt.ClientID, events.AppointmentExpired, map[string]interface{}{
					"appointment_id": appt.ID,
					"reason":         reason,
				})
			})
			return nil
		})
		if err != nil {
			m.logger.Error("failed to expire appointment", "error", err, "appointment_id", appt.ID)
			continue
		}
		if changed {
			expired++
			m.logger.Info("appointment expired",
				"appointment_id", appt.ID,
				"client_id", appt.ClientID,
				"failed_payments", failed)
		}
	}
	return expired, nil
}

// SendReminders notifies clients whose session starts within
// ReminderWindow of now plus each offset.
func (m *Monitor) SendReminders(ctx context.Context) (int, error) {
	now := m.now()
	sent := 0
	var errs []error

	for _, offset := range m.cfg.ReminderOffsets {
		target := now.Add(offset)
		due, err := m.appointments.ListScheduledStartingBetween(ctx, target.Add(-m.cfg.ReminderWindow), target.Add(m.cfg.ReminderWindow))
		if err != nil {
			errs = append(errs, fmt.Errorf("reminders at %s: %w", offset, err))
			continue
		}

		for _, appt := range due {
			payload := map[string]interface{}{
				"appointment_id": appt.ID,
				"start_time":     appt.StartTime,
				"starts_in":      offset.String(),
			}
			if appt.MeetingURL != nil {
				payload["meeting_url"] = *appt.MeetingURL
			}
			m.notifier.Notify(ctx, appt.ClientID, events.AppointmentReminder, payload)
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
