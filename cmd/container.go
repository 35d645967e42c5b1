package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/appointment"
	apptpg "github.com/frahmantamala/consultation-booking/internal/appointment/postgres"
	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/database"
	"github.com/frahmantamala/consultation-booking/internal/monitor"
	"github.com/frahmantamala/consultation-booking/internal/notification"
	"github.com/frahmantamala/consultation-booking/internal/paymentgateway"
	"github.com/frahmantamala/consultation-booking/internal/transaction"
	txpg "github.com/frahmantamala/consultation-booking/internal/transaction/postgres"
	"github.com/frahmantamala/consultation-booking/internal/video"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
	walletpg "github.com/frahmantamala/consultation-booking/internal/wallet/postgres"
	"github.com/frahmantamala/consultation-booking/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Dependencies is the object graph shared by the server, monitor and
// tooling commands.
type Dependencies struct {
	Config       *internal.Config
	DB           *sqlx.DB
	Gorm         *gorm.DB
	Redis        *redis.Client
	Bus          *events.EventBus
	Notifier     *notification.Facade
	Wallets      *wallet.Service
	Appointments *appointment.Service
	Transactions *transaction.Service
	Logger       *slog.Logger

	appointmentRepo *apptpg.AppointmentRepository
	transactor      *database.Transactor
	publisher       *notification.AMQPPublisher
}

func initializeDependencies(ctx context.Context, cfg *internal.Config) (*Dependencies, error) {
	log := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	gormDB, err := database.Open(db.DB)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	deps := &Dependencies{
		Config: cfg,
		DB:     db,
		Gorm:   gormDB,
		Logger: log,
	}

	if cfg.Redis.Addr != "" {
		deps.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
	}

	deps.Bus = events.NewEventBus(log)
	sinks := []notification.Sink{notification.NewLogSink(log)}
	if cfg.Notification.AMQPURL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.Notification.AMQPURL, cfg.Notification.Exchange)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect notification broker: %w", err)
		}
		deps.publisher = publisher
		sinks = append(sinks, notification.NewBrokerSink(publisher))
	}
	notification.Register(deps.Bus, sinks...)
	deps.Notifier = notification.NewFacade(deps.Bus, log)

	deps.transactor = database.NewTransactor(gormDB)
	deps.appointmentRepo = apptpg.NewAppointmentRepository(gormDB)
	deps.Wallets = wallet.NewService(walletpg.NewWalletRepository(gormDB), cfg.Payment.Currency, log)

	gateway := paymentgateway.NewClient(paymentgateway.Config{
		BaseURL:              cfg.Payment.BaseURL,
		APIKey:               cfg.Payment.APIKey,
		IntegrationID:        cfg.Payment.IntegrationID,
		IframeID:             cfg.Payment.IframeID,
		IframeBaseURL:        cfg.Payment.IframeBaseURL,
		Currency:             cfg.Payment.Currency,
		TokenTTL:             cfg.Payment.TokenTTL,
		PaymentKeyExpiration: cfg.Payment.PaymentKeyExpiration,
		Timeout:              cfg.Payment.Timeout,
	}, log)

	meetings := video.NewClient(video.Config{
		BaseURL:      cfg.Video.BaseURL,
		AuthURL:      cfg.Video.AuthURL,
		AccountID:    cfg.Video.AccountID,
		ClientID:     cfg.Video.ClientID,
		ClientSecret: cfg.Video.ClientSecret,
		Timeout:      cfg.Video.Timeout,
	}, log)

	deps.Transactions = transaction.NewService(
		txpg.NewTransactionRepository(gormDB),
		gateway,
		deps.appointmentRepo,
		deps.Wallets,
		deps.Notifier,
		deps.transactor,
		log,
	)
	deps.Appointments = appointment.NewService(
		deps.appointmentRepo,
		deps.Wallets,
		meetings,
		deps.Transactions,
		deps.Notifier,
		deps.transactor,
		cfg.Video.HostIdentity,
		log,
	)
	deps.Transactions.SetBookingHandler(deps.Appointments)

	return deps, nil
}

// NewMonitor builds the expiry and reminder monitor. The lock is held in
// Redis when it is configured so only one replica runs a tick.
func (d *Dependencies) NewMonitor() *monitor.Monitor {
	var locker monitor.Locker = monitor.NewLocalLocker()
	if d.Redis != nil {
		locker = monitor.NewRedisLocker(d.Redis, d.Config.Monitor.LockExpiry, d.Logger)
	}

	return monitor.New(monitor.ConfigFrom(d.Config.Monitor), d.appointmentRepo, d.Transactions, d.Notifier, d.transactor, locker, d.Logger)
}

// Close drains pending notifications before releasing connections.
func (d *Dependencies) Close() {
	if d.Bus != nil {
		d.Bus.Wait()
	}
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.Logger.Error("notification broker close error", "error", err)
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("redis close error", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("database close error", "error", err)
		}
	}
}

// initDB opens the shared pool. gorm and the health check both use it.
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
