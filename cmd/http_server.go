package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/frahmantamala/consultation-booking/api"
	"github.com/frahmantamala/consultation-booking/internal/appointment"
	"github.com/frahmantamala/consultation-booking/internal/auth"
	"github.com/frahmantamala/consultation-booking/internal/transaction"
	"github.com/frahmantamala/consultation-booking/internal/transport/rest"
	"github.com/frahmantamala/consultation-booking/internal/wallet"
	"github.com/frahmantamala/consultation-booking/pkg/obs"

	"github.com/go-chi/chi"
	"github.com/spf13/cobra"
)

var withMonitor bool

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the HTTP server to handle booking, wallet and payment callback requests`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

func init() {
	httpServerCmd.Flags().BoolVar(&withMonitor, "with-monitor", true, "run the expiry and reminder monitor in-process when monitor.enabled is set")
}

func startHTTPServer() {
	ctx := context.Background()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	shutdownTracer, err := obs.InitTracer(ctx, obs.TracerConfig{
		Enabled:      cfg.Observability.Tracing.Enabled,
		ServiceName:  cfg.Observability.Tracing.ServiceName,
		Endpoint:     cfg.Observability.Tracing.Endpoint,
		SamplingRate: cfg.Observability.Tracing.SamplingRate,
		Environment:  os.Getenv("APP_ENV"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracing: %v\n", err)
		os.Exit(1)
	}

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	log := deps.Logger

	if _, err := api.Load(ctx); err != nil {
		log.Error("OpenAPI document rejected", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	rest.RegisterAllRoutes(router, buildHandlers(deps), log)

	mon := deps.NewMonitor()
	runMonitor := withMonitor && cfg.Monitor.Enabled
	if runMonitor {
		if err := mon.Start(); err != nil {
			log.Error("Monitor failed to start", "error", err)
			os.Exit(1)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info("Starting HTTP server", "address", addr, "monitor", runMonitor)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	exitCode := 0
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down...", "signal", sig)
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", "error", err)
	}
	if runMonitor {
		if err := mon.Stop(shutdownCtx); err != nil {
			log.Error("Monitor shutdown error", "error", err)
		}
	}
	deps.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("Tracer shutdown error", "error", err)
	}

	log.Info("Server stopped")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func buildHandlers(deps *Dependencies) rest.Handlers {
	checks := map[string]rest.Check{
		"postgres": deps.DB.PingContext,
	}
	if deps.Redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		}
	}

	tokens := auth.NewJWTTokenManager(deps.Config.Security.JWTSecret, deps.Config.Security.JWTIssuer)

	return rest.Handlers{
		Health:         rest.NewHealthHandler(checks),
		Appointment:    appointment.NewHandler(deps.Appointments),
		Wallet:         wallet.NewHandler(deps.Wallets),
		Webhook:        transaction.NewWebhookHandler(deps.Transactions),
		Authenticate:   auth.NewMiddleware(tokens).Authenticate,
		OpenAPI:        api.Document(),
		AllowedOrigins: deps.Config.Server.Origins(),
	}
}
