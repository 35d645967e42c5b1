package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Start the expiry and reminder monitor",
	Long:  `Cancel bookings whose payment never arrived and send session reminders, without serving HTTP`,
	Run: func(cmd *cobra.Command, args []string) {
		startMonitor()
	},
}

var (
	monitorInterval time.Duration
	monitorOnce     bool
)

func startMonitor() {
	ctx := context.Background()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if monitorInterval > 0 {
		cfg.Monitor.Interval = monitorInterval
	}

	deps, err := initializeDependencies(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()
	log := deps.Logger

	mon := deps.NewMonitor()
	if monitorOnce {
		mon.Tick(ctx)
		log.Info("monitor tick complete")
		return
	}

	if err := mon.Start(); err != nil {
		log.Error("Monitor failed to start", "error", err)
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("monitor is running. Press Ctrl+C to stop.")

	sig := <-sigChan
	log.Info("received signal, shutting down monitor", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := mon.Stop(shutdownCtx); err != nil {
		log.Warn("shutdown timeout reached, forcing exit", "error", err)
	}
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 0, "tick interval (overrides config)")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "run a single tick and exit")
}
