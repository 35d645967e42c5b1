package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/frahmantamala/consultation-booking/internal/core/events"
	"github.com/frahmantamala/consultation-booking/internal/notification"
	"github.com/frahmantamala/consultation-booking/pkg/logger"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify [user-id] [kind]",
	Short: "Publish a test notification",
	Long:  `Publish a notification through the configured sinks for testing delivery channels`,
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		publishTestNotification(args[0], args[1])
	},
}

var notifyMessage string

func publishTestNotification(rawUserID, kind string) {
	log := logger.LoggerWrapper()

	userID, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil || userID <= 0 {
		fmt.Fprintf(os.Stderr, "invalid user id %q\n", rawUserID)
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewEventBus(log)
	sinks := []notification.Sink{notification.NewLogSink(log)}
	if cfg.Notification.AMQPURL != "" {
		publisher, err := notification.NewAMQPPublisher(cfg.Notification.AMQPURL, cfg.Notification.Exchange)
		if err != nil {
			log.Error("failed to connect notification broker", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		sinks = append(sinks, notification.NewBrokerSink(publisher))
	}
	notification.Register(bus, sinks...)

	event := events.NewNotificationEvent(userID, kind, map[string]interface{}{
		"message": notifyMessage,
		"source":  "cli-command",
	})

	log.Info("publishing test notification", "kind", kind, "user_id", userID, "event_id", event.EventID())
	if err := bus.PublishSync(context.Background(), event); err != nil {
		log.Error("failed to publish notification", "error", err)
		return
	}
	log.Info("test notification published successfully")
}

func init() {
	notifyCmd.Flags().StringVar(&notifyMessage, "message", "test message", "notification message")
}
