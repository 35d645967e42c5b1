package internal_test

import (
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/consultation-booking/internal"
)

func TestInternal(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Internal Suite")
}

func validConfig() *internal.Config {
	cfg := &internal.Config{
		Server: internal.ServerConfig{
			AllowedOrigins:    "https://app.example.com, https://admin.example.com",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
		},
		Database: internal.DatabaseConfig{
			Source:       "postgres://localhost/consultation",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Security: internal.SecurityConfig{JWTSecret: strings.Repeat("s", 32)},
		Payment: internal.PaymentConfig{
			BaseURL:       "https://accept.paymob.com/api",
			APIKey:        "key",
			IntegrationID: 1,
			IframeID:      2,
		},
		Video: internal.VideoConfig{
			BaseURL:      "https://api.zoom.us/v2",
			AuthURL:      "https://zoom.us/oauth/token",
			AccountID:    "acc",
			ClientID:     "id",
			ClientSecret: "secret",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

var _ = Describe("Config", func() {
	It("accepts a complete config", func() {
		Expect(validConfig().Validate()).To(Succeed())
	})

	It("fills monitor defaults", func() {
		cfg := validConfig()
		Expect(cfg.Monitor.PendingTimeout).To(Equal(15 * time.Minute))
		Expect(cfg.Monitor.ReminderOffsets).To(Equal([]time.Duration{48 * time.Hour, 5 * time.Minute}))
		Expect(cfg.Payment.Currency).To(Equal("EGP"))
	})

	It("names every broken section", func() {
		cfg := validConfig()
		cfg.Security.JWTSecret = "short"
		cfg.Payment.APIKey = ""

		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("security config"))
		Expect(err.Error()).To(ContainSubstring("payment config"))
	})

	It("rejects a reminder window that ticks could step over", func() {
		cfg := validConfig()
		cfg.Monitor.Interval = 5 * time.Minute
		cfg.Monitor.ReminderWindow = time.Minute
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("monitor config")))
	})

	It("splits allowed origins", func() {
		Expect(validConfig().Server.Origins()).To(Equal([]string{"https://app.example.com", "https://admin.example.com"}))
	})

	Describe("LoadConfigFromEnv", func() {
		setenv := func(key, value string) {
			Expect(os.Setenv(key, value)).To(Succeed())
			DeferCleanup(os.Unsetenv, key)
		}

		It("reads prefixed keys and applies tag defaults", func() {
			setenv("DB_SOURCE", "postgres://db/consultation")
			setenv("SECURITY_JWT_SECRET", strings.Repeat("x", 32))
			setenv("PAYMENT_API_KEY", "key")
			setenv("MONITOR_REMINDER_OFFSETS", "24h,1h")

			cfg, err := internal.LoadConfigFromEnv()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Database.Source).To(Equal("postgres://db/consultation"))
			Expect(cfg.Payment.APIKey).To(Equal("key"))
			Expect(cfg.Server.Port).To(Equal(8080))
			Expect(cfg.Monitor.ReminderOffsets).To(Equal([]time.Duration{24 * time.Hour, time.Hour}))
		})

		It("fails without the required database source", func() {
			setenv("SECURITY_JWT_SECRET", strings.Repeat("x", 32))
			_, err := internal.LoadConfigFromEnv()
			Expect(err).To(HaveOccurred())
		})
	})
})
