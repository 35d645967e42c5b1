package internal

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server" envconfig:"HTTP"`
	Database      DatabaseConfig      `mapstructure:"database" envconfig:"DB"`
	Security      SecurityConfig      `mapstructure:"security" envconfig:"SECURITY"`
	Observability ObservabilityConfig `mapstructure:"observability" envconfig:"OBS"`
	Payment       PaymentConfig       `mapstructure:"payment" envconfig:"PAYMENT"`
	Video         VideoConfig         `mapstructure:"video" envconfig:"VIDEO"`
	Notification  NotificationConfig  `mapstructure:"notification" envconfig:"NOTIFICATION"`
	Redis         RedisConfig         `mapstructure:"redis" envconfig:"REDIS"`
	Monitor       MonitorConfig       `mapstructure:"monitor" envconfig:"MONITOR"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port" envconfig:"PORT" default:"8080"`
	BaseURL           string        `mapstructure:"base_url" envconfig:"BASE_URL"`
	AllowedOrigins    string        `mapstructure:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"30s"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" envconfig:"CONN_MAX_IDLE_TIME" default:"5m"`
	Source          string        `mapstructure:"source" envconfig:"SOURCE" required:"true"`
}

type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer string `mapstructure:"jwt_issuer" envconfig:"JWT_ISSUER"`
}

type PaymentConfig struct {
	BaseURL              string        `mapstructure:"base_url" envconfig:"BASE_URL" default:"https://accept.paymob.com/api"`
	APIKey               string        `mapstructure:"api_key" envconfig:"API_KEY"`
	IntegrationID        int64         `mapstructure:"integration_id" envconfig:"INTEGRATION_ID"`
	IframeID             int64         `mapstructure:"iframe_id" envconfig:"IFRAME_ID"`
	IframeBaseURL        string        `mapstructure:"iframe_base_url" envconfig:"IFRAME_BASE_URL" default:"https://accept.paymob.com/api/acceptance/iframes"`
	Currency             string        `mapstructure:"currency" envconfig:"CURRENCY" default:"EGP"`
	TokenTTL             time.Duration `mapstructure:"token_ttl" envconfig:"TOKEN_TTL" default:"55m"`
	PaymentKeyExpiration time.Duration `mapstructure:"payment_key_expiration" envconfig:"PAYMENT_KEY_EXPIRATION" default:"1h"`
	Timeout              time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" default:"15s"`
}

type VideoConfig struct {
	BaseURL      string        `mapstructure:"base_url" envconfig:"BASE_URL" default:"https://api.zoom.us/v2"`
	AuthURL      string        `mapstructure:"auth_url" envconfig:"AUTH_URL" default:"https://zoom.us/oauth/token"`
	AccountID    string        `mapstructure:"account_id" envconfig:"ACCOUNT_ID"`
	ClientID     string        `mapstructure:"client_id" envconfig:"CLIENT_ID"`
	ClientSecret string        `mapstructure:"client_secret" envconfig:"CLIENT_SECRET"`
	HostIdentity string        `mapstructure:"host_identity" envconfig:"HOST_IDENTITY" default:"me"`
	Timeout      time.Duration `mapstructure:"timeout" envconfig:"TIMEOUT" default:"15s"`
}

type NotificationConfig struct {
	AMQPURL  string `mapstructure:"amqp_url" envconfig:"AMQP_URL"`
	Exchange string `mapstructure:"exchange" envconfig:"EXCHANGE" default:"consultation.notifications"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" envconfig:"ADDR"`
	Password string `mapstructure:"password" envconfig:"PASSWORD"`
	DB       int    `mapstructure:"db" envconfig:"DB"`
}

type MonitorConfig struct {
	Enabled         bool            `mapstructure:"enabled" envconfig:"ENABLED" default:"true"`
	Interval        time.Duration   `mapstructure:"interval" envconfig:"INTERVAL" default:"60s"`
	PendingTimeout  time.Duration   `mapstructure:"pending_timeout" envconfig:"PENDING_TIMEOUT" default:"15m"`
	ReminderOffsets []time.Duration `mapstructure:"reminder_offsets" envconfig:"REMINDER_OFFSETS" default:"48h,5m"`
	ReminderWindow  time.Duration   `mapstructure:"reminder_window" envconfig:"REMINDER_WINDOW" default:"1m"`
	LockKey         string          `mapstructure:"lock_key" envconfig:"LOCK_KEY" default:"consultation:monitor"`
	LockExpiry      time.Duration   `mapstructure:"lock_expiry" envconfig:"LOCK_EXPIRY" default:"2m"`
}

type ObservabilityConfig struct {
	Tracing TracingConfig `mapstructure:"tracing" envconfig:"TRACING"`
	Logging LoggingConfig `mapstructure:"logging" envconfig:"LOGGING"`
}

type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" envconfig:"ENABLED"`
	ServiceName  string  `mapstructure:"service_name" envconfig:"SERVICE_NAME" default:"consultation-booking"`
	SamplingRate float64 `mapstructure:"sampling_rate" envconfig:"SAMPLING_RATE" default:"1"`
	Endpoint     string  `mapstructure:"endpoint" envconfig:"ENDPOINT" default:"otel-collector:4317"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" envconfig:"LEVEL" default:"info"`
	Format string `mapstructure:"format" envconfig:"FORMAT" default:"json"`
}

// LoadConfigFromEnv fills Config from the process environment. Keys are the
// section prefix plus the field name, e.g. DB_SOURCE or PAYMENT_API_KEY.
func LoadConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env config: %w", err)
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values left by a partial config file.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Payment.Currency == "" {
		c.Payment.Currency = "EGP"
	}
	if c.Payment.TokenTTL <= 0 {
		c.Payment.TokenTTL = 55 * time.Minute
	}
	if c.Payment.PaymentKeyExpiration <= 0 {
		c.Payment.PaymentKeyExpiration = time.Hour
	}
	if c.Video.HostIdentity == "" {
		c.Video.HostIdentity = "me"
	}
	if c.Notification.Exchange == "" {
		c.Notification.Exchange = "consultation.notifications"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = time.Minute
	}
	if c.Monitor.PendingTimeout <= 0 {
		c.Monitor.PendingTimeout = 15 * time.Minute
	}
	if len(c.Monitor.ReminderOffsets) == 0 {
		c.Monitor.ReminderOffsets = []time.Duration{48 * time.Hour, 5 * time.Minute}
	}
	if c.Monitor.ReminderWindow <= 0 {
		c.Monitor.ReminderWindow = time.Minute
	}
	if c.Monitor.LockKey == "" {
		c.Monitor.LockKey = "consultation:monitor"
	}
	if c.Monitor.LockExpiry <= 0 {
		c.Monitor.LockExpiry = 2 * time.Minute
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Video.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("video config: %v", err))
	}

	if err := c.Monitor.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("monitor config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	for _, origin := range c.Origins() {
		if origin == "*" {
			continue
		}
		if _, err := url.Parse(origin); err != nil {
			return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *ServerConfig) Origins() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *PaymentConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.APIKey == "" {
		return errors.New("api_key is required")
	}
	if c.IntegrationID == 0 || c.IframeID == 0 {
		return errors.New("integration_id and iframe_id are required")
	}
	return nil
}

func (c *VideoConfig) Validate() error {
	if c.BaseURL == "" || c.AuthURL == "" {
		return errors.New("base_url and auth_url are required")
	}
	if c.AccountID == "" || c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("account_id, client_id and client_secret are required")
	}
	return nil
}

func (c *MonitorConfig) Validate() error {
	if 2*c.ReminderWindow < c.Interval {
		return errors.New("reminder_window must be at least half the interval so no start time falls between ticks")
	}
	return nil
}
