package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const defaultAddr = "0.0.0.0:8080"

// ClientConfig addresses one downstream HTTP service.
type ClientConfig struct {
	URL     string        `usage:"Base URL of the service"`
	Timeout time.Duration `default:"5s" usage:"Per-call timeout"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// HealthConfig controls the probe checks.
type HealthConfig struct {
	Interval      time.Duration `default:"10s" usage:"Interval between health checks"`
	MaxGoroutines int           `default:"10000" usage:"Goroutine count above which the liveness probe fails"`
}

// OrderConfig configures the order service. Environment variables use the
// ORDER_ prefix.
type OrderConfig struct {
	Addr        string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDER_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL (ORDER_REDIS_URL or REDIS_URL)" flag:"redis-url"`

	Customer ClientConfig
	Product  ClientConfig
	Payment  ClientConfig

	PublishTimeout      time.Duration `default:"5s"  usage:"Timeout for publishing a confirmation" flag:"publish-timeout"`
	CompensationTimeout time.Duration `default:"10s" usage:"Timeout for releasing reserved products" flag:"compensation-timeout"`
	StreamMaxLen        int64         `default:"100000" usage:"Approximate max entries kept per stream, 0 disables trimming" flag:"stream-maxlen"`
	CompressAbove       int           `default:"16384" usage:"Payload size in bytes from which events are gzipped, 0 disables" flag:"compress-above"`

	Health   HealthConfig
	Graceful GracefulConfig
}

// LoadOrderConfig loads the order service configuration from ORDER_
// environment variables, flags and YAML files.
func LoadOrderConfig() (*OrderConfig, error) {
	return loadOrderConfig(false)
}

func loadOrderConfig(skipFlags bool) (*OrderConfig, error) {
	var cfg OrderConfig
	if err := load(&cfg, "ORDER", "order-service", skipFlags); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *OrderConfig) applyPlatformDefaults() {
	c.DatabaseURL = orEnv(c.DatabaseURL, "DATABASE_URL")
	c.RedisURL = orEnv(c.RedisURL, "REDIS_URL")
	c.Addr = portDefault(c.Addr)
}

func (c *OrderConfig) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set ORDER_DATABASE_URL or DATABASE_URL")
	case c.RedisURL == "":
		return errors.New("redis URL is required: set ORDER_REDIS_URL or REDIS_URL")
	case c.Customer.URL == "":
		return errors.New("customer service URL is required")
	case c.Product.URL == "":
		return errors.New("product service URL is required")
	case c.Payment.URL == "":
		return errors.New("payment service URL is required")
	}
	return nil
}

// SMTPConfig addresses the mail relay.
type SMTPConfig struct {
	Host     string `default:"localhost" usage:"SMTP host"`
	Port     int    `default:"1025" usage:"SMTP port"`
	Username string `usage:"SMTP username, empty disables auth"`
	Password string `usage:"SMTP password"`
	From     string `default:"orders@example.com" usage:"Sender address"`
	// Mock logs messages instead of sending them.
	Mock bool `default:"false" usage:"Log emails instead of sending them"`
}

// NotificationConfig configures the notification service. Environment
// variables use the NOTIFY_ prefix.
type NotificationConfig struct {
	Addr        string `default:"0.0.0.0:8080" usage:"Probe listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (NOTIFY_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string `usage:"Redis connection URL (NOTIFY_REDIS_URL or REDIS_URL)" flag:"redis-url"`

	Group    string        `default:"notification-service" usage:"Consumer group name"`
	Consumer string        `usage:"Consumer name, unique per replica (default: random)"`
	Block    time.Duration `default:"5s" usage:"How long a stream read waits for entries"`
	Count    int64         `default:"16" usage:"Max entries per stream read"`
	Backoff  time.Duration `default:"1s" usage:"Pause before failed entries are retried"`

	// ClaimIdle bounds how long entries stay with a consumer that stopped.
	ClaimIdle time.Duration `default:"1m" usage:"Idle time after which another consumer's pending entries are claimed" flag:"claim-idle"`

	SendTimeout time.Duration `default:"30s" usage:"Timeout for handling one event" flag:"send-timeout"`
	WarmWindow  time.Duration `default:"168h" usage:"How far back delivered events are loaded on start" flag:"warm-window"`

	SMTP     SMTPConfig
	Health   HealthConfig
	Graceful GracefulConfig
}

// LoadNotificationConfig loads the notification service configuration from
// NOTIFY_ environment variables, flags and YAML files.
func LoadNotificationConfig() (*NotificationConfig, error) {
	return loadNotificationConfig(false)
}

func loadNotificationConfig(skipFlags bool) (*NotificationConfig, error) {
	var cfg NotificationConfig
	if err := load(&cfg, "NOTIFY", "notification-service", skipFlags); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *NotificationConfig) applyPlatformDefaults() {
	c.DatabaseURL = orEnv(c.DatabaseURL, "DATABASE_URL")
	c.RedisURL = orEnv(c.RedisURL, "REDIS_URL")
	c.Addr = portDefault(c.Addr)
	if c.Consumer == "" {
		c.Consumer = "notification-" + uuid.NewString()
	}
}

func (c *NotificationConfig) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set NOTIFY_DATABASE_URL or DATABASE_URL")
	case c.RedisURL == "":
		return errors.New("redis URL is required: set NOTIFY_REDIS_URL or REDIS_URL")
	case c.Group == "":
		return errors.New("consumer group is required")
	}
	return nil
}

func load(dst any, prefix, service string, skipFlags bool) error {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: prefix,
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/" + service + "/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

func orEnv(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

// portDefault maps the platform PORT variable onto an unchanged default
// listen address.
func portDefault(addr string) string {
	if port := os.Getenv("PORT"); port != "" && addr == defaultAddr {
		return "0.0.0.0:" + port
	}
	return addr
}
