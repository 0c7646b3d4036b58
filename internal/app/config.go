package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BOOKS_ prefix), flags, or YAML config files.
type Config struct {
	OpsAddr     string `default:"0.0.0.0:8080" usage:"Operational listener address (health probes)" flag:"ops-addr"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BOOKS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	AMQP        AMQPConfig
	Store       StoreConfig
	Graceful    GracefulConfig
}

// AMQPConfig controls the broker side of the service: the order event
// publisher and the payment capture consumer. An empty URL disables both.
type AMQPConfig struct {
	URL           string `default:"" usage:"RabbitMQ connection URL; empty disables messaging" flag:"amqp-url"`
	Exchange      string `default:"bookstore.events" usage:"Topic exchange for order events" flag:"amqp-exchange"`
	CallbackQueue string `default:"bookstore.payment-captures" usage:"Queue of payment capture notifications" flag:"amqp-callback-queue"`
}

// StoreConfig carries store-level settings passed to the checkout engine.
type StoreConfig struct {
	AdminEmail   string `default:"" usage:"Email address notified about new orders" flag:"admin-email"`
	StoreBaseURL string `default:"" usage:"Public base URL of the storefront" flag:"store-base-url"`
	Currency     string `default:"BDT" usage:"ISO currency code for order amounts"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BOOKS",
		Files:     []string{"config.yaml", "/etc/bookstore/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set BOOKS_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (Railway, Render, etc.) that use standard names like DATABASE_URL and PORT
// to the application's BOOKS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.OpsAddr == "0.0.0.0:8080" {
		c.OpsAddr = "0.0.0.0:" + port
	}
}
