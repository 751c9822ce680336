package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	LockDriverRedis  = "redis"
	LockDriverMemory = "memory"

	CustomerDirectoryPostgres = "postgres"
	CustomerDirectoryNATS     = "nats"
)

type Config struct {
	Port            string        `env:"PORT" envDefault:"8082"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver    string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseDriver string `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL"`

	LockDriver string        `env:"LOCK_DRIVER" envDefault:"redis"`
	RedisURL   string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	LockTTL    time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	StateEventTopic string   `env:"KAFKA_STATE_TOPIC" envDefault:"payment.state.changed"`

	CustomerDirectory string        `env:"CUSTOMER_DIRECTORY" envDefault:"postgres"`
	NatsURL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsTimeout       time.Duration `env:"NATS_TIMEOUT" envDefault:"2s"`

	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"true"`
	JaegerEndpoint string `env:"JAEGER_ENDPOINT" envDefault:"jaeger:4318"`

	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"15s"`

	Stripe StripeConfig `envPrefix:"STRIPE_"`
	Cielo  CieloConfig  `envPrefix:"CIELO_"`
	PayPal PayPalConfig `envPrefix:"PAYPAL_"`
}

type StripeConfig struct {
	APIURL string `env:"API_URL" envDefault:"https://api.stripe.com"`
	APIKey string `env:"API_KEY"`
}

type CieloConfig struct {
	APIURL      string `env:"API_URL" envDefault:"https://apisandbox.cieloecommerce.cielo.com.br"`
	MerchantID  string `env:"MERCHANT_ID"`
	MerchantKey string `env:"MERCHANT_KEY"`
}

type PayPalConfig struct {
	APIURL       string `env:"API_URL" envDefault:"https://api-m.sandbox.paypal.com"`
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
}

func (c StripeConfig) Enabled() bool { return c.APIKey != "" }

func (c CieloConfig) Enabled() bool { return c.MerchantID != "" && c.MerchantKey != "" }

func (c PayPalConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
		if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "pgx" {
			return fmt.Errorf("invalid DB_DRIVER: %s (must be 'postgres' or 'pgx')", c.DatabaseDriver)
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER: %s (must be 'postgres' or 'memory')", c.StoreDriver)
	}

	if c.LockDriver != LockDriverRedis && c.LockDriver != LockDriverMemory {
		return fmt.Errorf("invalid LOCK_DRIVER: %s (must be 'redis' or 'memory')", c.LockDriver)
	}

	switch c.CustomerDirectory {
	case CustomerDirectoryNATS:
	case CustomerDirectoryPostgres:
		if c.StoreDriver != StoreDriverPostgres {
			return errors.New("CUSTOMER_DIRECTORY=postgres requires STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("invalid CUSTOMER_DIRECTORY: %s (must be 'postgres' or 'nats')", c.CustomerDirectory)
	}

	if c.ProviderTimeout <= 0 {
		return errors.New("PROVIDER_TIMEOUT must be positive")
	}
	if c.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if !c.Stripe.Enabled() && !c.Cielo.Enabled() && !c.PayPal.Enabled() {
		return errors.New("at least one provider must be configured")
	}
	return nil
}
