package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Database DatabaseConfig `envPrefix:"DB_"`
	HTTP     HTTPConfig     `envPrefix:"HTTP_"`
	Stripe   StripeConfig   `envPrefix:"STRIPE_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Rabbit   RabbitConfig   `envPrefix:"RABBITMQ_"`
	Sync     SyncConfig     `envPrefix:"SYNC_"`
}

type DatabaseConfig struct {
	Driver       string        `env:"DRIVER" envDefault:"postgres"`
	Host         string        `env:"HOST" envDefault:"localhost"`
	Port         int           `env:"PORT" envDefault:"5432"`
	User         string        `env:"USER" envDefault:"postgres"`
	Password     string        `env:"PASSWORD" envDefault:"postgres"`
	DBName       string        `env:"NAME" envDefault:"msm"`
	SSLMode      string        `env:"SSLMODE" envDefault:"disable"`
	Path         string        `env:"PATH" envDefault:"billing.db"` // sqlite only
	MaxOpenConns int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnLifetime time.Duration `env:"CONN_LIFETIME" envDefault:"1h"`
}

type HTTPConfig struct {
	Bind           string        `env:"BIND" envDefault:"0.0.0.0:3000"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
}

type StripeConfig struct {
	WebhookSecret string        `env:"WEBHOOK_SECRET"`
	Tolerance     time.Duration `env:"TOLERANCE" envDefault:"5m"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
}

type RabbitConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Consume  bool   `env:"CONSUME" envDefault:"false"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5672"`
	User     string `env:"USER" envDefault:"guest"`
	Password string `env:"PASSWORD" envDefault:"guest"`
	VHost    string `env:"VHOST" envDefault:"/"`
	Exchange string `env:"EXCHANGE" envDefault:"billing"`
	Queue    string `env:"QUEUE" envDefault:"payment_events"`
	Prefetch int    `env:"PREFETCH" envDefault:"10"`
	Workers  int    `env:"WORKERS" envDefault:"2"`
}

type SyncConfig struct {
	Interval  time.Duration `env:"INTERVAL" envDefault:"30s"`
	BatchSize int           `env:"BATCH_SIZE" envDefault:"500"`
}

// Load reads a .env file when present and then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.Rabbit.Workers = clamp(cfg.Rabbit.Workers, 1, 10)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Stripe.WebhookSecret == "" {
		return errors.New("STRIPE_WEBHOOK_SECRET is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if c.Sync.BatchSize <= 0 {
		return errors.New("SYNC_BATCH_SIZE must be positive")
	}
	return nil
}

// AMQPURL builds the broker address from the individual settings.
func (c RabbitConfig) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
