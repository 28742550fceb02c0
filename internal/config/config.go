package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration, populated from the environment.
type Config struct {
	Service struct {
		Name        string `envconfig:"SERVICE_NAME" default:"be-expense-approvals"`
		Version     string `envconfig:"SERVICE_VERSION" default:"dev"`
		Environment string `envconfig:"ENVIRONMENT" default:"development"`
	}

	Server struct {
		Port            int           `envconfig:"PORT" default:"8086"`
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"15s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"10s"`
	}

	Database struct {
		Host        string        `envconfig:"DB_HOST" default:"localhost"`
		Port        int           `envconfig:"DB_PORT" default:"5432"`
		User        string        `envconfig:"DB_USER" default:"postgres"`
		Password    string        `envconfig:"DB_PASSWORD" default:""`
		Database    string        `envconfig:"DB_NAME" default:"league_backoffice"`
		SSLMode     string        `envconfig:"DB_SSLMODE" default:"disable"`
		MaxConns    int32         `envconfig:"DB_MAX_CONNS" default:"10"`
		MinConns    int32         `envconfig:"DB_MIN_CONNS" default:"2"`
		MaxConnLife time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
		MaxIdleTime time.Duration `envconfig:"DB_MAX_IDLE_TIME" default:"5m"`
	}

	NATS struct {
		URL     string `envconfig:"NATS_URL" default:"nats://localhost:4222"`
		Enabled bool   `envconfig:"NATS_ENABLED" default:"true"`
	}

	Escalation struct {
		SweepInterval time.Duration `envconfig:"ESCALATION_SWEEP_INTERVAL" default:"15m"`
		SweepEnabled  bool          `envconfig:"ESCALATION_SWEEP_ENABLED" default:"true"`
	}

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// ConnString builds a pgx-compatible connection string.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password,
		c.Database.Host, c.Database.Port,
		c.Database.Database, c.Database.SSLMode)
}

// Load populates Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	return &cfg, nil
}
