// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Raw window aggregates
	SaveWindows(ctx context.Context, windows []RawAggregate) error
	ListWindows(ctx context.Context, terminalCode string, from, to time.Time) ([]RawAggregate, error)
	ListAllWindows(ctx context.Context, from, to time.Time) ([]RawAggregate, error)
	ListTerminals(ctx context.Context) ([]string, error)

	// Baselines
	SaveBaselines(ctx context.Context, baselines []*Baseline) error
	GetBaseline(ctx context.Context, terminalCode string) (*Baseline, error)
	SavePopulationBaseline(ctx context.Context, p *PopulationBaseline) error
	GetPopulationBaseline(ctx context.Context) (*PopulationBaseline, error)

	// Alerts
	AlertStore
	GetAlert(ctx context.Context, terminalCode string, windowStart time.Time) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)

	// Scoring runs
	SaveRun(ctx context.Context, run *RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]*RunSummary, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertStore is the persistence boundary of the alert writer.
type AlertStore interface {
	// UpsertAlerts writes all alerts in one transaction; any failure rolls back the batch.
	UpsertAlerts(ctx context.Context, alerts []*Alert) error

	// UpsertAlert writes a single alert.
	UpsertAlert(ctx context.Context, alert *Alert) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" (lib/pq) or "pgx"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
