// Package domain defines the core interfaces and types for Heron.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for rule table storage.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// SaveRuleTable stores a rule table document version.
	SaveRuleTable(ctx context.Context, tenantID string, table *StoredRuleTable) error

	// GetRuleTable returns the latest enabled version of a rule table.
	GetRuleTable(ctx context.Context, tenantID string, name string) (*StoredRuleTable, error)

	// ListRuleTables returns the latest enabled version of every rule table.
	ListRuleTables(ctx context.Context, tenantID string) ([]*StoredRuleTable, error)

	// DeleteRuleTable disables every version of a rule table.
	DeleteRuleTable(ctx context.Context, tenantID string, name string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
