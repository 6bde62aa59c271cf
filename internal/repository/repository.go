// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite", "":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)
	if err := repo.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return repo, nil
}

// NewWithDB wraps an open database. driver selects the placeholder style.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

// Migrate creates the schema if it does not exist.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleTable stores a rule table version. Saving an existing version
// replaces its document and re-enables it.
func (r *SQLRepository) SaveRuleTable(ctx context.Context, tenantID string, table *domain.StoredRuleTable) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if table == nil || table.Name == "" || len(table.Document) == 0 {
		return fmt.Errorf("%w: rule table name and document are required", ErrInvalidInput)
	}

	version := table.Version
	if version == "" {
		version = "0"
	}
	format := table.Format
	if format == "" {
		format = "yaml"
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_tables (
			name, tenant_id, version, format, document, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(name, tenant_id, version) DO UPDATE SET
			format = excluded.format,
			document = excluded.document,
			enabled = 1,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		table.Name, tenantID, version, format, string(table.Document), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule table %s: %w", table.Name, err)
	}

	table.TenantID = tenantID
	table.Version = version
	table.Format = format
	table.Enabled = true
	table.UpdatedAt = now
	if table.CreatedAt.IsZero() {
		table.CreatedAt = now
	}
	return nil
}

const ruleTableColumns = `name, tenant_id, version, format, document, enabled, created_at, updated_at`

// GetRuleTable returns the most recently saved enabled version of a rule table.
func (r *SQLRepository) GetRuleTable(ctx context.Context, tenantID string, name string) (*domain.StoredRuleTable, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleTableColumns + `
		FROM rule_tables
		WHERE tenant_id = ? AND name = ? AND enabled = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`

	t, err := scanRuleTable(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListRuleTables returns the latest enabled version of every rule table, by name.
func (r *SQLRepository) ListRuleTables(ctx context.Context, tenantID string) ([]*domain.StoredRuleTable, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ` + ruleTableColumns + `
		FROM rule_tables
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name, updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []*domain.StoredRuleTable
	for rows.Next() {
		t, err := scanRuleTable(rows)
		if err != nil {
			return nil, err
		}
		// Rows are newest first within a name.
		if n := len(tables); n > 0 && tables[n-1].Name == t.Name {
			continue
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DeleteRuleTable soft-deletes every version of a rule table.
func (r *SQLRepository) DeleteRuleTable(ctx context.Context, tenantID string, name string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_tables
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND name = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, name)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleTable(row rowScanner) (*domain.StoredRuleTable, error) {
	var t domain.StoredRuleTable
	var document string
	var enabled int

	if err := row.Scan(
		&t.Name, &t.TenantID, &t.Version, &t.Format, &document,
		&enabled, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Document = []byte(document)
	t.Enabled = enabled == 1
	return &t, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
		n++
	}
	return b.String()
}
