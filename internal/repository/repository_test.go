package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/opensource-finance/heron/internal/domain"
)

func newSQLiteRepo(t *testing.T) domain.Repository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "heron-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRuleTable", func(t *testing.T) {
		table := &domain.StoredRuleTable{
			Name:     "news",
			Version:  "1.0.0",
			Format:   "yaml",
			Document: []byte("name: news\n"),
		}
		if err := repo.SaveRuleTable(ctx, tenantID, table); err != nil {
			t.Fatalf("SaveRuleTable failed: %v", err)
		}
		if !table.Enabled || table.TenantID != tenantID {
			t.Errorf("saved table not stamped: %+v", table)
		}

		got, err := repo.GetRuleTable(ctx, tenantID, "news")
		if err != nil {
			t.Fatalf("GetRuleTable failed: %v", err)
		}
		if got.Version != "1.0.0" || string(got.Document) != "name: news\n" {
			t.Errorf("unexpected table: %+v", got)
		}
		if got.TenantID != tenantID || !got.Enabled {
			t.Errorf("unexpected tenant or state: %+v", got)
		}
	})

	t.Run("LatestVersionWins", func(t *testing.T) {
		for _, v := range []string{"1.0.0", "1.1.0"} {
			time.Sleep(2 * time.Millisecond)
			err := repo.SaveRuleTable(ctx, tenantID, &domain.StoredRuleTable{
				Name: "technical", Version: v, Format: "yaml", Document: []byte("version: " + v),
			})
			if err != nil {
				t.Fatalf("SaveRuleTable %s failed: %v", v, err)
			}
		}

		got, err := repo.GetRuleTable(ctx, tenantID, "technical")
		if err != nil {
			t.Fatalf("GetRuleTable failed: %v", err)
		}
		if got.Version != "1.1.0" {
			t.Errorf("expected version 1.1.0, got %s", got.Version)
		}

		// Re-saving an older version makes it current again.
		time.Sleep(2 * time.Millisecond)
		if err := repo.SaveRuleTable(ctx, tenantID, &domain.StoredRuleTable{
			Name: "technical", Version: "1.0.0", Format: "yaml", Document: []byte("rollback"),
		}); err != nil {
			t.Fatal(err)
		}
		got, _ = repo.GetRuleTable(ctx, tenantID, "technical")
		if got.Version != "1.0.0" || string(got.Document) != "rollback" {
			t.Errorf("expected rolled back 1.0.0, got %s %q", got.Version, got.Document)
		}
	})

	t.Run("ListRuleTables", func(t *testing.T) {
		tables, err := repo.ListRuleTables(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleTables failed: %v", err)
		}
		if len(tables) != 2 {
			t.Fatalf("expected 2 tables, got %d", len(tables))
		}
		if tables[0].Name != "news" || tables[1].Name != "technical" {
			t.Errorf("unexpected order: %s, %s", tables[0].Name, tables[1].Name)
		}
		if tables[1].Version != "1.0.0" {
			t.Errorf("expected latest technical version 1.0.0, got %s", tables[1].Version)
		}
	})

	t.Run("DeleteRuleTable", func(t *testing.T) {
		if err := repo.DeleteRuleTable(ctx, tenantID, "news"); err != nil {
			t.Fatalf("DeleteRuleTable failed: %v", err)
		}
		if _, err := repo.GetRuleTable(ctx, tenantID, "news"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got: %v", err)
		}
		if err := repo.DeleteRuleTable(ctx, tenantID, "news"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		if _, err := repo.GetRuleTable(ctx, "tenant-002", "technical"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
		tables, err := repo.ListRuleTables(ctx, "tenant-002")
		if err != nil || len(tables) != 0 {
			t.Errorf("expected no tables for other tenant, got %d, %v", len(tables), err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRuleTable(ctx, "", &domain.StoredRuleTable{Name: "x", Document: []byte("x")}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetRuleTable(ctx, "", "x"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListRuleTables(ctx, ""); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RequiresDocument", func(t *testing.T) {
		if err := repo.SaveRuleTable(ctx, tenantID, &domain.StoredRuleTable{Name: "empty"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New failed: %v", err)
	}
	defer db.Close()

	repo := NewWithDB(db, "postgres")
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("GetRuleTable", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"name", "tenant_id", "version", "format", "document", "enabled", "created_at", "updated_at"}).
			AddRow("news", "tenant-001", "1.0.0", "yaml", "name: news", 1, now, now)
		mock.ExpectQuery(`WHERE tenant_id = \$1 AND name = \$2 AND enabled = 1`).
			WithArgs("tenant-001", "news").
			WillReturnRows(rows)

		got, err := repo.GetRuleTable(ctx, "tenant-001", "news")
		if err != nil {
			t.Fatalf("GetRuleTable failed: %v", err)
		}
		if got.Name != "news" || !got.Enabled || string(got.Document) != "name: news" {
			t.Errorf("unexpected table: %+v", got)
		}
	})

	t.Run("GetRuleTableNotFound", func(t *testing.T) {
		mock.ExpectQuery(`FROM rule_tables`).
			WithArgs("tenant-001", "missing").
			WillReturnRows(sqlmock.NewRows([]string{"name"}))

		if _, err := repo.GetRuleTable(ctx, "tenant-001", "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteRuleTableNotFound", func(t *testing.T) {
		mock.ExpectExec(`UPDATE rule_tables`).
			WithArgs(sqlmock.AnyArg(), "tenant-001", "news").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := repo.DeleteRuleTable(ctx, "tenant-001", "news"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveRuleTable", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO rule_tables .* VALUES \(\$1, \$2, \$3, \$4, \$5, 1, \$6, \$7\)`).
			WithArgs("news", "tenant-001", "2.0.0", "json", `{"name":"news"}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.SaveRuleTable(ctx, "tenant-001", &domain.StoredRuleTable{
			Name: "news", Version: "2.0.0", Format: "json", Document: []byte(`{"name":"news"}`),
		})
		if err != nil {
			t.Fatalf("SaveRuleTable failed: %v", err)
		}
	})

	t.Run("SaveRuleTableError", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO rule_tables`).WillReturnError(errors.New("connection reset"))

		err := repo.SaveRuleTable(ctx, "tenant-001", &domain.StoredRuleTable{Name: "news", Document: []byte("x")})
		if err == nil {
			t.Error("expected error to propagate")
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create in-memory repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.SaveRuleTable(ctx, "t", &domain.StoredRuleTable{Name: "a", Document: []byte("x")}); err != nil {
		t.Fatalf("SaveRuleTable failed: %v", err)
	}
	if _, err := repo.GetRuleTable(ctx, "t", "a"); err != nil {
		t.Errorf("GetRuleTable failed: %v", err)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		if result := repo.rebind(tt.input); result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	got := postgresDSN(domain.RepositoryConfig{PostgresUser: "heron", PostgresPassword: "p w'd"})
	want := `host=localhost port=5432 user=heron password='p w\'d' dbname=heron sslmode=disable`
	if got != want {
		t.Errorf("postgresDSN = %s, want %s", got, want)
	}
}
