package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := domain.DefaultConfig()
	if cfg.Tier != domain.TierCommunity || cfg.Server.Port != want.Server.Port {
		t.Errorf("tier=%s port=%d", cfg.Tier, cfg.Server.Port)
	}
	if cfg.Scoring.DirectionThreshold != 2.0 || cfg.Scoring.MaxWorkers != 8 {
		t.Errorf("unexpected scoring config: %+v", cfg.Scoring)
	}
	if cfg.Scoring.ScoreTTL != 24*time.Hour || cfg.Cache.LocalTTL != 5*time.Minute {
		t.Errorf("score_ttl=%v local_ttl=%v", cfg.Scoring.ScoreTTL, cfg.Cache.LocalTTL)
	}
	if cfg.Repository.Driver != "sqlite" || cfg.EventBus.Type != "channel" {
		t.Errorf("driver=%s bus=%s", cfg.Repository.Driver, cfg.EventBus.Type)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, "heron.yaml", `
server:
  port: 9090
scoring:
  direction_threshold: 3.5
  min_abs_score: 1
  score_ttl: 2h
logging:
  level: debug
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.Host != "0.0.0.0" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Scoring.DirectionThreshold != 3.5 || cfg.Scoring.MinAbsScore != 1 {
		t.Errorf("scoring = %+v", cfg.Scoring)
	}
	if cfg.Scoring.ScoreTTL != 2*time.Hour {
		t.Errorf("score_ttl = %v", cfg.Scoring.ScoreTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging.level = %s", cfg.Logging.Level)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "heron.yaml", "server:\n  port: 9090\n")
	t.Setenv("HERON_SERVER_PORT", "7070")
	t.Setenv("HERON_SCORING_MAX_WORKERS", "16")
	t.Setenv("HERON_TENANTS", "alpha,beta")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Scoring.MaxWorkers != 16 {
		t.Errorf("port=%d max_workers=%d", cfg.Server.Port, cfg.Scoring.MaxWorkers)
	}
	if len(cfg.Tenants) != 2 || cfg.Tenants[0] != "alpha" || cfg.Tenants[1] != "beta" {
		t.Errorf("tenants = %v", cfg.Tenants)
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("HERON_TIER", "pro")
	t.Setenv("HERON_TENANTS", "alpha")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("tier=%s driver=%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "nats" || cfg.Cache.Type != "redis" || !cfg.AsyncWorker {
		t.Errorf("bus=%s cache=%s async=%v", cfg.EventBus.Type, cfg.Cache.Type, cfg.AsyncWorker)
	}
}

func TestLoadProTierRequiresTenants(t *testing.T) {
	t.Setenv("HERON_TIER", "pro")

	_, err := Load("")
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
	}{
		{"BadTier", func(c *domain.Config) { c.Tier = "enterprise" }},
		{"BadPort", func(c *domain.Config) { c.Server.Port = 70000 }},
		{"NoDepartmentsFile", func(c *domain.Config) { c.Scoring.DepartmentsFile = "" }},
		{"NegativeThreshold", func(c *domain.Config) { c.Scoring.DirectionThreshold = -1 }},
		{"ZeroThreshold", func(c *domain.Config) { c.Scoring.DirectionThreshold = 0 }},
		{"NaNThreshold", func(c *domain.Config) { c.Scoring.DirectionThreshold = math.NaN() }},
		{"NaNMinAbs", func(c *domain.Config) { c.Scoring.MinAbsScore = math.NaN() }},
		{"NegativeMinAbs", func(c *domain.Config) { c.Scoring.MinAbsScore = -0.5 }},
		{"NoWorkers", func(c *domain.Config) { c.Scoring.MaxWorkers = 0 }},
		{"BadDriver", func(c *domain.Config) { c.Repository.Driver = "mysql" }},
		{"BadCache", func(c *domain.Config) { c.Cache.Type = "memcached" }},
		{"BadBus", func(c *domain.Config) { c.EventBus.Type = "kafka" }},
		{"BadLogLevel", func(c *domain.Config) { c.Logging.Level = "verbose" }},
		{"BadLogFormat", func(c *domain.Config) { c.Logging.Format = "xml" }},
		{"WorkerWithoutTenants", func(c *domain.Config) { c.AsyncWorker = true }},
		{"GlobalTenant", func(c *domain.Config) { c.Tenants = []string{"*"} }},
	}

	if err := Validate(domain.DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := Validate(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
