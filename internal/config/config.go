// Package config loads Heron configuration from tier defaults, an optional
// config file and HERON_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// EnvPrefix prefixes every environment override, e.g. HERON_SERVER_PORT.
const EnvPrefix = "HERON"

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid config")

// Load reads configuration. Later sources win: tier defaults, the config
// file at path (optional), then environment variables. A .env file in the
// working directory is loaded first when present.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so that environment variables are seen by
// Unmarshal even when the config file does not mention them.
func setDefaults(v *viper.Viper, c *domain.Config) {
	v.SetDefault("tier", string(c.Tier))
	v.SetDefault("debug", c.Debug)
	v.SetDefault("async_worker", c.AsyncWorker)
	tenants := c.Tenants
	if tenants == nil {
		tenants = []string{}
	}
	v.SetDefault("tenants", tenants)

	v.SetDefault("server.host", c.Server.Host)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)

	v.SetDefault("scoring.departments_file", c.Scoring.DepartmentsFile)
	v.SetDefault("scoring.tables_dir", c.Scoring.TablesDir)
	v.SetDefault("scoring.direction_threshold", c.Scoring.DirectionThreshold)
	v.SetDefault("scoring.min_abs_score", c.Scoring.MinAbsScore)
	v.SetDefault("scoring.max_workers", c.Scoring.MaxWorkers)
	v.SetDefault("scoring.strict_conditions", c.Scoring.StrictConditions)
	v.SetDefault("scoring.score_ttl", c.Scoring.ScoreTTL)

	v.SetDefault("repository.driver", c.Repository.Driver)
	v.SetDefault("repository.sqlite_path", c.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", c.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", c.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", c.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", c.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", c.Repository.PostgresDB)
	v.SetDefault("repository.postgres_sslmode", c.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", c.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", c.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", c.Repository.ConnMaxLifetime)

	v.SetDefault("cache.type", c.Cache.Type)
	v.SetDefault("cache.local_max_size", c.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", c.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", c.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", c.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", c.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", c.Cache.EnableTwoPhase)

	v.SetDefault("event_bus.type", c.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", c.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", c.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", c.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", c.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", c.EventBus.NATSReconnectWait)

	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.format", c.Logging.Format)
	v.SetDefault("logging.file", c.Logging.File)
	v.SetDefault("logging.max_size_mb", c.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", c.Logging.MaxAgeDays)

	v.SetDefault("tracing.enabled", c.Tracing.Enabled)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
}

// Validate checks a configuration and reports every problem found.
func Validate(cfg *domain.Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Tier == domain.TierCommunity || cfg.Tier == domain.TierPro,
		"tier must be community or pro, got %q", cfg.Tier)
	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536,
		"server.port %d out of range", cfg.Server.Port)
	check(cfg.Server.ReadTimeout >= 0 && cfg.Server.WriteTimeout >= 0,
		"server timeouts must not be negative")

	check(cfg.Scoring.DepartmentsFile != "", "scoring.departments_file is required")
	check(cfg.Scoring.DirectionThreshold > 0 && !math.IsInf(cfg.Scoring.DirectionThreshold, 0),
		"scoring.direction_threshold must be positive, got %v", cfg.Scoring.DirectionThreshold)
	check(cfg.Scoring.MinAbsScore >= 0,
		"scoring.min_abs_score must be >= 0, got %v", cfg.Scoring.MinAbsScore)
	check(cfg.Scoring.MaxWorkers > 0,
		"scoring.max_workers must be positive, got %d", cfg.Scoring.MaxWorkers)
	check(cfg.Scoring.ScoreTTL >= 0, "scoring.score_ttl must not be negative")

	switch cfg.Repository.Driver {
	case "", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("repository.driver %q is not supported", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type %q is not supported", cfg.Cache.Type))
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("event_bus.type %q is not supported", cfg.EventBus.Type))
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not supported", cfg.Logging.Level))
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not supported", cfg.Logging.Format))
	}

	check(!cfg.AsyncWorker || len(cfg.Tenants) > 0, "async_worker requires tenants")
	for _, t := range cfg.Tenants {
		check(t != "" && t != rules.GlobalTenantID, "tenant id %q is not allowed", t)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
