package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/api"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/logging"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/repository"
	"github.com/opensource-finance/heron/internal/worker"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the async worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			closer, err := logging.Setup(cfg.Logging, cfg.Debug)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *domain.Config) error {
	slog.Info("starting heron",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Rule tables: files seed the repository, the repository is the source of truth
	registry, err := loadTablesFromRepository(ctx, repo, cfg.Scoring.TablesDir, cfg.Scoring.StrictConditions)
	if err != nil {
		return fmt.Errorf("failed to load rule tables: %w", err)
	}
	slog.Info("rule tables loaded", "tables", registry.Names())

	stack, err := buildStack(registry, cfg.Scoring)
	if err != nil {
		return fmt.Errorf("failed to build departments: %w", err)
	}
	slog.Info("departments initialized",
		"departments", stack.set.Names(),
		"direction_threshold", stack.engine.Threshold,
		"min_abs_score", stack.engine.MinAbsScore,
	)

	p := pipeline.New(stack.set, stack.engine, pipeline.Options{
		MaxWorkers: cfg.Scoring.MaxWorkers,
		Cache:      cacheImpl,
		ScoreTTL:   cfg.Scoring.ScoreTTL,
	})

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, p)
		if err := asyncWorker.Start(worker.Config{TenantIDs: cfg.Tenants}); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Pipeline: p,
		Registry: registry,
		Tracing:  cfg.Tracing,
		Version:  Version,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	slog.Info("heron is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		runErr = fmt.Errorf("server failed: %w", err)
	}

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("heron shutdown complete")
	return runErr
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  HERON                    |")
	fmt.Println("  |      Condition-Driven Scoring Engine      |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/score                      - Score one entity")
	fmt.Println("    POST /v1/score/batch                - Score and rank a universe")
	fmt.Println("    POST /v1/rank                       - Rank scored results")
	fmt.Println("    POST /v1/triggers                   - Record a refresh trigger")
	fmt.Println("    POST /v1/cycle                      - Advance the refresh cycle")
	fmt.Println("    GET  /v1/entities/{id}/departments  - Department refresh state")
	fmt.Println("    POST /v1/evaluate                   - Evaluate a condition")
	fmt.Println("    GET  /v1/tables                     - List rule tables")
	fmt.Println("    POST /v1/tables                     - Store a rule table")
	fmt.Println("    DELETE /v1/tables/{name}            - Disable a rule table")
	fmt.Println("    POST /v1/tables/reload              - Hot-reload rule tables")
	fmt.Println("    GET  /health                        - Health check")
	fmt.Println()
}
