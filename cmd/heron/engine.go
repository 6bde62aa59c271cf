package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
)

// scoringStack is everything needed to score entities.
type scoringStack struct {
	registry *rules.Registry
	set      *scoring.Set
	engine   *master.Engine
}

// loadTables reads rule table files from a directory into a new registry.
func loadTables(dir string, strict bool) (*rules.Registry, []*domain.StoredRuleTable, error) {
	registry := rules.NewRegistry(rules.CompileOptions{Strict: strict})
	docs, err := rules.LoadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	tables := make([]*domain.RuleTable, 0, len(docs))
	for _, doc := range docs {
		table, err := rules.Decode(doc)
		if err != nil {
			return nil, nil, err
		}
		tables = append(tables, table)
	}
	if err := registry.Reload(tables); err != nil {
		return nil, nil, err
	}
	return registry, docs, nil
}

// loadTablesFromRepository seeds the repository with the files in dir and
// loads every stored table. Stored tables take precedence over files.
func loadTablesFromRepository(ctx context.Context, repo domain.Repository, dir string, strict bool) (*rules.Registry, error) {
	if dir != "" {
		docs, err := rules.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		seeded, err := rules.Seed(ctx, repo, docs)
		if err != nil {
			return nil, err
		}
		if seeded > 0 {
			slog.Info("seeded rule tables from files", "dir", dir, "count", seeded)
		}
	}

	registry := rules.NewRegistry(rules.CompileOptions{Strict: strict})
	names, err := rules.Sync(ctx, repo, registry, nil)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		ct, _ := registry.Get(name)
		for _, w := range ct.Warnings {
			slog.Warn("rule table warning", "table", name, "warning", w)
		}
	}
	return registry, nil
}

// buildStack builds the departments and master engine over a loaded
// registry. Thresholds declared in the departments file take precedence
// over the scoring config.
func buildStack(registry *rules.Registry, cfg domain.ScoringConfig) (*scoringStack, error) {
	file, err := scoring.LoadDepartmentsFile(cfg.DepartmentsFile)
	if err != nil {
		return nil, err
	}
	set, err := scoring.Build(file, registry)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfg.DepartmentsFile, err)
	}

	threshold := cfg.DirectionThreshold
	if file.DirectionThreshold != nil {
		threshold = *file.DirectionThreshold
	}
	minAbs := cfg.MinAbsScore
	if file.MinAbsScore != nil {
		minAbs = *file.MinAbsScore
	}

	return &scoringStack{
		registry: registry,
		set:      set,
		engine:   master.NewEngine(threshold, minAbs, set.Names()),
	}, nil
}
