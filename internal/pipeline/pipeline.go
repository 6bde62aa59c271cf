// Package pipeline runs the scoring flow for one entity or a universe of
// entities: refresh triggers, due departments, last-known reuse and the
// master aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/scoring"
	"github.com/opensource-finance/heron/internal/staleness"
)

// ErrInvalidRequest is returned for requests without an entity id.
var ErrInvalidRequest = errors.New("invalid score request")

var tracer = otel.Tracer("heron-pipeline")

// Request is one entity to score.
type Request struct {
	TenantID string
	EntityID string
	TraceID  string
	Snapshot domain.Snapshot
	Triggers []string
}

// Options configures a Pipeline.
type Options struct {
	// MaxWorkers bounds concurrent entity scoring in ScoreUniverse.
	MaxWorkers int

	// Stateless scores every department on every call and keeps no
	// last-known values.
	Stateless bool

	// Cache receives last-known component scores and serves warm starts.
	Cache    domain.Cache
	ScoreTTL time.Duration
}

// Pipeline scores entities against a department set.
type Pipeline struct {
	set      *scoring.Set
	engine   *master.Engine
	taxonomy *staleness.Taxonomy
	opts     Options

	mu           sync.Mutex
	coordinators map[string]*staleness.Coordinator
}

// New creates a pipeline. One staleness coordinator is kept per tenant.
func New(set *scoring.Set, engine *master.Engine, opts Options) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 8
	}
	return &Pipeline{
		set:          set,
		engine:       engine,
		taxonomy:     staleness.TaxonomyFor(set),
		opts:         opts,
		coordinators: make(map[string]*staleness.Coordinator),
	}
}

// Engine returns the master engine.
func (p *Pipeline) Engine() *master.Engine {
	return p.engine
}

// Departments returns the configured department set.
func (p *Pipeline) Departments() *scoring.Set {
	return p.set
}

// Stateless reports whether last-known values are disabled.
func (p *Pipeline) Stateless() bool {
	return p.opts.Stateless
}

// Coordinator returns the staleness coordinator of a tenant, creating it on first use.
func (p *Pipeline) Coordinator(tenantID string) *staleness.Coordinator {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.coordinators[tenantID]
	if !ok {
		var opts []staleness.Option
		if p.opts.Cache != nil {
			opts = append(opts, staleness.WithCache(p.opts.Cache, tenantID, p.opts.ScoreTTL))
		}
		c = staleness.NewCoordinator(p.taxonomy, opts...)
		p.coordinators[tenantID] = c
	}
	return c
}

// Trigger records a refresh event for an entity and returns the departments marked due.
func (p *Pipeline) Trigger(tenantID, entityID, kind string) []string {
	return p.Coordinator(tenantID).Trigger(entityID, kind)
}

// ScoreEntity scores one entity. Only due departments are computed; the
// others contribute their last-known values.
func (p *Pipeline) ScoreEntity(ctx context.Context, req Request) (*domain.MasterScoreResult, error) {
	if req.EntityID == "" {
		return nil, fmt.Errorf("%w: entity_id is required", ErrInvalidRequest)
	}

	ctx, span := tracer.Start(ctx, "pipeline.ScoreEntity")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("entity.id", req.EntityID),
	)

	start := time.Now()
	input := &master.ScoreInput{
		TenantID:  req.TenantID,
		EntityID:  req.EntityID,
		TraceID:   req.TraceID,
		StartTime: start,
	}

	if p.opts.Stateless {
		input.Components = p.set.ScoreAll(req.Snapshot)
		input.Refreshed = p.set.Names()
	} else {
		coord := p.Coordinator(req.TenantID)
		if p.opts.Cache != nil && len(coord.Current(req.EntityID)) == 0 {
			if _, err := coord.Warm(ctx, req.EntityID); err != nil {
				slog.Warn("warm start failed", "entity_id", req.EntityID, "error", err)
			}
		}

		for _, kind := range req.Triggers {
			coord.Trigger(req.EntityID, kind)
		}

		marker := coord.Marker()
		for _, name := range coord.Due(req.EntityID) {
			d, ok := p.set.Get(name)
			if !ok {
				continue
			}
			coord.Record(req.EntityID, d.Score(req.Snapshot), marker)
			input.Refreshed = append(input.Refreshed, name)
		}

		input.Components = coord.Current(req.EntityID)
		refreshed := make(map[string]bool, len(input.Refreshed))
		for _, name := range input.Refreshed {
			refreshed[name] = true
		}
		for _, name := range p.set.Names() {
			if _, ok := input.Components[name]; ok && !refreshed[name] {
				input.Reused = append(input.Reused, name)
			}
		}
		input.Cycle = coord.Cycle()
	}

	result := p.engine.Process(ctx, input)
	span.SetAttributes(
		attribute.Float64("master.score", result.MasterScore),
		attribute.String("master.direction", string(result.Direction)),
	)
	return result, nil
}

// ScoreUniverse scores many entities concurrently, bounded by MaxWorkers.
// Results keep the order of reqs. When advanceCycle is set the tenant's
// cycle boundary is crossed once after the batch.
func (p *Pipeline) ScoreUniverse(ctx context.Context, tenantID string, reqs []Request, advanceCycle bool) ([]*domain.MasterScoreResult, error) {
	ctx, span := tracer.Start(ctx, "pipeline.ScoreUniverse")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("entities", len(reqs)),
	)

	results := make([]*domain.MasterScoreResult, len(reqs))
	errs := make([]error, len(reqs))

	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, p.opts.MaxWorkers)

	for i, req := range reqs {
		wg.Add(1)
		go func(idx int, req Request) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			if err := ctx.Err(); err != nil {
				errs[idx] = err
				return
			}
			req.TenantID = tenantID
			results[idx], errs[idx] = p.ScoreEntity(ctx, req)
		}(i, req)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	if advanceCycle && !p.opts.Stateless {
		p.Coordinator(tenantID).AdvanceCycle()
	}
	return results, errors.Join(errs...)
}

// Rank orders results by conviction using the engine's minimum absolute score.
func (p *Pipeline) Rank(results []*domain.MasterScoreResult) []*domain.MasterScoreResult {
	return p.engine.Rank(results)
}
