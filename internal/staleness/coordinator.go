// Package staleness tracks which departments of an entity must be recomputed
// and which last-known values can be reused.
package staleness

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// cacheTimeout bounds write-through and warm-start cache calls.
const cacheTimeout = 2 * time.Second

// record is the state of one (entity, department) pair.
type record struct {
	last          *domain.ComponentScore
	pending       bool
	pendingMarker uint64
	marker        uint64

	// freshCycle is cycle+1 of the last computation; zero means never fresh.
	freshCycle uint64
	updatedAt  time.Time
}

type entity struct {
	mu    sync.Mutex
	depts map[string]*record
}

// Coordinator decides per entity which departments are due and keeps the
// last-known value of every department. Locking is per entity.
type Coordinator struct {
	taxonomy *Taxonomy

	mu       sync.RWMutex
	entities map[string]*entity

	marker atomic.Uint64
	cycle  atomic.Uint64

	cache    domain.Cache
	tenantID string
	ttl      time.Duration
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithCache writes last-known values through to cache and enables Warm.
func WithCache(cache domain.Cache, tenantID string, ttl time.Duration) Option {
	return func(c *Coordinator) {
		c.cache = cache
		c.tenantID = tenantID
		c.ttl = ttl
	}
}

// NewCoordinator creates a coordinator for the departments of taxonomy.
func NewCoordinator(taxonomy *Taxonomy, opts ...Option) *Coordinator {
	if taxonomy == nil {
		taxonomy = DefaultTaxonomy()
	}
	c := &Coordinator{
		taxonomy: taxonomy,
		entities: make(map[string]*entity),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Taxonomy returns the trigger classification in use.
func (c *Coordinator) Taxonomy() *Taxonomy {
	return c.taxonomy
}

func (c *Coordinator) entity(entityID string, create bool) *entity {
	c.mu.RLock()
	e, ok := c.entities[entityID]
	c.mu.RUnlock()
	if ok || !create {
		return e
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok = c.entities[entityID]; ok {
		return e
	}
	e = &entity{depts: make(map[string]*record)}
	c.entities[entityID] = e
	return e
}

func (e *entity) record(dept string) *record {
	r, ok := e.depts[dept]
	if !ok {
		r = &record{}
		e.depts[dept] = r
	}
	return r
}

// Trigger classifies kind and marks the matching departments of the entity
// pending. It returns the departments marked. Unknown kinds are ignored.
func (c *Coordinator) Trigger(entityID, kind string) []string {
	depts := c.taxonomy.Classify(kind)
	if len(depts) == 0 {
		slog.Debug("ignoring unknown trigger", "entity_id", entityID, "kind", kind)
		return nil
	}

	e := c.entity(entityID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now().UTC()
	for _, dept := range depts {
		r := e.record(dept)
		r.pending = true
		r.pendingMarker = c.marker.Add(1)
		r.updatedAt = now
	}
	return append([]string(nil), depts...)
}

// Marker returns the current trigger marker. Callers capture it before
// computing and pass it to Record.
func (c *Coordinator) Marker() uint64 {
	return c.marker.Load()
}

// Due returns the departments of the entity that are pending or have never
// produced data, in taxonomy order.
func (c *Coordinator) Due(entityID string) []string {
	e := c.entity(entityID, false)
	if e == nil {
		return append([]string(nil), c.taxonomy.Departments()...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var due []string
	for _, dept := range c.taxonomy.Departments() {
		r, ok := e.depts[dept]
		if !ok || r.pending || r.last == nil || r.last.NoData {
			due = append(due, dept)
		}
	}
	return due
}

// Record stores a computed department score. marker is the value of Marker
// captured before computing: the pending flag is only cleared when no
// trigger arrived since. A no-data result never replaces a known value.
func (c *Coordinator) Record(entityID string, cs domain.ComponentScore, marker uint64) {
	e := c.entity(entityID, true)
	e.mu.Lock()

	r := e.record(cs.Department)
	if r.pending && r.pendingMarker <= marker {
		r.pending = false
	}
	r.marker = marker
	r.updatedAt = time.Now().UTC()

	stored := false
	if !cs.NoData || r.last == nil {
		score := cs
		r.last = &score
		stored = !cs.NoData
	}
	if !cs.NoData {
		r.freshCycle = c.cycle.Load() + 1
	}
	e.mu.Unlock()

	if stored && c.cache != nil {
		c.writeThrough(entityID, cs)
	}
}

func (c *Coordinator) writeThrough(entityID string, cs domain.ComponentScore) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheTimeout)
	defer cancel()
	if err := c.cache.SetComponentScore(ctx, c.tenantID, entityID, &cs, c.ttl); err != nil {
		slog.Warn("failed to cache component score",
			"entity_id", entityID,
			"department", cs.Department,
			"error", err,
		)
	}
}

// State reports the refresh state of one department of the entity.
func (c *Coordinator) State(entityID, dept string) domain.StalenessRecord {
	rec := domain.StalenessRecord{
		EntityID:   entityID,
		Department: dept,
		State:      domain.StateUninitialized,
		Cycle:      c.cycle.Load(),
	}

	e := c.entity(entityID, false)
	if e == nil {
		return rec
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.depts[dept]
	if !ok {
		return rec
	}
	rec.Pending = r.pending
	rec.Marker = r.marker
	rec.UpdatedAt = r.updatedAt
	if r.last != nil {
		last := *r.last
		rec.LastKnown = &last
	}
	switch {
	case r.last == nil || (r.last.NoData && r.freshCycle == 0):
		rec.State = domain.StateUninitialized
	case r.freshCycle == rec.Cycle+1:
		rec.State = domain.StateFresh
	default:
		rec.State = domain.StateStale
	}
	return rec
}

// States reports every department of the entity, in taxonomy order.
func (c *Coordinator) States(entityID string) []domain.StalenessRecord {
	depts := c.taxonomy.Departments()
	out := make([]domain.StalenessRecord, 0, len(depts))
	for _, dept := range depts {
		out = append(out, c.State(entityID, dept))
	}
	return out
}

// Current returns the last-known value of every department of the entity.
func (c *Coordinator) Current(entityID string) map[string]domain.ComponentScore {
	out := make(map[string]domain.ComponentScore)
	e := c.entity(entityID, false)
	if e == nil {
		return out
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	for dept, r := range e.depts {
		if r.last != nil {
			out[dept] = *r.last
		}
	}
	return out
}

// Cycle returns the current cycle number.
func (c *Coordinator) Cycle() uint64 {
	return c.cycle.Load()
}

// AdvanceCycle crosses a cycle boundary. Values computed before it become stale.
func (c *Coordinator) AdvanceCycle() uint64 {
	return c.cycle.Add(1)
}

// Forget drops all state of the entity.
func (c *Coordinator) Forget(entityID string) {
	c.mu.Lock()
	delete(c.entities, entityID)
	c.mu.Unlock()
}

// Entities returns the number of tracked entities.
func (c *Coordinator) Entities() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entities)
}

// Warm loads cached last-known values for departments of the entity that
// have none yet. Warmed values are stale until recomputed.
func (c *Coordinator) Warm(ctx context.Context, entityID string) (int, error) {
	if c.cache == nil {
		return 0, nil
	}

	loaded := make(map[string]*domain.ComponentScore)
	for _, dept := range c.taxonomy.Departments() {
		cs, err := c.cache.GetComponentScore(ctx, c.tenantID, entityID, dept)
		if err != nil {
			return 0, err
		}
		if cs != nil {
			loaded[dept] = cs
		}
	}
	if len(loaded) == 0 {
		return 0, nil
	}

	e := c.entity(entityID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	now := time.Now().UTC()
	for dept, cs := range loaded {
		r := e.record(dept)
		if r.last != nil && !r.last.NoData {
			continue
		}
		r.last = cs
		r.updatedAt = now
		n++
	}
	return n, nil
}
