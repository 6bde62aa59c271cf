package staleness

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

func score(dept string, raw, weight float64) domain.ComponentScore {
	return domain.ComponentScore{Department: dept, RawScore: raw, Weight: weight, WeightedScore: raw * weight}
}

func recordAll(c *Coordinator, entityID string, raw float64) {
	m := c.Marker()
	for _, dept := range c.Due(entityID) {
		c.Record(entityID, score(dept, raw, domain.CanonicalWeights[dept]), m)
	}
}

func TestNewEntityIsFullyDue(t *testing.T) {
	c := NewCoordinator(nil)
	due := c.Due("AAPL")
	if len(due) != 6 {
		t.Fatalf("expected 6 due departments, got %v", due)
	}
	if st := c.State("AAPL", domain.DeptTechnical); st.State != domain.StateUninitialized {
		t.Errorf("State = %s, want UNINITIALIZED", st.State)
	}
}

func TestLifecycle(t *testing.T) {
	c := NewCoordinator(nil)
	recordAll(c, "AAPL", 4)

	if due := c.Due("AAPL"); len(due) != 0 {
		t.Fatalf("expected nothing due after recording, got %v", due)
	}
	if st := c.State("AAPL", domain.DeptNews); st.State != domain.StateFresh {
		t.Errorf("State = %s, want FRESH", st.State)
	}

	c.AdvanceCycle()
	if st := c.State("AAPL", domain.DeptNews); st.State != domain.StateStale {
		t.Errorf("State after cycle = %s, want STALE", st.State)
	}
	if due := c.Due("AAPL"); len(due) != 0 {
		t.Errorf("stale departments without a trigger must not be due, got %v", due)
	}

	marked := c.Trigger("AAPL", "CANDLE_CLOSE")
	if len(marked) != 1 || marked[0] != domain.DeptTechnical {
		t.Fatalf("Trigger = %v, want [technical]", marked)
	}
	if st := c.State("AAPL", domain.DeptTechnical); !st.Pending {
		t.Error("technical should be pending")
	}

	m := c.Marker()
	c.Record("AAPL", score(domain.DeptTechnical, 6, 0.26), m)
	st := c.State("AAPL", domain.DeptTechnical)
	if st.State != domain.StateFresh || st.Pending {
		t.Errorf("technical = %s pending=%v, want FRESH and not pending", st.State, st.Pending)
	}
}

func TestUntriggeredDepartmentReusesLastKnown(t *testing.T) {
	c := NewCoordinator(nil)
	recordAll(c, "MSFT", 5)
	c.AdvanceCycle()

	c.Trigger("MSFT", "VOLUME_SURGE")
	m := c.Marker()
	for _, dept := range c.Due("MSFT") {
		c.Record("MSFT", score(dept, -8, domain.CanonicalWeights[dept]), m)
	}

	current := c.Current("MSFT")
	if got := current[domain.DeptNews].WeightedScore; got != 5*0.22 {
		t.Errorf("news weighted score = %v, want reused %v", got, 5*0.22)
	}
	if got := current[domain.DeptTechnical].RawScore; got != -8 {
		t.Errorf("technical raw = %v, want -8", got)
	}
}

func TestTriggerDuringComputationIsKept(t *testing.T) {
	c := NewCoordinator(nil)
	recordAll(c, "TSLA", 1)

	c.Trigger("TSLA", "IV_SPIKE")
	m := c.Marker()
	c.Trigger("TSLA", "GAMMA_SHIFT")
	c.Record("TSLA", score(domain.DeptOptionsFlow, 2, 0.12), m)

	if st := c.State("TSLA", domain.DeptOptionsFlow); !st.Pending {
		t.Error("trigger that arrived during computation was lost")
	}
	due := c.Due("TSLA")
	if len(due) != 1 || due[0] != domain.DeptOptionsFlow {
		t.Errorf("Due = %v, want [options_flow]", due)
	}
}

func TestMasterTriggersMarkEveryDepartment(t *testing.T) {
	c := NewCoordinator(nil)
	recordAll(c, "AMD", 2)

	for _, kind := range MasterTriggers {
		t.Run(kind, func(t *testing.T) {
			if got := c.Trigger("AMD", kind); len(got) != 6 {
				t.Errorf("Trigger(%s) marked %v", kind, got)
			}
		})
	}
	if due := c.Due("AMD"); len(due) != 6 {
		t.Errorf("expected all departments due, got %v", due)
	}
}

func TestUnknownTriggerIgnored(t *testing.T) {
	c := NewCoordinator(nil)
	if got := c.Trigger("AAPL", "SOLAR_ECLIPSE"); got != nil {
		t.Errorf("unknown trigger marked %v", got)
	}
	if c.Entities() != 0 {
		t.Error("unknown trigger should not create entity state")
	}
}

func TestSharedTriggerKind(t *testing.T) {
	c := NewCoordinator(nil)
	got := c.Trigger("AAPL", "SECTOR_NEWS")
	if len(got) != 2 || got[0] != domain.DeptNews || got[1] != domain.DeptSector {
		t.Errorf("SECTOR_NEWS marked %v, want [news sector]", got)
	}
}

func TestNoDataKeepsLastKnown(t *testing.T) {
	c := NewCoordinator(nil)
	m := c.Marker()
	c.Record("NVDA", score(domain.DeptMacro, 3, 0.14), m)
	c.Record("NVDA", domain.ComponentScore{Department: domain.DeptMacro, NoData: true, Reason: domain.ReasonNoData}, m)

	if got := c.Current("NVDA")[domain.DeptMacro]; got.NoData || got.RawScore != 3 {
		t.Errorf("no-data result replaced last known value: %+v", got)
	}
}

func TestNoDataFirstStaysDue(t *testing.T) {
	c := NewCoordinator(nil)
	c.Record("NVDA", domain.ComponentScore{Department: domain.DeptSector, NoData: true}, c.Marker())

	st := c.State("NVDA", domain.DeptSector)
	if st.State != domain.StateUninitialized {
		t.Errorf("State = %s, want UNINITIALIZED", st.State)
	}
	found := false
	for _, dept := range c.Due("NVDA") {
		if dept == domain.DeptSector {
			found = true
		}
	}
	if !found {
		t.Error("department without data should stay due")
	}
}

func TestForget(t *testing.T) {
	c := NewCoordinator(nil)
	recordAll(c, "AAPL", 1)
	c.Forget("AAPL")

	if len(c.Current("AAPL")) != 0 {
		t.Error("expected no values after Forget")
	}
	if len(c.Due("AAPL")) != 6 {
		t.Error("forgotten entity should be fully due")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewCoordinator(nil)
	entities := []string{"A", "B", "C", "D"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := entities[i%len(entities)]
			c.Trigger(id, "CANDLE_CLOSE")
			m := c.Marker()
			for _, dept := range c.Due(id) {
				c.Record(id, score(dept, float64(i%10), 0.1), m)
			}
			_ = c.Current(id)
			if i%10 == 0 {
				c.AdvanceCycle()
			}
		}(i)
	}
	wg.Wait()

	if c.Entities() != len(entities) {
		t.Errorf("Entities() = %d, want %d", c.Entities(), len(entities))
	}
}

func TestTaxonomyFor(t *testing.T) {
	set, err := scoring.Build(&domain.DepartmentsFile{Departments: []domain.DepartmentConfig{
		{Name: domain.DeptMacro, Kind: domain.KindBlend, Weight: 0.5, Inputs: map[string]float64{"vix_score": 1}, Triggers: []string{"FOMC_MINUTES"}},
		{Name: domain.DeptSector, Kind: domain.KindBlend, Weight: 0.5, Inputs: map[string]float64{"sector_score_daily": 1}},
	}}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	tax := TaxonomyFor(set)
	tests := []struct {
		kind string
		want []string
	}{
		{"FOMC_MINUTES", []string{domain.DeptMacro}},
		{"VIX_UPDATE", nil},
		{"SECTOR_ROTATION", []string{domain.DeptSector}},
		{KindManualRefresh, []string{domain.DeptMacro, domain.DeptSector}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got := tax.Classify(tt.kind)
			if len(got) != len(tt.want) {
				t.Fatalf("Classify = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Classify[%d] = %s, want %s", i, got[i], tt.want[i])
				}
			}
		})
	}
}

// memoryCache is a minimal domain.Cache for write-through tests.
type memoryCache struct {
	mu     sync.Mutex
	scores map[string]*domain.ComponentScore
}

func newMemoryCache() *memoryCache {
	return &memoryCache{scores: make(map[string]*domain.ComponentScore)}
}

func (m *memoryCache) Get(ctx context.Context, tenantID, key string) ([]byte, error) {
	return nil, nil
}

func (m *memoryCache) Set(ctx context.Context, tenantID, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (m *memoryCache) Delete(ctx context.Context, tenantID, key string) error {
	return nil
}

func (m *memoryCache) GetComponentScore(ctx context.Context, tenantID, entityID, department string) (*domain.ComponentScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.scores[tenantID+"|"+domain.ComponentScoreKey(entityID, department)]
	if !ok {
		return nil, nil
	}
	out := *cs
	return &out, nil
}

func (m *memoryCache) SetComponentScore(ctx context.Context, tenantID, entityID string, cs *domain.ComponentScore, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *cs
	m.scores[tenantID+"|"+domain.ComponentScoreKey(entityID, cs.Department)] = &out
	return nil
}

func (m *memoryCache) Ping(ctx context.Context) error { return nil }
func (m *memoryCache) Close() error                   { return nil }

func TestWriteThroughAndWarm(t *testing.T) {
	cache := newMemoryCache()
	first := NewCoordinator(nil, WithCache(cache, "tenant-001", time.Hour))
	recordAll(first, "AAPL", 7)

	second := NewCoordinator(nil, WithCache(cache, "tenant-001", time.Hour))
	n, err := second.Warm(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Warm failed: %v", err)
	}
	if n != 6 {
		t.Errorf("Warm loaded %d departments, want 6", n)
	}
	if due := second.Due("AAPL"); len(due) != 0 {
		t.Errorf("warmed departments should not be due, got %v", due)
	}
	if st := second.State("AAPL", domain.DeptTechnical); st.State != domain.StateStale {
		t.Errorf("warmed State = %s, want STALE", st.State)
	}
	if got := second.Current("AAPL")[domain.DeptNews].RawScore; got != 7 {
		t.Errorf("warmed news raw = %v, want 7", got)
	}

	other := NewCoordinator(nil, WithCache(cache, "tenant-002", time.Hour))
	if n, _ := other.Warm(context.Background(), "AAPL"); n != 0 {
		t.Errorf("tenants must be isolated, warmed %d", n)
	}
}
