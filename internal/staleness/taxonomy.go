package staleness

import (
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/scoring"
)

// Master-level trigger kinds. They mark every department of the entity due.
const (
	KindManualRefresh    = "MANUAL_REFRESH"
	KindScannerEntry     = "SCANNER_ENTRY"
	KindStatusTransition = "STATUS_TRANSITION"
	KindSessionOpen      = "SESSION_OPEN"
	KindSessionClose     = "SESSION_CLOSE"
)

// MasterTriggers are the kinds that refresh all departments.
var MasterTriggers = []string{
	KindManualRefresh,
	KindScannerEntry,
	KindStatusTransition,
	KindSessionOpen,
	KindSessionClose,
}

// DefaultTriggers is the closed refresh-trigger set of each canonical department.
var DefaultTriggers = map[string][]string{
	domain.DeptTechnical: {
		"CANDLE_CLOSE", "INDICATOR_CROSS", "VWAP_DEVIATION", "VOLUME_SURGE",
		"ATR_SHIFT", "STRUCTURE_BREAK", "CANDLE_PATTERN", "GAP_EVENT",
	},
	domain.DeptNews: {
		"MACRO_NEWS", "SECTOR_NEWS", "MICRO_GLOBAL_NEWS", "COMPANY_NEWS", "SENTIMENT_SWING",
	},
	domain.DeptMacro: {
		"INDEX_DAILY_CLOSE", "VIX_UPDATE", "VIX_SPIKE", "BOND_YIELD_UPDATE",
		"DXY_UPDATE", "MACRO_EVENT_WINDOW", "BREADTH_UPDATE",
	},
	domain.DeptSector: {
		"SECTOR_ETF_CLOSE", "SECTOR_NEWS", "SECTOR_ROTATION",
		"SECTOR_RELATIVE_STRENGTH", "SECTOR_MOMENTUM",
	},
	domain.DeptOptionsFlow: {
		"UNUSUAL_OPTIONS_ACTIVITY", "SWEEP_OR_BLOCK", "PUT_CALL_SHIFT",
		"OPEN_INTEREST_UPDATE", "IV_SPIKE", "IV_CRUSH", "GAMMA_SHIFT",
	},
	domain.DeptMicroCompany: {
		"EARNINGS_RELEASE", "GUIDANCE_CHANGE", "DILUTION_EVENT", "BUYBACK",
		"EXECUTIVE_CHANGE", "LEGAL_EVENT", "OPERATIONAL_EVENT", "ANALYST_ACTION",
	},
}

// Taxonomy classifies trigger kinds into the departments they refresh.
type Taxonomy struct {
	departments []string
	byKind      map[string][]string
}

// NewTaxonomy builds a taxonomy from a department -> kinds map. Master
// triggers are added for every department.
func NewTaxonomy(departments []string, triggers map[string][]string) *Taxonomy {
	t := &Taxonomy{
		departments: append([]string(nil), departments...),
		byKind:      make(map[string][]string),
	}
	seen := make(map[string]map[string]bool)
	add := func(kind, dept string) {
		if seen[kind] == nil {
			seen[kind] = make(map[string]bool)
		}
		if seen[kind][dept] {
			return
		}
		seen[kind][dept] = true
		t.byKind[kind] = append(t.byKind[kind], dept)
	}

	for _, dept := range departments {
		for _, kind := range triggers[dept] {
			add(kind, dept)
		}
		for _, kind := range MasterTriggers {
			add(kind, dept)
		}
	}
	return t
}

// DefaultTaxonomy covers the six canonical departments.
func DefaultTaxonomy() *Taxonomy {
	return NewTaxonomy([]string{
		domain.DeptTechnical, domain.DeptNews, domain.DeptMacro,
		domain.DeptSector, domain.DeptOptionsFlow, domain.DeptMicroCompany,
	}, DefaultTriggers)
}

// TaxonomyFor derives the taxonomy of a configured department set. A
// department's declared triggers replace its default list; per-metric
// refresh_on kinds of table departments are merged in.
func TaxonomyFor(set *scoring.Set) *Taxonomy {
	triggers := make(map[string][]string)
	for _, d := range set.Departments() {
		var kinds []string
		if cfg, ok := set.Config(d.Name()); ok && len(cfg.Triggers) > 0 {
			kinds = append(kinds, cfg.Triggers...)
		} else {
			kinds = append(kinds, DefaultTriggers[d.Name()]...)
		}
		kinds = append(kinds, d.RefreshOn()...)
		triggers[d.Name()] = kinds
	}
	return NewTaxonomy(set.Names(), triggers)
}

// Classify returns the departments refreshed by kind. Unknown kinds return nil.
func (t *Taxonomy) Classify(kind string) []string {
	return t.byKind[kind]
}

// Departments returns the departments covered by the taxonomy.
func (t *Taxonomy) Departments() []string {
	return t.departments
}

// Kinds returns every known trigger kind, sorted.
func (t *Taxonomy) Kinds() []string {
	kinds := make([]string, 0, len(t.byKind))
	for k := range t.byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
