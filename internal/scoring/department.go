package scoring

import (
	"fmt"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// Department scores one category of inputs for one entity.
type Department interface {
	Name() string
	Kind() string
	Weight() float64

	// Fields lists the snapshot variables the department reads.
	Fields() []string

	// RefreshOn lists triggers declared by the department's rule table.
	RefreshOn() []string

	// Score never fails: missing inputs yield a no-data score.
	Score(snap domain.Snapshot) domain.ComponentScore
}

// TableDepartment scores a rule table through the hierarchical aggregator.
// The table is looked up on every call so registry reloads take effect.
type TableDepartment struct {
	name             string
	table            string
	weight           float64
	timeframeWeights map[string]float64
	registry         *rules.Registry
}

// NewTableDepartment binds a registered rule table to a weight.
func NewTableDepartment(name, table string, weight float64, timeframeWeights map[string]float64, registry *rules.Registry) *TableDepartment {
	return &TableDepartment{
		name:             name,
		table:            table,
		weight:           weight,
		timeframeWeights: timeframeWeights,
		registry:         registry,
	}
}

func (d *TableDepartment) Name() string    { return d.name }
func (d *TableDepartment) Kind() string    { return domain.KindTable }
func (d *TableDepartment) Weight() float64 { return d.weight }

// Table returns the rule table name.
func (d *TableDepartment) Table() string { return d.table }

func (d *TableDepartment) Fields() []string {
	if ct, ok := d.registry.Get(d.table); ok {
		return ct.Fields
	}
	return nil
}

func (d *TableDepartment) RefreshOn() []string {
	if ct, ok := d.registry.Get(d.table); ok {
		return ct.RefreshOn
	}
	return nil
}

// Score matches the snapshot against every timeframe, blends and clamps.
func (d *TableDepartment) Score(snap domain.Snapshot) domain.ComponentScore {
	table, ok := d.registry.Get(d.table)
	if !ok {
		return noData(d.name, d.weight, fmt.Sprintf("rule table %s not loaded", d.table))
	}
	if !snap.HasAny(table.Fields) {
		return noData(d.name, d.weight, domain.ReasonNoData)
	}

	timeframes := make([]domain.TimeframeScore, 0, len(table.Timeframes))
	for _, tf := range table.Timeframes {
		timeframes = append(timeframes, ScoreTimeframe(table, tf, snap))
	}
	blended := BlendTimeframes(timeframes, d.timeframeWeights)

	cs := newComponentScore(d.name, blended, d.weight, table.Scale)
	cs.Detail = domain.ComponentDetail{Timeframes: timeframes, Blended: blended}
	for _, ts := range timeframes {
		for _, ms := range ts.Metrics {
			for _, m := range ms.Matches {
				cs.MatchedStates = append(cs.MatchedStates, ms.Metric+":"+ts.Timeframe+":"+m.State)
			}
		}
	}
	if len(cs.MatchedStates) == 0 {
		cs.Reason = domain.ReasonNoMatch
	}
	return cs
}
