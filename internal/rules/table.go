// Package rules compiles rule tables and matches snapshots against their states.
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/expr"
)

// ErrInvalidTable is returned for rule tables that violate the schema.
var ErrInvalidTable = errors.New("invalid rule table")

// CompileOptions controls rule table compilation.
type CompileOptions struct {
	// Strict turns conditions that fail to parse into compile errors.
	// Otherwise they are recorded as warnings and never match.
	Strict bool
}

// CompiledTable is an immutable, validated rule table with parsed conditions.
type CompiledTable struct {
	Name       string
	Version    string
	Scale      domain.ScoreScale
	Metrics    []*CompiledMetric
	Timeframes []string
	Fields     []string
	RefreshOn  []string
	Warnings   []string
	Source     *domain.RuleTable
}

// CompiledMetric is one metric with its states per timeframe.
type CompiledMetric struct {
	Name        string
	Group       string
	Weight      float64
	GroupWeight float64
	Timeframes  map[string][]*CompiledState
}

// CompiledState is a state with its parsed condition.
type CompiledState struct {
	Name      string
	Condition expr.Condition
	Range     domain.ScoreRange
}

// EffectiveWeight is metric weight times group base weight.
func (m *CompiledMetric) EffectiveWeight() float64 {
	return m.Weight * m.GroupWeight
}

// Compile validates table and parses every condition.
// Schema violations are returned as ErrInvalidTable.
func Compile(table *domain.RuleTable, opts CompileOptions) (*CompiledTable, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: table is required", ErrInvalidTable)
	}
	if table.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidTable)
	}

	var errs []error
	scale := table.Meta.ScoreScale
	if scale.Min == 0 && scale.Max == 0 {
		scale = domain.DefaultScoreScale
	}
	if !finite(scale.Min) || !finite(scale.Max) || scale.Min >= scale.Max {
		errs = append(errs, fmt.Errorf("score_scale [%v, %v] must be finite with min < max", scale.Min, scale.Max))
	}

	for name, g := range table.Meta.Groups {
		if !finite(g.BaseWeight) || g.BaseWeight < 0 {
			errs = append(errs, fmt.Errorf("group %s: base_weight %v must be finite and >= 0", name, g.BaseWeight))
		}
	}

	ct := &CompiledTable{
		Name:    table.Name,
		Version: table.Version,
		Scale:   scale,
		Source:  table,
	}
	fields := make(map[string]struct{})
	timeframes := make(map[string]struct{})
	refresh := make(map[string]struct{})

	for _, metricName := range sortedKeys(table.Metrics) {
		metric := table.Metrics[metricName]
		group, ok := table.Meta.Groups[metric.Group]
		if !ok {
			errs = append(errs, fmt.Errorf("metric %s: unknown group %q", metricName, metric.Group))
			continue
		}
		if !finite(metric.Weight) || metric.Weight < 0 {
			errs = append(errs, fmt.Errorf("metric %s: weight %v must be finite and >= 0", metricName, metric.Weight))
		}

		cm := &CompiledMetric{
			Name:        metricName,
			Group:       metric.Group,
			Weight:      metric.Weight,
			GroupWeight: group.BaseWeight,
			Timeframes:  make(map[string][]*CompiledState, len(metric.Timeframes)),
		}
		for _, trigger := range metric.RefreshOn {
			refresh[trigger] = struct{}{}
		}

		for _, tfName := range sortedKeys(metric.Timeframes) {
			timeframes[tfName] = struct{}{}
			tf := metric.Timeframes[tfName]
			states := make([]*CompiledState, 0, len(tf.States))
			for _, stateName := range sortedKeys(tf.States) {
				state := tf.States[stateName]
				path := metricName + "." + tfName + "." + stateName

				r := state.ScoreRange
				if !finite(r.Low) || !finite(r.High) {
					errs = append(errs, fmt.Errorf("state %s: score_range must be finite", path))
				} else if r.Low > r.High {
					errs = append(errs, fmt.Errorf("state %s: score_range low %v > high %v", path, r.Low, r.High))
				}

				cond, err := expr.CompileLanguage(table.Meta.ConditionLanguage, state.Condition)
				if err != nil {
					if opts.Strict {
						errs = append(errs, fmt.Errorf("state %s: %w", path, err))
						continue
					}
					ct.Warnings = append(ct.Warnings, fmt.Sprintf("state %s: %v", path, err))
					cond = expr.Never(state.Condition, err)
				}
				for _, id := range cond.Identifiers() {
					fields[id] = struct{}{}
				}
				states = append(states, &CompiledState{Name: stateName, Condition: cond, Range: r})
			}
			cm.Timeframes[tfName] = states
		}
		ct.Metrics = append(ct.Metrics, cm)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidTable, table.Name, errors.Join(errs...))
	}

	ct.Fields = setToSorted(fields)
	ct.Timeframes = setToSorted(timeframes)
	ct.RefreshOn = setToSorted(refresh)

	for _, w := range ct.Warnings {
		slog.Warn("condition will never match", "table", table.Name, "detail", w)
	}
	return ct, nil
}

// Metric returns the compiled metric with the given name.
func (t *CompiledTable) Metric(name string) (*CompiledMetric, bool) {
	i := sort.Search(len(t.Metrics), func(i int) bool { return t.Metrics[i].Name >= name })
	if i < len(t.Metrics) && t.Metrics[i].Name == name {
		return t.Metrics[i], true
	}
	return nil, false
}

// StateCount returns the number of compiled states.
func (t *CompiledTable) StateCount() int {
	n := 0
	for _, m := range t.Metrics {
		for _, states := range m.Timeframes {
			n += len(states)
		}
	}
	return n
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
