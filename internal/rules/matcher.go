package rules

import (
	"github.com/opensource-finance/heron/internal/domain"
)

// MatchStates returns the midpoint of every state whose condition holds.
// Conditions that fail to evaluate do not match.
func MatchStates(states []*CompiledState, vars map[string]any) []domain.StateMatch {
	var matches []domain.StateMatch
	for _, s := range states {
		if s.Condition.Match(vars) {
			matches = append(matches, domain.StateMatch{State: s.Name, Midpoint: s.Range.Midpoint()})
		}
	}
	return matches
}

// Match evaluates the metric's states for one timeframe.
// vars is expected to already be scoped to the timeframe.
func (m *CompiledMetric) Match(timeframe string, vars map[string]any) domain.MatchResult {
	return domain.MatchResult{
		Metric:    m.Name,
		Timeframe: timeframe,
		Matches:   MatchStates(m.Timeframes[timeframe], vars),
	}
}
