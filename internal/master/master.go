// Package master combines department scores into one master score per
// entity, classifies its direction and ranks entities by conviction.
package master

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/domain"
)

// EngineVersion is stamped on every result.
const EngineVersion = "heron-1.0"

// Engine aggregates component scores and produces the final classification.
type Engine struct {
	// Threshold classifies master scores: >= +Threshold is LONG, <= -Threshold is SHORT.
	Threshold float64

	// MinAbsScore drops weak candidates from rankings. Zero disables the filter.
	MinAbsScore float64

	// Departments lists the expected departments, used to report missing ones.
	Departments []string
}

// NewEngine creates an engine with the given direction threshold.
func NewEngine(threshold, minAbsScore float64, departments []string) *Engine {
	return &Engine{
		Threshold:   math.Abs(threshold),
		MinAbsScore: minAbsScore,
		Departments: departments,
	}
}

// ScoreInput contains everything needed for one entity's master score.
type ScoreInput struct {
	TenantID   string
	EntityID   string
	TraceID    string
	Components map[string]domain.ComponentScore
	Cycle      uint64
	Refreshed  []string
	Reused     []string
	StartTime  time.Time
	ScoredAt   time.Time
}

// Score sums the weighted scores of every department that carries data.
// The sum is not clamped: agreeing departments may exceed the department
// scale and that magnitude is the ranking signal.
func (e *Engine) Score(entityID string, components map[string]domain.ComponentScore) *domain.MasterScoreResult {
	result := &domain.MasterScoreResult{
		EntityID:         entityID,
		DepartmentScores: make(map[string]float64, len(components)),
		Components:       components,
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	var total float64
	for _, name := range names {
		cs := components[name]
		if cs.NoData {
			continue
		}
		result.DepartmentScores[name] = cs.WeightedScore
		total += cs.WeightedScore
	}

	for _, name := range e.Departments {
		if _, ok := result.DepartmentScores[name]; !ok {
			result.MissingDepartments = append(result.MissingDepartments, name)
		}
	}
	if len(result.DepartmentScores) == 0 {
		result.Reason = domain.ReasonNoComponents
	}

	result.MasterScore = total
	result.AbsStrength = math.Abs(total)
	result.Direction = e.Direction(total)
	if len(result.DepartmentScores) == 0 {
		result.Direction = domain.DirectionNeutral
	}
	result.Strength = StrengthOf(result.AbsStrength)
	return result
}

// Process scores one entity and stamps identifiers and timing metadata.
func (e *Engine) Process(ctx context.Context, input *ScoreInput) *domain.MasterScoreResult {
	start := time.Now()

	result := e.Score(input.EntityID, input.Components)
	result.ID = uuid.New().String()
	result.TenantID = input.TenantID
	result.Timestamp = input.ScoredAt
	if result.Timestamp.IsZero() {
		result.Timestamp = time.Now().UTC()
	}

	departmentsMs := int64(0)
	if !input.StartTime.IsZero() {
		departmentsMs = start.Sub(input.StartTime).Milliseconds()
	}
	totalMs := departmentsMs + time.Since(start).Milliseconds()

	result.Metadata = domain.ScoreMetadata{
		TraceID:       input.TraceID,
		Cycle:         input.Cycle,
		Refreshed:     input.Refreshed,
		Reused:        input.Reused,
		DepartmentsMs: departmentsMs,
		TotalMs:       totalMs,
		EngineVersion: EngineVersion,
	}
	return result
}

// Direction classifies a master score. Both boundaries are inclusive.
func (e *Engine) Direction(score float64) domain.Direction {
	switch {
	case score >= e.Threshold:
		return domain.DirectionLong
	case score <= -e.Threshold:
		return domain.DirectionShort
	}
	return domain.DirectionNeutral
}

// StrengthOf bands an absolute master score.
func StrengthOf(abs float64) domain.Strength {
	switch {
	case abs >= 6:
		return domain.StrengthStrong
	case abs >= 3:
		return domain.StrengthModerate
	case abs > 0:
		return domain.StrengthWeak
	}
	return domain.StrengthNone
}

// Rank filters by the engine's minimum absolute score and sorts by
// absolute strength, strongest first.
func (e *Engine) Rank(results []*domain.MasterScoreResult) []*domain.MasterScoreResult {
	return Rank(results, e.MinAbsScore)
}

// Rank keeps results with abs strength >= minAbs (when minAbs > 0) and sorts
// them by abs strength descending. Ties are ordered by entity id.
func Rank(results []*domain.MasterScoreResult, minAbs float64) []*domain.MasterScoreResult {
	ranked := make([]*domain.MasterScoreResult, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		if minAbs > 0 && r.AbsStrength < minAbs {
			continue
		}
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].AbsStrength != ranked[j].AbsStrength {
			return ranked[i].AbsStrength > ranked[j].AbsStrength
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})
	return ranked
}

// IsSignal reports whether a result carries a LONG or SHORT direction.
func IsSignal(result *domain.MasterScoreResult) bool {
	return result.Direction != domain.DirectionNeutral
}

// Reasons lists the departments that drove a result, strongest first.
func Reasons(result *domain.MasterScoreResult) []string {
	names := make([]string, 0, len(result.DepartmentScores))
	for name, s := range result.DepartmentScores {
		if s != 0 {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := math.Abs(result.DepartmentScores[names[i]]), math.Abs(result.DepartmentScores[names[j]])
		if a != b {
			return a > b
		}
		return names[i] < names[j]
	})
	return names
}
