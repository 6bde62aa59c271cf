package domain

import "time"

// Direction is the LONG/SHORT/NEUTRAL classification of a master score.
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionNeutral Direction = "NEUTRAL"
)

// Strength bands the absolute master score.
type Strength string

const (
	StrengthStrong   Strength = "STRONG"
	StrengthModerate Strength = "MODERATE"
	StrengthWeak     Strength = "WEAK"
	StrengthNone     Strength = "NONE"
)

// Reasons recorded when a score is zero for lack of input.
const (
	ReasonNoMatch      = "no match"
	ReasonNoData       = "no data"
	ReasonZeroWeight   = "zero weight"
	ReasonNoComponents = "no contributing departments"
)

// StateMatch is one matched state and its representative score.
type StateMatch struct {
	State    string  `json:"state"`
	Midpoint float64 `json:"midpoint"`
}

// MatchResult is the outcome of matching one metric's states for one timeframe.
type MatchResult struct {
	Metric    string       `json:"metric"`
	Timeframe string       `json:"timeframe"`
	Matches   []StateMatch `json:"matches,omitempty"`
}

// Matched reports whether at least one state matched.
func (m MatchResult) Matched() bool {
	return len(m.Matches) > 0
}

// Score returns the arithmetic mean of matched midpoints.
// The second return is false when nothing matched.
func (m MatchResult) Score() (float64, bool) {
	if len(m.Matches) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range m.Matches {
		sum += s.Midpoint
	}
	return sum / float64(len(m.Matches)), true
}

// MetricScore is a contributing metric inside a timeframe.
type MetricScore struct {
	Metric  string       `json:"metric"`
	Group   string       `json:"group"`
	Score   float64      `json:"score"`
	Weight  float64      `json:"weight"` // metric weight x group base weight
	Matches []StateMatch `json:"matches"`
}

// TimeframeScore is the aggregated score of one timeframe.
type TimeframeScore struct {
	Timeframe string        `json:"timeframe"`
	Score     float64       `json:"score"`
	Reason    string        `json:"reason,omitempty"`
	Metrics   []MetricScore `json:"metrics,omitempty"`
}

// Contribution is one input of a closed-form department.
type Contribution struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Weight float64 `json:"weight"`
	Points float64 `json:"points"`
}

// ComponentDetail records everything used to produce a ComponentScore.
type ComponentDetail struct {
	Timeframes    []TimeframeScore `json:"timeframes,omitempty"`
	Contributions []Contribution   `json:"contributions,omitempty"`
	Blended       float64          `json:"blended"`
}

// ComponentScore is the output of one department for one entity.
type ComponentScore struct {
	Department    string          `json:"department"`
	RawScore      float64         `json:"raw_score"`
	Weight        float64         `json:"weight"`
	WeightedScore float64         `json:"weighted_score"`
	MatchedStates []string        `json:"matched_states"`
	NoData        bool            `json:"no_data,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Detail        ComponentDetail `json:"detail"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// MasterScoreResult is the per-entity aggregate across departments.
type MasterScoreResult struct {
	ID                 string                    `json:"id"`
	TenantID           string                    `json:"tenant_id,omitempty"`
	EntityID           string                    `json:"entity_id"`
	DepartmentScores   map[string]float64        `json:"department_scores"`
	Components         map[string]ComponentScore `json:"components,omitempty"`
	MasterScore        float64                   `json:"master_score"`
	Direction          Direction                 `json:"direction"`
	AbsStrength        float64                   `json:"abs_strength"`
	Strength           Strength                  `json:"strength"`
	Reason             string                    `json:"reason,omitempty"`
	MissingDepartments []string                  `json:"missing_departments,omitempty"`
	Timestamp          time.Time                 `json:"timestamp"`
	Metadata           ScoreMetadata             `json:"metadata"`
}

// ScoreMetadata contains processing information.
type ScoreMetadata struct {
	TraceID       string   `json:"trace_id,omitempty"`
	Cycle         uint64   `json:"cycle"`
	Refreshed     []string `json:"refreshed,omitempty"`
	Reused        []string `json:"reused,omitempty"`
	DepartmentsMs int64    `json:"departments_ms"`
	TotalMs       int64    `json:"total_ms"`
	EngineVersion string   `json:"engine_version"`
}
