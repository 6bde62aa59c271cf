package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleTable is an externally authored scoring table.
// Groups weight clusters of metrics; each metric carries per-timeframe states
// whose conditions are evaluated against a Snapshot.
type RuleTable struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Meta        RuleTableMeta     `json:"meta" yaml:"meta"`
	Metrics     map[string]Metric `json:"metrics" yaml:"metrics"`
}

// RuleTableMeta holds table-wide settings.
type RuleTableMeta struct {
	ScoreScale ScoreScale       `json:"score_scale" yaml:"score_scale"`
	Groups     map[string]Group `json:"groups" yaml:"groups"`

	// ConditionLanguage selects the condition dialect: "" or "python" for the
	// native grammar, "cel" for Common Expression Language.
	ConditionLanguage string `json:"condition_language,omitempty" yaml:"condition_language,omitempty"`
}

// ScoreScale bounds every raw score produced from the table.
type ScoreScale struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Clamp bounds v to the scale. NaN is treated as 0.
func (s ScoreScale) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	if v < s.Min {
		return s.Min
	}
	if v > s.Max {
		return s.Max
	}
	return v
}

// DefaultScoreScale is the canonical [-10, 10] scale.
var DefaultScoreScale = ScoreScale{Min: -10, Max: 10}

// Group is a weighted cluster of related metrics.
type Group struct {
	BaseWeight float64 `json:"base_weight" yaml:"base_weight"`
}

// Metric is a named signal scored per timeframe.
type Metric struct {
	Group      string               `json:"group" yaml:"group"`
	Weight     float64              `json:"weight" yaml:"weight"`
	RefreshOn  []string             `json:"refresh_on,omitempty" yaml:"refresh_on,omitempty"`
	Timeframes map[string]Timeframe `json:"timeframes" yaml:"timeframes"`
}

// Timeframe holds the states of a metric for one horizon (e.g. MINOR, MAJOR).
type Timeframe struct {
	States map[string]State `json:"states" yaml:"states"`
}

// State is a named condition with the score range it maps to.
type State struct {
	Condition  string     `json:"condition" yaml:"condition"`
	ScoreRange ScoreRange `json:"score_range" yaml:"score_range"`
	Notes      string     `json:"notes,omitempty" yaml:"notes,omitempty"`
}

// ScoreRange is a [low, high] pair. Encoded as a two-element list.
type ScoreRange struct {
	Low  float64
	High float64
}

// Midpoint returns (low + high) / 2.
func (r ScoreRange) Midpoint() float64 {
	return (r.Low + r.High) / 2
}

// MarshalJSON encodes the range as [low, high].
func (r ScoreRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{r.Low, r.High})
}

// UnmarshalJSON decodes a [low, high] list.
func (r *ScoreRange) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("score_range: %w", err)
	}
	return r.set(pair)
}

// MarshalYAML encodes the range as [low, high].
func (r ScoreRange) MarshalYAML() (any, error) {
	return []float64{r.Low, r.High}, nil
}

// UnmarshalYAML decodes a [low, high] sequence.
func (r *ScoreRange) UnmarshalYAML(node *yaml.Node) error {
	var pair []float64
	if err := node.Decode(&pair); err != nil {
		return fmt.Errorf("score_range line %d: %w", node.Line, err)
	}
	return r.set(pair)
}

func (r *ScoreRange) set(pair []float64) error {
	if len(pair) != 2 {
		return fmt.Errorf("score_range must have exactly 2 values, got %d", len(pair))
	}
	r.Low, r.High = pair[0], pair[1]
	return nil
}

// StoredRuleTable is a versioned rule table document held by a Repository.
type StoredRuleTable struct {
	Name      string    `json:"name"`
	TenantID  string    `json:"tenantId"`
	Version   string    `json:"version"`
	Format    string    `json:"format"` // yaml or json
	Document  []byte    `json:"document"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
