package domain

// Department kinds.
const (
	KindTable    = "table"
	KindBlend    = "blend"
	KindAdditive = "additive"
)

// Canonical department names.
const (
	DeptTechnical    = "technical"
	DeptNews         = "news"
	DeptMacro        = "macro"
	DeptSector       = "sector"
	DeptOptionsFlow  = "options_flow"
	DeptMicroCompany = "micro_company"
)

// CanonicalWeights are the default department weights. They sum to 1.0.
var CanonicalWeights = map[string]float64{
	DeptTechnical:    0.26,
	DeptNews:         0.22,
	DeptMacro:        0.14,
	DeptSector:       0.14,
	DeptOptionsFlow:  0.12,
	DeptMicroCompany: 0.12,
}

// DepartmentsFile is the document declaring the scoring departments.
type DepartmentsFile struct {
	DirectionThreshold *float64           `yaml:"direction_threshold,omitempty" json:"direction_threshold,omitempty"`
	MinAbsScore        *float64           `yaml:"min_abs_score,omitempty" json:"min_abs_score,omitempty"`
	Departments        []DepartmentConfig `yaml:"departments" json:"departments"`
}

// DepartmentConfig declares one department.
type DepartmentConfig struct {
	Name   string  `yaml:"name" json:"name"`
	Kind   string  `yaml:"kind" json:"kind"`
	Weight float64 `yaml:"weight" json:"weight"`

	// Table is the rule table name or file path for table departments.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// TimeframeWeights blends timeframe scores, e.g. MINOR 0.6 / MAJOR 0.4.
	TimeframeWeights map[string]float64 `yaml:"timeframe_weights,omitempty" json:"timeframe_weights,omitempty"`

	// Inputs maps snapshot variables to blend weights for blend departments.
	Inputs map[string]float64 `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Terms are the scored conditions of additive departments.
	Terms []AdditiveTerm `yaml:"terms,omitempty" json:"terms,omitempty"`

	// Scale overrides the canonical scale for closed-form departments.
	Scale *ScoreScale `yaml:"scale,omitempty" json:"scale,omitempty"`

	// Triggers overrides the department's refresh-trigger set.
	Triggers []string `yaml:"triggers,omitempty" json:"triggers,omitempty"`
}

// AdditiveTerm adds Points to the raw score when Condition matches.
type AdditiveTerm struct {
	Name      string  `yaml:"name" json:"name"`
	Condition string  `yaml:"condition" json:"condition"`
	Points    float64 `yaml:"points" json:"points"`
}
