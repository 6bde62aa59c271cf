package scoring

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// ErrInvalidDepartments is returned for malformed department declarations.
var ErrInvalidDepartments = errors.New("invalid departments")

// Set is the configured collection of departments, in declaration order.
type Set struct {
	departments []Department
	byName      map[string]Department
	configs     map[string]domain.DepartmentConfig
}

// LoadDepartmentsFile reads a departments document. Unknown fields are rejected.
func LoadDepartmentsFile(path string) (*domain.DepartmentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read departments file %s: %w", path, err)
	}
	return ParseDepartments(data)
}

// ParseDepartments decodes a YAML (or JSON) departments document.
func ParseDepartments(data []byte) (*domain.DepartmentsFile, error) {
	var file domain.DepartmentsFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDepartments, err)
	}
	return &file, nil
}

// Build creates the departments declared in file. Table departments must
// reference a table already loaded in registry.
func Build(file *domain.DepartmentsFile, registry *rules.Registry) (*Set, error) {
	if file == nil || len(file.Departments) == 0 {
		return nil, fmt.Errorf("%w: no departments declared", ErrInvalidDepartments)
	}

	set := &Set{
		byName:  make(map[string]Department, len(file.Departments)),
		configs: make(map[string]domain.DepartmentConfig, len(file.Departments)),
	}
	var errs []error
	var total float64
	if t := file.DirectionThreshold; t != nil && (!finite(*t) || *t <= 0) {
		errs = append(errs, fmt.Errorf("direction_threshold %v must be finite and > 0", *t))
	}
	if m := file.MinAbsScore; m != nil && (!finite(*m) || *m < 0) {
		errs = append(errs, fmt.Errorf("min_abs_score %v must be finite and >= 0", *m))
	}

	for i, cfg := range file.Departments {
		if cfg.Name == "" {
			errs = append(errs, fmt.Errorf("department %d: name is required", i))
			continue
		}
		if _, dup := set.byName[cfg.Name]; dup {
			errs = append(errs, fmt.Errorf("department %s: declared twice", cfg.Name))
			continue
		}
		if !finite(cfg.Weight) || cfg.Weight < 0 {
			errs = append(errs, fmt.Errorf("department %s: weight %v must be finite and >= 0", cfg.Name, cfg.Weight))
			continue
		}

		d, err := buildDepartment(cfg, registry)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += cfg.Weight
		set.departments = append(set.departments, d)
		set.byName[cfg.Name] = d
		set.configs[cfg.Name] = cfg
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDepartments, errors.Join(errs...))
	}
	if math.Abs(total-1.0) > 0.01 {
		slog.Warn("department weights do not sum to 1.0", "total", total)
	}
	return set, nil
}

func buildDepartment(cfg domain.DepartmentConfig, registry *rules.Registry) (Department, error) {
	scale := domain.DefaultScoreScale
	if cfg.Scale != nil {
		scale = *cfg.Scale
		if !finite(scale.Min) || !finite(scale.Max) || scale.Min >= scale.Max {
			return nil, fmt.Errorf("department %s: scale [%v, %v] must be finite with min below max", cfg.Name, scale.Min, scale.Max)
		}
	}

	switch cfg.Kind {
	case domain.KindTable, "":
		if cfg.Table == "" {
			return nil, fmt.Errorf("department %s: table is required", cfg.Name)
		}
		if registry == nil {
			return nil, fmt.Errorf("department %s: no rule table registry", cfg.Name)
		}
		table, ok := registry.Get(cfg.Table)
		if !ok {
			return nil, fmt.Errorf("department %s: rule table %s not loaded", cfg.Name, cfg.Table)
		}
		if err := checkTimeframeWeights(cfg, table.Timeframes); err != nil {
			return nil, err
		}
		return NewTableDepartment(cfg.Name, cfg.Table, cfg.Weight, cfg.TimeframeWeights, registry), nil

	case domain.KindBlend:
		if len(cfg.Inputs) == 0 {
			return nil, fmt.Errorf("department %s: blend requires inputs", cfg.Name)
		}
		for _, field := range sortedNames(cfg.Inputs) {
			if w := cfg.Inputs[field]; !finite(w) || w < 0 {
				return nil, fmt.Errorf("department %s: input %s weight %v must be finite and >= 0", cfg.Name, field, w)
			}
		}
		return NewBlendDepartment(cfg.Name, cfg.Weight, cfg.Inputs, scale), nil

	case domain.KindAdditive:
		if len(cfg.Terms) == 0 {
			return nil, fmt.Errorf("department %s: additive requires terms", cfg.Name)
		}
		for i, t := range cfg.Terms {
			if !finite(t.Points) {
				return nil, fmt.Errorf("department %s term %d (%s): points %v must be finite", cfg.Name, i, t.Name, t.Points)
			}
		}
		return NewAdditiveDepartment(cfg.Name, cfg.Weight, cfg.Terms, scale)
	}
	return nil, fmt.Errorf("department %s: unknown kind %q", cfg.Name, cfg.Kind)
}

// checkTimeframeWeights requires a configured weight map to name exactly
// the timeframes of the table.
func checkTimeframeWeights(cfg domain.DepartmentConfig, timeframes []string) error {
	if len(cfg.TimeframeWeights) == 0 {
		return nil
	}
	known := make(map[string]bool, len(timeframes))
	for _, tf := range timeframes {
		known[tf] = true
		if _, ok := cfg.TimeframeWeights[tf]; !ok {
			return fmt.Errorf("department %s: timeframe %s of table %s has no weight", cfg.Name, tf, cfg.Table)
		}
	}
	for _, tf := range sortedNames(cfg.TimeframeWeights) {
		if !known[tf] {
			return fmt.Errorf("department %s: table %s has no timeframe %s", cfg.Name, cfg.Table, tf)
		}
		if w := cfg.TimeframeWeights[tf]; !finite(w) || w < 0 {
			return fmt.Errorf("department %s: timeframe %s weight %v must be finite and >= 0", cfg.Name, tf, w)
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func sortedNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Departments returns the departments in declaration order.
func (s *Set) Departments() []Department {
	return s.departments
}

// Get returns a department by name.
func (s *Set) Get(name string) (Department, bool) {
	d, ok := s.byName[name]
	return d, ok
}

// Names returns the department names in declaration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.departments))
	for i, d := range s.departments {
		names[i] = d.Name()
	}
	return names
}

// Tables returns the rule tables referenced by table departments, sorted.
func (s *Set) Tables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, d := range s.departments {
		td, ok := d.(*TableDepartment)
		if !ok || seen[td.Table()] {
			continue
		}
		seen[td.Table()] = true
		tables = append(tables, td.Table())
	}
	sort.Strings(tables)
	return tables
}

// Config returns the declaration of a department.
func (s *Set) Config(name string) (domain.DepartmentConfig, bool) {
	cfg, ok := s.configs[name]
	return cfg, ok
}

// ScoreAll scores every department against snap.
func (s *Set) ScoreAll(snap domain.Snapshot) map[string]domain.ComponentScore {
	out := make(map[string]domain.ComponentScore, len(s.departments))
	for _, d := range s.departments {
		out[d.Name()] = d.Score(snap)
	}
	return out
}
