package scoring

import (
	"fmt"
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/expr"
)

// AdditiveDepartment sums the points of every term whose condition holds,
// e.g. company events such as earnings surprises, dilution or buybacks.
type AdditiveDepartment struct {
	name   string
	weight float64
	terms  []additiveTerm
	fields []string
	scale  domain.ScoreScale
}

type additiveTerm struct {
	name      string
	condition expr.Condition
	points    float64
}

// NewAdditiveDepartment compiles the term conditions.
func NewAdditiveDepartment(name string, weight float64, terms []domain.AdditiveTerm, scale domain.ScoreScale) (*AdditiveDepartment, error) {
	d := &AdditiveDepartment{name: name, weight: weight, scale: scale}
	seen := make(map[string]struct{})
	for i, t := range terms {
		cond, err := expr.Compile(t.Condition)
		if err != nil {
			return nil, fmt.Errorf("department %s term %d (%s): %w", name, i, t.Name, err)
		}
		termName := t.Name
		if termName == "" {
			termName = fmt.Sprintf("term_%d", i)
		}
		d.terms = append(d.terms, additiveTerm{name: termName, condition: cond, points: t.Points})
		for _, id := range cond.Identifiers() {
			seen[id] = struct{}{}
		}
	}
	for f := range seen {
		d.fields = append(d.fields, f)
	}
	sort.Strings(d.fields)
	return d, nil
}

func (d *AdditiveDepartment) Name() string        { return d.name }
func (d *AdditiveDepartment) Kind() string        { return domain.KindAdditive }
func (d *AdditiveDepartment) Weight() float64     { return d.weight }
func (d *AdditiveDepartment) Fields() []string    { return d.fields }
func (d *AdditiveDepartment) RefreshOn() []string { return nil }

// Score adds up matching terms in declaration order.
func (d *AdditiveDepartment) Score(snap domain.Snapshot) domain.ComponentScore {
	if !snap.HasAny(d.fields) {
		return noData(d.name, d.weight, domain.ReasonNoData)
	}

	var sum float64
	var contributions []domain.Contribution
	matched := []string{}
	for _, t := range d.terms {
		if !t.condition.Match(snap) {
			continue
		}
		sum += t.points
		matched = append(matched, t.name)
		contributions = append(contributions, domain.Contribution{Name: t.name, Weight: 1, Points: t.points})
	}

	cs := newComponentScore(d.name, sum, d.weight, d.scale)
	cs.MatchedStates = matched
	cs.Detail = domain.ComponentDetail{Contributions: contributions, Blended: sum}
	if len(matched) == 0 {
		cs.Reason = domain.ReasonNoMatch
	}
	return cs
}
