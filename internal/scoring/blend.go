package scoring

import (
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// BlendDepartment is a closed-form weighted blend of snapshot sub-signals,
// e.g. a macro score built from index regime, VIX and sentiment inputs.
// Absent inputs are left out and the remaining weights renormalised.
type BlendDepartment struct {
	name   string
	weight float64
	inputs []blendInput
	scale  domain.ScoreScale
}

type blendInput struct {
	field  string
	weight float64
}

// NewBlendDepartment creates a blend over inputs (field -> weight).
func NewBlendDepartment(name string, weight float64, inputs map[string]float64, scale domain.ScoreScale) *BlendDepartment {
	d := &BlendDepartment{name: name, weight: weight, scale: scale}
	for field, w := range inputs {
		d.inputs = append(d.inputs, blendInput{field: field, weight: w})
	}
	sort.Slice(d.inputs, func(i, j int) bool { return d.inputs[i].field < d.inputs[j].field })
	return d
}

func (d *BlendDepartment) Name() string        { return d.name }
func (d *BlendDepartment) Kind() string        { return domain.KindBlend }
func (d *BlendDepartment) Weight() float64     { return d.weight }
func (d *BlendDepartment) RefreshOn() []string { return nil }

func (d *BlendDepartment) Fields() []string {
	fields := make([]string, len(d.inputs))
	for i, in := range d.inputs {
		fields[i] = in.field
	}
	return fields
}

// Score blends the present inputs.
func (d *BlendDepartment) Score(snap domain.Snapshot) domain.ComponentScore {
	var num, den float64
	var contributions []domain.Contribution
	for _, in := range d.inputs {
		v, ok := snap.Number(in.field)
		if !ok {
			continue
		}
		num += v * in.weight
		den += in.weight
		contributions = append(contributions, domain.Contribution{
			Name:   in.field,
			Value:  v,
			Weight: in.weight,
			Points: v * in.weight,
		})
	}
	if len(contributions) == 0 {
		return noData(d.name, d.weight, domain.ReasonNoData)
	}

	var blended float64
	reason := ""
	if den > 0 {
		blended = num / den
	} else {
		reason = domain.ReasonZeroWeight
	}
	cs := newComponentScore(d.name, blended, d.weight, d.scale)
	cs.Reason = reason
	cs.Detail = domain.ComponentDetail{Contributions: contributions, Blended: blended}
	return cs
}
