// Package scoring turns snapshots into department scores.
package scoring

import (
	"math"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/rules"
)

// blendEpsilon is the magnitude below which a timeframe score counts as zero.
const blendEpsilon = 1e-6

// ScoreTimeframe aggregates every metric of table for one timeframe.
// Metrics with no matching state are left out of both sums.
func ScoreTimeframe(table *rules.CompiledTable, timeframe string, snap domain.Snapshot) domain.TimeframeScore {
	ts := domain.TimeframeScore{Timeframe: timeframe}
	view := snap.Scoped(timeframe)

	var num, den float64
	for _, m := range table.Metrics {
		if _, ok := m.Timeframes[timeframe]; !ok {
			continue
		}
		res := m.Match(timeframe, view)
		score, ok := res.Score()
		if !ok {
			continue
		}
		w := m.EffectiveWeight()
		num += score * w
		den += w
		ts.Metrics = append(ts.Metrics, domain.MetricScore{
			Metric:  m.Name,
			Group:   m.Group,
			Score:   score,
			Weight:  w,
			Matches: res.Matches,
		})
	}

	switch {
	case len(ts.Metrics) == 0:
		ts.Reason = domain.ReasonNoMatch
	case den == 0:
		ts.Reason = domain.ReasonZeroWeight
	default:
		ts.Score = num / den
	}
	return ts
}

// BlendTimeframes combines timeframe scores with the configured weights.
// Only non-zero timeframes take part. A single one is used as is; several
// are blended with their weights renormalised. When any participant has no
// configured weight, or the weights sum to zero, they are weighted equally.
func BlendTimeframes(scores []domain.TimeframeScore, weights map[string]float64) float64 {
	var active []domain.TimeframeScore
	for _, s := range scores {
		if math.Abs(s.Score) > blendEpsilon {
			active = append(active, s)
		}
	}
	switch len(active) {
	case 0:
		return 0
	case 1:
		return active[0].Score
	}

	var num, den, sum float64
	weighted := true
	for _, s := range active {
		w, ok := weights[s.Timeframe]
		if !ok {
			weighted = false
		}
		num += s.Score * w
		den += w
		sum += s.Score
	}
	if !weighted || den <= 0 {
		return sum / float64(len(active))
	}
	return num / den
}

// newComponentScore clamps raw and applies the department weight.
func newComponentScore(name string, raw, weight float64, scale domain.ScoreScale) domain.ComponentScore {
	clamped := scale.Clamp(raw)
	return domain.ComponentScore{
		Department:    name,
		RawScore:      clamped,
		Weight:        weight,
		WeightedScore: clamped * weight,
		MatchedStates: []string{},
	}
}

// noData is the score of a department whose inputs are all absent.
func noData(name string, weight float64, reason string) domain.ComponentScore {
	return domain.ComponentScore{
		Department:    name,
		Weight:        weight,
		MatchedStates: []string{},
		NoData:        true,
		Reason:        reason,
	}
}
