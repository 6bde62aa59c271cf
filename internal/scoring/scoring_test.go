package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/master"
	"github.com/opensource-finance/heron/internal/rules"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func state(cond string, low, high float64) domain.State {
	return domain.State{Condition: cond, ScoreRange: domain.ScoreRange{Low: low, High: high}}
}

func oneTimeframe(tf string, states map[string]domain.State) map[string]domain.Timeframe {
	return map[string]domain.Timeframe{tf: {States: states}}
}

func aggregatorTable() *domain.RuleTable {
	return &domain.RuleTable{
		Name: "agg",
		Meta: domain.RuleTableMeta{
			ScoreScale: domain.ScoreScale{Min: -10, Max: 10},
			Groups: map[string]domain.Group{
				"A": {BaseWeight: 1.0},
				"B": {BaseWeight: 2.0},
			},
		},
		Metrics: map[string]domain.Metric{
			"m1": {Group: "A", Weight: 1.0, Timeframes: oneTimeframe("MINOR", map[string]domain.State{"S1": state("x > 0", 4, 6)})},
			"m2": {Group: "B", Weight: 0.5, Timeframes: oneTimeframe("MINOR", map[string]domain.State{"S2": state("y > 0", -2, 0)})},
			"m3": {Group: "A", Weight: 1.0, Timeframes: oneTimeframe("MINOR", map[string]domain.State{"S3": state("z > 0", 8, 10)})},
		},
	}
}

func mustCompile(t *testing.T, table *domain.RuleTable) *rules.CompiledTable {
	t.Helper()
	ct, err := rules.Compile(table, rules.CompileOptions{Strict: true})
	if err != nil {
		t.Fatalf("compile %s: %v", table.Name, err)
	}
	return ct
}

func TestScoreTimeframeWeightedMean(t *testing.T) {
	ct := mustCompile(t, aggregatorTable())
	snap := domain.Snapshot{"x": 1, "y": 1, "z": -1}

	ts := ScoreTimeframe(ct, "MINOR", snap)
	// (5*1*1 + -1*0.5*2) / (1*1 + 0.5*2) = 4 / 2
	if !approx(ts.Score, 2.0) {
		t.Errorf("Score = %v, want 2.0", ts.Score)
	}
	if len(ts.Metrics) != 2 {
		t.Errorf("expected 2 contributing metrics, got %d", len(ts.Metrics))
	}
	if ts.Reason != "" {
		t.Errorf("unexpected reason %q", ts.Reason)
	}
}

func TestNonMatchingMetricDoesNotChangeScore(t *testing.T) {
	snap := domain.Snapshot{"x": 1, "y": 1, "z": -1}
	with := ScoreTimeframe(mustCompile(t, aggregatorTable()), "MINOR", snap)

	table := aggregatorTable()
	delete(table.Metrics, "m3")
	without := ScoreTimeframe(mustCompile(t, table), "MINOR", snap)

	if !approx(with.Score, without.Score) {
		t.Errorf("removing a non-matching metric changed the score: %v vs %v", with.Score, without.Score)
	}
}

func TestScoreTimeframeNoMatch(t *testing.T) {
	ct := mustCompile(t, aggregatorTable())
	ts := ScoreTimeframe(ct, "MINOR", domain.Snapshot{"x": -1, "y": -1, "z": -1})
	if ts.Score != 0 || ts.Reason != domain.ReasonNoMatch {
		t.Errorf("got (%v, %q), want (0, %q)", ts.Score, ts.Reason, domain.ReasonNoMatch)
	}
}

func TestScoreTimeframeZeroWeight(t *testing.T) {
	table := aggregatorTable()
	table.Meta.Groups["A"] = domain.Group{BaseWeight: 0}
	ct := mustCompile(t, table)
	ts := ScoreTimeframe(ct, "MINOR", domain.Snapshot{"x": 1, "y": -1, "z": -1})
	if ts.Score != 0 || ts.Reason != domain.ReasonZeroWeight {
		t.Errorf("got (%v, %q), want (0, %q)", ts.Score, ts.Reason, domain.ReasonZeroWeight)
	}
}

func TestBlendTimeframes(t *testing.T) {
	weights := map[string]float64{"MINOR": 0.6, "MAJOR": 0.4}
	tests := []struct {
		name    string
		scores  []domain.TimeframeScore
		weights map[string]float64
		want    float64
	}{
		{"both non-zero", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 5}, {Timeframe: "MAJOR", Score: -2.5}}, weights, 2.0},
		{"only minor", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 5}, {Timeframe: "MAJOR", Score: 0}}, weights, 5},
		{"only major", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 0}, {Timeframe: "MAJOR", Score: -3}}, weights, -3},
		{"none", []domain.TimeframeScore{{Timeframe: "MINOR"}, {Timeframe: "MAJOR"}}, weights, 0},
		{"no weights is a mean", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 4}, {Timeframe: "MAJOR", Score: 2}}, nil, 3},
		{"70/30 favouring major", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 2}, {Timeframe: "MAJOR", Score: 6}}, map[string]float64{"MINOR": 0.3, "MAJOR": 0.7}, 4.8},
		{"single timeframe", []domain.TimeframeScore{{Timeframe: "LIVE", Score: -4}}, nil, -4},
		{"partial weights are equal weights", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 4}, {Timeframe: "MAJOR", Score: -8}}, map[string]float64{"MINOR": 0.6}, -2},
		{"unmatched keys are equal weights", []domain.TimeframeScore{{Timeframe: "MINOR", Score: 4}, {Timeframe: "MAJOR", Score: -8}}, map[string]float64{"minor": 0.6, "major": 0.4}, -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BlendTimeframes(tt.scores, tt.weights); !approx(got, tt.want) {
				t.Errorf("BlendTimeframes = %v, want %v", got, tt.want)
			}
		})
	}
}

func registryWith(t *testing.T, tables ...*domain.RuleTable) *rules.Registry {
	t.Helper()
	reg := rules.NewRegistry(rules.CompileOptions{Strict: true})
	if err := reg.Reload(tables); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return reg
}

func scopedTable() *domain.RuleTable {
	return &domain.RuleTable{
		Name: "tech",
		Meta: domain.RuleTableMeta{Groups: map[string]domain.Group{"MOMENTUM": {BaseWeight: 1}}},
		Metrics: map[string]domain.Metric{
			"rsi": {Group: "MOMENTUM", Weight: 1, Timeframes: map[string]domain.Timeframe{
				"MINOR": {States: map[string]domain.State{"OVERSOLD": state("rsi < 30", 4, 6)}},
				"MAJOR": {States: map[string]domain.State{"OVERBOUGHT": state("rsi > 70", -6, -4)}},
			}},
		},
	}
}

func TestTableDepartmentScopedTimeframes(t *testing.T) {
	reg := registryWith(t, scopedTable())
	d := NewTableDepartment("technical", "tech", 0.26, map[string]float64{"MINOR": 0.6, "MAJOR": 0.4}, reg)

	cs := d.Score(domain.Snapshot{"minor.rsi": 25, "major.rsi": 75})
	if cs.NoData {
		t.Fatalf("unexpected no data: %s", cs.Reason)
	}
	// 0.6*5 + 0.4*-5
	if !approx(cs.RawScore, 1.0) {
		t.Errorf("RawScore = %v, want 1.0", cs.RawScore)
	}
	if !approx(cs.WeightedScore, 0.26) {
		t.Errorf("WeightedScore = %v, want 0.26", cs.WeightedScore)
	}
	if len(cs.MatchedStates) != 2 {
		t.Errorf("MatchedStates = %v", cs.MatchedStates)
	}
	if len(cs.Detail.Timeframes) != 2 {
		t.Errorf("expected detail for 2 timeframes, got %d", len(cs.Detail.Timeframes))
	}
}

func TestTableDepartmentUnscopedFallsBack(t *testing.T) {
	reg := registryWith(t, scopedTable())
	d := NewTableDepartment("technical", "tech", 1, map[string]float64{"MINOR": 0.6, "MAJOR": 0.4}, reg)

	cs := d.Score(domain.Snapshot{"rsi": 20})
	if !approx(cs.RawScore, 5.0) {
		t.Errorf("RawScore = %v, want 5.0 from MINOR only", cs.RawScore)
	}
}

func TestTableDepartmentClampsToScale(t *testing.T) {
	table := scopedTable()
	table.Metrics["rsi"].Timeframes["MINOR"].States["OVERSOLD"] = state("rsi < 30", 12, 14)
	reg := registryWith(t, table)
	d := NewTableDepartment("technical", "tech", 0.5, nil, reg)

	cs := d.Score(domain.Snapshot{"rsi": 10})
	if cs.RawScore != 10 {
		t.Errorf("RawScore = %v, want clamp to 10", cs.RawScore)
	}
	if cs.WeightedScore != 5 {
		t.Errorf("WeightedScore = %v, want 5", cs.WeightedScore)
	}
}

func TestTableDepartmentNoData(t *testing.T) {
	reg := registryWith(t, scopedTable())
	d := NewTableDepartment("technical", "tech", 0.26, nil, reg)

	for name, snap := range map[string]domain.Snapshot{
		"empty":      {},
		"unrelated":  {"volume": 100},
		"only nulls": {"rsi": nil},
	} {
		t.Run(name, func(t *testing.T) {
			cs := d.Score(snap)
			if !cs.NoData || cs.Reason != domain.ReasonNoData {
				t.Errorf("expected no data, got %+v", cs)
			}
			if cs.RawScore != 0 || cs.WeightedScore != 0 {
				t.Errorf("no-data score must be zero, got %v", cs.RawScore)
			}
		})
	}
}

func TestTableDepartmentNoMatch(t *testing.T) {
	reg := registryWith(t, scopedTable())
	d := NewTableDepartment("technical", "tech", 0.26, nil, reg)

	cs := d.Score(domain.Snapshot{"rsi": 50})
	if cs.NoData {
		t.Error("data was present")
	}
	if cs.RawScore != 0 || cs.Reason != domain.ReasonNoMatch {
		t.Errorf("got (%v, %q), want (0, %q)", cs.RawScore, cs.Reason, domain.ReasonNoMatch)
	}
}

func TestTableDepartmentMissingTable(t *testing.T) {
	d := NewTableDepartment("technical", "missing", 0.26, nil, rules.NewRegistry(rules.CompileOptions{}))
	cs := d.Score(domain.Snapshot{"rsi": 10})
	if !cs.NoData {
		t.Error("expected no data for unloaded table")
	}
}

func TestTableDepartmentIdempotent(t *testing.T) {
	reg := registryWith(t, scopedTable())
	d := NewTableDepartment("technical", "tech", 0.26, map[string]float64{"MINOR": 0.6, "MAJOR": 0.4}, reg)
	snap := domain.Snapshot{"minor.rsi": 25, "major.rsi": 75}

	a, b := d.Score(snap), d.Score(snap)
	if a.RawScore != b.RawScore || a.WeightedScore != b.WeightedScore || len(a.MatchedStates) != len(b.MatchedStates) {
		t.Errorf("scores differ: %+v vs %+v", a, b)
	}
	for i := range a.MatchedStates {
		if a.MatchedStates[i] != b.MatchedStates[i] {
			t.Errorf("matched states differ at %d", i)
		}
	}
}

func TestBlendDepartment(t *testing.T) {
	macro := NewBlendDepartment("macro", 0.14, map[string]float64{
		"spy_daily_regime_score":    0.35,
		"spy_intraday_regime_score": 0.25,
		"vix_score":                 0.20,
		"fear_greed_score":          0.10,
		"macro_news_score":          0.10,
	}, domain.DefaultScoreScale)

	t.Run("all inputs", func(t *testing.T) {
		cs := macro.Score(domain.Snapshot{
			"spy_daily_regime_score":    5,
			"spy_intraday_regime_score": 5,
			"vix_score":                 5,
			"fear_greed_score":          5,
			"macro_news_score":          5,
		})
		if !approx(cs.RawScore, 5) {
			t.Errorf("RawScore = %v, want 5", cs.RawScore)
		}
		if len(cs.Detail.Contributions) != 5 {
			t.Errorf("expected 5 contributions, got %d", len(cs.Detail.Contributions))
		}
	})

	t.Run("missing inputs renormalise", func(t *testing.T) {
		cs := macro.Score(domain.Snapshot{"spy_daily_regime_score": 4, "vix_score": -2.0, "fear_greed_score": nil})
		want := (4*0.35 - 2*0.20) / (0.35 + 0.20)
		if !approx(cs.RawScore, want) {
			t.Errorf("RawScore = %v, want %v", cs.RawScore, want)
		}
	})

	t.Run("no inputs", func(t *testing.T) {
		cs := macro.Score(domain.Snapshot{"rsi": 30})
		if !cs.NoData {
			t.Error("expected no data")
		}
	})

	t.Run("clamped", func(t *testing.T) {
		cs := macro.Score(domain.Snapshot{"vix_score": -25})
		if cs.RawScore != -10 {
			t.Errorf("RawScore = %v, want -10", cs.RawScore)
		}
	})
}

func TestNonFiniteInputsAreAbsent(t *testing.T) {
	blend := NewBlendDepartment("macro", 0.5, map[string]float64{"a": 0.5, "b": 0.5}, domain.DefaultScoreScale)
	additive, err := NewAdditiveDepartment("micro", 0.5, []domain.AdditiveTerm{
		{Name: "HIGH", Condition: "a > 1", Points: 4},
		{Name: "LOW", Condition: "a < 1", Points: -4},
	}, domain.DefaultScoreScale)
	if err != nil {
		t.Fatalf("NewAdditiveDepartment: %v", err)
	}

	t.Run("blend skips NaN input", func(t *testing.T) {
		cs := blend.Score(domain.Snapshot{"a": math.NaN(), "b": 3.0})
		if cs.NoData || !approx(cs.RawScore, 3) || !approx(cs.WeightedScore, 1.5) {
			t.Errorf("got raw=%v weighted=%v nodata=%v", cs.RawScore, cs.WeightedScore, cs.NoData)
		}
		if len(cs.Detail.Contributions) != 1 {
			t.Errorf("expected 1 contribution, got %d", len(cs.Detail.Contributions))
		}
	})

	t.Run("blend of only non-finite inputs has no data", func(t *testing.T) {
		cs := blend.Score(domain.Snapshot{"a": math.NaN(), "b": math.Inf(-1)})
		if !cs.NoData || cs.RawScore != 0 {
			t.Errorf("got %+v", cs)
		}
	})

	t.Run("additive with only NaN input has no data", func(t *testing.T) {
		cs := additive.Score(domain.Snapshot{"a": math.NaN()})
		if !cs.NoData || cs.RawScore != 0 {
			t.Errorf("got %+v", cs)
		}
	})

	t.Run("additive with infinite input stays in scale", func(t *testing.T) {
		cs := additive.Score(domain.Snapshot{"a": math.Inf(1), "b": 1})
		if math.IsNaN(cs.RawScore) || cs.RawScore < -10 || cs.RawScore > 10 {
			t.Errorf("RawScore = %v out of scale", cs.RawScore)
		}
	})

	t.Run("master stays finite", func(t *testing.T) {
		result := master.NewEngine(2, 0, nil).Score("AAPL", map[string]domain.ComponentScore{
			"macro": blend.Score(domain.Snapshot{"a": math.NaN(), "b": 6.0}),
			"micro": additive.Score(domain.Snapshot{"a": math.NaN()}),
		})
		if math.IsNaN(result.MasterScore) || !approx(result.MasterScore, 3) {
			t.Errorf("MasterScore = %v, want 3", result.MasterScore)
		}
		if result.Direction != domain.DirectionLong {
			t.Errorf("Direction = %s, want LONG", result.Direction)
		}
	})
}

func microTerms() []domain.AdditiveTerm {
	return []domain.AdditiveTerm{
		{Name: "EARNINGS_BIG_BEAT", Condition: "earnings_surprise_pct > 5", Points: 5},
		{Name: "DILUTION", Condition: "dilution is True", Points: -7},
		{Name: "BUYBACK", Condition: "buyback is True", Points: 4},
		{Name: "MA_TARGET", Condition: "ma_role == 'TARGET'", Points: 7},
	}
}

func TestAdditiveDepartment(t *testing.T) {
	micro, err := NewAdditiveDepartment("micro_company", 0.12, microTerms(), domain.DefaultScoreScale)
	if err != nil {
		t.Fatalf("NewAdditiveDepartment: %v", err)
	}

	t.Run("sums matching terms", func(t *testing.T) {
		cs := micro.Score(domain.Snapshot{"earnings_surprise_pct": 6.2, "dilution": true, "buyback": true})
		if !approx(cs.RawScore, 2) {
			t.Errorf("RawScore = %v, want 2", cs.RawScore)
		}
		if len(cs.MatchedStates) != 3 {
			t.Errorf("MatchedStates = %v", cs.MatchedStates)
		}
	})

	t.Run("clamps", func(t *testing.T) {
		cs := micro.Score(domain.Snapshot{"earnings_surprise_pct": 9, "ma_role": "TARGET"})
		if cs.RawScore != 10 {
			t.Errorf("RawScore = %v, want 10", cs.RawScore)
		}
		if !approx(cs.WeightedScore, 1.2) {
			t.Errorf("WeightedScore = %v, want 1.2", cs.WeightedScore)
		}
	})

	t.Run("no data", func(t *testing.T) {
		if cs := micro.Score(domain.Snapshot{"rsi": 1}); !cs.NoData {
			t.Error("expected no data")
		}
	})

	t.Run("data without events", func(t *testing.T) {
		cs := micro.Score(domain.Snapshot{"dilution": false})
		if cs.NoData || cs.RawScore != 0 || cs.Reason != domain.ReasonNoMatch {
			t.Errorf("got %+v", cs)
		}
	})
}

func TestAdditiveDepartmentRejectsBadCondition(t *testing.T) {
	_, err := NewAdditiveDepartment("micro_company", 0.12, []domain.AdditiveTerm{{Name: "X", Condition: "eval('1')", Points: 1}}, domain.DefaultScoreScale)
	if err == nil {
		t.Error("expected compile error")
	}
}
