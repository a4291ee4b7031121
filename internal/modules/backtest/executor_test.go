package backtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
)

// stubTable resolves indicator lookups from a flat map keyed by
// ticker|name|fingerprint.
type stubTable map[string]float64

func (t stubTable) Value(ticker, name, fingerprint string) (float64, bool) {
	v, ok := t[ticker+"|"+name+"|"+fingerprint]
	return v, ok
}

func (t stubTable) set(ticker string, ref domain.IndicatorRef, value float64) {
	name, params := indicators.Normalize(ref)
	t[ticker+"|"+name+"|"+indicators.Fingerprint(name, params)] = value
}

func ticker(id, symbol string) *domain.Element {
	return &domain.Element{ID: id, Type: domain.ElementTicker, Symbol: symbol}
}

func weightOf(positions []domain.Position, symbol string) float64 {
	for _, p := range positions {
		if p.Ticker == symbol {
			return p.Weight
		}
	}
	return 0
}

func totalWeight(positions []domain.Position) float64 {
	sum := 0.0
	for _, p := range positions {
		sum += p.Weight
	}
	return sum
}

func TestExecuteTickerLeaf(t *testing.T) {
	res := Execute(ticker("t1", "SPY"), stubTable{})

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "SPY", res.Positions[0].Ticker)
	assert.InDelta(t, 100.0, res.Positions[0].Weight, 1e-9)
	assert.Zero(t, res.Unallocated)
}

func TestExecuteEqualWeightIgnoresStatedWeights(t *testing.T) {
	root := &domain.Element{
		ID:   "w1",
		Type: domain.ElementWeight,
		Mode: domain.WeightModeEqual,
		Children: []*domain.Element{
			{ID: "t1", Type: domain.ElementTicker, Symbol: "SPY", Weight: 90},
			{ID: "t2", Type: domain.ElementTicker, Symbol: "QQQ", Weight: 10},
		},
	}

	res := Execute(root, stubTable{})

	require.Len(t, res.Positions, 2)
	assert.InDelta(t, 50.0, weightOf(res.Positions, "SPY"), 1e-9)
	assert.InDelta(t, 50.0, weightOf(res.Positions, "QQQ"), 1e-9)
}

func TestExecuteDefinedWeightsNormalized(t *testing.T) {
	// Stated weights 60/20 do not sum to 100; shares follow their ratio.
	root := &domain.Element{
		ID:   "w1",
		Type: domain.ElementWeight,
		Mode: domain.WeightModeDefined,
		Children: []*domain.Element{
			{ID: "t1", Type: domain.ElementTicker, Symbol: "SPY", Weight: 60},
			{ID: "t2", Type: domain.ElementTicker, Symbol: "QQQ", Weight: 20},
		},
	}

	res := Execute(root, stubTable{})

	assert.InDelta(t, 75.0, weightOf(res.Positions, "SPY"), 1e-9)
	assert.InDelta(t, 25.0, weightOf(res.Positions, "QQQ"), 1e-9)
}

func TestExecuteGateEmptyElseRedistributesToSibling(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}
	gate := &domain.Element{
		ID:           "g1",
		Type:         domain.ElementGate,
		Mode:         domain.GateModeIf,
		Conditions:   []domain.Condition{{LHS: rsi, Operator: ">", RHSValue: f64(70)}},
		ThenChildren: []*domain.Element{ticker("t2", "QQQ")},
	}

	root := &domain.Element{
		ID:       "w1",
		Type:     domain.ElementWeight,
		Mode:     domain.WeightModeEqual,
		Children: []*domain.Element{ticker("t1", "SPY"), gate},
	}

	table := stubTable{}
	table.set("SPY", rsi, 30) // gate false, else branch empty

	res := Execute(root, table)

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "SPY", res.Positions[0].Ticker)
	assert.InDelta(t, 100.0, res.Positions[0].Weight, 1e-9)
	assert.Zero(t, res.Unallocated)

	require.Len(t, res.GateEvals, 1)
	assert.Equal(t, "g1", res.GateEvals[0].ElementID)
	assert.False(t, res.GateEvals[0].Result)
}

func TestExecuteNestedResidualBubblesUp(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}

	// Inner group holds only a false gate with no else branch: its whole share
	// bubbles out of the inner group and lands on the outer sibling.
	innerGate := &domain.Element{
		ID:           "g1",
		Type:         domain.ElementGate,
		Mode:         domain.GateModeIf,
		Conditions:   []domain.Condition{{LHS: rsi, Operator: ">", RHSValue: f64(70)}},
		ThenChildren: []*domain.Element{ticker("t2", "QQQ")},
	}
	inner := &domain.Element{
		ID:       "w2",
		Type:     domain.ElementWeight,
		Mode:     domain.WeightModeEqual,
		Children: []*domain.Element{innerGate},
	}
	root := &domain.Element{
		ID:       "w1",
		Type:     domain.ElementWeight,
		Mode:     domain.WeightModeEqual,
		Children: []*domain.Element{ticker("t1", "SPY"), inner},
	}

	table := stubTable{}
	table.set("SPY", rsi, 30)

	res := Execute(root, table)

	require.Len(t, res.Positions, 1)
	assert.InDelta(t, 100.0, weightOf(res.Positions, "SPY"), 1e-9)
	assert.Zero(t, res.Unallocated)
}

func TestExecuteAllBranchesEmptyReportsUnallocated(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}
	gate := &domain.Element{
		ID:           "g1",
		Type:         domain.ElementGate,
		Mode:         domain.GateModeIf,
		Conditions:   []domain.Condition{{LHS: rsi, Operator: ">", RHSValue: f64(70)}},
		ThenChildren: []*domain.Element{ticker("t1", "QQQ")},
	}

	table := stubTable{}
	table.set("SPY", rsi, 30)

	res := Execute(gate, table)

	assert.Empty(t, res.Positions)
	assert.InDelta(t, 100.0, res.Unallocated, 1e-9)
}

func TestExecuteScaleMidpointSplitsEvenly(t *testing.T) {
	vol := domain.IndicatorRef{Ticker: "SPY", Name: "VOLATILITY"}
	root := &domain.Element{
		ID:   "s1",
		Type: domain.ElementScale,
		Scale: &domain.ScaleConfig{
			Indicator: vol,
			RangeMin:  10,
			RangeMax:  30,
		},
		FromChildren: []*domain.Element{ticker("t1", "SPY")},
		ToChildren:   []*domain.Element{ticker("t2", "SHY")},
	}

	table := stubTable{}
	table.set("SPY", vol, 20) // midpoint of [10, 30]

	res := Execute(root, table)

	assert.InDelta(t, 50.0, weightOf(res.Positions, "SPY"), 1e-9)
	assert.InDelta(t, 50.0, weightOf(res.Positions, "SHY"), 1e-9)
}

func TestExecuteScaleClampsOutOfRange(t *testing.T) {
	vol := domain.IndicatorRef{Ticker: "SPY", Name: "VOLATILITY"}
	root := &domain.Element{
		ID:   "s1",
		Type: domain.ElementScale,
		Scale: &domain.ScaleConfig{
			Indicator: vol,
			RangeMin:  10,
			RangeMax:  30,
		},
		FromChildren: []*domain.Element{ticker("t1", "SPY")},
		ToChildren:   []*domain.Element{ticker("t2", "SHY")},
	}

	table := stubTable{}
	table.set("SPY", vol, 95) // way above range, clamps to fraction 1

	res := Execute(root, table)

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "SHY", res.Positions[0].Ticker)
	assert.InDelta(t, 100.0, res.Positions[0].Weight, 1e-9)
}

func TestExecuteSortSelectsTop(t *testing.T) {
	ret := domain.IndicatorRef{Ticker: "", Name: "RETURN"}
	root := &domain.Element{
		ID:   "sort1",
		Type: domain.ElementSort,
		Sort: &domain.SortConfig{Indicator: ret, Direction: domain.SortTop, Count: 1},
		Children: []*domain.Element{
			ticker("c1", "SPY"),
			ticker("c2", "QQQ"),
		},
	}

	table := stubTable{}
	table.set(domain.SyntheticTicker("sort1", "c1"), ret, 0.02)
	table.set(domain.SyntheticTicker("sort1", "c2"), ret, 0.05)

	res := Execute(root, table)

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "QQQ", res.Positions[0].Ticker)
	assert.InDelta(t, 100.0, res.Positions[0].Weight, 1e-9)
}

func TestExecuteSortTiedScoresShareSelection(t *testing.T) {
	ret := domain.IndicatorRef{Ticker: "", Name: "RETURN"}
	root := &domain.Element{
		ID:   "sort1",
		Type: domain.ElementSort,
		Sort: &domain.SortConfig{Indicator: ret, Direction: domain.SortTop, Count: 1},
		Children: []*domain.Element{
			ticker("c1", "SPY"),
			ticker("c2", "QQQ"),
			ticker("c3", "IWM"),
		},
	}

	table := stubTable{}
	table.set(domain.SyntheticTicker("sort1", "c1"), ret, 0.05)
	table.set(domain.SyntheticTicker("sort1", "c2"), ret, 0.05)
	table.set(domain.SyntheticTicker("sort1", "c3"), ret, 0.01)

	res := Execute(root, table)

	// Both tied leaders enter as one group and split the full weight.
	require.Len(t, res.Positions, 2)
	assert.InDelta(t, 50.0, weightOf(res.Positions, "SPY"), 1e-9)
	assert.InDelta(t, 50.0, weightOf(res.Positions, "QQQ"), 1e-9)
	assert.Zero(t, weightOf(res.Positions, "IWM"))
}

func TestExecuteSortMissingChildSkipped(t *testing.T) {
	ret := domain.IndicatorRef{Ticker: "", Name: "RETURN"}
	root := &domain.Element{
		ID:   "sort1",
		Type: domain.ElementSort,
		Sort: &domain.SortConfig{Indicator: ret, Direction: domain.SortTop, Count: 2},
		Children: []*domain.Element{
			ticker("c1", "SPY"),
			ticker("c2", "QQQ"),
		},
	}

	table := stubTable{}
	table.set(domain.SyntheticTicker("sort1", "c1"), ret, 0.02)
	// c2 has no synthetic value at this date

	res := Execute(root, table)

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "SPY", res.Positions[0].Ticker)
	assert.InDelta(t, 100.0, res.Positions[0].Weight, 1e-9)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.KindMissingIndicator, res.Errors[0].Kind)
}

func TestExecuteMissingGateIndicatorCostsOnlyThatBranch(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "TLT", Name: "RSI"}
	gate := &domain.Element{
		ID:           "g1",
		Type:         domain.ElementGate,
		Mode:         domain.GateModeIf,
		Conditions:   []domain.Condition{{LHS: rsi, Operator: ">", RHSValue: f64(50)}},
		ThenChildren: []*domain.Element{ticker("t2", "TLT")},
	}
	root := &domain.Element{
		ID:       "w1",
		Type:     domain.ElementWeight,
		Mode:     domain.WeightModeEqual,
		Children: []*domain.Element{ticker("t1", "SPY"), gate},
	}

	res := Execute(root, stubTable{})

	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.KindMissingIndicator, res.Errors[0].Kind)
	assert.Equal(t, "g1", res.Errors[0].ElementID)

	// SPY absorbs the gate's share.
	require.Len(t, res.Positions, 1)
	assert.InDelta(t, 100.0, weightOf(res.Positions, "SPY"), 1e-9)
}

func TestExecuteGateModes(t *testing.T) {
	a := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}
	b := domain.IndicatorRef{Ticker: "QQQ", Name: "RSI"}

	table := stubTable{}
	table.set("SPY", a, 80) // a > 70 true
	table.set("QQQ", b, 30) // b > 70 false

	cases := []struct {
		mode string
		want bool
	}{
		{domain.GateModeIf, true},      // first condition only
		{domain.GateModeIfAll, false},  // true AND false
		{domain.GateModeIfAny, true},   // true OR false
		{domain.GateModeIfNone, false}, // NOT (true OR false)
	}

	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			gate := &domain.Element{
				ID:   "g1",
				Type: domain.ElementGate,
				Mode: tc.mode,
				Conditions: []domain.Condition{
					{LHS: a, Operator: ">", RHSValue: f64(70)},
					{LHS: b, Operator: ">", RHSValue: f64(70)},
				},
				ThenChildren: []*domain.Element{ticker("t1", "SPY")},
				ElseChildren: []*domain.Element{ticker("t2", "SHY")},
			}

			res := Execute(gate, table)

			require.Len(t, res.GateEvals, 1)
			assert.Equal(t, tc.want, res.GateEvals[0].Result)
		})
	}
}

func TestExecuteConditionAgainstIndicatorRHS(t *testing.T) {
	fast := domain.IndicatorRef{Ticker: "SPY", Name: "SMA", Params: map[string]int{"period": 50}}
	slow := domain.IndicatorRef{Ticker: "SPY", Name: "SMA", Params: map[string]int{"period": 200}}

	gate := &domain.Element{
		ID:           "g1",
		Type:         domain.ElementGate,
		Mode:         domain.GateModeIf,
		Conditions:   []domain.Condition{{LHS: fast, Operator: ">", RHSIndicator: &slow}},
		ThenChildren: []*domain.Element{ticker("t1", "SPY")},
		ElseChildren: []*domain.Element{ticker("t2", "SHY")},
	}

	table := stubTable{}
	table.set("SPY", fast, 450)
	table.set("SPY", slow, 430)

	res := Execute(gate, table)

	require.Len(t, res.Positions, 1)
	assert.Equal(t, "SPY", res.Positions[0].Ticker)
}

func TestExecuteWeightConservation(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}
	vol := domain.IndicatorRef{Ticker: "SPY", Name: "VOLATILITY"}

	root := &domain.Element{
		ID:   "w1",
		Type: domain.ElementWeight,
		Mode: domain.WeightModeDefined,
		Children: []*domain.Element{
			{ID: "t1", Type: domain.ElementTicker, Symbol: "SPY", Weight: 40},
			{
				ID:     "g1",
				Type:   domain.ElementGate,
				Weight: 30,
				Mode:   domain.GateModeIf,
				Conditions: []domain.Condition{
					{LHS: rsi, Operator: "<", RHSValue: f64(30)},
				},
				ThenChildren: []*domain.Element{ticker("t2", "QQQ")},
				ElseChildren: []*domain.Element{ticker("t3", "SHY")},
			},
			{
				ID:     "s1",
				Type:   domain.ElementScale,
				Weight: 30,
				Scale:  &domain.ScaleConfig{Indicator: vol, RangeMin: 0, RangeMax: 40},
				FromChildren: []*domain.Element{
					ticker("t4", "IWM"),
				},
				ToChildren: []*domain.Element{
					ticker("t5", "GLD"),
				},
			},
		},
	}

	table := stubTable{}
	table.set("SPY", rsi, 55)
	table.set("SPY", vol, 12)

	res := Execute(root, table)

	assert.InDelta(t, 100.0, totalWeight(res.Positions), 1e-9)
	assert.Zero(t, res.Unallocated)
}

func TestExecuteIsDeterministic(t *testing.T) {
	rsi := domain.IndicatorRef{Ticker: "SPY", Name: "RSI"}
	root := &domain.Element{
		ID:   "w1",
		Type: domain.ElementWeight,
		Mode: domain.WeightModeEqual,
		Children: []*domain.Element{
			ticker("t1", "SPY"),
			ticker("t2", "QQQ"),
			{
				ID:           "g1",
				Type:         domain.ElementGate,
				Mode:         domain.GateModeIf,
				Conditions:   []domain.Condition{{LHS: rsi, Operator: ">", RHSValue: f64(50)}},
				ThenChildren: []*domain.Element{ticker("t3", "IWM")},
				ElseChildren: []*domain.Element{ticker("t4", "SHY")},
			},
		},
	}

	table := stubTable{}
	table.set("SPY", rsi, 61)

	first := Execute(root, table)
	for i := 0; i < 10; i++ {
		again := Execute(root, table)
		assert.Equal(t, first.Positions, again.Positions)
		assert.Equal(t, first.Path, again.Path)
	}
}

func f64(v float64) *float64 { return &v }
