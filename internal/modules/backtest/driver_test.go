package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
	"github.com/aristath/hindsight/internal/modules/marketdata"
)

// rampSource serves linearly increasing closes for every requested symbol,
// over a fixed span of consecutive calendar days.
type rampSource struct {
	start string
	days  int
	slope float64
	flat  bool
}

func (s *rampSource) GetDailyBars(ctx context.Context, symbols []string, start, end string) (map[string][]domain.Bar, error) {
	out := make(map[string][]domain.Bar, len(symbols))
	for _, sym := range symbols {
		bars := make([]domain.Bar, s.days)
		for i := 0; i < s.days; i++ {
			px := 100.0
			if !s.flat {
				px += float64(i) * s.slope
			}
			d := domain.AddDays(s.start, i)
			bars[i] = domain.Bar{Date: d, Open: px, High: px + 1, Low: px - 1, Close: px, Volume: 1000}
		}
		out[sym] = bars
	}
	return out, nil
}

// constEngine returns the same value for every warmed-up index.
type constEngine struct {
	value  float64
	warmup int
}

func (e *constEngine) Compute(ctx context.Context, name string, params map[string]int, in indicators.SeriesInput) ([]float64, error) {
	out := make([]float64, len(in.Close))
	for i := range out {
		if i < e.warmup {
			out[i] = math.NaN()
		} else {
			out[i] = e.value
		}
	}
	return out, nil
}

func newTestDriver(source marketdata.BarSource, engine indicators.Engine) *Driver {
	store := cache.NewMemoryStore()
	log := zerolog.Nop()
	fetcher := marketdata.NewFetcher(store, source, log)
	computer := indicators.NewComputer(store, engine, log)
	sorts := NewSortRuntime(computer, log)
	return NewDriver(fetcher, computer, sorts, log)
}

func TestDriverBuyAndHoldTracksBenchmark(t *testing.T) {
	source := &rampSource{start: "2024-01-01", days: 90, slope: 0.5}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  ticker("t1", "SPY"),
		StartDate: "max",
		EndDate:   "2024-03-30",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, result.ID)
	require.GreaterOrEqual(t, len(result.Dates), 2)
	assert.Equal(t, 1.0, result.EquityCurve[0])

	// A 100% SPY strategy is the benchmark, day for day.
	require.Equal(t, len(result.EquityCurve), len(result.Benchmark.EquityCurve))
	for i := range result.EquityCurve {
		assert.InDelta(t, result.Benchmark.EquityCurve[i], result.EquityCurve[i], 1e-9)
	}

	// Equity compounds close to close: final equity is the close ratio over
	// the simulated window.
	firstDate, lastDate := result.Dates[0], result.Dates[len(result.Dates)-1]
	prices, err := d.fetcher.Fetch(context.Background(), []string{"SPY"}, firstDate, lastDate)
	require.NoError(t, err)
	first, ok := prices.Close("SPY", firstDate)
	require.True(t, ok)
	last, ok := prices.Close("SPY", lastDate)
	require.True(t, ok)
	assert.InDelta(t, last/first, result.EquityCurve[len(result.EquityCurve)-1], 1e-9)
	assert.InDelta(t, last/first-1, result.Metrics.TotalReturn, 1e-9)

	// One positions record per executed day, all in SPY.
	require.Len(t, result.DailyPositions, len(result.Dates)-1)
	assert.InDelta(t, 100.0, result.DailyPositions[0].Positions["SPY"], 1e-9)
}

func TestDriverPositiveMetrics(t *testing.T) {
	source := &rampSource{start: "2024-01-01", days: 120, slope: 0.4}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  ticker("t1", "SPY"),
		StartDate: "max",
		EndDate:   "2024-04-29",
	})
	require.NoError(t, err)

	assert.Greater(t, result.Metrics.TotalReturn, 0.0)
	assert.Greater(t, result.Metrics.CAGR, 0.0)
	assert.GreaterOrEqual(t, result.Metrics.MaxDrawdown, 0.0)
	// A monotone ramp never draws down.
	assert.InDelta(t, 0.0, result.Metrics.MaxDrawdown, 1e-9)
}

func TestDriverAdjustsEarlyStartDate(t *testing.T) {
	gate := &domain.Element{
		ID:   "g1",
		Type: domain.ElementGate,
		Mode: domain.GateModeIf,
		Conditions: []domain.Condition{
			{LHS: sma("SPY", 5), Operator: ">", RHSValue: f64(0)},
		},
		ThenChildren: []*domain.Element{ticker("t1", "SPY")},
		ElseChildren: []*domain.Element{ticker("t2", "QQQ")},
	}

	source := &rampSource{start: "2024-01-01", days: 120, slope: 0.4}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  gate,
		StartDate: "2024-01-02", // inside the warmup window
		EndDate:   "2024-04-29",
	})
	require.NoError(t, err)

	require.NotNil(t, result.StartDateAdjustment)
	assert.Equal(t, "2024-01-02", result.StartDateAdjustment.RequestedStart)
	assert.Greater(t, result.StartDateAdjustment.AdjustedStart, result.StartDateAdjustment.RequestedStart)
	assert.Equal(t, result.Dates[0], result.StartDateAdjustment.AdjustedStart)
	assert.Contains(t, result.StartDateAdjustment.Reason, "g1")
}

func TestDriverHonorsLateStartDate(t *testing.T) {
	source := &rampSource{start: "2024-01-01", days: 120, slope: 0.4}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  ticker("t1", "SPY"),
		StartDate: "2024-03-01",
		EndDate:   "2024-04-29",
	})
	require.NoError(t, err)

	assert.Nil(t, result.StartDateAdjustment)
	assert.Equal(t, "2024-03-01", result.Dates[0])
}

func TestDriverInvalidStrategy(t *testing.T) {
	d := newTestDriver(&rampSource{start: "2024-01-01", days: 30}, &constEngine{value: 1})

	_, err := d.Run(context.Background(), Request{
		Elements: &domain.Element{ID: "t1", Type: domain.ElementTicker}, // no symbol
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidStrategy, domain.KindOf(err))
}

func TestDriverInsufficientWindow(t *testing.T) {
	// Warmup consumes nearly the whole history; fewer than two tradable days
	// remain.
	gate := &domain.Element{
		ID:   "g1",
		Type: domain.ElementGate,
		Mode: domain.GateModeIf,
		Conditions: []domain.Condition{
			{LHS: sma("SPY", 200), Operator: ">", RHSValue: f64(0)},
		},
		ThenChildren: []*domain.Element{ticker("t1", "SPY")},
		ElseChildren: []*domain.Element{ticker("t2", "QQQ")},
	}

	source := &rampSource{start: "2024-01-01", days: 40, slope: 0.4}
	d := newTestDriver(source, &constEngine{value: 1})

	_, err := d.Run(context.Background(), Request{
		Elements:  gate,
		StartDate: "max",
		EndDate:   "2024-02-09",
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientWarmup, domain.KindOf(err))
}

func TestDriverFlatBenchmarkWarns(t *testing.T) {
	source := &rampSource{start: "2024-01-01", days: 90, flat: true}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  ticker("t1", "SPY"),
		StartDate: "max",
		EndDate:   "2024-03-30",
	})
	require.NoError(t, err)

	found := false
	for _, w := range result.Warnings {
		if w == string(domain.KindBenchmarkFlat)+": benchmark curve has zero variance" {
			found = true
		}
	}
	assert.True(t, found, "flat benchmark should produce a warning, got %v", result.Warnings)
	assert.InDelta(t, 0.0, result.Metrics.TotalReturn, 1e-9)
}

func TestDriverDebugOutput(t *testing.T) {
	gate := &domain.Element{
		ID:   "g1",
		Type: domain.ElementGate,
		Mode: domain.GateModeIf,
		Conditions: []domain.Condition{
			{LHS: sma("SPY", 5), Operator: ">", RHSValue: f64(0)},
		},
		ThenChildren: []*domain.Element{ticker("t1", "SPY")},
		ElseChildren: []*domain.Element{ticker("t2", "QQQ")},
	}

	source := &rampSource{start: "2024-01-01", days: 90, slope: 0.4}
	d := newTestDriver(source, &constEngine{value: 1})

	result, err := d.Run(context.Background(), Request{
		Elements:  gate,
		StartDate: "max",
		EndDate:   "2024-03-30",
		Debug:     true,
	})
	require.NoError(t, err)

	require.Len(t, result.Debug, len(result.Dates)-1)
	require.NotEmpty(t, result.Debug[0].GateEvaluations)
	assert.Equal(t, "g1", result.Debug[0].GateEvaluations[0].ElementID)
	assert.True(t, result.Debug[0].GateEvaluations[0].Result)
}
