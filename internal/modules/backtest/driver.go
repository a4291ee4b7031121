package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
	"github.com/aristath/hindsight/internal/modules/marketdata"
	"github.com/aristath/hindsight/pkg/formulas"
)

const (
	// benchmarkTicker defines the trading-day grid and the comparison curve.
	benchmarkTicker = "SPY"
	// maxHistoryStart is the fetch window start when the caller asks for "max".
	maxHistoryStart = "1990-01-01"
	// fetchPadDays is extra calendar history beyond the warmup requirement,
	// absorbing the 1.4x factor's imprecision around holidays.
	fetchPadDays = 30
)

// Driver orchestrates one backtest: fetch, indicator compute, warmup, sort
// precomputation, then the day-by-day simulation loop.
type Driver struct {
	fetcher  *marketdata.Fetcher
	computer *indicators.Computer
	sorts    *SortRuntime
	log      zerolog.Logger
	now      func() time.Time
}

// NewDriver creates a simulation driver.
func NewDriver(fetcher *marketdata.Fetcher, computer *indicators.Computer, sorts *SortRuntime, log zerolog.Logger) *Driver {
	return &Driver{
		fetcher:  fetcher,
		computer: computer,
		sorts:    sorts,
		log:      log.With().Str("component", "driver").Logger(),
		now:      time.Now,
	}
}

// Run executes one backtest request end to end.
func (d *Driver) Run(ctx context.Context, req Request) (*Result, error) {
	runID := uuid.New().String()
	log := d.log.With().Str("run", runID).Logger()

	validation := Validate(req.Elements)
	if !validation.Valid() {
		first := validation.Errors[0]
		return nil, domain.NewElementError(domain.KindInvalidStrategy, first.ElementID,
			fmt.Sprintf("%s: %s", first.Field, first.Message))
	}

	end := req.EndDate
	if end == "" {
		end = d.now().Format(domain.DateLayout)
	}
	requestedStart := req.StartDate

	warmupDays, _, _ := ComputeWarmupDays(req.Elements)
	fetchStart := maxHistoryStart
	if requestedStart != "" && requestedStart != "max" {
		pad := int(float64(warmupDays)*calendarFactor) + fetchPadDays
		fetchStart = domain.AddDays(requestedStart, -pad)
	}

	tickers := req.Elements.Tickers()
	if !contains(tickers, benchmarkTicker) {
		tickers = append(tickers, benchmarkTicker)
	}

	prices, err := d.fetcher.Fetch(ctx, tickers, fetchStart, end)
	if err != nil {
		return nil, err
	}

	series, err := d.computer.Compute(ctx, collectIndicatorRefs(req.Elements), prices)
	if err != nil {
		return nil, err
	}

	breakdown, err := EffectiveStart(req.Elements, prices)
	if err != nil {
		return nil, err
	}

	simStart := breakdown.EffectiveStart
	var adjustment *StartDateAdjustment
	switch {
	case requestedStart == "" || requestedStart == "max":
		// earliest possible; no adjustment to report
	case requestedStart >= simStart:
		simStart = requestedStart
	default:
		adjustment = &StartDateAdjustment{
			RequestedStart: requestedStart,
			AdjustedStart:  simStart,
			Reason: fmt.Sprintf("%d trading days of warmup (element %s needs %d) after %s first trades on %s",
				breakdown.WarmupDays, breakdown.CulpritElementID, breakdown.CulpritDays,
				joinTickers(breakdown.LatestTickers), breakdown.LatestFirstDate),
		}
	}

	// The benchmark's trading days define the grid. Sorts precompute over the
	// full grid so their synthetic series reach back to each child's own
	// effective start.
	fullGrid := prices.Dates(benchmarkTicker)
	if len(fullGrid) == 0 {
		return nil, domain.NewError(domain.KindUpstreamFetchFailed, "no benchmark price history")
	}

	latestSynthetic, err := d.sorts.Precompute(ctx, req.Elements, prices, series, fullGrid)
	if err != nil {
		return nil, err
	}
	if latestSynthetic > simStart {
		simStart = latestSynthetic
	}

	grid := sliceBetween(fullGrid, simStart, end)
	if len(grid) < 2 {
		return nil, domain.NewElementError(domain.KindInsufficientWarmup, breakdown.CulpritElementID,
			fmt.Sprintf("fewer than 2 tradable days remain after warmup (effective start %s, end %s)", simStart, end))
	}

	result, err := d.simulate(req, grid, prices, series, log)
	if err != nil {
		return nil, err
	}
	result.ID = runID
	result.StartDateAdjustment = adjustment
	result.Warnings = append(validation.Warnings, result.Warnings...)

	log.Info().
		Str("start", grid[0]).
		Str("end", grid[len(grid)-1]).
		Int("days", len(grid)).
		Float64("totalReturn", result.Metrics.TotalReturn).
		Msg("Backtest complete")

	return result, nil
}

// simulate runs the day loop: positions chosen at grid[i-1] are realized at
// grid[i]; equity compounds close to close.
func (d *Driver) simulate(req Request, grid []string, prices domain.PriceSeries, series domain.IndicatorSeries, log zerolog.Logger) (*Result, error) {
	benchStart, ok := prices.Close(benchmarkTicker, grid[0])
	if !ok || benchStart == 0 {
		return nil, domain.NewError(domain.KindUpstreamFetchFailed, "benchmark has no close at grid start")
	}

	result := &Result{
		Dates:       grid,
		EquityCurve: make([]float64, 0, len(grid)),
	}
	benchCurve := make([]float64, 0, len(grid))

	equity := 1.0
	bench := 1.0
	result.EquityCurve = append(result.EquityCurve, equity)
	benchCurve = append(benchCurve, bench)

	for i := 1; i < len(grid); i++ {
		decision, execution := grid[i-1], grid[i]
		exec := Execute(req.Elements, DateTable{Series: series, Date: decision})

		if i == 1 {
			if culprit := firstMissingIndicator(exec.Errors); culprit != nil {
				return nil, domain.NewElementError(domain.KindInsufficientWarmup, culprit.ElementID,
					"indicator not warmed up on the first decision date: "+culprit.Message)
			}
		}
		for _, execErr := range exec.Errors {
			log.Debug().
				Str("date", decision).
				Str("element", execErr.ElementID).
				Str("kind", string(execErr.Kind)).
				Msg(execErr.Message)
		}

		dayReturn := 0.0
		positions := make(map[string]float64, len(exec.Positions))
		for _, pos := range exec.Positions {
			positions[pos.Ticker] = pos.Weight
			prev, okPrev := prices.Close(pos.Ticker, decision)
			cur, okCur := prices.Close(pos.Ticker, execution)
			if !okPrev || !okCur || prev == 0 {
				continue
			}
			dayReturn += pos.Weight / 100 * (cur/prev - 1)
		}

		equity *= 1 + dayReturn
		if c, ok := prices.Close(benchmarkTicker, execution); ok && benchStart != 0 {
			bench = c / benchStart
		}

		result.EquityCurve = append(result.EquityCurve, equity)
		benchCurve = append(benchCurve, bench)
		result.DailyPositions = append(result.DailyPositions, DailyPositions{Date: execution, Positions: positions})

		if req.Debug {
			result.Debug = append(result.Debug, DebugDay{
				Date:            decision,
				Path:            exec.Path,
				GateEvaluations: exec.GateEvals,
				Errors:          exec.Errors,
			})
		}
	}

	result.Metrics = computeMetrics(result.EquityCurve)
	result.Benchmark = Benchmark{
		Dates:       grid,
		EquityCurve: benchCurve,
		Metrics:     computeMetrics(benchCurve),
	}

	// Regression guard: a flat benchmark means the grid or price plumbing is
	// broken. Warn, never fail.
	if formulas.Variance(formulas.CalculateReturns(benchCurve)) == 0 {
		log.Warn().Msg("Benchmark variance is zero over the simulation grid")
		result.Warnings = append(result.Warnings, string(domain.KindBenchmarkFlat)+": benchmark curve has zero variance")
	}

	return result, nil
}

// collectIndicatorRefs gathers every indicator the executor will look up
// against real tickers: gate condition sides and scale configs. Sort
// indicators run over synthetic series and are computed by the sort runtime.
func collectIndicatorRefs(root *domain.Element) []domain.IndicatorRef {
	var refs []domain.IndicatorRef
	root.Walk(func(el *domain.Element) {
		for _, cond := range el.Conditions {
			refs = append(refs, cond.LHS)
			if cond.RHSIndicator != nil {
				refs = append(refs, *cond.RHSIndicator)
			}
		}
		if el.Scale != nil {
			refs = append(refs, el.Scale.Indicator)
		}
	})
	return refs
}

func firstMissingIndicator(errs []ElementError) *ElementError {
	for _, e := range errs {
		if e.Kind == domain.KindMissingIndicator {
			return &e
		}
	}
	return nil
}

func sliceBetween(dates []string, start, end string) []string {
	var out []string
	for _, d := range dates {
		if d >= start && d <= end {
			out = append(out, d)
		}
	}
	return out
}

func contains(list []string, item string) bool {
	for _, v := range list {
		if v == item {
			return true
		}
	}
	return false
}

func joinTickers(tickers []string) string {
	out := ""
	for i, t := range tickers {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}
