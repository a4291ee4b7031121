package backtest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
)

// SortRuntime pre-simulates every sort child as a standalone strategy so the
// sort's indicator has a synthetic equity series to chew on. Sorts are
// processed deepest first: an outer sort's children may themselves contain
// sorts, and their synthetic series must exist before the outer simulation
// reads them.
type SortRuntime struct {
	computer *indicators.Computer
	log      zerolog.Logger
}

// NewSortRuntime creates a sort runtime.
func NewSortRuntime(computer *indicators.Computer, log zerolog.Logger) *SortRuntime {
	return &SortRuntime{
		computer: computer,
		log:      log.With().Str("component", "sort-runtime").Logger(),
	}
}

type sortDescriptor struct {
	el    *domain.Element
	depth int
}

// collectSorts enumerates sort nodes with their tree depth.
func collectSorts(root *domain.Element) []sortDescriptor {
	var sorts []sortDescriptor
	var walk func(el *domain.Element, depth int)
	walk = func(el *domain.Element, depth int) {
		if el == nil {
			return
		}
		if el.Type == domain.ElementSort {
			sorts = append(sorts, sortDescriptor{el: el, depth: depth})
		}
		for _, group := range el.ChildGroups() {
			for _, child := range group {
				walk(child, depth+1)
			}
		}
	}
	walk(root, 0)
	return sorts
}

// Precompute simulates all sort children over grid (the full benchmark
// trading-day grid up to the requested end) and injects the resulting
// synthetic indicator series. It returns the latest first-valid date across
// all synthetic series; the caller trims the simulation grid to it. Empty
// string means the tree has no sorts.
//
// Sorts at the same depth are independent and run in parallel; children
// within one sort run sequentially.
func (r *SortRuntime) Precompute(ctx context.Context, root *domain.Element, prices domain.PriceSeries, series domain.IndicatorSeries, grid []string) (string, error) {
	sorts := collectSorts(root)
	if len(sorts) == 0 {
		return "", nil
	}

	byDepth := map[int][]sortDescriptor{}
	maxDepth := 0
	for _, s := range sorts {
		byDepth[s.depth] = append(byDepth[s.depth], s)
		if s.depth > maxDepth {
			maxDepth = s.depth
		}
	}

	latestFirstValid := ""
	for depth := maxDepth; depth >= 0; depth-- {
		level := byDepth[depth]
		if len(level) == 0 {
			continue
		}

		// Each sort collects its series locally; injection into the shared
		// store happens after the whole level completes, so executors running
		// for one sort never race a sibling's writes.
		type injected struct {
			key    string
			values map[string]float64
		}
		var (
			mu      sync.Mutex
			results []injected
		)

		grp, gtx := errgroup.WithContext(ctx)
		for _, desc := range level {
			desc := desc
			grp.Go(func() error {
				out, err := r.precomputeSort(gtx, desc.el, prices, series, grid)
				if err != nil {
					return err
				}
				mu.Lock()
				for k, v := range out {
					results = append(results, injected{key: k, values: v})
				}
				mu.Unlock()
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			return "", err
		}

		for _, res := range results {
			series[res.key] = res.values
			if first := series.FirstDate(res.key); first != "" && first > latestFirstValid {
				latestFirstValid = first
			}
		}
	}

	return latestFirstValid, nil
}

// precomputeSort simulates each child of one sort and computes the sort's
// indicator over the synthetic equity curves.
func (r *SortRuntime) precomputeSort(ctx context.Context, el *domain.Element, prices domain.PriceSeries, series domain.IndicatorSeries, grid []string) (map[string]map[string]float64, error) {
	name, params := indicators.Normalize(el.Sort.Indicator)
	fingerprint := indicators.Fingerprint(name, params)

	out := make(map[string]map[string]float64, len(el.Children))
	for _, child := range el.Children {
		childGrid, err := r.childGrid(child, prices, grid)
		if err != nil {
			return nil, err
		}

		dates, equity := r.simulateChild(child, prices, series, childGrid)
		if len(dates) < 2 {
			r.log.Warn().
				Str("sort", el.ID).
				Str("child", child.ID).
				Msg("Sort child produced no usable equity series")
			continue
		}

		values, err := r.computer.ComputeOnSeries(ctx, el.Sort.Indicator, dates, equity)
		if err != nil {
			r.log.Warn().
				Err(err).
				Str("sort", el.ID).
				Str("child", child.ID).
				Msg("Sort indicator compute failed, child will rank as missing")
			values = map[string]float64{}
		}

		out[domain.SeriesKey(domain.SyntheticTicker(el.ID, child.ID), name, fingerprint)] = values
	}

	return out, nil
}

// childGrid trims the parent grid to the child's own effective start. A leaf
// ticker needs no warmup of its own and keeps the parent grid.
func (r *SortRuntime) childGrid(child *domain.Element, prices domain.PriceSeries, grid []string) ([]string, error) {
	if child.Type == domain.ElementTicker {
		return grid, nil
	}
	breakdown, err := EffectiveStart(child, prices)
	if err != nil {
		return nil, err
	}
	for i, d := range grid {
		if d >= breakdown.EffectiveStart {
			return grid[i:], nil
		}
	}
	return nil, nil
}

// simulateChild runs the child as a standalone 100% strategy over childGrid,
// accruing equity from close-to-close returns: positions chosen at grid[i-1]
// are realized at grid[i].
func (r *SortRuntime) simulateChild(child *domain.Element, prices domain.PriceSeries, series domain.IndicatorSeries, childGrid []string) ([]string, []float64) {
	if len(childGrid) < 2 {
		return nil, nil
	}

	clone := child.Clone()
	clone.Weight = 100

	dates := make([]string, 0, len(childGrid))
	equitySeries := make([]float64, 0, len(childGrid))
	equity := 1.0
	dates = append(dates, childGrid[0])
	equitySeries = append(equitySeries, equity)

	for i := 1; i < len(childGrid); i++ {
		decision, execution := childGrid[i-1], childGrid[i]
		res := Execute(clone, DateTable{Series: series, Date: decision})

		dayReturn := 0.0
		for _, pos := range res.Positions {
			prev, okPrev := prices.Close(pos.Ticker, decision)
			cur, okCur := prices.Close(pos.Ticker, execution)
			if !okPrev || !okCur || prev == 0 {
				continue
			}
			dayReturn += pos.Weight / 100 * (cur/prev - 1)
		}

		equity *= 1 + dayReturn
		dates = append(dates, execution)
		equitySeries = append(equitySeries, equity)
	}

	return dates, equitySeries
}
