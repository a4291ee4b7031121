package indicators

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/domain"
)

// computeConcurrency bounds in-flight engine calls per request.
const computeConcurrency = 16

// Computer resolves indicator series cache-first and delegates the misses to
// an Engine, fanning out across specs concurrently.
type Computer struct {
	store  cache.Store
	engine Engine
	log    zerolog.Logger
	now    func() time.Time
}

// NewComputer creates an indicator computer.
func NewComputer(store cache.Store, engine Engine, log zerolog.Logger) *Computer {
	return &Computer{
		store:  store,
		engine: engine,
		log:    log.With().Str("component", "indicators").Logger(),
		now:    time.Now,
	}
}

// spec is one deduplicated (ticker, indicator, fingerprint) series request.
type spec struct {
	Ticker      string
	Name        string
	Fingerprint string
	Params      map[string]int
}

func (s spec) key() string {
	return domain.SeriesKey(s.Ticker, s.Name, s.Fingerprint)
}

// dedupe normalizes refs and collapses duplicates by series key.
func dedupe(refs []domain.IndicatorRef) []spec {
	seen := map[string]bool{}
	var specs []spec
	for _, ref := range refs {
		name, params := Normalize(ref)
		s := spec{
			Ticker:      ref.Ticker,
			Name:        name,
			Fingerprint: Fingerprint(name, params),
			Params:      params,
		}
		if seen[s.key()] {
			continue
		}
		seen[s.key()] = true
		specs = append(specs, s)
	}
	return specs
}

// Compute returns every requested series over all dates present in each
// ticker's price data. Cached values are reused; missing specs are computed
// concurrently and the cache-eligible results written back in one batch.
// One spec failing upstream leaves that series empty and execution continues;
// every spec failing surfaces as UpstreamFetchFailed.
func (c *Computer) Compute(ctx context.Context, refs []domain.IndicatorRef, prices domain.PriceSeries) (domain.IndicatorSeries, error) {
	specs := dedupe(refs)
	series := make(domain.IndicatorSeries, len(specs))

	specDates := make(map[string][]string, len(specs))
	var allKeys []string
	for _, s := range specs {
		dates := prices.Dates(s.Ticker)
		specDates[s.key()] = dates
		series[s.key()] = make(map[string]float64, len(dates))
		for _, d := range dates {
			allKeys = append(allKeys, CacheKey(s.Ticker, s.Name, s.Fingerprint, d))
		}
	}

	hits := c.store.MGet(ctx, allKeys)
	c.restoreHits(specs, specDates, hits, series)
	c.restoreLegacyHits(ctx, specs, specDates, series)

	// Any date still missing means the whole spec is recomputed over the full
	// aligned input; the engine decides which dates are warmed up.
	var pending []spec
	for _, s := range specs {
		if len(series[s.key()]) < len(specDates[s.key()]) && len(specDates[s.key()]) > 0 {
			pending = append(pending, s)
		}
	}

	var (
		mu       sync.Mutex
		failed   int
		toCache  []cache.Item
		cutoff   = domain.CacheCutoff(c.now())
		grp, gtx = errgroup.WithContext(ctx)
	)
	grp.SetLimit(computeConcurrency)

	for _, s := range pending {
		s := s
		grp.Go(func() error {
			values, err := c.engine.Compute(gtx, s.Name, s.Params, buildInput(s, prices, specDates[s.key()]))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.log.Warn().
					Err(err).
					Str("ticker", s.Ticker).
					Str("indicator", s.Name).
					Str("fingerprint", s.Fingerprint).
					Msg("Indicator compute failed, series left empty")
				series[s.key()] = map[string]float64{}
				failed++
				return nil
			}
			dates := specDates[s.key()]
			computed := make(map[string]float64, len(values))
			for i, v := range values {
				if i >= len(dates) || math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				computed[dates[i]] = v
				if dates[i] <= cutoff {
					toCache = append(toCache, cache.Item{
						Key:   CacheKey(s.Ticker, s.Name, s.Fingerprint, dates[i]),
						Value: strconv.FormatFloat(v, 'f', -1, 64),
					})
				}
			}
			series[s.key()] = computed
			return nil
		})
	}
	_ = grp.Wait()

	if len(pending) > 0 && failed == len(pending) {
		return nil, domain.NewError(domain.KindUpstreamFetchFailed, "indicator math service unavailable")
	}

	if len(toCache) > 0 {
		c.store.MSet(ctx, toCache)
	}

	return series, nil
}

// restoreHits parses cached string values into the series maps.
func (c *Computer) restoreHits(specs []spec, specDates map[string][]string, hits map[string]string, series domain.IndicatorSeries) {
	for _, s := range specs {
		for _, d := range specDates[s.key()] {
			raw, ok := hits[CacheKey(s.Ticker, s.Name, s.Fingerprint, d)]
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
				series[s.key()][d] = v
			}
		}
	}
}

// restoreLegacyHits retries remaining misses under the retired concatenated
// fingerprint encoding. Old entries disappear at the next purge; until then
// they are still good values.
func (c *Computer) restoreLegacyHits(ctx context.Context, specs []spec, specDates map[string][]string, series domain.IndicatorSeries) {
	var legacyKeys []string
	type target struct {
		specKey string
		date    string
	}
	byKey := map[string]target{}

	for _, s := range specs {
		legacy := LegacyFingerprint(s.Name, s.Params)
		if legacy == s.Fingerprint {
			continue
		}
		for _, d := range specDates[s.key()] {
			if _, have := series[s.key()][d]; have {
				continue
			}
			k := CacheKey(s.Ticker, s.Name, legacy, d)
			legacyKeys = append(legacyKeys, k)
			byKey[k] = target{specKey: s.key(), date: d}
		}
	}
	if len(legacyKeys) == 0 {
		return
	}

	for k, raw := range c.store.MGet(ctx, legacyKeys) {
		t := byKey[k]
		if v, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
			series[t.specKey][t.date] = v
		}
	}
}

// buildInput assembles the aligned arrays the engine needs for one spec.
func buildInput(s spec, prices domain.PriceSeries, dates []string) SeriesInput {
	in := SeriesInput{Dates: dates, Close: make([]float64, len(dates))}
	bars := prices[s.Ticker]
	for i, d := range dates {
		in.Close[i] = bars[d].Close
	}
	if needsHighLow(s.Name) {
		in.High = make([]float64, len(dates))
		in.Low = make([]float64, len(dates))
		for i, d := range dates {
			in.High[i] = bars[d].High
			in.Low[i] = bars[d].Low
		}
	}
	if needsVolume(s.Name) {
		in.Volume = make([]float64, len(dates))
		for i, d := range dates {
			in.Volume[i] = bars[d].Volume
		}
	}
	return in
}

// ComputeOnSeries runs one indicator over an arbitrary equity curve, without
// touching the cache. The sort runtime uses it for synthetic series, where
// high and low collapse onto the close.
func (c *Computer) ComputeOnSeries(ctx context.Context, ref domain.IndicatorRef, dates []string, closes []float64) (map[string]float64, error) {
	name, params := Normalize(ref)
	in := SeriesInput{Dates: dates, Close: closes}
	if needsHighLow(name) {
		in.High = closes
		in.Low = closes
	}
	if needsVolume(name) {
		in.Volume = make([]float64, len(closes))
	}

	values, err := c.engine.Compute(ctx, name, params, in)
	if err != nil {
		return nil, domain.WrapError(domain.KindIndicatorComputeFailed, err, "failed to compute "+name+" over synthetic series")
	}

	out := make(map[string]float64, len(values))
	for i, v := range values {
		if i >= len(dates) || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[dates[i]] = v
	}
	return out, nil
}
