// Package marketdata fetches daily price bars cache-first, with one batched
// vendor call covering every ticker that had any miss in the window.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/domain"
)

// BarSource is the vendor boundary. Implemented by the alpaca client.
type BarSource interface {
	GetDailyBars(ctx context.Context, symbols []string, start, end string) (map[string][]domain.Bar, error)
}

// Fetcher resolves price series through the cache.
type Fetcher struct {
	store  cache.Store
	source BarSource
	log    zerolog.Logger
	now    func() time.Time
}

// NewFetcher creates a price fetcher.
func NewFetcher(store cache.Store, source BarSource, log zerolog.Logger) *Fetcher {
	return &Fetcher{
		store:  store,
		source: source,
		log:    log.With().Str("component", "marketdata").Logger(),
		now:    time.Now,
	}
}

// CacheKey builds the cache key of one bar.
func CacheKey(ticker, date string) string {
	return fmt.Sprintf("price:%s:%s", ticker, date)
}

// Fetch returns bars for every ticker over [start, end]. The key set covers
// every calendar day; weekends and holidays miss in the cache and come back
// empty from the vendor, which is fine. Tickers with any miss go into a
// single vendor call. Bars dated T-2 or older are written back; newer bars
// are returned but never cached. A vendor error aborts the whole request.
func (f *Fetcher) Fetch(ctx context.Context, tickers []string, start, end string) (domain.PriceSeries, error) {
	dates := domain.CalendarDates(start, end)
	if len(dates) == 0 {
		return nil, domain.NewError(domain.KindInvalidStrategy, fmt.Sprintf("invalid date window %s..%s", start, end))
	}

	series := make(domain.PriceSeries, len(tickers))
	for _, t := range tickers {
		series[t] = make(map[string]domain.Bar)
	}

	keys := make([]string, 0, len(tickers)*len(dates))
	for _, t := range tickers {
		for _, d := range dates {
			keys = append(keys, CacheKey(t, d))
		}
	}
	hits := f.store.MGet(ctx, keys)

	var missing []string
	for _, t := range tickers {
		anyMiss := false
		for _, d := range dates {
			raw, ok := hits[CacheKey(t, d)]
			if !ok {
				anyMiss = true
				continue
			}
			var bar domain.Bar
			if err := json.Unmarshal([]byte(raw), &bar); err != nil {
				anyMiss = true
				continue
			}
			series[t][d] = bar
		}
		if anyMiss {
			missing = append(missing, t)
		}
	}

	if len(missing) == 0 {
		return series, nil
	}

	fetched, err := f.source.GetDailyBars(ctx, missing, start, end)
	if err != nil {
		return nil, domain.WrapError(domain.KindUpstreamFetchFailed, err, "vendor price fetch failed")
	}

	cutoff := domain.CacheCutoff(f.now())
	var writeBack []cache.Item
	for ticker, bars := range fetched {
		for _, bar := range bars {
			series[ticker][bar.Date] = bar
			if bar.Date > cutoff {
				continue
			}
			raw, err := json.Marshal(bar)
			if err != nil {
				continue
			}
			writeBack = append(writeBack, cache.Item{Key: CacheKey(ticker, bar.Date), Value: string(raw)})
		}
	}
	if len(writeBack) > 0 {
		f.store.MSet(ctx, writeBack)
	}

	f.log.Debug().
		Int("tickers", len(tickers)).
		Int("fetched", len(missing)).
		Int("cached_bars", len(writeBack)).
		Msg("Price fetch complete")

	return series, nil
}
