package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/hindsight/internal/cache"
	"github.com/aristath/hindsight/internal/domain"
)

// fakeSource records calls and serves canned bars.
type fakeSource struct {
	calls   int
	symbols []string
	bars    map[string][]domain.Bar
	err     error
}

func (s *fakeSource) GetDailyBars(ctx context.Context, symbols []string, start, end string) (map[string][]domain.Bar, error) {
	s.calls++
	s.symbols = symbols
	if s.err != nil {
		return nil, s.err
	}
	return s.bars, nil
}

func bar(date string, close float64) domain.Bar {
	return domain.Bar{Date: date, Open: close, High: close + 1, Low: close - 1, Close: close, Volume: 1000}
}

func newTestFetcher(store cache.Store, source BarSource) *Fetcher {
	f := NewFetcher(store, source, zerolog.Nop())
	f.now = func() time.Time {
		return time.Date(2024, 6, 14, 12, 0, 0, 0, time.UTC)
	}
	return f
}

func seed(t *testing.T, store cache.Store, ticker string, b domain.Bar) {
	t.Helper()
	raw, err := json.Marshal(b)
	require.NoError(t, err)
	store.Set(context.Background(), CacheKey(ticker, b.Date), string(raw), 0)
}

func TestFetchFullyCachedWindowSkipsVendor(t *testing.T) {
	store := cache.NewMemoryStore()
	// Monday and Tuesday, both cached: every calendar key in the window hits.
	seed(t, store, "SPY", bar("2024-06-10", 530))
	seed(t, store, "SPY", bar("2024-06-11", 532))

	source := &fakeSource{}
	f := newTestFetcher(store, source)

	series, err := f.Fetch(context.Background(), []string{"SPY"}, "2024-06-10", "2024-06-11")
	require.NoError(t, err)

	assert.Zero(t, source.calls)
	c, ok := series.Close("SPY", "2024-06-11")
	require.True(t, ok)
	assert.Equal(t, 532.0, c)
}

func TestFetchMissBatchesOneVendorCall(t *testing.T) {
	store := cache.NewMemoryStore()
	seed(t, store, "SPY", bar("2024-06-10", 530))
	seed(t, store, "SPY", bar("2024-06-11", 532))

	source := &fakeSource{bars: map[string][]domain.Bar{
		"QQQ": {bar("2024-06-10", 460), bar("2024-06-11", 462)},
		"IWM": {bar("2024-06-10", 200), bar("2024-06-11", 201)},
	}}
	f := newTestFetcher(store, source)

	series, err := f.Fetch(context.Background(), []string{"SPY", "QQQ", "IWM"}, "2024-06-10", "2024-06-11")
	require.NoError(t, err)

	// One call covering exactly the tickers with misses.
	assert.Equal(t, 1, source.calls)
	assert.ElementsMatch(t, []string{"QQQ", "IWM"}, source.symbols)

	c, ok := series.Close("QQQ", "2024-06-11")
	require.True(t, ok)
	assert.Equal(t, 462.0, c)
}

func TestFetchWritesBackOnlyMatureBars(t *testing.T) {
	store := cache.NewMemoryStore()
	// now = 2024-06-14, cutoff = 2024-06-12.
	source := &fakeSource{bars: map[string][]domain.Bar{
		"SPY": {bar("2024-06-11", 532), bar("2024-06-12", 533), bar("2024-06-13", 534)},
	}}
	f := newTestFetcher(store, source)

	series, err := f.Fetch(context.Background(), []string{"SPY"}, "2024-06-11", "2024-06-13")
	require.NoError(t, err)

	// All bars come back regardless of cacheability.
	_, ok := series.Close("SPY", "2024-06-13")
	assert.True(t, ok)

	ctx := context.Background()
	_, ok = store.Get(ctx, CacheKey("SPY", "2024-06-11"))
	assert.True(t, ok)
	_, ok = store.Get(ctx, CacheKey("SPY", "2024-06-12"))
	assert.True(t, ok)
	_, ok = store.Get(ctx, CacheKey("SPY", "2024-06-13"))
	assert.False(t, ok, "bars newer than the cutoff must not be cached")
}

func TestFetchVendorErrorAborts(t *testing.T) {
	source := &fakeSource{err: errors.New("429 too many requests")}
	f := newTestFetcher(cache.NewMemoryStore(), source)

	_, err := f.Fetch(context.Background(), []string{"SPY"}, "2024-06-10", "2024-06-11")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamFetchFailed, domain.KindOf(err))
}

func TestFetchInvalidWindow(t *testing.T) {
	f := newTestFetcher(cache.NewMemoryStore(), &fakeSource{})

	_, err := f.Fetch(context.Background(), []string{"SPY"}, "not-a-date", "2024-06-11")
	assert.Error(t, err)
}

func TestFetchCorruptCacheEntryRefetches(t *testing.T) {
	store := cache.NewMemoryStore()
	store.Set(context.Background(), CacheKey("SPY", "2024-06-10"), "{not json", 0)
	seed(t, store, "SPY", bar("2024-06-11", 532))

	source := &fakeSource{bars: map[string][]domain.Bar{
		"SPY": {bar("2024-06-10", 530), bar("2024-06-11", 532)},
	}}
	f := newTestFetcher(store, source)

	series, err := f.Fetch(context.Background(), []string{"SPY"}, "2024-06-10", "2024-06-11")
	require.NoError(t, err)

	assert.Equal(t, 1, source.calls)
	c, ok := series.Close("SPY", "2024-06-10")
	require.True(t, ok)
	assert.Equal(t, 530.0, c)
}
