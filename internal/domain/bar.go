// Package domain holds the core backtest data model: price bars, strategy
// trees, indicator series and the error taxonomy. The package is dependency
// free so every module can share it.
package domain

import (
	"sort"
	"time"
)

// DateLayout is the wire and cache format for all dates.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV record for a single symbol.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

// PriceSeries maps ticker -> date -> bar. It is built once by the price
// fetcher and treated as immutable afterwards.
type PriceSeries map[string]map[string]Bar

// Dates returns the sorted trading dates present for a ticker.
// ISO dates sort correctly as strings.
func (p PriceSeries) Dates(ticker string) []string {
	bars := p[ticker]
	dates := make([]string, 0, len(bars))
	for d := range bars {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// FirstDate returns the earliest date with data for a ticker, or empty when
// the ticker has no bars at all.
func (p PriceSeries) FirstDate(ticker string) string {
	first := ""
	for d := range p[ticker] {
		if first == "" || d < first {
			first = d
		}
	}
	return first
}

// Close returns the closing price for ticker at date.
func (p PriceSeries) Close(ticker, date string) (float64, bool) {
	bar, ok := p[ticker][date]
	if !ok {
		return 0, false
	}
	return bar.Close, true
}

// AddDays shifts an ISO date by n calendar days.
func AddDays(date string, n int) string {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.AddDate(0, 0, n).Format(DateLayout)
}

// CalendarDates returns every calendar day in [start, end], weekends included.
func CalendarDates(start, end string) []string {
	from, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil
	}
	to, err := time.Parse(DateLayout, end)
	if err != nil {
		return nil
	}
	var dates []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(DateLayout))
	}
	return dates
}

// Today returns the current date in ISO form.
func Today() string {
	return time.Now().Format(DateLayout)
}

// CacheCutoff returns the most recent cache-eligible date: two calendar days
// before now. Anything newer is provisional and must never be cached.
func CacheCutoff(now time.Time) string {
	return now.AddDate(0, 0, -2).Format(DateLayout)
}
