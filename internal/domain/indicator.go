package domain

import "fmt"

// IndicatorSeries maps a series key (see SeriesKey) to date -> value. The map
// is sparse: dates inside an indicator's warmup region are absent. Synthetic
// sort-child series are injected under SyntheticTicker names.
type IndicatorSeries map[string]map[string]float64

// SeriesKey builds the in-memory identity of one indicator series.
func SeriesKey(ticker, name, fingerprint string) string {
	return ticker + "|" + name + "|" + fingerprint
}

// SyntheticTicker names the virtual symbol standing for the equity curve of
// running one sort child as a standalone strategy.
func SyntheticTicker(sortID, childID string) string {
	return fmt.Sprintf("SORT_%s_%s", sortID, childID)
}

// Value looks up one point of one series.
func (s IndicatorSeries) Value(ticker, name, fingerprint, date string) (float64, bool) {
	v, ok := s[SeriesKey(ticker, name, fingerprint)][date]
	return v, ok
}

// Insert adds a whole series, replacing any previous one under the same key.
func (s IndicatorSeries) Insert(ticker, name, fingerprint string, values map[string]float64) {
	s[SeriesKey(ticker, name, fingerprint)] = values
}

// FirstDate returns the earliest date with a value under key, or empty.
func (s IndicatorSeries) FirstDate(key string) string {
	first := ""
	for d := range s[key] {
		if first == "" || d < first {
			first = d
		}
	}
	return first
}
