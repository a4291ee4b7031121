package indicators

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aristath/hindsight/internal/domain"
)

// Fingerprint is the canonical stringification of an indicator's parameters:
// values dash-joined in canonical order, e.g. "12-26-9" for MACD, "20" for
// SMA(20). It is the cache identity of a series, so write and read sides must
// agree byte for byte.
func Fingerprint(name string, params map[string]int) string {
	defs, ok := paramOrder[NormalizeName(name)]
	if !ok {
		return ""
	}
	parts := make([]string, len(defs))
	for i, def := range defs {
		v, present := params[def.name]
		if !present || v <= 0 {
			v = def.fallback
		}
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, "-")
}

// RefFingerprint normalizes a reference and fingerprints it.
func RefFingerprint(ref domain.IndicatorRef) string {
	name, params := Normalize(ref)
	return Fingerprint(name, params)
}

// LegacyFingerprint is the retired concatenated encoding ("12269" for MACD).
// Readers accept it until a purge cycle retires the old entries; writers
// never produce it.
func LegacyFingerprint(name string, params map[string]int) string {
	return strings.ReplaceAll(Fingerprint(name, params), "-", "")
}

// ParseFingerprint inverts Fingerprint for a known indicator name.
func ParseFingerprint(name, fingerprint string) (map[string]int, error) {
	defs, ok := paramOrder[NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("unknown indicator %q", name)
	}
	parts := strings.Split(fingerprint, "-")
	if len(parts) != len(defs) {
		return nil, fmt.Errorf("fingerprint %q has %d values, %s takes %d", fingerprint, len(parts), name, len(defs))
	}
	params := make(map[string]int, len(defs))
	for i, def := range defs {
		v, err := strconv.Atoi(parts[i])
		if err != nil {
			return nil, fmt.Errorf("fingerprint %q: %w", fingerprint, err)
		}
		params[def.name] = v
	}
	return params, nil
}

// CacheKey builds the cache key of one indicator value.
func CacheKey(ticker, name, fingerprint, date string) string {
	return fmt.Sprintf("indicator:%s:%s:%s:%s", ticker, name, fingerprint, date)
}
