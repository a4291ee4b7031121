// Package indicators computes indicator series over price data, cache-through.
// It owns the canonical parameter tables: defaults, dash-joined fingerprints
// and the per-indicator warmup depths the effective-start calculator uses.
package indicators

import (
	"strings"

	"github.com/aristath/hindsight/internal/domain"
)

type paramDef struct {
	name     string
	fallback int
}

// paramOrder fixes the canonical parameter order per indicator. Fingerprints
// are the dash-joined values in exactly this order, so the table is identity
// for the cache: change it and every cached series silently misses.
var paramOrder = map[string][]paramDef{
	"RSI":          {{"period", 14}},
	"SMA":          {{"period", 20}},
	"EMA":          {{"period", 20}},
	"ATR":          {{"period", 14}},
	"ADX":          {{"period", 14}},
	"MFI":          {{"period", 14}},
	"MACD":         {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"MACD_SIGNAL":  {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"MACD_HIST":    {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO":          {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO_SIGNAL":   {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"PPO_HIST":     {{"fast", 12}, {"slow", 26}, {"signal", 9}},
	"BBANDS_UPPER": {{"period", 20}},
	"BBANDS_MID":   {{"period", 20}},
	"BBANDS_LOWER": {{"period", 20}},
	"STOCH_K":      {{"fastk", 14}, {"slowk", 3}},
	"AROON_UP":     {{"period", 25}},
	"AROON_DOWN":   {{"period", 25}},
	"AROON_OSC":    {{"period", 25}},
	"VOLATILITY":   {{"period", 20}},
	"RETURN":       {{"period", 5}},
	"MAX_DRAWDOWN": {{"period", 20}},
}

// NormalizeName maps caller spellings onto the canonical indicator name.
func NormalizeName(name string) string {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, " ", "_")
	n = strings.ReplaceAll(n, "-", "_")
	switch n {
	case "BOLLINGER_UPPER":
		return "BBANDS_UPPER"
	case "BOLLINGER_LOWER":
		return "BBANDS_LOWER"
	case "BOLLINGER", "BOLLINGER_MID", "BBANDS_MIDDLE":
		return "BBANDS_MID"
	case "CUMULATIVE_RETURN":
		return "RETURN"
	case "STOCH", "STOCHASTIC_K":
		return "STOCH_K"
	}
	return n
}

// Known reports whether name is a supported indicator.
func Known(name string) bool {
	_, ok := paramOrder[NormalizeName(name)]
	return ok
}

// Normalize returns the canonical name and the full parameter map for a
// reference, filling omitted parameters with the indicator's defaults.
func Normalize(ref domain.IndicatorRef) (string, map[string]int) {
	name := NormalizeName(ref.Name)
	defs, ok := paramOrder[name]
	if !ok {
		return name, ref.Params
	}
	params := make(map[string]int, len(defs))
	for _, def := range defs {
		if v, present := ref.Params[def.name]; present && v > 0 {
			params[def.name] = v
		} else {
			params[def.name] = def.fallback
		}
	}
	return name, params
}

// BaseWarmup returns the trading-day history an indicator needs before it
// produces its first valid value.
func BaseWarmup(name string, params map[string]int) int {
	name = NormalizeName(name)
	period := func(key string) int {
		defs := paramOrder[name]
		for _, def := range defs {
			if def.name == key {
				if v, ok := params[key]; ok && v > 0 {
					return v
				}
				return def.fallback
			}
		}
		return 0
	}

	switch name {
	case "MACD", "MACD_SIGNAL", "MACD_HIST", "PPO_SIGNAL", "PPO_HIST":
		return period("slow") + period("signal")
	case "PPO":
		return period("slow")
	case "BBANDS_UPPER", "BBANDS_MID", "BBANDS_LOWER":
		return period("period") + 2
	case "STOCH_K":
		return period("fastk") + period("slowk")
	case "AROON_UP", "AROON_DOWN", "AROON_OSC":
		return 2 * period("period")
	default:
		return period("period")
	}
}

// RefWarmup is BaseWarmup for a reference after normalization.
func RefWarmup(ref domain.IndicatorRef) int {
	name, params := Normalize(ref)
	return BaseWarmup(name, params)
}

// needsHighLow reports whether the indicator reads high/low arrays.
func needsHighLow(name string) bool {
	switch name {
	case "ATR", "ADX", "MFI", "STOCH_K", "AROON_UP", "AROON_DOWN", "AROON_OSC":
		return true
	}
	return false
}

// needsVolume reports whether the indicator reads the volume array.
func needsVolume(name string) bool {
	return name == "MFI"
}
