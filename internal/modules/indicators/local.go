package indicators

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
)

// LocalEngine computes indicators in-process with go-talib. It is the default
// when no math service URL is configured, and the engine the tests run on.
// Output contract matches the remote service: one value per input index, NaN
// inside the warmup region.
type LocalEngine struct{}

// NewLocalEngine creates the in-process engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

// Compute implements Engine.
func (e *LocalEngine) Compute(_ context.Context, name string, params map[string]int, in SeriesInput) ([]float64, error) {
	name, params = normalizeForCompute(name, params)
	n := len(in.Close)
	if n == 0 {
		return nil, nil
	}

	var values []float64
	switch name {
	case "RSI":
		values = talib.Rsi(in.Close, params["period"])
	case "SMA":
		values = talib.Sma(in.Close, params["period"])
	case "EMA":
		values = talib.Ema(in.Close, params["period"])
	case "ATR":
		values = talib.Atr(in.High, in.Low, in.Close, params["period"])
	case "ADX":
		values = talib.Adx(in.High, in.Low, in.Close, params["period"])
	case "MFI":
		values = talib.Mfi(in.High, in.Low, in.Close, in.Volume, params["period"])
	case "MACD":
		values, _, _ = talib.Macd(in.Close, params["fast"], params["slow"], params["signal"])
	case "MACD_SIGNAL":
		_, values, _ = talib.Macd(in.Close, params["fast"], params["slow"], params["signal"])
	case "MACD_HIST":
		_, _, values = talib.Macd(in.Close, params["fast"], params["slow"], params["signal"])
	case "PPO":
		values = talib.Ppo(in.Close, params["fast"], params["slow"], talib.EMA)
	case "PPO_SIGNAL":
		line := talib.Ppo(in.Close, params["fast"], params["slow"], talib.EMA)
		values = talib.Ema(line, params["signal"])
	case "PPO_HIST":
		line := talib.Ppo(in.Close, params["fast"], params["slow"], talib.EMA)
		signal := talib.Ema(line, params["signal"])
		values = make([]float64, n)
		for i := range values {
			values[i] = line[i] - signal[i]
		}
	case "BBANDS_UPPER":
		values, _, _ = talib.BBands(in.Close, params["period"], 2, 2, talib.SMA)
	case "BBANDS_MID":
		_, values, _ = talib.BBands(in.Close, params["period"], 2, 2, talib.SMA)
	case "BBANDS_LOWER":
		_, _, values = talib.BBands(in.Close, params["period"], 2, 2, talib.SMA)
	case "STOCH_K":
		values, _ = talib.Stoch(in.High, in.Low, in.Close, params["fastk"], params["slowk"], talib.SMA, 3, talib.SMA)
	case "AROON_UP":
		_, values = talib.Aroon(in.High, in.Low, params["period"])
	case "AROON_DOWN":
		values, _ = talib.Aroon(in.High, in.Low, params["period"])
	case "AROON_OSC":
		values = talib.AroonOsc(in.High, in.Low, params["period"])
	case "VOLATILITY":
		values = rollingVolatility(in.Close, params["period"])
	case "RETURN":
		values = trailingReturn(in.Close, params["period"])
	case "MAX_DRAWDOWN":
		values = rollingMaxDrawdown(in.Close, params["period"])
	default:
		return nil, fmt.Errorf("unsupported indicator %q", name)
	}

	// go-talib pads the lookback region with zeros; mask it to NaN so warmup
	// values are never mistaken for real ones.
	warmup := BaseWarmup(name, params)
	for i := 0; i < warmup && i < len(values); i++ {
		values[i] = math.NaN()
	}
	return values, nil
}

func normalizeForCompute(name string, params map[string]int) (string, map[string]int) {
	canonical := NormalizeName(name)
	defs := paramOrder[canonical]
	full := make(map[string]int, len(defs))
	for _, def := range defs {
		if v, ok := params[def.name]; ok && v > 0 {
			full[def.name] = v
		} else {
			full[def.name] = def.fallback
		}
	}
	return canonical, full
}

// trailingReturn is close[i]/close[i-period] - 1.
func trailingReturn(close []float64, period int) []float64 {
	values := make([]float64, len(close))
	for i := range close {
		if i < period || close[i-period] == 0 {
			values[i] = math.NaN()
			continue
		}
		values[i] = close[i]/close[i-period] - 1
	}
	return values
}

// rollingVolatility is the annualized stdev of the trailing period's daily
// returns.
func rollingVolatility(close []float64, period int) []float64 {
	values := make([]float64, len(close))
	for i := range close {
		if i < period {
			values[i] = math.NaN()
			continue
		}
		var returns []float64
		for j := i - period + 1; j <= i; j++ {
			if close[j-1] == 0 {
				continue
			}
			returns = append(returns, close[j]/close[j-1]-1)
		}
		if len(returns) < 2 {
			values[i] = math.NaN()
			continue
		}
		mean := 0.0
		for _, r := range returns {
			mean += r
		}
		mean /= float64(len(returns))
		variance := 0.0
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns) - 1)
		values[i] = math.Sqrt(variance) * math.Sqrt(252)
	}
	return values
}

// rollingMaxDrawdown is the max peak-to-trough loss over the trailing window.
func rollingMaxDrawdown(close []float64, period int) []float64 {
	values := make([]float64, len(close))
	for i := range close {
		if i < period {
			values[i] = math.NaN()
			continue
		}
		peak := close[i-period]
		maxDD := 0.0
		for j := i - period; j <= i; j++ {
			if close[j] > peak {
				peak = close[j]
			}
			if peak > 0 {
				dd := (peak - close[j]) / peak
				if dd > maxDD {
					maxDD = dd
				}
			}
		}
		values[i] = maxDD
	}
	return values
}
