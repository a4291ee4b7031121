package backtest

import (
	"math"

	"github.com/aristath/hindsight/pkg/formulas"
)

// computeMetrics summarizes an equity curve normalized to 1.0 at its start.
func computeMetrics(curve []float64) Metrics {
	if len(curve) < 2 {
		return Metrics{}
	}

	daily := formulas.CalculateReturns(curve)
	totalReturn := curve[len(curve)-1]/curve[0] - 1

	n := float64(len(daily))
	cagr := math.Pow(1+totalReturn, 252/n) - 1

	volatility := formulas.AnnualizedVolatility(daily)

	sharpe := 0.0
	if volatility > 0 {
		sharpe = cagr / volatility
	}

	var negative []float64
	for _, r := range daily {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	downside := formulas.AnnualizedVolatility(negative)
	sortino := 0.0
	if downside > 0 {
		sortino = cagr / downside
	}

	return Metrics{
		TotalReturn:          totalReturn,
		CAGR:                 cagr,
		AnnualizedVolatility: volatility,
		Sharpe:               sharpe,
		Sortino:              sortino,
		MaxDrawdown:          formulas.CalculateMaxDrawdown(curve),
	}
}
