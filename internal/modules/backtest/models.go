// Package backtest contains the strategy backtest core: validation, the
// warmup calculator, the single-date executor, the sort pre-simulation
// runtime and the day-by-day simulation driver.
package backtest

import "github.com/aristath/hindsight/internal/domain"

// Request is one backtest invocation.
type Request struct {
	Elements  *domain.Element `json:"elements"`
	StartDate string          `json:"startDate"` // YYYY-MM-DD or "max"
	EndDate   string          `json:"endDate,omitempty"`
	Debug     bool            `json:"debug,omitempty"`
}

// Metrics summarizes one equity curve.
type Metrics struct {
	TotalReturn          float64 `json:"totalReturn"`
	CAGR                 float64 `json:"cagr"`
	AnnualizedVolatility float64 `json:"annualizedVolatility"`
	Sharpe               float64 `json:"sharpe"`
	Sortino              float64 `json:"sortino"`
	MaxDrawdown          float64 `json:"maxDrawdown"`
}

// Benchmark is the SPY buy-and-hold curve over the same grid.
type Benchmark struct {
	Dates       []string  `json:"dates"`
	EquityCurve []float64 `json:"equityCurve"`
	Metrics     Metrics   `json:"metrics"`
}

// DailyPositions records the normalized allocation on one execution date.
type DailyPositions struct {
	Date      string             `json:"date"`
	Positions map[string]float64 `json:"positions"`
}

// StartDateAdjustment explains why the simulation starts later than asked.
type StartDateAdjustment struct {
	RequestedStart string `json:"requestedStart"`
	AdjustedStart  string `json:"adjustedStart"`
	Reason         string `json:"reason"`
}

// DebugDay carries per-date execution detail when debug is requested.
type DebugDay struct {
	Date            string           `json:"date"`
	Path            []string         `json:"path"`
	GateEvaluations []GateEvaluation `json:"gateEvaluations,omitempty"`
	Errors          []ElementError   `json:"errors,omitempty"`
}

// Result is the full backtest outcome.
type Result struct {
	ID                  string               `json:"id"`
	Dates               []string             `json:"dates"`
	EquityCurve         []float64            `json:"equityCurve"`
	Metrics             Metrics              `json:"metrics"`
	Benchmark           Benchmark            `json:"benchmark"`
	DailyPositions      []DailyPositions     `json:"dailyPositions"`
	StartDateAdjustment *StartDateAdjustment `json:"startDateAdjustment,omitempty"`
	Warnings            []string             `json:"warnings,omitempty"`
	Debug               []DebugDay           `json:"debug,omitempty"`
}
