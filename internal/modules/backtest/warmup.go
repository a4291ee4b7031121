package backtest

import (
	"fmt"
	"math"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
)

const (
	// warmupSafetyBuffer pads the root warmup total in trading days.
	warmupSafetyBuffer = 10
	// calendarFactor converts trading days to calendar days (weekend
	// approximation inherited from the original engine; holidays make it
	// slightly optimistic).
	calendarFactor = 1.4
)

// WarmupBreakdown explains how the effective start was derived, for
// user-visible adjustment messages.
type WarmupBreakdown struct {
	WarmupDays       int      `json:"warmupDays"`   // trading days, incl. safety buffer
	CalendarDays     int      `json:"calendarDays"` // after the 1.4x conversion
	EffectiveStart   string   `json:"effectiveStart"`
	LatestFirstDate  string   `json:"latestFirstDate"`
	LatestTickers    []string `json:"latestTickers"`    // most restrictive ticker(s)
	CulpritElementID string   `json:"culpritElementId"` // largest single warmup contributor
	CulpritDays      int      `json:"culpritDays"`
}

// ComputeWarmupDays returns the cumulative trading-day history the tree needs
// before its first valid execution, plus the element contributing the largest
// single share. Sorts are the only cumulative contributors: a sort must first
// simulate each child for the child's own warmup before its indicator sees a
// single equity point.
func ComputeWarmupDays(root *domain.Element) (int, string, int) {
	culpritID := ""
	culpritDays := -1

	var walk func(el *domain.Element) int
	walk = func(el *domain.Element) int {
		if el == nil {
			return 0
		}

		own := 0
		switch el.Type {
		case domain.ElementGate:
			for _, cond := range el.Conditions {
				if w := indicators.RefWarmup(cond.LHS); w > own {
					own = w
				}
				if cond.RHSIndicator != nil {
					if w := indicators.RefWarmup(*cond.RHSIndicator); w > own {
						own = w
					}
				}
			}
		case domain.ElementScale:
			if el.Scale != nil {
				own = indicators.RefWarmup(el.Scale.Indicator)
			}
		case domain.ElementSort:
			if el.Sort != nil {
				own = indicators.RefWarmup(el.Sort.Indicator)
			}
		}

		maxChild := 0
		for _, group := range el.ChildGroups() {
			for _, child := range group {
				if w := walk(child); w > maxChild {
					maxChild = w
				}
			}
		}

		if own > culpritDays {
			culpritDays = own
			culpritID = el.ID
		}

		if el.Type == domain.ElementSort {
			return maxChild + own
		}
		if own > maxChild {
			return own
		}
		return maxChild
	}

	total := walk(root)
	if culpritDays < 0 {
		culpritDays = 0
	}
	return total + warmupSafetyBuffer, culpritID, culpritDays
}

// EffectiveStart intersects data availability with the cumulative warmup to
// find the earliest executable date.
func EffectiveStart(root *domain.Element, prices domain.PriceSeries) (WarmupBreakdown, error) {
	warmupDays, culpritID, culpritDays := ComputeWarmupDays(root)

	latestFirst := ""
	for _, ticker := range root.Tickers() {
		first := prices.FirstDate(ticker)
		if first == "" {
			return WarmupBreakdown{}, domain.NewError(domain.KindInsufficientWarmup,
				fmt.Sprintf("no price history available for %s", ticker))
		}
		if first > latestFirst {
			latestFirst = first
		}
	}
	if latestFirst == "" {
		return WarmupBreakdown{}, domain.NewError(domain.KindInsufficientWarmup, "strategy references no tickers")
	}

	var latestTickers []string
	for _, ticker := range root.Tickers() {
		if prices.FirstDate(ticker) == latestFirst {
			latestTickers = append(latestTickers, ticker)
		}
	}

	calendarDays := int(math.Ceil(float64(warmupDays) * calendarFactor))

	return WarmupBreakdown{
		WarmupDays:       warmupDays,
		CalendarDays:     calendarDays,
		EffectiveStart:   domain.AddDays(latestFirst, calendarDays),
		LatestFirstDate:  latestFirst,
		LatestTickers:    latestTickers,
		CulpritElementID: culpritID,
		CulpritDays:      culpritDays,
	}, nil
}
