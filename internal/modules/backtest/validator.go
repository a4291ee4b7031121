package backtest

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
)

// weightSumTolerance bounds rounding noise in defined weight groups.
const weightSumTolerance = 0.01

// FieldError is one structural or semantic problem, keyed by element and field.
type FieldError struct {
	ElementID string `json:"elementId"`
	Field     string `json:"field"`
	Message   string `json:"message"`
}

// ValidationResult collects errors (fatal) and warnings (advisory).
type ValidationResult struct {
	Errors   []FieldError `json:"errors,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
}

// Valid reports whether the tree may be executed.
func (r ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// Validate checks a strategy tree against the structural invariants. It is a
// pure function: no I/O, no mutation of the tree.
func Validate(root *domain.Element) ValidationResult {
	var res ValidationResult
	if root == nil {
		res.Errors = append(res.Errors, FieldError{Field: "elements", Message: "strategy tree is empty"})
		return res
	}

	seenIDs := map[string]bool{}
	hasTickerLeaf := false

	root.Walk(func(el *domain.Element) {
		if el.ID == "" {
			res.Errors = append(res.Errors, FieldError{Field: "id", Message: "element is missing an id"})
		} else if seenIDs[el.ID] {
			res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "id", Message: "duplicate element id"})
		}
		seenIDs[el.ID] = true

		switch el.Type {
		case domain.ElementTicker:
			hasTickerLeaf = true
			validateTicker(el, &res)
		case domain.ElementWeight:
			validateWeight(el, &res)
		case domain.ElementGate:
			validateGate(el, &res)
		case domain.ElementScale:
			validateScale(el, &res)
		case domain.ElementSort:
			validateSort(el, &res)
		default:
			res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "type", Message: fmt.Sprintf("unknown element type %q", el.Type)})
		}
	})

	if !hasTickerLeaf {
		res.Errors = append(res.Errors, FieldError{ElementID: root.ID, Field: "children", Message: "strategy has no ticker leaves"})
	}

	if root.Weight != 0 && math.Abs(root.Weight-100) > weightSumTolerance {
		res.Errors = append(res.Errors, FieldError{ElementID: root.ID, Field: "weight", Message: fmt.Sprintf("top-level weight must be 100, got %.2f", root.Weight)})
	}

	return res
}

func validateTicker(el *domain.Element, res *ValidationResult) {
	if el.Symbol == "" {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "symbol", Message: "ticker element has no symbol"})
		return
	}
	if el.Symbol != strings.ToUpper(el.Symbol) {
		res.Warnings = append(res.Warnings, fmt.Sprintf("element %s: symbol %q is not canonical uppercase", el.ID, el.Symbol))
	}
}

func validateWeight(el *domain.Element, res *ValidationResult) {
	if el.Mode != domain.WeightModeEqual && el.Mode != domain.WeightModeDefined {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "mode", Message: fmt.Sprintf("invalid weight mode %q", el.Mode)})
	}
	if len(el.Children) == 0 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "children", Message: "weight group has no children"})
		return
	}
	if el.Mode == domain.WeightModeDefined {
		sum := 0.0
		for _, child := range el.Children {
			sum += child.Weight
		}
		if math.Abs(sum-100) > weightSumTolerance {
			res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "children", Message: fmt.Sprintf("defined weights sum to %.2f, expected 100", sum)})
		}
	}
}

func validateGate(el *domain.Element, res *ValidationResult) {
	switch el.Mode {
	case domain.GateModeIf, domain.GateModeIfAll, domain.GateModeIfAny, domain.GateModeIfNone:
	default:
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "mode", Message: fmt.Sprintf("invalid gate mode %q", el.Mode)})
	}
	if len(el.Conditions) == 0 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "conditions", Message: "gate has no conditions"})
	}
	for i, cond := range el.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)
		validateIndicatorRef(el.ID, field+".lhs", cond.LHS, res)
		if !validOperator(cond.Operator) {
			res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: field + ".operator", Message: fmt.Sprintf("invalid operator %q", cond.Operator)})
		}
		hasValue := cond.RHSValue != nil
		hasIndicator := cond.RHSIndicator != nil
		if hasValue == hasIndicator {
			res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: field, Message: "condition needs exactly one of rhsValue and rhsIndicator"})
		}
		if hasIndicator {
			validateIndicatorRef(el.ID, field+".rhsIndicator", *cond.RHSIndicator, res)
		}
	}
	if len(el.ThenChildren) == 0 && len(el.ElseChildren) == 0 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "thenChildren", Message: "gate has neither then nor else children"})
	} else if len(el.ThenChildren) == 0 || len(el.ElseChildren) == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("element %s: gate has an empty branch; its weight redistributes when taken", el.ID))
	}
}

func validateScale(el *domain.Element, res *ValidationResult) {
	if el.Scale == nil {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "scale", Message: "scale element has no config"})
		return
	}
	validateIndicatorRef(el.ID, "scale.indicator", el.Scale.Indicator, res)
	if el.Scale.RangeMin == el.Scale.RangeMax {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "scale.rangeMax", Message: "scale range is degenerate (min = max)"})
	}
	if len(el.FromChildren) == 0 && len(el.ToChildren) == 0 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "fromChildren", Message: "scale has neither from nor to children"})
	} else if len(el.FromChildren) == 0 || len(el.ToChildren) == 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("element %s: scale has an empty branch; its share redistributes", el.ID))
	}
}

func validateSort(el *domain.Element, res *ValidationResult) {
	if el.Sort == nil {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "sort", Message: "sort element has no config"})
		return
	}
	validateIndicatorRefParams(el.ID, "sort.indicator", el.Sort.Indicator, res, false)
	if el.Sort.Direction != domain.SortTop && el.Sort.Direction != domain.SortBottom {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "sort.direction", Message: fmt.Sprintf("invalid sort direction %q", el.Sort.Direction)})
	}
	if el.Sort.Count < 1 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "sort.count", Message: "sort count must be at least 1"})
	}
	if len(el.Children) == 0 {
		res.Errors = append(res.Errors, FieldError{ElementID: el.ID, Field: "children", Message: "sort has no children"})
	}
}

func validateIndicatorRef(elementID, field string, ref domain.IndicatorRef, res *ValidationResult) {
	validateIndicatorRefParams(elementID, field, ref, res, true)
}

// validateIndicatorRefParams checks an indicator reference. Sort indicators
// run over synthetic series, so their ticker field is ignored.
func validateIndicatorRefParams(elementID, field string, ref domain.IndicatorRef, res *ValidationResult, requireTicker bool) {
	if requireTicker && ref.Ticker == "" {
		res.Errors = append(res.Errors, FieldError{ElementID: elementID, Field: field + ".ticker", Message: "indicator has no ticker"})
	}
	if !indicators.Known(ref.Name) {
		res.Errors = append(res.Errors, FieldError{ElementID: elementID, Field: field + ".name", Message: fmt.Sprintf("unknown indicator %q", ref.Name)})
	}
	for name, v := range ref.Params {
		if v < 0 {
			res.Errors = append(res.Errors, FieldError{ElementID: elementID, Field: field + ".params." + name, Message: "parameter must be positive"})
		}
		if v > 500 {
			res.Warnings = append(res.Warnings, fmt.Sprintf("element %s: %s period %d is excessively long", elementID, ref.Name, v))
		}
	}
}

func validOperator(op string) bool {
	switch op {
	case ">", "<", ">=", "<=", "=", "!=", "≥", "≤", "≠":
		return true
	}
	return false
}
