package backtest

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/indicators"
)

const (
	// weightEpsilon is the threshold below which allocated weight is noise.
	weightEpsilon = 1e-9
	// tieEpsilon groups sort scores that differ by floating-point dust.
	tieEpsilon = 1e-9
)

// IndicatorValues resolves indicator lookups at one decision date.
type IndicatorValues interface {
	Value(ticker, name, fingerprint string) (float64, bool)
}

// DateTable adapts an IndicatorSeries to a single decision date.
type DateTable struct {
	Series domain.IndicatorSeries
	Date   string
}

// Value implements IndicatorValues.
func (t DateTable) Value(ticker, name, fingerprint string) (float64, bool) {
	return t.Series.Value(ticker, name, fingerprint, t.Date)
}

// GateEvaluation records one gate decision for debugging.
type GateEvaluation struct {
	ElementID string `json:"elementId"`
	Result    bool   `json:"result"`
}

// ElementError is an evaluation failure local to one element. The element's
// weight becomes unallocated; the evaluation as a whole never fails.
type ElementError struct {
	ElementID string           `json:"elementId"`
	Kind      domain.ErrorKind `json:"kind"`
	Message   string           `json:"message"`
}

// ExecResult is the outcome of evaluating the tree at one decision date.
type ExecResult struct {
	Positions   []domain.Position
	Path        []string
	GateEvals   []GateEvaluation
	Errors      []ElementError
	Unallocated float64 // weight no element could place, after root redistribution
}

// execState threads the collected path, gate log and errors through the
// recursion.
type execState struct {
	table IndicatorValues
	path  []string
	gates []GateEvaluation
	errs  []ElementError
}

// Execute evaluates the strategy tree at a single decision date. It is a pure
// function of the tree and the indicator table: no I/O, deterministic, and a
// failure inside one element only costs that element's weight.
func Execute(root *domain.Element, table IndicatorValues) ExecResult {
	st := &execState{table: table}
	positions, unallocated := st.evalElement(root, 100)

	// Root-level residual: spread across whatever was allocated.
	positions, unallocated = redistribute(positions, unallocated)

	return ExecResult{
		Positions:   aggregate(positions),
		Path:        st.path,
		GateEvals:   st.gates,
		Errors:      st.errs,
		Unallocated: unallocated,
	}
}

// evalElement returns the positions produced under el for baseWeight percent,
// plus the share of baseWeight it could not place.
func (st *execState) evalElement(el *domain.Element, baseWeight float64) (positions []domain.Position, unallocated float64) {
	if el == nil || baseWeight <= weightEpsilon {
		return nil, 0
	}

	defer func() {
		if r := recover(); r != nil {
			st.errs = append(st.errs, ElementError{
				ElementID: el.ID,
				Kind:      domain.KindIndicatorComputeFailed,
				Message:   fmt.Sprintf("evaluation panicked: %v", r),
			})
			positions = nil
			unallocated = baseWeight
		}
	}()

	st.path = append(st.path, el.ID)

	switch el.Type {
	case domain.ElementTicker:
		return []domain.Position{{Ticker: el.Symbol, Weight: baseWeight}}, 0
	case domain.ElementWeight:
		return st.evalWeightGroup(el, baseWeight)
	case domain.ElementGate:
		return st.evalGate(el, baseWeight)
	case domain.ElementScale:
		return st.evalScale(el, baseWeight)
	case domain.ElementSort:
		return st.evalSort(el, baseWeight)
	default:
		st.errs = append(st.errs, ElementError{ElementID: el.ID, Kind: domain.KindInvalidStrategy, Message: fmt.Sprintf("unknown element type %q", el.Type)})
		return nil, baseWeight
	}
}

func (st *execState) evalWeightGroup(el *domain.Element, baseWeight float64) ([]domain.Position, float64) {
	if len(el.Children) == 0 {
		return nil, baseWeight
	}

	var shares []float64
	if el.Mode == domain.WeightModeDefined {
		sum := 0.0
		for _, child := range el.Children {
			if child.Weight > 0 {
				sum += child.Weight
			}
		}
		if sum <= weightEpsilon {
			return nil, baseWeight
		}
		shares = make([]float64, len(el.Children))
		for i, child := range el.Children {
			if child.Weight > 0 {
				shares[i] = baseWeight * child.Weight / sum
			}
		}
	} else {
		// equal mode redistributes uniformly regardless of stated weights
		shares = make([]float64, len(el.Children))
		for i := range el.Children {
			shares[i] = baseWeight / float64(len(el.Children))
		}
	}

	return st.evalShares(el.Children, shares)
}

// evalChildrenWeighted allocates baseWeight across a branch's children: by
// stated weight when any is positive, equally otherwise.
func (st *execState) evalChildrenWeighted(children []*domain.Element, baseWeight float64) ([]domain.Position, float64) {
	if len(children) == 0 {
		return nil, baseWeight
	}

	sum := 0.0
	for _, child := range children {
		if child.Weight > 0 {
			sum += child.Weight
		}
	}

	shares := make([]float64, len(children))
	for i, child := range children {
		if sum > weightEpsilon {
			if child.Weight > 0 {
				shares[i] = baseWeight * child.Weight / sum
			}
		} else {
			shares[i] = baseWeight / float64(len(children))
		}
	}

	return st.evalShares(children, shares)
}

// evalShares runs the children with their assigned shares and applies the
// sibling redistribution rule: residual weight from empty children scales up
// the siblings that did produce positions; when nobody produced anything the
// whole residual bubbles further up.
func (st *execState) evalShares(children []*domain.Element, shares []float64) ([]domain.Position, float64) {
	var positions []domain.Position
	residual := 0.0
	for i, child := range children {
		if shares[i] <= weightEpsilon {
			continue
		}
		childPos, childResidual := st.evalElement(child, shares[i])
		positions = append(positions, childPos...)
		residual += childResidual
	}
	return redistribute(positions, residual)
}

func (st *execState) evalGate(el *domain.Element, baseWeight float64) ([]domain.Position, float64) {
	result := false
	for i, cond := range el.Conditions {
		condResult, err := st.evalCondition(el.ID, cond)
		if err != nil {
			st.errs = append(st.errs, *err)
			return nil, baseWeight
		}

		switch el.Mode {
		case domain.GateModeIf:
			if i == 0 {
				result = condResult
			}
		case domain.GateModeIfAll:
			if i == 0 {
				result = true
			}
			result = result && condResult
		case domain.GateModeIfAny, domain.GateModeIfNone:
			if i == 0 {
				result = false
			}
			result = result || condResult
		default:
			st.errs = append(st.errs, ElementError{ElementID: el.ID, Kind: domain.KindInvalidStrategy, Message: fmt.Sprintf("unknown gate mode %q", el.Mode)})
			return nil, baseWeight
		}
	}
	if el.Mode == domain.GateModeIfNone {
		result = !result
	}

	st.gates = append(st.gates, GateEvaluation{ElementID: el.ID, Result: result})

	branch := el.ThenChildren
	if !result {
		branch = el.ElseChildren
	}
	return st.evalChildrenWeighted(branch, baseWeight)
}

func (st *execState) evalCondition(elementID string, cond domain.Condition) (bool, *ElementError) {
	lhs, ok := st.lookup(cond.LHS)
	if !ok {
		return false, &ElementError{
			ElementID: elementID,
			Kind:      domain.KindMissingIndicator,
			Message:   fmt.Sprintf("no %s value for %s at decision date", cond.LHS.Name, cond.LHS.Ticker),
		}
	}

	var rhs float64
	switch {
	case cond.RHSValue != nil:
		rhs = *cond.RHSValue
	case cond.RHSIndicator != nil:
		v, ok := st.lookup(*cond.RHSIndicator)
		if !ok {
			return false, &ElementError{
				ElementID: elementID,
				Kind:      domain.KindMissingIndicator,
				Message:   fmt.Sprintf("no %s value for %s at decision date", cond.RHSIndicator.Name, cond.RHSIndicator.Ticker),
			}
		}
		rhs = v
	default:
		return false, &ElementError{ElementID: elementID, Kind: domain.KindInvalidStrategy, Message: "condition has no right-hand side"}
	}

	return compare(lhs, cond.Operator, rhs), nil
}

func (st *execState) lookup(ref domain.IndicatorRef) (float64, bool) {
	name, params := indicators.Normalize(ref)
	return st.table.Value(ref.Ticker, name, indicators.Fingerprint(name, params))
}

func compare(lhs float64, op string, rhs float64) bool {
	switch op {
	case ">":
		return lhs > rhs
	case "<":
		return lhs < rhs
	case ">=", "≥":
		return lhs >= rhs
	case "<=", "≤":
		return lhs <= rhs
	case "=":
		return math.Abs(lhs-rhs) <= tieEpsilon
	case "!=", "≠":
		return math.Abs(lhs-rhs) > tieEpsilon
	}
	return false
}

func (st *execState) evalScale(el *domain.Element, baseWeight float64) ([]domain.Position, float64) {
	if el.Scale == nil {
		st.errs = append(st.errs, ElementError{ElementID: el.ID, Kind: domain.KindInvalidStrategy, Message: "scale element has no config"})
		return nil, baseWeight
	}

	v, ok := st.lookup(el.Scale.Indicator)
	if !ok {
		st.errs = append(st.errs, ElementError{
			ElementID: el.ID,
			Kind:      domain.KindMissingIndicator,
			Message:   fmt.Sprintf("no %s value for %s at decision date", el.Scale.Indicator.Name, el.Scale.Indicator.Ticker),
		})
		return nil, baseWeight
	}

	span := el.Scale.RangeMax - el.Scale.RangeMin
	if span == 0 {
		st.errs = append(st.errs, ElementError{ElementID: el.ID, Kind: domain.KindInvalidStrategy, Message: "scale range is degenerate"})
		return nil, baseWeight
	}
	fraction := (v - el.Scale.RangeMin) / span
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}

	fromPos, fromResidual := st.evalChildrenWeighted(el.FromChildren, baseWeight*(1-fraction))
	toPos, toResidual := st.evalChildrenWeighted(el.ToChildren, baseWeight*fraction)

	return redistribute(append(fromPos, toPos...), fromResidual+toResidual)
}

func (st *execState) evalSort(el *domain.Element, baseWeight float64) ([]domain.Position, float64) {
	if el.Sort == nil || len(el.Children) == 0 {
		st.errs = append(st.errs, ElementError{ElementID: el.ID, Kind: domain.KindInvalidStrategy, Message: "sort element is not runnable"})
		return nil, baseWeight
	}

	name, params := indicators.Normalize(el.Sort.Indicator)
	fingerprint := indicators.Fingerprint(name, params)

	type scored struct {
		child *domain.Element
		score float64
	}
	var ranked []scored
	for _, child := range el.Children {
		score, ok := st.table.Value(domain.SyntheticTicker(el.ID, child.ID), name, fingerprint)
		if !ok {
			st.errs = append(st.errs, ElementError{
				ElementID: el.ID,
				Kind:      domain.KindMissingIndicator,
				Message:   fmt.Sprintf("no synthetic %s value for child %s at decision date", name, child.ID),
			})
			continue
		}
		ranked = append(ranked, scored{child: child, score: score})
	}
	if len(ranked) == 0 {
		return nil, baseWeight
	}

	descending := el.Sort.Direction == domain.SortTop
	sort.SliceStable(ranked, func(i, j int) bool {
		if descending {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].score < ranked[j].score
	})

	// Scores within tieEpsilon form one group; count selects whole groups, so
	// tied children enter or miss the selection together.
	var selected []*domain.Element
	groups := 0
	for i := 0; i < len(ranked); {
		if groups == el.Sort.Count {
			break
		}
		j := i
		for j < len(ranked) && math.Abs(ranked[j].score-ranked[i].score) <= tieEpsilon {
			selected = append(selected, ranked[j].child)
			j++
		}
		groups++
		i = j
	}

	return st.evalChildrenWeighted(selected, baseWeight)
}

// redistribute applies the residual rule at one level: residual weight scales
// up the positions that exist, or bubbles up when there are none.
func redistribute(positions []domain.Position, residual float64) ([]domain.Position, float64) {
	if residual <= weightEpsilon {
		return positions, residual
	}
	allocated := 0.0
	for _, p := range positions {
		allocated += p.Weight
	}
	if allocated <= weightEpsilon {
		return nil, residual
	}
	factor := (allocated + residual) / allocated
	for i := range positions {
		positions[i].Weight *= factor
	}
	return positions, 0
}

// aggregate sums weights per ticker, normalizes the total to 100 and returns
// positions in deterministic ticker order.
func aggregate(positions []domain.Position) []domain.Position {
	if len(positions) == 0 {
		return nil
	}

	byTicker := map[string]float64{}
	total := 0.0
	for _, p := range positions {
		byTicker[p.Ticker] += p.Weight
		total += p.Weight
	}
	if total <= weightEpsilon {
		return nil
	}

	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	out := make([]domain.Position, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, domain.Position{Ticker: t, Weight: byTicker[t] / total * 100})
	}
	return out
}
