package domain

// ElementType tags the strategy element variants.
type ElementType string

const (
	ElementTicker ElementType = "ticker"
	ElementWeight ElementType = "weight"
	ElementGate   ElementType = "gate"
	ElementScale  ElementType = "scale"
	ElementSort   ElementType = "sort"
)

// Weight group modes.
const (
	WeightModeEqual   = "equal"
	WeightModeDefined = "defined"
)

// Gate modes.
const (
	GateModeIf     = "if"
	GateModeIfAll  = "if_all"
	GateModeIfAny  = "if_any"
	GateModeIfNone = "if_none"
)

// Sort directions.
const (
	SortTop    = "top"
	SortBottom = "bottom"
)

// IndicatorRef names an indicator applied to one ticker. Params omitted by the
// caller are filled with the indicator's canonical defaults before use.
type IndicatorRef struct {
	Ticker string         `json:"ticker"`
	Name   string         `json:"name"`
	Params map[string]int `json:"params,omitempty"`
}

// Condition is a single gate comparison. Exactly one of RHSValue and
// RHSIndicator is set.
type Condition struct {
	LHS          IndicatorRef  `json:"lhs"`
	Operator     string        `json:"operator"` // > < >= <= = !=
	RHSValue     *float64      `json:"rhsValue,omitempty"`
	RHSIndicator *IndicatorRef `json:"rhsIndicator,omitempty"`
}

// ScaleConfig configures a linear-interpolation scale element.
type ScaleConfig struct {
	Indicator IndicatorRef `json:"indicator"`
	RangeMin  float64      `json:"rangeMin"`
	RangeMax  float64      `json:"rangeMax"`
}

// SortConfig configures a sort element.
type SortConfig struct {
	Indicator IndicatorRef `json:"indicator"`
	Direction string       `json:"direction"` // top | bottom
	Count     int          `json:"count"`
}

// Element is a node of the strategy tree. Type selects the variant; the
// variant-specific fields of the other types stay zero.
type Element struct {
	ID     string      `json:"id"`
	Type   ElementType `json:"type"`
	Weight float64     `json:"weight"` // percent within a defined-weight parent

	// ticker
	Symbol string `json:"symbol,omitempty"`

	// weight group
	Mode     string     `json:"mode,omitempty"` // weight: equal|defined, gate: if|if_all|if_any|if_none
	Children []*Element `json:"children,omitempty"`

	// gate
	Conditions   []Condition `json:"conditions,omitempty"`
	ThenChildren []*Element  `json:"thenChildren,omitempty"`
	ElseChildren []*Element  `json:"elseChildren,omitempty"`

	// scale
	Scale        *ScaleConfig `json:"scale,omitempty"`
	FromChildren []*Element   `json:"fromChildren,omitempty"`
	ToChildren   []*Element   `json:"toChildren,omitempty"`

	// sort
	Sort *SortConfig `json:"sort,omitempty"`
}

// ChildGroups returns the element's child lists. Gates and scales have two
// branches, everything else at most one.
func (e *Element) ChildGroups() [][]*Element {
	switch e.Type {
	case ElementGate:
		return [][]*Element{e.ThenChildren, e.ElseChildren}
	case ElementScale:
		return [][]*Element{e.FromChildren, e.ToChildren}
	default:
		return [][]*Element{e.Children}
	}
}

// Walk visits every element of the tree depth first, parents before children.
func (e *Element) Walk(visit func(*Element)) {
	if e == nil {
		return
	}
	visit(e)
	for _, group := range e.ChildGroups() {
		for _, child := range group {
			child.Walk(visit)
		}
	}
}

// Tickers returns the distinct ticker symbols reachable in the tree,
// including symbols referenced only by indicator conditions.
func (e *Element) Tickers() []string {
	seen := map[string]bool{}
	var out []string
	add := func(sym string) {
		if sym != "" && !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}
	e.Walk(func(el *Element) {
		if el.Type == ElementTicker {
			add(el.Symbol)
		}
		for _, c := range el.Conditions {
			add(c.LHS.Ticker)
			if c.RHSIndicator != nil {
				add(c.RHSIndicator.Ticker)
			}
		}
		if el.Scale != nil {
			add(el.Scale.Indicator.Ticker)
		}
	})
	return out
}

// Clone deep-copies the subtree rooted at e.
func (e *Element) Clone() *Element {
	if e == nil {
		return nil
	}
	dup := *e
	dup.Children = cloneElements(e.Children)
	dup.ThenChildren = cloneElements(e.ThenChildren)
	dup.ElseChildren = cloneElements(e.ElseChildren)
	dup.FromChildren = cloneElements(e.FromChildren)
	dup.ToChildren = cloneElements(e.ToChildren)
	if e.Conditions != nil {
		dup.Conditions = make([]Condition, len(e.Conditions))
		copy(dup.Conditions, e.Conditions)
	}
	if e.Scale != nil {
		sc := *e.Scale
		dup.Scale = &sc
	}
	if e.Sort != nil {
		so := *e.Sort
		dup.Sort = &so
	}
	return &dup
}

func cloneElements(els []*Element) []*Element {
	if els == nil {
		return nil
	}
	out := make([]*Element, len(els))
	for i, el := range els {
		out[i] = el.Clone()
	}
	return out
}

// Position is one allocated holding after execution.
type Position struct {
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"` // percent, positions sum to 100 after normalization
}
