package domain

import (
	"errors"
	"fmt"
)

// ErrorKind identifies the surfaced category of a backtest failure.
type ErrorKind string

const (
	KindInvalidStrategy        ErrorKind = "InvalidStrategy"
	KindUpstreamFetchFailed    ErrorKind = "UpstreamFetchFailed"
	KindIndicatorComputeFailed ErrorKind = "IndicatorComputeFailed"
	KindMissingIndicator       ErrorKind = "MissingIndicator"
	KindInsufficientWarmup     ErrorKind = "InsufficientWarmup"
	KindBenchmarkFlat          ErrorKind = "BenchmarkFlat"
	KindCacheUnavailable       ErrorKind = "CacheUnavailable"
)

// Error is a categorized backtest error. ElementID points at the culprit
// strategy element when one can be identified.
type Error struct {
	Kind      ErrorKind
	Message   string
	ElementID string
	Cause     error
}

func (e *Error) Error() string {
	if e.ElementID != "" {
		return fmt.Sprintf("%s: %s (element %s)", e.Kind, e.Message, e.ElementID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a categorized error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewElementError creates a categorized error attributed to a strategy element.
func NewElementError(kind ErrorKind, elementID, message string) *Error {
	return &Error{Kind: kind, Message: message, ElementID: elementID}
}

// WrapError wraps a cause with a categorized error.
func WrapError(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the ErrorKind from err, or empty when err is not a domain error.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
