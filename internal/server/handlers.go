package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/aristath/hindsight/internal/domain"
	"github.com/aristath/hindsight/internal/modules/backtest"
)

// BacktestHandlers exposes the backtest engine over HTTP.
type BacktestHandlers struct {
	driver *backtest.Driver
	log    zerolog.Logger
}

// NewBacktestHandlers creates backtest handlers.
func NewBacktestHandlers(driver *backtest.Driver, log zerolog.Logger) *BacktestHandlers {
	return &BacktestHandlers{
		driver: driver,
		log:    log.With().Str("component", "backtest_handlers").Logger(),
	}
}

// errorResponse is the JSON error envelope.
type errorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	ElementID string `json:"elementId,omitempty"`
}

// HandleRun runs a backtest.
// POST /api/backtest
func (h *BacktestHandlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Kind:  string(domain.KindInvalidStrategy),
		})
		return
	}
	if req.Elements == nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Error: "elements is required",
			Kind:  string(domain.KindInvalidStrategy),
		})
		return
	}

	result, err := h.driver.Run(r.Context(), req)
	if err != nil {
		h.writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleValidate validates a strategy tree without running it.
// POST /api/backtest/validate
func (h *BacktestHandlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req backtest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Error: "invalid JSON body: " + err.Error(),
			Kind:  string(domain.KindInvalidStrategy),
		})
		return
	}
	if req.Elements == nil {
		writeError(w, http.StatusBadRequest, errorResponse{
			Error: "elements is required",
			Kind:  string(domain.KindInvalidStrategy),
		})
		return
	}

	writeJSON(w, http.StatusOK, backtest.Validate(req.Elements))
}

// writeRunError maps engine error kinds to HTTP statuses.
func (h *BacktestHandlers) writeRunError(w http.ResponseWriter, err error) {
	var domErr *domain.Error
	if !errors.As(err, &domErr) {
		h.log.Error().Err(err).Msg("Backtest failed")
		writeError(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	status := http.StatusInternalServerError
	switch domErr.Kind {
	case domain.KindInvalidStrategy:
		status = http.StatusBadRequest
	case domain.KindInsufficientWarmup:
		status = http.StatusUnprocessableEntity
	case domain.KindUpstreamFetchFailed, domain.KindIndicatorComputeFailed:
		status = http.StatusBadGateway
	}

	h.log.Warn().
		Str("kind", string(domErr.Kind)).
		Str("element", domErr.ElementID).
		Msg(domErr.Message)

	writeError(w, status, errorResponse{
		Error:     domErr.Message,
		Kind:      string(domErr.Kind),
		ElementID: domErr.ElementID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}
