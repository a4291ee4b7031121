// Package mathsvc provides a thin client for the indicator math service.
package mathsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client posts indicator compute requests to the math service.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a math service client.
func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("client", "mathsvc").Logger(),
	}
}

// Request is one indicator computation over aligned input arrays.
// Prices mirrors Close for services that name the field differently.
type Request struct {
	Indicator string         `json:"indicator"`
	Params    map[string]int `json:"params"`
	Close     []float64      `json:"close"`
	Prices    []float64      `json:"prices"`
	High      []float64      `json:"high,omitempty"`
	Low       []float64      `json:"low,omitempty"`
	Volume    []float64      `json:"volume,omitempty"`
}

type response struct {
	Values []*float64 `json:"values"`
}

// Compute returns one value per input index. Null service outputs become NaN,
// which callers treat as "not yet warmed up".
func (c *Client) Compute(ctx context.Context, req Request) ([]float64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal indicator request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/indicator", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build indicator request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("indicator request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("math service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode indicator response: %w", err)
	}

	if len(out.Values) != len(req.Close) {
		return nil, fmt.Errorf("math service returned %d values for %d inputs", len(out.Values), len(req.Close))
	}

	values := make([]float64, len(out.Values))
	for i, v := range out.Values {
		if v == nil {
			values[i] = math.NaN()
		} else {
			values[i] = *v
		}
	}
	return values, nil
}
