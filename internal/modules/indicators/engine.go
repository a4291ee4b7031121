package indicators

import (
	"context"

	"github.com/aristath/hindsight/internal/clients/mathsvc"
)

// SeriesInput carries the chronologically aligned input arrays for one
// computation. High/Low/Volume are only populated when the indicator needs
// them.
type SeriesInput struct {
	Dates  []string
	Close  []float64
	High   []float64
	Low    []float64
	Volume []float64
}

// Engine computes one indicator over aligned inputs, returning one value per
// input index. Values inside the warmup region are NaN.
type Engine interface {
	Compute(ctx context.Context, name string, params map[string]int, in SeriesInput) ([]float64, error)
}

// RemoteEngine delegates to the indicator math service.
type RemoteEngine struct {
	client *mathsvc.Client
}

// NewRemoteEngine wraps a math service client.
func NewRemoteEngine(client *mathsvc.Client) *RemoteEngine {
	return &RemoteEngine{client: client}
}

// Compute implements Engine.
func (e *RemoteEngine) Compute(ctx context.Context, name string, params map[string]int, in SeriesInput) ([]float64, error) {
	req := mathsvc.Request{
		Indicator: name,
		Params:    params,
		Close:     in.Close,
		Prices:    in.Close,
	}
	if needsHighLow(name) {
		req.High = in.High
		req.Low = in.Low
	}
	if needsVolume(name) {
		req.Volume = in.Volume
	}
	return e.client.Compute(ctx, req)
}
