package mock

import (
	"context"
	"image"
	"log/slog"
	"sync"

	"github.com/DukeRupert/defectscan/internal/ai"
)

// Provider is a mock mold classifier for testing and development
type Provider struct {
	logger *slog.Logger

	mu sync.Mutex

	// Configurable responses for testing
	Unavailable     bool
	PredictResponse []ai.Prediction
	PredictError    error
	// PredictFunc, when set, overrides PredictResponse and PredictError
	PredictFunc func(frame image.Image, params ai.PredictParams) ([]ai.Prediction, error)

	// Call tracking for testing
	PredictCalls   int
	AvailableCalls int
	LastParams     ai.PredictParams
}

// New creates a new mock provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger: logger,
	}
}

// Available reports the configured availability
func (p *Provider) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AvailableCalls++
	return !p.Unavailable
}

// Predict returns a canned response with one mold box in the middle of the
// frame
func (p *Provider) Predict(ctx context.Context, frame image.Image, params ai.PredictParams) ([]ai.Prediction, error) {
	p.mu.Lock()
	p.PredictCalls++
	p.LastParams = params
	fn, resp, respErr := p.PredictFunc, p.PredictResponse, p.PredictError
	p.mu.Unlock()

	if fn != nil {
		return fn(frame, params)
	}
	if respErr != nil {
		return nil, respErr
	}
	if resp != nil {
		out := make([]ai.Prediction, len(resp))
		copy(out, resp)
		return out, nil
	}

	// Default canned response
	b := frame.Bounds()
	return []ai.Prediction{
		{
			X:          float64(b.Dx()) / 2,
			Y:          float64(b.Dy()) / 2,
			Width:      float64(b.Dx()) / 4,
			Height:     float64(b.Dy()) / 4,
			Confidence: 0.75,
			Class:      "mold",
		},
	}, nil
}

// Calls returns the number of Predict calls
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.PredictCalls
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PredictCalls = 0
	p.AvailableCalls = 0
	p.LastParams = ai.PredictParams{}
	p.Unavailable = false
	p.PredictResponse = nil
	p.PredictError = nil
	p.PredictFunc = nil
}
