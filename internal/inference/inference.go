// Package inference calls the fraud model that maps a normalized feature
// vector to a probability.
package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Model predicts the fraud probability for one normalized vector.
// Implementations must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, vec domain.FeatureVector) (float64, error)

	// Type names the backend, e.g. "http".
	Type() string
}

// New creates a model client based on configuration. bus is only used by
// the "bus" type and may be nil otherwise.
func New(cfg domain.ModelConfig, bus domain.EventBus) (Model, error) {
	switch cfg.Type {
	case "http":
		return NewHTTPModel(cfg.URL, cfg.Timeout)

	case "bus":
		if bus == nil {
			return nil, fmt.Errorf("bus model requires an event bus")
		}
		return NewBusModel(bus, cfg.Timeout), nil

	case "logistic":
		return LoadLogisticModel(cfg.Path)

	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
}

// checkOutput rejects values no probability can take. Range checking is left
// to the decision stage.
func checkOutput(p float64) (float64, error) {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, fmt.Errorf("%w: non-finite value %v", domain.ErrInvalidModelOutput, p)
	}
	return p, nil
}
