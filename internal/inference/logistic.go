package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LogisticModel is an in-process logistic regression over the normalized
// feature vector.
type LogisticModel struct {
	weights []float64
	bias    float64
}

// logisticFile is the on-disk weights format.
type logisticFile struct {
	Features []string  `json:"features"`
	Weights  []float64 `json:"weights"`
	Bias     float64   `json:"bias"`
}

// NewLogisticModel creates a model from explicit weights.
func NewLogisticModel(weights []float64, bias float64) (*LogisticModel, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: logistic model needs at least one weight", domain.ErrInvalidInput)
	}
	for _, w := range append([]float64{bias}, weights...) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: logistic model has a non-finite weight", domain.ErrInvalidInput)
		}
	}
	return &LogisticModel{
		weights: append([]float64(nil), weights...),
		bias:    bias,
	}, nil
}

// LoadLogisticModel reads weights from a JSON file. When the file lists
// feature names they must match the extractor schema.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logistic model: %w", err)
	}

	var f logisticFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to decode logistic model: %w", err)
	}

	if len(f.Features) > 0 {
		names := domain.FeatureNames()
		if len(f.Features) != len(names) {
			return nil, fmt.Errorf("%w: model has %d features, schema has %d", domain.ErrShapeMismatch, len(f.Features), len(names))
		}
		for i := range names {
			if f.Features[i] != names[i] {
				return nil, fmt.Errorf("%w: model feature %d is %q, schema expects %q", domain.ErrShapeMismatch, i, f.Features[i], names[i])
			}
		}
	}

	return NewLogisticModel(f.Weights, f.Bias)
}

// Predict returns sigmoid(w·x + b). A width mismatch means the weights were
// trained for another schema and is reported as a model fault.
func (m *LogisticModel) Predict(ctx context.Context, vec domain.FeatureVector) (float64, error) {
	if len(vec) != len(m.weights) {
		return 0, fmt.Errorf("%w: vector has %d features, model expects %d", domain.ErrInvalidModelOutput, len(vec), len(m.weights))
	}

	z := m.bias
	for i, x := range vec {
		z += m.weights[i] * x
	}
	return checkOutput(1 / (1 + math.Exp(-z)))
}

// Type returns "logistic".
func (m *LogisticModel) Type() string {
	return "logistic"
}
