// Package normalize standardizes feature vectors with parameters learned
// from a reference population.
package normalize

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// degenerateTolerance treats a standard deviation this small, relative to the
// column mean, as zero. Constant columns rarely sum to an exact zero variance.
const degenerateTolerance = 10 * 2.220446049250313e-16

// Fit learns per-feature mean and population standard deviation over rows
// and returns the parameters together with the transformed rows.
func Fit(features []string, rows []domain.FeatureVector, policy domain.ZeroStdPolicy) (*domain.NormalizationParams, []domain.FeatureVector, error) {
	width := len(features)
	if width == 0 {
		return nil, nil, fmt.Errorf("%w: no features to fit", domain.ErrInvalidInput)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("%w: cannot fit on an empty corpus", domain.ErrInvalidInput)
	}
	if policy == "" {
		policy = domain.ZeroStdUnit
	}
	if policy != domain.ZeroStdUnit && policy != domain.ZeroStdReject {
		return nil, nil, fmt.Errorf("%w: unknown zero std policy %q", domain.ErrInvalidInput, policy)
	}

	n := float64(len(rows))
	mean := make([]float64, width)
	for i, row := range rows {
		if len(row) != width {
			return nil, nil, fmt.Errorf("%w: row %d has %d features, expected %d", domain.ErrShapeMismatch, i, len(row), width)
		}
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}

	std := make([]float64, width)
	for _, row := range rows {
		for j, v := range row {
			d := v - mean[j]
			std[j] += d * d
		}
	}

	scale := make([]float64, width)
	for j := range std {
		std[j] = math.Sqrt(std[j] / n)
		if std[j] <= degenerateTolerance*math.Max(1, math.Abs(mean[j])) {
			if policy == domain.ZeroStdReject {
				return nil, nil, fmt.Errorf("%w: feature %s has zero variance", domain.ErrDegenerateColumn, features[j])
			}
			std[j] = 0
			scale[j] = 1
			continue
		}
		scale[j] = std[j]
	}

	params := &domain.NormalizationParams{
		Version:       uuid.New().String(),
		SchemaVersion: domain.FeatureSchemaVersion,
		Features:      append([]string(nil), features...),
		Mean:          mean,
		Std:           std,
		Scale:         scale,
		Count:         len(rows),
		ZeroStdPolicy: policy,
		CreatedAt:     time.Now().UTC(),
	}

	out, err := Transform(params, rows)
	if err != nil {
		return nil, nil, err
	}
	return params, out, nil
}

// Apply scales a single vector. The input is not modified.
func Apply(params *domain.NormalizationParams, vec domain.FeatureVector) (domain.FeatureVector, error) {
	if params == nil {
		return nil, fmt.Errorf("%w: normalization parameters are not loaded", domain.ErrInvalidInput)
	}
	if len(vec) != params.Width() {
		return nil, fmt.Errorf("%w: vector has %d features, parameters expect %d", domain.ErrShapeMismatch, len(vec), params.Width())
	}

	out := make(domain.FeatureVector, len(vec))
	for i, v := range vec {
		out[i] = (v - params.Mean[i]) / params.Scale[i]
	}
	return out, nil
}

// Transform scales every row.
func Transform(params *domain.NormalizationParams, rows []domain.FeatureVector) ([]domain.FeatureVector, error) {
	out := make([]domain.FeatureVector, len(rows))
	for i, row := range rows {
		scaled, err := Apply(params, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Validate checks that params are internally consistent and were fitted on
// the given feature schema.
func Validate(params *domain.NormalizationParams, features []string) error {
	if params == nil {
		return fmt.Errorf("%w: normalization parameters are required", domain.ErrInvalidInput)
	}
	width := len(params.Mean)
	if len(params.Std) != width || len(params.Scale) != width || len(params.Features) != width {
		return fmt.Errorf("%w: inconsistent parameter lengths", domain.ErrShapeMismatch)
	}
	if len(features) != width {
		return fmt.Errorf("%w: parameters cover %d features, schema has %d", domain.ErrShapeMismatch, width, len(features))
	}
	for i, name := range features {
		if params.Features[i] != name {
			return fmt.Errorf("%w: feature %d is %q, schema expects %q", domain.ErrShapeMismatch, i, params.Features[i], name)
		}
	}
	for i, s := range params.Scale {
		if s == 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: invalid scale for feature %s", domain.ErrInvalidInput, params.Features[i])
		}
	}
	return nil
}
