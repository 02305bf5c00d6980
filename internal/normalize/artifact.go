package normalize

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Marshal encodes params as the JSON artifact.
func Marshal(params *domain.NormalizationParams) ([]byte, error) {
	return json.MarshalIndent(params, "", "  ")
}

// Unmarshal decodes an artifact and validates it against the current
// feature schema.
func Unmarshal(data []byte) (*domain.NormalizationParams, error) {
	var params domain.NormalizationParams
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("failed to decode normalizer artifact: %w", err)
	}
	if params.SchemaVersion != domain.FeatureSchemaVersion {
		return nil, fmt.Errorf("%w: artifact schema %q, extractor schema %q",
			domain.ErrShapeMismatch, params.SchemaVersion, domain.FeatureSchemaVersion)
	}
	if err := Validate(&params, domain.FeatureNames()); err != nil {
		return nil, err
	}
	return &params, nil
}

// SaveFile writes the artifact to path.
func SaveFile(path string, params *domain.NormalizationParams) error {
	data, err := Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode normalizer artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write normalizer artifact: %w", err)
	}
	return nil
}

// LoadFile reads and validates the artifact at path.
func LoadFile(path string) (*domain.NormalizationParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalizer artifact: %w", err)
	}
	return Unmarshal(data)
}
