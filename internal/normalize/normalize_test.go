package normalize

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func corpus() []domain.FeatureVector {
	return []domain.FeatureVector{
		{12000, 1, 1, 1, 1},
		{250, 0, 0, 0, 0},
		{4000, 0, 0, 1, 0},
		{80000, 1, 0, 1, 1},
	}
}

func TestFit(t *testing.T) {
	params, out, err := Fit([]string{"a", "b"}, []domain.FeatureVector{{1, 0}, {3, 0}}, domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if !reflect.DeepEqual(params.Mean, []float64{2, 0}) {
		t.Errorf("expected mean [2 0], got %v", params.Mean)
	}
	if !reflect.DeepEqual(params.Std, []float64{1, 0}) {
		t.Errorf("expected std [1 0], got %v", params.Std)
	}
	if !reflect.DeepEqual(params.Scale, []float64{1, 1}) {
		t.Errorf("expected scale [1 1], got %v", params.Scale)
	}
	if params.Count != 2 {
		t.Errorf("expected count 2, got %d", params.Count)
	}
	if params.Version == "" {
		t.Error("expected a version id")
	}

	expected := []domain.FeatureVector{{-1, 0}, {1, 0}}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("expected %v, got %v", expected, out)
	}
}

func TestFitStandardizes(t *testing.T) {
	_, out, err := Fit(domain.FeatureNames(), corpus(), domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for j := 0; j < domain.NumFeatures; j++ {
		var sum, sq float64
		for _, row := range out {
			sum += row[j]
		}
		mean := sum / float64(len(out))
		for _, row := range out {
			sq += (row[j] - mean) * (row[j] - mean)
		}
		std := math.Sqrt(sq / float64(len(out)))

		if math.Abs(mean) > 1e-9 {
			t.Errorf("feature %d: expected mean 0, got %v", j, mean)
		}
		if math.Abs(std-1) > 1e-9 {
			t.Errorf("feature %d: expected std 1, got %v", j, std)
		}
	}
}

func TestApplyMatchesFit(t *testing.T) {
	rows := corpus()
	params, out, err := Fit(domain.FeatureNames(), rows, domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	for i, row := range rows {
		scaled, err := Apply(params, row)
		if err != nil {
			t.Fatalf("Apply failed: %v", err)
		}
		if !reflect.DeepEqual(scaled, out[i]) {
			t.Errorf("row %d: expected %v, got %v", i, out[i], scaled)
		}
	}
}

func TestApplyDoesNotMutate(t *testing.T) {
	params, _, err := Fit(domain.FeatureNames(), corpus(), domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	mean := append([]float64(nil), params.Mean...)

	vec := domain.FeatureVector{100, 0, 0, 0, 0}
	if _, err := Apply(params, vec); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if !reflect.DeepEqual(vec, domain.FeatureVector{100, 0, 0, 0, 0}) {
		t.Errorf("expected input untouched, got %v", vec)
	}
	if !reflect.DeepEqual(mean, params.Mean) {
		t.Errorf("expected params untouched, got %v", params.Mean)
	}
}

func TestZeroStdPolicy(t *testing.T) {
	rows := []domain.FeatureVector{{1, 7}, {2, 7}, {3, 7}}

	t.Run("unit", func(t *testing.T) {
		params, out, err := Fit([]string{"a", "b"}, rows, domain.ZeroStdUnit)
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		if params.Scale[1] != 1 {
			t.Errorf("expected scale 1 for constant column, got %v", params.Scale[1])
		}
		for i, row := range out {
			if row[1] != 0 {
				t.Errorf("row %d: expected centered constant column 0, got %v", i, row[1])
			}
		}
	})

	t.Run("default is unit", func(t *testing.T) {
		params, _, err := Fit([]string{"a", "b"}, rows, "")
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		if params.ZeroStdPolicy != domain.ZeroStdUnit {
			t.Errorf("expected policy unit, got %q", params.ZeroStdPolicy)
		}
	})

	t.Run("reject", func(t *testing.T) {
		_, _, err := Fit([]string{"a", "b"}, rows, domain.ZeroStdReject)
		if !errors.Is(err, domain.ErrDegenerateColumn) {
			t.Errorf("expected ErrDegenerateColumn, got %v", err)
		}
	})

	t.Run("near constant column", func(t *testing.T) {
		near := []domain.FeatureVector{{1, 0.1}, {2, 0.1}, {3, 0.1}, {4, 0.1}, {5, 0.1}, {6, 0.1}, {7, 0.1}}
		params, _, err := Fit([]string{"a", "b"}, near, domain.ZeroStdUnit)
		if err != nil {
			t.Fatalf("Fit failed: %v", err)
		}
		if params.Scale[1] != 1 {
			t.Errorf("expected scale 1, got %v", params.Scale[1])
		}
	})

	t.Run("unknown policy", func(t *testing.T) {
		_, _, err := Fit([]string{"a", "b"}, rows, "clip")
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestShapeMismatch(t *testing.T) {
	params, _, err := Fit(domain.FeatureNames(), corpus(), domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	if _, err := Apply(params, domain.FeatureVector{1, 2, 3}); !errors.Is(err, domain.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch from Apply, got %v", err)
	}

	ragged := []domain.FeatureVector{{1, 2}, {3}}
	if _, _, err := Fit([]string{"a", "b"}, ragged, domain.ZeroStdUnit); !errors.Is(err, domain.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch from Fit, got %v", err)
	}
}

func TestFitEmptyCorpus(t *testing.T) {
	_, _, err := Fit(domain.FeatureNames(), nil, domain.ZeroStdUnit)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	params, _, err := Fit(domain.FeatureNames(), corpus(), domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "normalizer.json")
	if err := SaveFile(path, params); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if loaded.Version != params.Version {
		t.Errorf("expected version %s, got %s", params.Version, loaded.Version)
	}
	if !reflect.DeepEqual(loaded.Mean, params.Mean) || !reflect.DeepEqual(loaded.Scale, params.Scale) {
		t.Errorf("expected identical statistics, got mean %v scale %v", loaded.Mean, loaded.Scale)
	}

	vec := domain.FeatureVector{12000, 1, 1, 1, 1}
	a, _ := Apply(params, vec)
	b, _ := Apply(loaded, vec)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("expected identical output after reload, got %v and %v", a, b)
	}
}

func TestArtifactSchemaMismatch(t *testing.T) {
	params, _, err := Fit([]string{"a", "b"}, []domain.FeatureVector{{1, 2}, {3, 4}}, domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	data, err := Marshal(params)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, domain.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch, got %v", err)
	}

	full, _, err := Fit(domain.FeatureNames(), corpus(), domain.ZeroStdUnit)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	stale := *full
	stale.SchemaVersion = "v0"
	data, err = Marshal(&stale)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if _, err := Unmarshal(data); !errors.Is(err, domain.ErrShapeMismatch) {
		t.Errorf("expected ErrShapeMismatch for stale schema, got %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
