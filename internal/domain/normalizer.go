package domain

import "time"

// ZeroStdPolicy decides what happens to a feature whose standard deviation
// over the fit corpus is zero.
type ZeroStdPolicy string

const (
	// ZeroStdUnit divides by 1 instead of 0, leaving the column centered
	// but unscaled.
	ZeroStdUnit ZeroStdPolicy = "unit"

	// ZeroStdReject fails the fit with ErrDegenerateColumn.
	ZeroStdReject ZeroStdPolicy = "reject"
)

// NormalizationParams are the per-feature statistics learned from a
// reference population. Never mutated after Fit returns.
type NormalizationParams struct {
	Version       string        `json:"version"`
	SchemaVersion string        `json:"schemaVersion"`
	Features      []string      `json:"features"`
	Mean          []float64     `json:"mean"`
	Std           []float64     `json:"std"`
	Scale         []float64     `json:"scale"` // divisor actually applied
	Count         int           `json:"count"`
	ZeroStdPolicy ZeroStdPolicy `json:"zeroStdPolicy"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// Width returns the number of features the parameters were fitted on.
func (p *NormalizationParams) Width() int {
	return len(p.Mean)
}
