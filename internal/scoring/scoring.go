// Package scoring turns a model probability into a risk decision.
package scoring

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Decide classifies probability p. Probabilities at or above
// domain.FraudThreshold are fraud. p must lie in [0, 1].
func Decide(p float64) (domain.RiskDecision, error) {
	if math.IsNaN(p) || p < 0 || p > 1 {
		return domain.RiskDecision{}, fmt.Errorf("%w: %v", domain.ErrOutOfRangeProbability, p)
	}

	fraud := p >= domain.FraudThreshold
	decision := domain.RiskDecision{
		FraudDetected: fraud,
		RiskScore:     FormatRiskScore(p),
		Message:       domain.MessageSafe,
	}
	if fraud {
		decision.Message = domain.MessageSuspicious
	}
	return decision, nil
}

// FormatRiskScore renders p as a percentage with one decimal digit.
func FormatRiskScore(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

// Verdict is the metrics label for a decision.
func Verdict(d domain.RiskDecision) string {
	if d.FraudDetected {
		return "fraud"
	}
	return "safe"
}
