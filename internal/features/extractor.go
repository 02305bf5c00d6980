// Package features turns canonical payment messages into fixed-order
// numeric feature vectors. Training preparation and live scoring both use
// this package, so a message always maps to the same vector.
package features

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Indicator expressions, keyed by the feature they produce. Each one must
// evaluate to a bool.
var indicatorExpressions = map[string]string{
	domain.FeatureHighRiskCountry:  `debtor_country in high_risk_countries`,
	domain.FeatureSanctionedEntity: `debtor_id in sanctioned_ids`,
	domain.FeatureRegulatoryCode:   `regulatory_code == aml_code`,
	domain.FeatureAmountRisk:       `amount > amount_threshold`,
}

// Extractor computes feature vectors. It is immutable after construction and
// safe for concurrent use.
type Extractor struct {
	cfg        domain.FeatureConfig
	indicators []indicator
}

type indicator struct {
	name    string
	program cel.Program
}

// NewExtractor compiles the indicator programs for the given policy.
func NewExtractor(cfg domain.FeatureConfig) (*Extractor, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("debtor_country", cel.StringType),
		cel.Variable("debtor_id", cel.StringType),
		cel.Variable("regulatory_code", cel.StringType),
		cel.Variable("high_risk_countries", cel.ListType(cel.StringType)),
		cel.Variable("sanctioned_ids", cel.ListType(cel.StringType)),
		cel.Variable("aml_code", cel.StringType),
		cel.Variable("amount_threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	e := &Extractor{cfg: cloneConfig(cfg)}

	// Vector order comes from the schema, not from map iteration.
	for _, name := range domain.FeatureNames()[1:] {
		program, err := compile(env, name, indicatorExpressions[name])
		if err != nil {
			return nil, err
		}
		e.indicators = append(e.indicators, indicator{name: name, program: program})
	}

	return e, nil
}

func compile(env *cel.Env, name, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile feature %s: %w", name, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("feature %s: expression must return bool, got %s", name, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for feature %s: %w", name, err)
	}
	return program, nil
}

// Config returns a copy of the policy the extractor was built with.
func (e *Extractor) Config() domain.FeatureConfig {
	return cloneConfig(e.cfg)
}

// Extract returns the feature vector and ground-truth label for msg.
func (e *Extractor) Extract(msg *domain.PaymentMessage) (domain.FeatureVector, int, error) {
	if msg == nil {
		return nil, 0, fmt.Errorf("%w: message is required", domain.ErrInvalidInput)
	}

	amount, err := ParseAmount(msg.InstructedAmount)
	if err != nil {
		return nil, 0, err
	}

	activation := map[string]any{
		"amount":              amount,
		"debtor_country":      countryCode(msg.DebtorAccountID),
		"debtor_id":           msg.Debtor.ID,
		"regulatory_code":     msg.RegulatoryCode,
		"high_risk_countries": e.cfg.HighRiskCountries,
		"sanctioned_ids":      e.cfg.SanctionedIDs,
		"aml_code":            e.cfg.RegulatoryCode,
		"amount_threshold":    e.cfg.AmountThreshold,
	}

	vector := make(domain.FeatureVector, 0, domain.NumFeatures)
	vector = append(vector, amount)
	for _, ind := range e.indicators {
		out, _, err := ind.program.Eval(activation)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to evaluate feature %s: %w", ind.name, err)
		}
		vector = append(vector, toIndicator(out))
	}

	return vector, msg.Fraud, nil
}

// ParseAmount parses an instructed amount. Surrounding whitespace is ignored.
func ParseAmount(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, s)
	}
	f := d.InexactFloat64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, fmt.Errorf("%w: %q is out of range", domain.ErrInvalidAmount, s)
	}
	return f, nil
}

// countryCode returns the first two characters of an IBAN, or "" when the
// identifier is shorter.
func countryCode(iban string) string {
	if len(iban) < 2 {
		return ""
	}
	return iban[:2]
}

func toIndicator(val ref.Val) float64 {
	if b, ok := val.(types.Bool); ok && bool(b) {
		return 1
	}
	return 0
}

func cloneConfig(cfg domain.FeatureConfig) domain.FeatureConfig {
	out := cfg
	out.HighRiskCountries = append([]string(nil), cfg.HighRiskCountries...)
	out.SanctionedIDs = append([]string(nil), cfg.SanctionedIDs...)
	if out.HighRiskCountries == nil {
		out.HighRiskCountries = []string{}
	}
	if out.SanctionedIDs == nil {
		out.SanctionedIDs = []string{}
	}
	return out
}
