package domain

// FeatureSchemaVersion identifies the feature list below. Bump it whenever a
// feature is added, removed, reordered or redefined; fitted normalizer
// artifacts carry it and are rejected on mismatch.
const FeatureSchemaVersion = "v1"

// Feature names in vector order. The order is shared by training data and
// live inference.
const (
	FeatureTransactionAmount = "transaction_amount"
	FeatureHighRiskCountry   = "high_risk_country"
	FeatureSanctionedEntity  = "sanctioned_entity"
	FeatureRegulatoryCode    = "regulatory_code"
	FeatureAmountRisk        = "amount_risk"
)

// LabelColumn is the name of the ground-truth column in prepared datasets.
const LabelColumn = "fraud"

// FeatureNames returns the feature names in vector order.
func FeatureNames() []string {
	return []string{
		FeatureTransactionAmount,
		FeatureHighRiskCountry,
		FeatureSanctionedEntity,
		FeatureRegulatoryCode,
		FeatureAmountRisk,
	}
}

// NumFeatures is the width of every feature vector.
const NumFeatures = 5

// FeatureVector is a fixed-order numeric encoding of a payment message.
type FeatureVector []float64

// Clone returns a copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}
