package domain

import (
	"time"
)

// Verdict message templates.
const (
	MessageSuspicious = "⚠️ Suspicious transaction detected!"
	MessageSafe       = "✅ Transaction is safe"
)

// FraudThreshold is the inclusive probability at which a message is
// classified as fraud.
const FraudThreshold = 0.5

// RiskDecision is the verdict derived from a model probability.
type RiskDecision struct {
	FraudDetected bool   `json:"fraud_detected"`
	RiskScore     string `json:"risk_score"` // "NN.N%"
	Message       string `json:"message"`
}

// Score is a persisted scoring result.
type Score struct {
	ID                string        `json:"id"`
	TenantID          string        `json:"tenantId"`
	MessageID         string        `json:"messageId"`
	Features          FeatureVector `json:"features"`
	Scaled            FeatureVector `json:"scaled"`
	Probability       float64       `json:"probability"`
	Decision          RiskDecision  `json:"decision"`
	NormalizerVersion string        `json:"normalizerVersion"`
	Timestamp         time.Time     `json:"timestamp"`
	Metadata          ScoreMetadata `json:"metadata"`
}

// ScoreMetadata contains processing information.
type ScoreMetadata struct {
	TraceID       string `json:"traceId"`
	ParseMs       int64  `json:"parseMs"`
	InferMs       int64  `json:"inferMs"`
	TotalMs       int64  `json:"totalMs"`
	ModelType     string `json:"modelType"`
	EngineVersion string `json:"engineVersion"`
}
