package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped on every persisted score.
const EngineVersion = "1.0.0"

// StoredMessage builds the persisted form of the scored message.
func (r *Result) StoredMessage(tenantID, messageID string, enc domain.Encoding, raw []byte) *domain.StoredMessage {
	return &domain.StoredMessage{
		ID:         messageID,
		TenantID:   tenantID,
		Encoding:   enc,
		Message:    *r.Message,
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}
}

// NewScore builds the persisted scoring record. A fresh score id is
// assigned on every call.
func (r *Result) NewScore(tenantID, messageID, modelType, traceID string) *domain.Score {
	return &domain.Score{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		MessageID:         messageID,
		Features:          r.Features,
		Scaled:            r.Scaled,
		Probability:       r.Probability,
		Decision:          r.Decision,
		NormalizerVersion: r.NormalizerVersion,
		Timestamp:         time.Now().UTC(),
		Metadata: domain.ScoreMetadata{
			TraceID:       traceID,
			ParseMs:       r.ParseMs,
			InferMs:       r.InferMs,
			TotalMs:       r.TotalMs,
			ModelType:     modelType,
			EngineVersion: EngineVersion,
		},
	}
}
