package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BusPredictRequest is the payload sent on domain.TopicModelPredict.
type BusPredictRequest struct {
	Features []float64 `json:"features"`
}

// BusPredictResponse is the reply expected from the model service.
type BusPredictResponse struct {
	Probability *float64 `json:"probability"`
	Error       string   `json:"error,omitempty"`
}

// BusModel asks a model service over the event bus using request-reply.
// Requests are scoped to the tenant carried by the context.
type BusModel struct {
	bus     domain.EventBus
	timeout time.Duration
}

// NewBusModel creates a bus-backed model client.
func NewBusModel(bus domain.EventBus, timeout time.Duration) *BusModel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BusModel{bus: bus, timeout: timeout}
}

// Predict sends vec to domain.TopicModelPredict and waits for the reply.
func (m *BusModel) Predict(ctx context.Context, vec domain.FeatureVector) (float64, error) {
	payload, err := json.Marshal(BusPredictRequest{Features: vec})
	if err != nil {
		return 0, fmt.Errorf("failed to encode predict request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	reply, err := m.bus.Request(ctx, domain.TenantFromContext(ctx), domain.TopicModelPredict, payload)
	if err != nil {
		return 0, fmt.Errorf("model request failed: %w", err)
	}

	var out BusPredictResponse
	if err := json.Unmarshal(reply, &out); err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidModelOutput, err)
	}
	if out.Error != "" {
		return 0, fmt.Errorf("model service error: %s", out.Error)
	}
	if out.Probability == nil {
		return 0, fmt.Errorf("%w: reply has no probability", domain.ErrInvalidModelOutput)
	}
	return checkOutput(*out.Probability)
}

// Type returns "bus".
func (m *BusModel) Type() string {
	return "bus"
}

// Serve answers predict requests for tenantID on bus with model. It lets
// any Model, typically a LogisticModel, act as the model service for
// BusModel clients.
func Serve(ctx context.Context, bus domain.EventBus, tenantID string, model Model) (domain.Subscription, error) {
	return bus.Subscribe(ctx, tenantID, domain.TopicModelPredict, func(ctx context.Context, msg *domain.Message) error {
		var resp BusPredictResponse

		var req BusPredictRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			resp.Error = fmt.Sprintf("invalid request: %v", err)
		} else {
			p, err := model.Predict(domain.WithTenant(ctx, msg.TenantID), req.Features)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Probability = &p
			}
		}

		data, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if err := bus.Reply(ctx, msg, data); err != nil {
			slog.Error("failed to reply to predict request",
				"message_id", msg.ID,
				"tenant_id", msg.TenantID,
				"error", err,
			)
			return err
		}
		return nil
	})
}
