// Package worker scores payment messages asynchronously from the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker consumes ingested messages, scores them and publishes the results.
type Worker struct {
	bus    domain.EventBus
	repo   domain.Repository
	scorer *pipeline.Scorer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to consume for. Empty means the
	// default tenant only.
	TenantIDs []string
}

// NewWorker creates a new async worker. repo may be nil, in which case
// results are only published.
func NewWorker(bus domain.EventBus, repo domain.Repository, scorer *pipeline.Scorer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		scorer: scorer,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the ingested topic for each configured tenant.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.DefaultTenant}
	}

	started := 0
	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}

	if started == 0 {
		return fmt.Errorf("no tenant worker could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
	)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicMessageIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.process(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicMessageIngested,
	)
	return nil
}

// process scores one ingested message.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var in domain.IngestedMessage
	if err := json.Unmarshal(msg.Payload, &in); err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("invalid").Inc()
		slog.Error("failed to decode ingested message",
			"bus_message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if in.TenantID != "" {
		tenantID = in.TenantID
	}
	if in.MessageID == "" {
		in.MessageID = msg.ID
	}
	traceID := in.TraceID
	if traceID == "" {
		traceID = msg.ID
	}
	ctx = domain.WithTenant(ctx, tenantID)

	slog.Debug("scoring message",
		"message_id", in.MessageID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result, err := w.scorer.Score(ctx, in.Raw, in.Encoding)
	if err != nil {
		metrics.WorkerMessagesTotal.WithLabelValues("failed").Inc()
		slog.Error("scoring failed",
			"message_id", in.MessageID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	score := result.NewScore(tenantID, in.MessageID, w.scorer.ModelType(), traceID)

	if w.repo != nil {
		stored := result.StoredMessage(tenantID, in.MessageID, in.Encoding, in.Raw)
		if err := w.repo.SaveMessage(ctx, tenantID, stored); err != nil {
			slog.Error("failed to save message",
				"message_id", in.MessageID,
				"error", err,
			)
		}
		if err := w.repo.SaveScore(ctx, tenantID, score); err != nil {
			slog.Error("failed to save score",
				"score_id", score.ID,
				"error", err,
			)
		}
	}

	payload, err := json.Marshal(score)
	if err != nil {
		return err
	}
	if err := w.bus.Publish(ctx, tenantID, domain.TopicMessageScored, payload); err != nil {
		slog.Error("failed to publish score",
			"score_id", score.ID,
			"error", err,
		)
	}

	if score.Decision.FraudDetected {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"score_id", score.ID,
				"error", err,
			)
		}
	}

	metrics.WorkerMessagesTotal.WithLabelValues("scored").Inc()
	slog.Info("message scored",
		"message_id", in.MessageID,
		"score_id", score.ID,
		"tenant_id", tenantID,
		"fraud_detected", score.Decision.FraudDetected,
		"risk_score", score.Decision.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
