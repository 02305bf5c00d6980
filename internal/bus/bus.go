// Package bus provides the event buses Kestrel uses to move messages
// between the API, the async worker and model responders.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Metadata keys set on envelopes.
const (
	MetaTraceID   = "trace_id"
	MetaInReplyTo = "in_reply_to"
)

// defaultRequestTimeout bounds Request when the context has no deadline.
const defaultRequestTimeout = 30 * time.Second

var (
	errTenantRequired = errors.New("tenantID is required")
	errClosed         = errors.New("bus is closed")
	errNoReplyAddress = errors.New("message has no reply address")
)

// New creates an event bus based on configuration: channels for the
// Community tier, NATS for Pro.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// newEnvelope wraps payload for delivery. The active span's trace id, if
// any, travels in the metadata.
func newEnvelope(ctx context.Context, tenantID, topic string, payload []byte) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.Metadata[MetaTraceID] = sc.TraceID().String()
	}
	return msg
}

// subject is the routing key for a tenant's topic, e.g.
// "kestrel.message.ingested.acme". Characters with meaning in NATS subjects
// are replaced in the tenant token so one tenant can never match another's.
func subject(tenantID, topic string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, tenantID)
	return topic + "." + token
}

// deliver runs handler with the message tenant on the context and logs
// handler failures.
func deliver(ctx context.Context, handler domain.MessageHandler, msg *domain.Message) {
	if err := handler(domain.WithTenant(ctx, msg.TenantID), msg); err != nil {
		slog.Error("message handler failed",
			"topic", msg.Topic,
			"tenant_id", msg.TenantID,
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// requestContext applies defaultRequestTimeout when ctx has no deadline.
func requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, defaultRequestTimeout)
}
