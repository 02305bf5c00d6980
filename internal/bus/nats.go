package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// NATSBus is the Pro tier bus. Envelopes travel as JSON on subjects of the
// form "<topic>.<tenant>". When a queue group is configured, replicas share
// each subject's messages instead of all receiving them.
type NATSBus struct {
	mu         sync.Mutex
	conn       *nats.Conn
	queueGroup string
	subs       map[*nats.Subscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus connects to NATS, retrying up to NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects == 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait == 0 {
		cfg.NATSReconnectWait = 5
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	var conn *nats.Conn
	var err error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err = nats.Connect(cfg.NATSUrl, natsOptions(cfg, wait)...)
		if err == nil {
			break
		}
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, err)
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue_group", cfg.NATSQueueGroup,
	)

	return &NATSBus{
		conn:       conn,
		queueGroup: cfg.NATSQueueGroup,
		subs:       make(map[*nats.Subscription]struct{}),
	}, nil
}

func natsOptions(cfg domain.EventBusConfig, wait time.Duration) []nats.Option {
	opts := []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err, "will_reconnect", !nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{"error", err}
			if sub != nil {
				attrs = append(attrs, "subject", sub.Subject)
			}
			slog.Error("NATS error", attrs...)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

// Publish sends payload on the tenant's subject for topic.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	data, err := json.Marshal(newEnvelope(ctx, tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return b.conn.Publish(subject(tenantID, topic), data)
}

// Subscribe registers handler on the tenant's subject for topic, joining
// the configured queue group if there is one.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	cb := func(m *nats.Msg) {
		var msg domain.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			slog.Error("failed to unmarshal NATS message", "subject", m.Subject, "error", err)
			return
		}
		msg.ReplyTo = m.Reply
		deliver(ctx, handler, &msg)
	}

	var sub *nats.Subscription
	var err error
	if b.queueGroup != "" {
		sub, err = b.conn.QueueSubscribe(subject(tenantID, topic), b.queueGroup, cb)
	} else {
		sub, err = b.conn.Subscribe(subject(tenantID, topic), cb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &natsSubscription{bus: b, topic: topic, sub: sub}, nil
}

// Request sends payload and waits for one reply on a NATS inbox.
func (b *NATSBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	data, err := json.Marshal(newEnvelope(ctx, tenantID, topic, payload))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	ctx, cancel := requestContext(ctx)
	defer cancel()

	reply, err := b.conn.RequestWithContext(ctx, subject(tenantID, topic), data)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", topic, err)
	}

	var envelope domain.Message
	if err := json.Unmarshal(reply.Data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reply: %w", err)
	}
	return envelope.Payload, nil
}

// Reply answers a message received through Request on its NATS inbox.
func (b *NATSBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return errNoReplyAddress
	}

	envelope := newEnvelope(ctx, msg.TenantID, msg.Topic, payload)
	envelope.Metadata[MetaInReplyTo] = msg.ID

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	return b.conn.Publish(msg.ReplyTo, data)
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Unsubscribe removes the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
