package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus is the in-process Community tier bus. Each subscription owns
// a buffered channel drained by one goroutine.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[string][]*channelSubscription
	closed     bool
	dropped    atomic.Int64
}

type channelSubscription struct {
	id      string
	bus     *ChannelBus
	subject string
	topic   string
	msgCh   chan *domain.Message
	cancel  context.CancelFunc
}

// NewChannelBus creates a channel bus. Each subscriber buffers up to
// bufferSize messages (1000 when bufferSize <= 0).
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[string][]*channelSubscription),
	}
}

// Publish sends payload to every subscriber of the tenant's topic.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return errTenantRequired
	}
	return b.route(newEnvelope(ctx, tenantID, topic, payload))
}

func (b *ChannelBus) route(msg *domain.Message) error {
	key := subject(msg.TenantID, msg.Topic)

	// Sends happen under the read lock so Close cannot close a channel
	// mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}

	for _, sub := range b.routes[key] {
		select {
		case sub.msgCh <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber buffer full, message dropped",
				"topic", msg.Topic,
				"tenant_id", msg.TenantID,
				"message_id", msg.ID,
			)
		}
	}
	return nil
}

// Subscribe registers handler for the tenant's topic. The handler runs on
// the subscription goroutine, one message at a time.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		id:      uuid.New().String(),
		bus:     b,
		subject: subject(tenantID, topic),
		topic:   topic,
		msgCh:   make(chan *domain.Message, b.bufferSize),
		cancel:  cancel,
	}
	b.routes[sub.subject] = append(b.routes[sub.subject], sub)

	go func() {
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-sub.msgCh:
				if !ok {
					return
				}
				deliver(subCtx, handler, msg)
			}
		}
	}()

	return sub, nil
}

// Request publishes payload with a private reply topic and waits for the
// first Reply to it.
func (b *ChannelBus) Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	ctx, cancel := requestContext(ctx)
	defer cancel()

	replyCh := make(chan []byte, 1)
	inbox := topic + ".reply." + uuid.New().String()

	sub, err := b.Subscribe(ctx, tenantID, inbox, func(ctx context.Context, msg *domain.Message) error {
		select {
		case replyCh <- msg.Payload:
		default:
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer sub.Unsubscribe()

	msg := newEnvelope(ctx, tenantID, topic, payload)
	msg.ReplyTo = inbox
	if err := b.route(msg); err != nil {
		return nil, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request %s: %w", topic, ctx.Err())
	}
}

// Reply answers a message received through Request.
func (b *ChannelBus) Reply(ctx context.Context, msg *domain.Message, payload []byte) error {
	if msg == nil || msg.ReplyTo == "" {
		return errNoReplyAddress
	}
	reply := newEnvelope(ctx, msg.TenantID, msg.ReplyTo, payload)
	reply.Metadata[MetaInReplyTo] = msg.ID
	return b.route(reply)
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errClosed
	}
	return nil
}

// Close stops every subscription. Later calls are no-ops.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
			close(sub.msgCh)
		}
	}
	b.routes = make(map[string][]*channelSubscription)
	return nil
}

func (b *ChannelBus) remove(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.routes[sub.subject]
	for i, s := range subs {
		if s.id == sub.id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.routes, sub.subject)
		return
	}
	b.routes[sub.subject] = subs
}

// Unsubscribe stops receiving messages.
func (s *channelSubscription) Unsubscribe() error {
	s.cancel()
	s.bus.remove(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.topic
}
