package domain

import (
	"context"
)

// EventBus moves messages between Kestrel components. Every operation is
// scoped to a tenant; a subscriber only sees its own tenant's messages.
type EventBus interface {
	// Publish sends payload to all subscribers of topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers handler for topic until the subscription is
	// cancelled or ctx ends.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request publishes payload and blocks for the first Reply.
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Reply answers a message received through Request.
	Reply(ctx context.Context, msg *Message, payload []byte) error

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivered message. The context carries the
// message tenant.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the bus envelope.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	ReplyTo   string            `json:"replyTo,omitempty"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is an active registration on a bus.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus.
type EventBusConfig struct {
	// Type is "channel" or "nats"
	Type string

	// Per-subscriber buffer for the channel bus
	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueueGroup makes replicas share subscriptions. Empty means every
	// replica receives every message.
	NATSQueueGroup string
}

// Topics.
const (
	TopicMessageIngested = "kestrel.message.ingested"
	TopicMessageScored   = "kestrel.message.scored"
	TopicAlert           = "kestrel.alert"
	TopicModelPredict    = "kestrel.model.predict"
)

// IngestedMessage is the payload published on TopicMessageIngested.
type IngestedMessage struct {
	MessageID string   `json:"messageId"`
	TenantID  string   `json:"tenantId"`
	TraceID   string   `json:"traceId,omitempty"`
	Encoding  Encoding `json:"encoding"`
	Raw       []byte   `json:"raw"`
}
