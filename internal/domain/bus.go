package domain

import "context"

// EventBus carries bulk-ingest transactions, decisions and alerts between
// components. The in-process implementation uses channels; NATS is used
// when several processes share one stream.
type EventBus interface {
	// Publish is fire-and-forget: delivery to slow subscribers may be dropped.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe runs handler for each message on topic until the returned
	// subscription is removed, ctx ends or the bus closes.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler handles one delivered message. A returned error is logged.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus implementation delivers.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"` // unix nanoseconds
}

// Subscription is a live topic registration.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus implementation.
type EventBusConfig struct {
	Type string // "channel" or "nats"

	ChannelBufferSize int

	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Bus topics.
const (
	// TopicTransactionIngested carries TransactionRequest JSON for async evaluation.
	TopicTransactionIngested = "sentinel.transaction.ingested"
	// TopicDecision carries FinalDecision JSON for every bulk-ingested transaction.
	TopicDecision = "sentinel.decision"
	// TopicAlert carries AlertTask JSON when the bus alert sink is selected.
	TopicAlert = "sentinel.alert"
)
