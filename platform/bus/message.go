// Package bus carries envelopes between services over Kafka, with an in-memory broker for
// local runs and tests.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotConnected          = errors.New("bus: used before connect")
	ErrDuplicateSubscription = errors.New("bus: topic already subscribed by group")
	ErrNoBrokers             = errors.New("bus: at least one broker is required")
)

// Message is one record on a topic as seen by a consumer.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

// Publisher sends one message and reports whether the broker accepted it.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

// Subscriber joins a consumer group on a topic.
type Subscriber interface {
	Subscribe(topic, group string, handler Handler, opts ...ConsumerOption) (*Consumer, error)
}

// Source is the pull side of one subscription. Fetch blocks until a message is available.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msg Message) error
	Close() error
}

func eventIDOf(value []byte) string {
	var probe struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return ""
	}
	return probe.EventID
}
