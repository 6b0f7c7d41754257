package bus

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrPublishRejected marks a publish the broker will refuse no matter how often it is
// retried.
var ErrPublishRejected = errors.New("bus: publish rejected")

// IsPermanentPublishError reports whether retrying the publish cannot succeed. Connection
// loss, leader elections and timeouts are transient; oversized messages and topic or
// authorization errors are not.
func IsPermanentPublishError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPublishRejected) {
		return true
	}
	var tooLarge kafka.MessageTooLargeError
	if errors.As(err, &tooLarge) {
		return true
	}
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		if writeErrs.Count() == 0 {
			return false
		}
		for _, e := range writeErrs {
			if e != nil && !IsPermanentPublishError(e) {
				return false
			}
		}
		return true
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return !kerr.Temporary()
	}
	return false
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher wraps the shared writer; it does not own it.
func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Publish sends one message keyed for partition affinity. The writer retries transient
// failures itself; whatever is left is returned to the caller.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Value: payload,
		Time:  time.Now().UTC(),
	}
	if key != "" {
		msg.Key = []byte(key)
	}
	return p.writer.WriteMessages(ctx, msg)
}
