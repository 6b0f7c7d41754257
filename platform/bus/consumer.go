package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/viralforge/commerce-mesh/contracts"
)

// Handler is invoked once per delivery.
type Handler func(ctx context.Context, msg Message) Result

// Deduplicator remembers event ids a group has already handled successfully.
type Deduplicator interface {
	Seen(ctx context.Context, group, eventID string) (bool, error)
	Mark(ctx context.Context, group, eventID string) error
}

type consumerConfig struct {
	maxDeliveries int
	backoff       Backoff
	dedup         Deduplicator
	logger        *slog.Logger
	nowFn         func() time.Time
}

type ConsumerOption func(*consumerConfig)

// WithMaxDeliveries caps how many times a retryable failure is redelivered before the
// message is dead-lettered.
func WithMaxDeliveries(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.maxDeliveries = n
		}
	}
}

func WithRetryBackoff(b Backoff) ConsumerOption {
	return func(c *consumerConfig) { c.backoff = b }
}

func WithDeduplicator(d Deduplicator) ConsumerOption {
	return func(c *consumerConfig) { c.dedup = d }
}

func WithLogger(logger *slog.Logger) ConsumerOption {
	return func(c *consumerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func defaultConsumerConfig() consumerConfig {
	return consumerConfig{
		maxDeliveries: 5,
		backoff:       Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second},
		logger:        slog.Default(),
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// dlqStallAttempts is how many failed dead-letter publishes mark a consumer as stalled.
const dlqStallAttempts = 3

// Consumer drives one subscription: fetch, handle, then commit or dead-letter.
type Consumer struct {
	topic   string
	group   string
	source  Source
	handler Handler
	dlq     Publisher
	cfg     consumerConfig

	dlqStalled atomic.Bool
}

func newConsumer(topic, group string, source Source, dlq Publisher, handler Handler, opts ...ConsumerOption) *Consumer {
	cfg := defaultConsumerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Consumer{
		topic:   topic,
		group:   group,
		source:  source,
		handler: handler,
		dlq:     dlq,
		cfg:     cfg,
	}
}

func (c *Consumer) Topic() string { return c.topic }

func (c *Consumer) Group() string { return c.group }

// DeadLetterStalled reports whether the consumer is blocked retrying a dead-letter publish.
// Its partition makes no progress until the publish goes through.
func (c *Consumer) DeadLetterStalled() bool { return c.dlqStalled.Load() }

// Ready is a readiness check for the process runner.
func (c *Consumer) Ready() error {
	if c.DeadLetterStalled() {
		return fmt.Errorf("%s/%s: dead letter publish to %s stalled", c.topic, c.group, contracts.DLQTopic(contracts.Topic(c.topic)))
	}
	return nil
}

// Run consumes until ctx is cancelled. Cancellation stops fetching; a message already being
// handled runs to completion on a detached context and is committed before Run returns.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			c.cfg.logger.ErrorContext(ctx, "consumer fetch failed",
				"module", "bus.consumer",
				"layer", "platform",
				"operation", "fetch",
				"outcome", "failure",
				"topic", c.topic,
				"group", c.group,
				"error", err,
			)
			if !sleepCtx(ctx, c.cfg.backoff.Delay(1)) {
				return nil
			}
			continue
		}
		c.process(ctx, msg)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg Message) {
	work := context.WithoutCancel(ctx)
	eventID := eventIDOf(msg.Value)

	if c.cfg.dedup != nil && eventID != "" {
		seen, err := c.cfg.dedup.Seen(work, c.group, eventID)
		if err != nil {
			c.cfg.logger.WarnContext(work, "dedup lookup failed, handling anyway",
				"module", "bus.consumer", "layer", "platform", "operation", "dedup_seen",
				"outcome", "failure", "topic", c.topic, "event_id", eventID, "error", err,
			)
		} else if seen {
			c.cfg.logger.InfoContext(work, "duplicate delivery skipped",
				"module", "bus.consumer", "layer", "platform", "operation", "dedup_seen",
				"outcome", "duplicate", "topic", c.topic, "group", c.group, "event_id", eventID,
			)
			c.commit(work, msg)
			return
		}
	}

	firstSeen := c.cfg.nowFn()
	for attempt := 1; ; attempt++ {
		res := c.invoke(work, msg)
		switch res.Outcome {
		case OutcomeOK:
			if c.cfg.dedup != nil && eventID != "" {
				if err := c.cfg.dedup.Mark(work, c.group, eventID); err != nil {
					c.cfg.logger.WarnContext(work, "dedup mark failed",
						"module", "bus.consumer", "layer", "platform", "operation", "dedup_mark",
						"outcome", "failure", "topic", c.topic, "event_id", eventID, "error", err,
					)
				}
			}
			c.commit(work, msg)
			return
		case OutcomeFatal:
			c.deadLetter(ctx, msg, res.Err, attempt, firstSeen, true)
			return
		default:
			if attempt >= c.cfg.maxDeliveries {
				c.deadLetter(ctx, msg, res.Err, attempt, firstSeen, false)
				return
			}
			c.cfg.logger.WarnContext(work, "handler failed; redelivery scheduled",
				"module", "bus.consumer",
				"layer", "platform",
				"operation", "handle",
				"outcome", "retry",
				"topic", c.topic,
				"group", c.group,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"event_id", eventID,
				"attempt", attempt,
				"error", res.Err,
			)
			// On shutdown the message stays uncommitted and is redelivered after restart.
			if !sleepCtx(ctx, c.cfg.backoff.Delay(attempt)) {
				return
			}
		}
	}
}

func (c *Consumer) invoke(ctx context.Context, msg Message) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Fatal(fmt.Errorf("handler panic: %v", rec))
		}
	}()
	return c.handler(ctx, msg)
}

// deadLetter publishes to <topic>.dlq and only then commits, retrying until it succeeds or
// ctx ends. The writer does not create topics, so every DLQ topic must be provisioned with
// its source topic; a missing one shows up as DeadLetterStalled.
func (c *Consumer) deadLetter(ctx context.Context, msg Message, cause error, attempts int, firstSeen time.Time, fatal bool) {
	work := context.WithoutCancel(ctx)
	summary := "unknown error"
	if cause != nil {
		summary = cause.Error()
	}
	rec := contracts.DLQRecord{
		OriginalTopic: msg.Topic,
		ConsumerGroup: c.group,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           msg.Key,
		ErrorSummary:  summary,
		Fatal:         fatal,
		RetryCount:    attempts,
		FirstSeenAt:   firstSeen,
		LastErrorAt:   c.cfg.nowFn(),
	}
	if json.Valid(msg.Value) {
		rec.Value = msg.Value
	} else {
		rec.Value, _ = json.Marshal(string(msg.Value))
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		c.cfg.logger.ErrorContext(work, "dead letter encode failed", "topic", c.topic, "error", err)
		return
	}
	dlqTopic := contracts.DLQTopic(contracts.Topic(msg.Topic))
	for attempt := 1; ; attempt++ {
		err := c.dlq.Publish(work, dlqTopic, msg.Key, raw)
		if err == nil {
			if c.dlqStalled.Swap(false) {
				c.cfg.logger.InfoContext(work, "dead letter publish recovered",
					"module", "bus.consumer", "layer", "platform", "operation", "dead_letter",
					"outcome", "success", "topic", c.topic, "dlq_topic", dlqTopic, "attempt", attempt,
				)
			}
			break
		}
		c.cfg.logger.ErrorContext(work, "dead letter publish failed",
			"module", "bus.consumer", "layer", "platform", "operation", "dead_letter",
			"outcome", "failure", "topic", c.topic, "dlq_topic", dlqTopic, "attempt", attempt, "error", err,
		)
		if attempt == dlqStallAttempts {
			c.dlqStalled.Store(true)
			c.cfg.logger.ErrorContext(work, "dead letter publish stalled; partition blocked until the dlq topic accepts writes",
				"module", "bus.consumer", "layer", "platform", "operation", "dead_letter",
				"outcome", "stalled", "topic", c.topic, "group", c.group, "partition", msg.Partition, "dlq_topic", dlqTopic,
			)
		}
		if !sleepCtx(ctx, c.cfg.backoff.Delay(attempt)) {
			return
		}
	}
	c.cfg.logger.ErrorContext(work, "message moved to dlq",
		"module", "bus.consumer",
		"layer", "platform",
		"operation", "dead_letter",
		"outcome", "failure",
		"topic", c.topic,
		"group", c.group,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"dlq_topic", dlqTopic,
		"fatal", fatal,
		"retry_count", attempts,
		"error", summary,
	)
	c.commit(work, msg)
}

func (c *Consumer) commit(ctx context.Context, msg Message) {
	if err := c.source.Commit(ctx, msg); err != nil {
		c.cfg.logger.ErrorContext(ctx, "consumer commit failed",
			"module", "bus.consumer",
			"layer", "platform",
			"operation", "commit",
			"outcome", "failure",
			"topic", c.topic,
			"group", c.group,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err,
		)
	}
}
