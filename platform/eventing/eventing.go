// Package eventing picks the bus and deduplication backends a service runs against.
package eventing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/viralforge/commerce-mesh/platform/bus"
	"github.com/viralforge/commerce-mesh/platform/cache"
	"github.com/viralforge/commerce-mesh/platform/config"
)

// Bus is what a service needs from its broker connection.
type Bus interface {
	bus.Publisher
	bus.Subscriber
	Close() error
}

// Subscription binds a handler to one (topic, group).
type Subscription struct {
	Topic   string
	Group   string
	Handler bus.Handler
}

// Group names a consumer group as service.purpose.
func Group(serviceID, purpose string) string {
	return serviceID + "." + purpose
}

// Open connects to Kafka when brokers are configured and fails if they stay unreachable.
// Without brokers the service runs on an in-process broker.
func Open(ctx context.Context, cfg config.Common, logger *slog.Logger) (Bus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.WarnContext(ctx, "no kafka brokers configured, using in-memory broker",
			"module", "eventing", "layer", "platform", "operation", "open", "outcome", "fallback",
		)
		return bus.NewMemoryBroker(4), nil
	}
	conn := bus.NewConn(bus.ConnConfig{
		Brokers:      cfg.KafkaBrokers,
		ClientID:     cfg.KafkaClientID,
		DialAttempts: cfg.KafkaDialAttempts,
	}, logger)
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// Deduplicator returns a redis-backed deduplicator when REDIS_URL is set. The returned
// close func is never nil.
func Deduplicator(ctx context.Context, cfg config.Common, logger *slog.Logger) (bus.Deduplicator, func() error, error) {
	if cfg.RedisURL == "" {
		logger.WarnContext(ctx, "no redis configured, deduplicating in memory",
			"module", "eventing", "layer", "platform", "operation", "open", "outcome", "fallback",
		)
		return bus.NewMemoryDeduplicator(), func() error { return nil }, nil
	}
	client, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return bus.NewRedisDeduplicator(client, cfg.EventDedupTTL), client.Close, nil
}

func ConsumerOptions(cfg config.Common, dedup bus.Deduplicator, logger *slog.Logger) []bus.ConsumerOption {
	opts := []bus.ConsumerOption{
		bus.WithMaxDeliveries(cfg.ConsumerMaxDeliveries),
		bus.WithRetryBackoff(bus.Backoff{Initial: cfg.ConsumerRetryBackoff, Max: 25 * cfg.ConsumerRetryBackoff}),
		bus.WithLogger(logger),
	}
	if dedup != nil {
		opts = append(opts, bus.WithDeduplicator(dedup))
	}
	return opts
}

// SubscribeAll registers every subscription and returns the consumers in order.
func SubscribeAll(b bus.Subscriber, subs []Subscription, opts ...bus.ConsumerOption) ([]*bus.Consumer, error) {
	out := make([]*bus.Consumer, 0, len(subs))
	for _, s := range subs {
		c, err := b.Subscribe(s.Topic, s.Group, s.Handler, opts...)
		if err != nil {
			return nil, fmt.Errorf("subscribe %s as %s: %w", s.Topic, s.Group, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// OutboxInterval is the relay poll interval with a floor.
func OutboxInterval(cfg config.Common) time.Duration {
	if cfg.OutboxPollInterval < 100*time.Millisecond {
		return 100 * time.Millisecond
	}
	return cfg.OutboxPollInterval
}
