package bus

import (
	"context"
	"fmt"

	"github.com/viralforge/commerce-mesh/contracts"
)

// EventPublisher builds a validated envelope and publishes it keyed by the partition key.
type EventPublisher struct {
	publisher Publisher
	service   string
}

// NewEventPublisher stamps service as the source of every envelope it publishes.
func NewEventPublisher(publisher Publisher, service string) *EventPublisher {
	return &EventPublisher{publisher: publisher, service: service}
}

// PublishEvent builds the envelope for entityID at version, publishes it keyed by key and
// returns what was sent.
func (p *EventPublisher) PublishEvent(ctx context.Context, topic contracts.Topic, key, entityID string, version int64, data any) (contracts.EventEnvelope, error) {
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         topic,
		SourceService: p.service,
		PartitionKey:  key,
		EntityID:      entityID,
		Version:       version,
		Data:          data,
	})
	if err != nil {
		return contracts.EventEnvelope{}, err
	}
	raw, err := env.Encode()
	if err != nil {
		return contracts.EventEnvelope{}, fmt.Errorf("encode %s envelope: %w", topic, err)
	}
	if err := p.publisher.Publish(ctx, string(topic), key, raw); err != nil {
		return contracts.EventEnvelope{}, fmt.Errorf("publish %s: %w", topic, err)
	}
	return env, nil
}
