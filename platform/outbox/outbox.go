// Package outbox stores events in the same transaction as the domain write that produced
// them and relays them to the bus afterwards.
package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/commerce-mesh/contracts"
)

var ErrClaimTokenRequired = errors.New("outbox claim token is required")

type Record struct {
	OutboxID       uuid.UUID
	Topic          string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

// NewRecord encodes env for the relay. The outbox id is the event id, so enqueueing the same
// envelope twice is rejected by the primary key.
func NewRecord(env contracts.EventEnvelope) (Record, error) {
	id, err := uuid.Parse(env.EventID)
	if err != nil {
		return Record{}, contracts.ErrInvalidEnvelope
	}
	raw, err := env.Encode()
	if err != nil {
		return Record{}, err
	}
	return Record{
		OutboxID:     id,
		Topic:        string(env.EventType),
		PartitionKey: env.PartitionKey,
		Payload:      raw,
		CreatedAt:    env.OccurredAt,
	}, nil
}

type Repository interface {
	Enqueue(ctx context.Context, rec Record) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]Record, error)
	MarkPublished(ctx context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error
	// ReleaseClaim hands a record back untouched so the next pass can claim it.
	ReleaseClaim(ctx context.Context, outboxID uuid.UUID, claimToken string) error
}
