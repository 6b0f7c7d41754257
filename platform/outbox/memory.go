package outbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
	nowFn   func() time.Time
}

// NewMemoryRepository is the in-process outbox used when no database is configured.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: map[uuid.UUID]Record{},
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Enqueue(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rec.OutboxID]; exists {
		return fmt.Errorf("outbox record %s already enqueued", rec.OutboxID)
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	r.records[rec.OutboxID] = rec
	return nil
}

func (r *MemoryRepository) ClaimUnpublished(_ context.Context, limit int, claimToken string, claimUntil time.Time) ([]Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	if claimToken == "" {
		return nil, ErrClaimTokenRequired
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowFn()
	pending := make([]Record, 0)
	for _, rec := range r.records {
		if rec.PublishedAt != nil || rec.DeadLetteredAt != nil {
			continue
		}
		if rec.ClaimUntil != nil && !rec.ClaimUntil.Before(now) {
			continue
		}
		pending = append(pending, rec)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	until := claimUntil
	for i := range pending {
		pending[i].ClaimToken = claimToken
		pending[i].ClaimUntil = &until
		r.records[pending[i].OutboxID] = pending[i]
	}
	return pending, nil
}

func (r *MemoryRepository) update(outboxID uuid.UUID, claimToken string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[outboxID]
	if !ok || rec.ClaimToken != claimToken {
		return nil
	}
	fn(&rec)
	rec.ClaimToken = ""
	rec.ClaimUntil = nil
	r.records[outboxID] = rec
	return nil
}

func (r *MemoryRepository) MarkPublished(_ context.Context, outboxID uuid.UUID, claimToken string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *Record) { rec.PublishedAt = &at })
}

func (r *MemoryRepository) MarkFailed(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *Record) {
		rec.RetryCount++
		rec.LastError = errMsg
		rec.LastErrorAt = &at
	})
}

func (r *MemoryRepository) MarkDeadLettered(_ context.Context, outboxID uuid.UUID, claimToken, errMsg string, at time.Time) error {
	return r.update(outboxID, claimToken, func(rec *Record) {
		rec.RetryCount++
		rec.LastError = errMsg
		rec.LastErrorAt = &at
		rec.DeadLetteredAt = &at
	})
}

func (r *MemoryRepository) ReleaseClaim(_ context.Context, outboxID uuid.UUID, claimToken string) error {
	return r.update(outboxID, claimToken, func(*Record) {})
}

// Snapshot returns every record, oldest first.
func (r *MemoryRepository) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
