package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/commerce-mesh/platform/bus"
)

type WorkerConfig struct {
	Interval   time.Duration
	BatchSize  int
	ClaimTTL   time.Duration
	MaxRetries int
	// RetryBackoff spaces out attempts at a record whose last publish failed.
	RetryBackoff bus.Backoff
}

// BatchResult counts what one relay pass did.
type BatchResult struct {
	Claimed      int
	Published    int
	Failed       int
	DeadLettered int
	Deferred     int
}

// Worker relays claimed outbox records to the bus in creation order per partition key.
// Once a record for a key fails or is backing off, later records for that key wait for the
// next pass. Transient broker errors are retried indefinitely; a record is dead-lettered
// only when the broker rejects it and it has reached MaxRetries.
type Worker struct {
	logger     *slog.Logger
	repo       Repository
	publisher  bus.Publisher
	interval   time.Duration
	batchSize  int
	claimTTL   time.Duration
	maxRetries int
	backoff    bus.Backoff
	nowFn      func() time.Time
}

// NewWorker constructs the outbox relay loop with sane defaults.
func NewWorker(logger *slog.Logger, repo Repository, publisher bus.Publisher, cfg WorkerConfig) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff.Initial <= 0 {
		cfg.RetryBackoff.Initial = cfg.Interval
	}
	if cfg.RetryBackoff.Max <= 0 {
		cfg.RetryBackoff.Max = time.Minute
	}
	return &Worker{
		logger:     logger,
		repo:       repo,
		publisher:  publisher,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		claimTTL:   cfg.ClaimTTL,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.logger.ErrorContext(ctx, "outbox iteration failed",
				"module", "outbox.worker",
				"layer", "worker",
				"operation", "outbox_process_once",
				"outcome", "failure",
				"error", err,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch and relays it.
func (w *Worker) ProcessOnce(ctx context.Context) (BatchResult, error) {
	claimToken := uuid.NewString()
	records, err := w.repo.ClaimUnpublished(ctx, w.batchSize, claimToken, w.nowFn().Add(w.claimTTL))
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Claimed: len(records)}
	held := map[string]bool{}
	for _, rec := range records {
		now := w.nowFn()
		if held[rec.PartitionKey] || w.backingOff(rec, now) {
			w.hold(held, rec)
			res.Deferred++
			if err := w.repo.ReleaseClaim(ctx, rec.OutboxID, claimToken); err != nil {
				w.logMarkError(ctx, rec, "release_claim", err)
			}
			continue
		}

		if err := w.publisher.Publish(ctx, rec.Topic, rec.PartitionKey, rec.Payload); err != nil {
			res.Failed++
			retriesAfterFailure := rec.RetryCount + 1
			if bus.IsPermanentPublishError(err) && retriesAfterFailure >= w.maxRetries {
				res.DeadLettered++
				w.logger.ErrorContext(ctx, "outbox message moved to dlq",
					"module", "outbox.worker",
					"layer", "worker",
					"operation", "publish_event",
					"outcome", "failure",
					"outbox_id", rec.OutboxID,
					"topic", rec.Topic,
					"partition_key", rec.PartitionKey,
					"retry_count", retriesAfterFailure,
					"error", err,
				)
				w.markDeadLettered(ctx, rec, claimToken, err.Error(), now)
				continue
			}

			w.hold(held, rec)
			w.logger.WarnContext(ctx, "outbox publish failed; retry scheduled",
				"module", "outbox.worker",
				"layer", "worker",
				"operation", "publish_event",
				"outcome", "failure",
				"outbox_id", rec.OutboxID,
				"topic", rec.Topic,
				"partition_key", rec.PartitionKey,
				"retry_count", retriesAfterFailure,
				"retry_in", w.backoff.Delay(retriesAfterFailure),
				"error", err,
			)
			if markErr := w.repo.MarkFailed(ctx, rec.OutboxID, claimToken, err.Error(), now); markErr != nil {
				w.logMarkError(ctx, rec, "mark_failed", markErr)
			}
			continue
		}
		res.Published++
		if err := w.repo.MarkPublished(ctx, rec.OutboxID, claimToken, now); err != nil {
			// The claim expires and the record is published again; consumers drop the repeat.
			w.logMarkError(ctx, rec, "mark_published", err)
		}
	}
	if len(records) > 0 {
		w.logger.InfoContext(ctx, "outbox batch processed",
			"module", "outbox.worker",
			"layer", "worker",
			"operation", "outbox_process_once",
			"outcome", "success",
			"batch_size", len(records),
			"published_count", res.Published,
			"failed_count", res.Failed,
			"dead_lettered_count", res.DeadLettered,
			"deferred_count", res.Deferred,
		)
	}
	return res, nil
}

// backingOff reports whether rec failed too recently to be tried again.
func (w *Worker) backingOff(rec Record, now time.Time) bool {
	if rec.LastErrorAt == nil || rec.RetryCount == 0 {
		return false
	}
	return now.Before(rec.LastErrorAt.Add(w.backoff.Delay(rec.RetryCount)))
}

// hold keeps later records for rec's key out of this pass. Keyless records carry no order.
func (w *Worker) hold(held map[string]bool, rec Record) {
	if rec.PartitionKey != "" {
		held[rec.PartitionKey] = true
	}
}

func (w *Worker) markDeadLettered(ctx context.Context, rec Record, claimToken, reason string, at time.Time) {
	if err := w.repo.MarkDeadLettered(ctx, rec.OutboxID, claimToken, reason, at); err != nil {
		w.logMarkError(ctx, rec, "mark_dead_lettered", err)
	}
}

func (w *Worker) logMarkError(ctx context.Context, rec Record, operation string, err error) {
	w.logger.ErrorContext(ctx, "outbox state update failed",
		"module", "outbox.worker",
		"layer", "worker",
		"operation", operation,
		"outcome", "failure",
		"outbox_id", rec.OutboxID,
		"error", err,
	)
}
