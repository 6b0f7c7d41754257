package replica

import (
	"context"
	"log/slog"
	"time"
)

// GapMonitor periodically reports changes that have been parked longer than MaxAge. Those
// entities are missing a predecessor that is not going to arrive on its own.
type GapMonitor struct {
	store    Store
	logger   *slog.Logger
	interval time.Duration
	maxAge   time.Duration
	nowFn    func() time.Time
}

func NewGapMonitor(store Store, logger *slog.Logger, interval, maxAge time.Duration) *GapMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &GapMonitor{
		store:    store,
		logger:   logger,
		interval: interval,
		maxAge:   maxAge,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *GapMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		if _, err := m.CheckOnce(ctx); err != nil {
			m.logger.ErrorContext(ctx, "gap monitor iteration failed",
				"module", "replica.gap_monitor",
				"layer", "worker",
				"operation", "check_parked",
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

// CheckOnce logs every stale parked change and returns how many were found.
func (m *GapMonitor) CheckOnce(ctx context.Context) (int, error) {
	now := m.nowFn()
	stale, err := m.store.Parked(ctx, now.Add(-m.maxAge))
	if err != nil {
		return 0, err
	}
	for _, p := range stale {
		m.logger.ErrorContext(ctx, "replica change parked past threshold",
			"module", "replica.gap_monitor",
			"layer", "worker",
			"operation", "check_parked",
			"outcome", "stale",
			"kind", p.Kind,
			"entity_id", p.ID,
			"version", p.Version,
			"event_id", p.EventID,
			"topic", p.Topic,
			"parked_for", now.Sub(p.ParkedAt).String(),
		)
	}
	return len(stale), nil
}
