package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
)

// ExpirationWorker cancels active orders whose reservation window has passed, releasing
// their units.
type ExpirationWorker struct {
	logger    *slog.Logger
	service   *application.Service
	interval  time.Duration
	batchSize int
}

func NewExpirationWorker(logger *slog.Logger, service *application.Service, interval time.Duration, batchSize int) *ExpirationWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &ExpirationWorker{logger: logger, service: service, interval: interval, batchSize: batchSize}
}

func (w *ExpirationWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.service.ExpireOrders(ctx, w.batchSize)
			if err != nil {
				w.logger.ErrorContext(ctx, "order expiration pass failed",
					"module", "adapters.events",
					"layer", "worker",
					"operation", "expire_orders",
					"outcome", "failure",
					"cancelled", n,
					"error", err,
				)
				continue
			}
			if n > 0 {
				w.logger.InfoContext(ctx, "expired orders cancelled",
					"module", "adapters.events",
					"layer", "worker",
					"operation", "expire_orders",
					"outcome", "success",
					"cancelled", n,
				)
			}
		}
	}
}
