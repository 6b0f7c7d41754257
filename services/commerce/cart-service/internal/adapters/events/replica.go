package events

import (
	"context"
	"log/slog"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/eventing"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/application"
)

// NewItemApplier builds the item replica applier and hooks price changes into open carts.
func NewItemApplier(store replica.Store, service *application.Service, logger *slog.Logger) *replica.Applier {
	if logger == nil {
		logger = slog.Default()
	}
	applier := replica.NewApplier(replicas.ItemKind, store, logger)
	applier.OnChanged(func(ctx context.Context, rec replica.Record) error {
		view, err := replicas.ViewFromRecord(rec)
		if err != nil {
			return err
		}
		n, err := service.RepriceItem(ctx, view.ID, view.Price)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.InfoContext(ctx, "open carts repriced",
				"module", "adapters.events",
				"layer", "adapter",
				"operation", "reprice",
				"outcome", "success",
				"entity_id", view.ID,
				"version", rec.Version,
				"carts", n,
			)
		}
		return nil
	})
	return applier
}

func Subscriptions(serviceID string, items *replica.Applier) []eventing.Subscription {
	group := eventing.Group(serviceID, "item-replica")
	return []eventing.Subscription{
		{Topic: string(contracts.TopicEntityCreated), Group: group, Handler: items.Handler()},
		{Topic: string(contracts.TopicEntityUpdated), Group: group, Handler: items.Handler()},
	}
}
