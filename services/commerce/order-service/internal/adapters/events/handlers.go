package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/bus"
	"github.com/viralforge/commerce-mesh/platform/eventing"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

type Handlers struct {
	service *application.Service
	logger  *slog.Logger
}

func NewHandlers(service *application.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{service: service, logger: logger}
}

// Subscriptions lists every stream the order service consumes.
func (h *Handlers) Subscriptions(serviceID string, items *replica.Applier) []eventing.Subscription {
	replicaGroup := eventing.Group(serviceID, "item-replica")
	return []eventing.Subscription{
		{Topic: string(contracts.TopicEntityCreated), Group: replicaGroup, Handler: items.Handler()},
		{Topic: string(contracts.TopicEntityUpdated), Group: replicaGroup, Handler: items.Handler()},
		{Topic: string(contracts.TopicPaymentCreated), Group: eventing.Group(serviceID, "payments"), Handler: h.PaymentCreated},
		{Topic: string(contracts.TopicCartCheckout), Group: eventing.Group(serviceID, "checkouts"), Handler: h.CartCheckout},
	}
}

// PaymentCreated completes the paid order. A payment for an unknown order, or for one that
// can no longer complete, needs manual reconciliation.
func (h *Handlers) PaymentCreated(ctx context.Context, msg bus.Message) bus.Result {
	env, err := contracts.DecodeEnvelope(msg.Value)
	if err != nil {
		return bus.Fatal(err)
	}
	var payload contracts.PaymentCreatedPayload
	if err := env.DecodeData(&payload); err != nil {
		return bus.Fatal(err)
	}
	order, err := h.service.CompleteOrder(ctx, payload.OrderID)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment could not complete order",
			"module", "adapters.events",
			"layer", "adapter",
			"operation", "payment_created",
			"outcome", "failure",
			"event_id", env.EventID,
			"order_id", payload.OrderID,
			"payment_id", payload.PaymentID,
			"error", err,
		)
		return bus.FromError(err, domain.ErrNotFound, domain.ErrInvalidTransition, domain.ErrInvalidInput)
	}
	h.logger.InfoContext(ctx, "order paid",
		"module", "adapters.events",
		"layer", "adapter",
		"operation", "payment_created",
		"outcome", "success",
		"event_id", env.EventID,
		"order_id", order.ID,
		"version", order.Version,
	)
	return bus.OK()
}

// CartCheckout places the order for a checked-out cart. Declined checkouts are consumed;
// an item the replica has not seen yet is retried until the replica catches up.
func (h *Handlers) CartCheckout(ctx context.Context, msg bus.Message) bus.Result {
	env, err := contracts.DecodeEnvelope(msg.Value)
	if err != nil {
		return bus.Fatal(err)
	}
	order, err := h.service.PlaceFromCheckout(ctx, env)
	switch {
	case err == nil:
		h.logger.InfoContext(ctx, "checkout placed",
			"module", "adapters.events",
			"layer", "adapter",
			"operation", "cart_checkout",
			"outcome", "success",
			"event_id", env.EventID,
			"cart_id", env.EntityID,
			"order_id", order.ID,
		)
		return bus.OK()
	case errors.Is(err, domain.ErrInsufficientInventory):
		h.logger.InfoContext(ctx, "checkout declined",
			"module", "adapters.events",
			"layer", "adapter",
			"operation", "cart_checkout",
			"outcome", "declined",
			"event_id", env.EventID,
			"cart_id", env.EntityID,
			"error", err,
		)
		return bus.OK()
	default:
		return bus.FromError(err, domain.ErrInvalidInput)
	}
}
