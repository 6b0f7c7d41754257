package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

// checkoutNamespace derives order ids from cart checkouts so a redelivered checkout maps to
// the order it already produced.
var checkoutNamespace = uuid.MustParse("6f1c2a7e-3f0b-4c55-9a3e-2d8e5b7c9a10")

type LineInput struct {
	EntityID string `json:"entity_id"`
	Quantity int    `json:"quantity"`
}

type PlaceOrderInput struct {
	UserID  string      `json:"user_id"`
	Items   []LineInput `json:"items"`
	TraceID string      `json:"-"`
}

func (s *Service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (domain.Order, error) {
	return s.place(ctx, uuid.NewString(), in.UserID, domain.StatusCreated, in.Items, in.TraceID)
}

// PlaceFromCheckout turns a cart checkout into an order awaiting user confirmation. Replays
// of the same checkout return the existing order.
func (s *Service) PlaceFromCheckout(ctx context.Context, env contracts.EventEnvelope) (domain.Order, error) {
	var payload contracts.CartCheckoutPayload
	if err := env.DecodeData(&payload); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	orderID := CheckoutOrderID(payload.CartID, env.Version)
	if existing, err := s.orders.Get(ctx, orderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Order{}, err
	}
	lines := make([]LineInput, 0, len(payload.Items))
	for _, l := range payload.Items {
		lines = append(lines, LineInput{EntityID: l.EntityID, Quantity: l.Quantity})
	}
	order, err := s.place(ctx, orderID, payload.UserID, domain.StatusInitial, lines, env.TraceID)
	if errors.Is(err, domain.ErrConflict) {
		return s.orders.Get(ctx, orderID)
	}
	return order, err
}

func CheckoutOrderID(cartID string, cartVersion int64) string {
	return uuid.NewSHA1(checkoutNamespace, []byte(fmt.Sprintf("%s:%d", cartID, cartVersion))).String()
}

func (s *Service) place(ctx context.Context, orderID, userID string, entry domain.Status, in []LineInput, traceID string) (domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Order{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	if len(in) == 0 {
		return domain.Order{}, fmt.Errorf("%w: at least one item is required", domain.ErrInvalidInput)
	}
	sorted := append([]LineInput(nil), in...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntityID < sorted[j].EntityID })

	lines := make([]domain.OrderLine, 0, len(sorted))
	for _, l := range sorted {
		if l.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: quantity for %s must be positive", domain.ErrInvalidInput, l.EntityID)
		}
		item, err := s.items.Item(ctx, l.EntityID)
		if err != nil {
			return domain.Order{}, err
		}
		ok, err := s.accountant.CanReserve(ctx, l.EntityID, l.Quantity, "")
		if err != nil {
			return domain.Order{}, err
		}
		if !ok {
			s.logDeclined(ctx, orderID, l.EntityID, "advisory")
			return domain.Order{}, fmt.Errorf("%w: %s", domain.ErrInsufficientInventory, l.EntityID)
		}
		lines = append(lines, domain.OrderLine{EntityID: l.EntityID, Quantity: l.Quantity, UnitPrice: item.Price})
	}

	order, err := domain.NewOrder(orderID, userID, entry, lines, s.nowFn(), s.cfg.ReservationTTL)
	if err != nil {
		return domain.Order{}, err
	}
	event, err := s.orderEvent(order, traceID)
	if err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.CreateOrderIfAvailable(ctx, order, event); err != nil {
		if errors.Is(err, domain.ErrInsufficientInventory) {
			s.logDeclined(ctx, orderID, "", "guarded_write")
		}
		return domain.Order{}, err
	}
	s.logger.InfoContext(ctx, "order placed",
		"module", "application.orders",
		"layer", "application",
		"operation", "place_order",
		"outcome", "success",
		"order_id", order.ID,
		"status", order.Status,
		"total", order.Total,
		"event_id", event.OutboxID,
	)
	return order, nil
}

func (s *Service) logDeclined(ctx context.Context, orderID, entityID, stage string) {
	s.logger.InfoContext(ctx, "order declined, inventory unavailable",
		"module", "application.orders",
		"layer", "application",
		"operation", "place_order",
		"outcome", "declined",
		"order_id", orderID,
		"entity_id", entityID,
		"stage", stage,
	)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	return s.orders.Get(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	return s.orders.ListByUser(ctx, userID)
}

// ConfirmOrder moves a checkout order from Initial to Created.
func (s *Service) ConfirmOrder(ctx context.Context, id string) (domain.Order, error) {
	return s.transition(ctx, id, domain.StatusCreated, nil)
}

// BeginPayment re-checks every line against current stock, ignoring this order's own
// reservation, before handing the order to payments.
func (s *Service) BeginPayment(ctx context.Context, id string) (domain.Order, error) {
	return s.transition(ctx, id, domain.StatusAwaitingPayment, func(ctx context.Context, o domain.Order) error {
		for _, l := range o.Items {
			ok, err := s.accountant.CanReserve(ctx, l.EntityID, l.Quantity, o.ID)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrInsufficientInventory, l.EntityID)
			}
		}
		return nil
	})
}

// CompleteOrder is driven by payment-created. Completing an already complete order is a
// no-op.
func (s *Service) CompleteOrder(ctx context.Context, id string) (domain.Order, error) {
	current, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status == domain.StatusComplete {
		return current, nil
	}
	return s.transition(ctx, id, domain.StatusComplete, nil)
}

func (s *Service) CancelOrder(ctx context.Context, id string) (domain.Order, error) {
	current, err := s.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if current.Status == domain.StatusCancelled {
		return current, nil
	}
	return s.transition(ctx, id, domain.StatusCancelled, nil)
}

// ExpireOrders cancels active orders whose reservation window has passed.
func (s *Service) ExpireOrders(ctx context.Context, limit int) (int, error) {
	expired, err := s.orders.ListExpired(ctx, s.nowFn(), limit)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for _, o := range expired {
		if _, err := s.transition(ctx, o.ID, domain.StatusCancelled, nil); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return cancelled, err
		}
		cancelled++
	}
	return cancelled, nil
}

type guardFn func(ctx context.Context, o domain.Order) error

func (s *Service) transition(ctx context.Context, id string, next domain.Status, guard guardFn) (domain.Order, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		current, err := s.orders.Get(ctx, id)
		if err != nil {
			return domain.Order{}, err
		}
		if guard != nil {
			if err := guard(ctx, current); err != nil {
				return domain.Order{}, err
			}
		}
		updated, err := current.Transition(next, s.nowFn())
		if err != nil {
			return domain.Order{}, err
		}
		event, err := s.orderEvent(updated, "")
		if err != nil {
			return domain.Order{}, err
		}
		err = s.orders.UpdateStatus(ctx, updated, current.Version, event)
		if err == nil {
			s.logger.InfoContext(ctx, "order status changed",
				"module", "application.orders",
				"layer", "application",
				"operation", "transition",
				"outcome", "success",
				"order_id", id,
				"from", current.Status,
				"to", next,
				"version", updated.Version,
			)
			return updated, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Order{}, err
		}
		lastErr = err
	}
	return domain.Order{}, fmt.Errorf("order %s changed concurrently: %w", id, lastErr)
}
