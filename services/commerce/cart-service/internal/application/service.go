package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/ports"
)

type Config struct {
	ServiceName     string
	ConflictRetries int
}

type Dependencies struct {
	Config Config
	Items  ports.ItemReader
	Carts  ports.CartRepository
	Logger *slog.Logger
	Now    func() time.Time
}

type Service struct {
	cfg    Config
	items  ports.ItemReader
	carts  ports.CartRepository
	logger *slog.Logger
	nowFn  func() time.Time
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cart-service"
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{cfg: cfg, items: deps.Items, carts: deps.Carts, logger: logger, nowFn: nowFn}
}

func (s *Service) CreateCart(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := domain.NewCart(uuid.NewString(), userID, s.nowFn())
	if err != nil {
		return domain.Cart{}, err
	}
	if err := s.carts.Create(ctx, cart); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (s *Service) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Cart{}, fmt.Errorf("%w: cart id is required", domain.ErrInvalidInput)
	}
	return s.carts.Get(ctx, id)
}

type SetItemInput struct {
	Quantity        int    `json:"quantity"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// SetItem prices the line from the item replica. The stock check is advisory; orders
// decide admission.
func (s *Service) SetItem(ctx context.Context, cartID, entityID string, in SetItemInput) (domain.Cart, error) {
	var item ports.ItemView
	if in.Quantity > 0 {
		var err error
		item, err = s.items.Item(ctx, entityID)
		if err != nil {
			return domain.Cart{}, err
		}
		if in.Quantity > item.Quantity {
			return domain.Cart{}, fmt.Errorf("%w: only %d of %s in stock", domain.ErrInvalidInput, item.Quantity, entityID)
		}
	}
	return s.mutate(ctx, cartID, in.ExpectedVersion, func(c domain.Cart) (domain.Cart, error) {
		return c.SetLine(entityID, in.Quantity, item.Price, s.nowFn())
	}, nil)
}

func (s *Service) RemoveItem(ctx context.Context, cartID, entityID string) (domain.Cart, error) {
	return s.SetItem(ctx, cartID, entityID, SetItemInput{Quantity: 0})
}

// Checkout closes the cart and emits cart-checkout at the closing version, keyed by cart.
func (s *Service) Checkout(ctx context.Context, cartID, traceID string) (domain.Cart, error) {
	cart, err := s.mutate(ctx, cartID, nil, func(c domain.Cart) (domain.Cart, error) {
		return c.Checkout(s.nowFn())
	}, func(c domain.Cart) (*outbox.Record, error) {
		return s.checkoutEvent(c, traceID)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	s.logger.InfoContext(ctx, "cart checked out",
		"module", "application.carts",
		"layer", "application",
		"operation", "checkout",
		"outcome", "success",
		"cart_id", cart.ID,
		"version", cart.Version,
		"total", cart.Total(),
	)
	return cart, nil
}

// RepriceItem follows catalog price changes into open carts. Carts are local state, so no
// event is emitted.
func (s *Service) RepriceItem(ctx context.Context, entityID string, price int64) (int, error) {
	carts, err := s.carts.ListOpenWithItem(ctx, entityID)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, c := range carts {
		_, err := s.mutate(ctx, c.ID, nil, func(c domain.Cart) (domain.Cart, error) {
			next, changed := c.Reprice(entityID, price, s.nowFn())
			if !changed {
				return domain.Cart{}, errUnchanged
			}
			return next, nil
		}, nil)
		switch {
		case err == nil:
			updated++
		case errors.Is(err, errUnchanged), errors.Is(err, domain.ErrCartClosed):
		default:
			return updated, err
		}
	}
	return updated, nil
}

var errUnchanged = errors.New("cart unchanged")

type mutateFn func(domain.Cart) (domain.Cart, error)

type eventFn func(domain.Cart) (*outbox.Record, error)

func (s *Service) mutate(ctx context.Context, cartID string, expected *int64, fn mutateFn, event eventFn) (domain.Cart, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.ConflictRetries; attempt++ {
		current, err := s.carts.Get(ctx, cartID)
		if err != nil {
			return domain.Cart{}, err
		}
		if expected != nil && *expected != current.Version {
			return domain.Cart{}, fmt.Errorf("%w: cart %s is at v%d, expected v%d", domain.ErrConflict, cartID, current.Version, *expected)
		}
		next, err := fn(current)
		if err != nil {
			return domain.Cart{}, err
		}
		var rec *outbox.Record
		if event != nil {
			if rec, err = event(next); err != nil {
				return domain.Cart{}, err
			}
		}
		err = s.carts.Update(ctx, next, current.Version, rec)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, domain.ErrConflict) || expected != nil {
			return domain.Cart{}, err
		}
		lastErr = err
	}
	return domain.Cart{}, fmt.Errorf("cart %s changed concurrently: %w", cartID, lastErr)
}

func (s *Service) checkoutEvent(c domain.Cart, traceID string) (*outbox.Record, error) {
	lines := make([]contracts.OrderLine, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, contracts.OrderLine{EntityID: l.EntityID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	env, err := contracts.NewEnvelope(contracts.EnvelopeParams{
		Topic:         contracts.TopicCartCheckout,
		SourceService: s.cfg.ServiceName,
		TraceID:       traceID,
		PartitionKey:  c.ID,
		EntityID:      c.ID,
		Version:       c.Version,
		OccurredAt:    c.UpdatedAt,
		Data:          contracts.CartCheckoutPayload{CartID: c.ID, UserID: c.UserID, Items: lines},
	})
	if err != nil {
		return nil, err
	}
	rec, err := outbox.NewRecord(env)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
