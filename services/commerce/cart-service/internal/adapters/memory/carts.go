// Package memory holds in-process repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
)

type CartRepository struct {
	mu     sync.Mutex
	outbox *outbox.MemoryRepository
	rows   map[string]domain.Cart
}

func NewCartRepository(ob *outbox.MemoryRepository) *CartRepository {
	return &CartRepository{outbox: ob, rows: map[string]domain.Cart{}}
}

func (r *CartRepository) Create(_ context.Context, cart domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[cart.ID]; ok {
		return fmt.Errorf("%w: cart %s exists", domain.ErrConflict, cart.ID)
	}
	r.rows[cart.ID] = clone(cart)
	return nil
}

func (r *CartRepository) Update(ctx context.Context, cart domain.Cart, expectedVersion int64, event *outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rows[cart.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: cart %s at v%d, expected v%d", domain.ErrConflict, cart.ID, current.Version, expectedVersion)
	}
	if event != nil {
		if err := r.outbox.Enqueue(ctx, *event); err != nil {
			return err
		}
	}
	r.rows[cart.ID] = clone(cart)
	return nil
}

func (r *CartRepository) Get(_ context.Context, id string) (domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.rows[id]
	if !ok {
		return domain.Cart{}, domain.ErrNotFound
	}
	return clone(cart), nil
}

func (r *CartRepository) ListOpenWithItem(_ context.Context, entityID string) ([]domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Cart
	for _, cart := range r.rows {
		if cart.Status != domain.StatusOpen {
			continue
		}
		if _, ok := cart.Line(entityID); ok {
			out = append(out, clone(cart))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func clone(c domain.Cart) domain.Cart {
	c.Lines = append([]domain.Line(nil), c.Lines...)
	return c
}
