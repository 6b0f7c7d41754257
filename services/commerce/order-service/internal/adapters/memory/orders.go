// Package memory holds in-process repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/ports"
)

type OrderRepository struct {
	mu     sync.Mutex
	items  ports.ItemReader
	outbox *outbox.MemoryRepository
	rows   map[string]domain.Order
}

func NewOrderRepository(items ports.ItemReader, ob *outbox.MemoryRepository) *OrderRepository {
	return &OrderRepository{items: items, outbox: ob, rows: map[string]domain.Order{}}
}

func (r *OrderRepository) CreateOrderIfAvailable(ctx context.Context, order domain.Order, event outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[order.ID]; exists {
		return fmt.Errorf("%w: order %s exists", domain.ErrConflict, order.ID)
	}
	for entityID, qty := range order.Quantities() {
		item, err := r.items.Item(ctx, entityID)
		if err != nil {
			return err
		}
		if r.reservedLocked(entityID, "")+qty > item.Quantity {
			return fmt.Errorf("%w: %s", domain.ErrInsufficientInventory, entityID)
		}
	}
	if err := r.outbox.Enqueue(ctx, event); err != nil {
		return err
	}
	r.rows[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expectedVersion int64, event outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rows[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: order %s at v%d, expected v%d", domain.ErrConflict, order.ID, current.Version, expectedVersion)
	}
	if err := r.outbox.Enqueue(ctx, event); err != nil {
		return err
	}
	current.Status = order.Status
	current.Version = order.Version
	current.UpdatedAt = order.UpdatedAt
	r.rows[order.ID] = current
	return nil
}

func (r *OrderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.rows[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, o := range r.rows {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *OrderRepository) ListExpired(_ context.Context, now time.Time, limit int) ([]domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, o := range r.rows {
		if o.Status.IsActive() && o.ExpiresAt.Before(now) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) ActiveReservations(_ context.Context, entityID, excludeOrderID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reservedLocked(entityID, excludeOrderID), nil
}

func (r *OrderRepository) reservedLocked(entityID, excludeOrderID string) int {
	total := 0
	for id, o := range r.rows {
		if id == excludeOrderID || !o.Status.IsActive() {
			continue
		}
		for _, l := range o.Items {
			if l.EntityID == entityID {
				total += l.Quantity
			}
		}
	}
	return total
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderLine(nil), o.Items...)
	return o
}
