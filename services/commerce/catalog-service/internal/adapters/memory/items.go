// Package memory holds in-process repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/domain"
)

type ItemRepository struct {
	mu     sync.Mutex
	outbox *outbox.MemoryRepository
	rows   map[string]domain.Item
}

func NewItemRepository(ob *outbox.MemoryRepository) *ItemRepository {
	return &ItemRepository{outbox: ob, rows: map[string]domain.Item{}}
}

func (r *ItemRepository) Create(ctx context.Context, item domain.Item, event outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[item.ID]; ok {
		return fmt.Errorf("%w: item %s exists", domain.ErrConflict, item.ID)
	}
	if err := r.outbox.Enqueue(ctx, event); err != nil {
		return err
	}
	r.rows[item.ID] = item
	return nil
}

func (r *ItemRepository) Update(ctx context.Context, item domain.Item, expectedVersion int64, event outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.rows[item.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: item %s at v%d, expected v%d", domain.ErrConflict, item.ID, current.Version, expectedVersion)
	}
	if err := r.outbox.Enqueue(ctx, event); err != nil {
		return err
	}
	r.rows[item.ID] = item
	return nil
}

func (r *ItemRepository) Get(_ context.Context, id string) (domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.rows[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return item, nil
}

func (r *ItemRepository) List(_ context.Context, sellerID string, limit int) ([]domain.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Item, 0, len(r.rows))
	for _, item := range r.rows {
		if sellerID == "" || item.SellerID == sellerID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
