package ports

import (
	"context"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/domain"
)

// ItemRepository persists canonical items together with the event describing each write.
type ItemRepository interface {
	// Create returns domain.ErrConflict when the id is taken.
	Create(ctx context.Context, item domain.Item, event outbox.Record) error
	// Update writes item if the stored version is still expectedVersion.
	Update(ctx context.Context, item domain.Item, expectedVersion int64, event outbox.Record) error
	Get(ctx context.Context, id string) (domain.Item, error)
	List(ctx context.Context, sellerID string, limit int) ([]domain.Item, error)
}
