package ports

import (
	"context"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
)

type ItemReader interface {
	Item(ctx context.Context, id string) (ItemView, error)
}

// ItemView is what the cart needs from the item replica.
type ItemView struct {
	ID       string
	Title    string
	Price    int64
	Quantity int
	Version  int64
}

type CartRepository interface {
	Create(ctx context.Context, cart domain.Cart) error
	// Update writes cart if the stored version is still expectedVersion. A non-nil event is
	// stored in the same transaction.
	Update(ctx context.Context, cart domain.Cart, expectedVersion int64, event *outbox.Record) error
	Get(ctx context.Context, id string) (domain.Cart, error)
	ListOpenWithItem(ctx context.Context, entityID string) ([]domain.Cart, error)
}
