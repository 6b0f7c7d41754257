package ports

import (
	"context"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

// ItemReader serves items from the local item replica.
type ItemReader interface {
	Item(ctx context.Context, id string) (domain.Item, error)
}

// ReservationReader sums quantities held by active orders.
type ReservationReader interface {
	ActiveReservations(ctx context.Context, entityID, excludeOrderID string) (int, error)
}

type OrderRepository interface {
	ReservationReader
	// CreateOrderIfAvailable re-checks availability for every line and inserts the order and
	// its event atomically. It returns domain.ErrInsufficientInventory when any line no
	// longer fits and domain.ErrConflict when the order id already exists.
	CreateOrderIfAvailable(ctx context.Context, order domain.Order, event outbox.Record) error
	// UpdateStatus writes order if the stored version is still expectedVersion.
	UpdateStatus(ctx context.Context, order domain.Order, expectedVersion int64, event outbox.Record) error
	Get(ctx context.Context, id string) (domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
}
