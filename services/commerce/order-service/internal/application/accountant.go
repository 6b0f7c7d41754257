package application

import (
	"context"
	"fmt"

	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/ports"
)

// Accountant answers whether demand fits the replica's stock. Its answer is a hint: two
// callers can both be told yes. Admission is decided by the repository's guarded insert.
type Accountant struct {
	items        ports.ItemReader
	reservations ports.ReservationReader
}

func NewAccountant(items ports.ItemReader, reservations ports.ReservationReader) *Accountant {
	return &Accountant{items: items, reservations: reservations}
}

// Available is replica quantity minus units held by active orders other than excludeOrderID.
func (a *Accountant) Available(ctx context.Context, entityID, excludeOrderID string) (int, error) {
	item, err := a.items.Item(ctx, entityID)
	if err != nil {
		return 0, err
	}
	reserved, err := a.reservations.ActiveReservations(ctx, entityID, excludeOrderID)
	if err != nil {
		return 0, fmt.Errorf("sum reservations for %s: %w", entityID, err)
	}
	return item.Quantity - reserved, nil
}

func (a *Accountant) CanReserve(ctx context.Context, entityID string, requestedQty int, excludeOrderID string) (bool, error) {
	if requestedQty <= 0 {
		return false, fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	available, err := a.Available(ctx, entityID, excludeOrderID)
	if err != nil {
		return false, err
	}
	return requestedQty <= available, nil
}
