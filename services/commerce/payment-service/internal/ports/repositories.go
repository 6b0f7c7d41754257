package ports

import (
	"context"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
)

type OrderReader interface {
	Order(ctx context.Context, id string) (domain.OrderView, error)
}

type PaymentRepository interface {
	// Create returns domain.ErrConflict when the order already has a payment.
	Create(ctx context.Context, payment domain.Payment, event outbox.Record) error
	Get(ctx context.Context, id string) (domain.Payment, error)
	GetByOrder(ctx context.Context, orderID string) (domain.Payment, error)
}
