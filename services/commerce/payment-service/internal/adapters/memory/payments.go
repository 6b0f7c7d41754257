// Package memory holds in-process repositories for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
)

type PaymentRepository struct {
	mu      sync.Mutex
	outbox  *outbox.MemoryRepository
	rows    map[string]domain.Payment
	byOrder map[string]string
}

func NewPaymentRepository(ob *outbox.MemoryRepository) *PaymentRepository {
	return &PaymentRepository{outbox: ob, rows: map[string]domain.Payment{}, byOrder: map[string]string{}}
}

func (r *PaymentRepository) Create(ctx context.Context, payment domain.Payment, event outbox.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byOrder[payment.OrderID]; ok {
		return fmt.Errorf("%w: order %s already paid", domain.ErrConflict, payment.OrderID)
	}
	if err := r.outbox.Enqueue(ctx, event); err != nil {
		return err
	}
	r.rows[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID
	return nil
}

func (r *PaymentRepository) Get(_ context.Context, id string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return p, nil
}

func (r *PaymentRepository) GetByOrder(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return r.rows[id], nil
}
