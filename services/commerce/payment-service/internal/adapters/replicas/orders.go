// Package replicas reads the payment service's order replica.
package replicas

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
)

const OrderKind = "order"

type Orders struct {
	store replica.Store
}

func NewOrders(store replica.Store) *Orders {
	return &Orders{store: store}
}

func (o *Orders) Order(ctx context.Context, id string) (domain.OrderView, error) {
	rec, err := o.store.Get(ctx, OrderKind, id)
	if errors.Is(err, replica.ErrNotFound) {
		return domain.OrderView{}, fmt.Errorf("%w: %s", domain.ErrUnknownOrder, id)
	}
	if err != nil {
		return domain.OrderView{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	var payload contracts.OrderPayload
	if err := rec.Decode(&payload); err != nil {
		return domain.OrderView{}, err
	}
	return domain.OrderView{ID: rec.ID, UserID: payload.UserID, Status: payload.Status, Total: payload.Total, Version: rec.Version}, nil
}
