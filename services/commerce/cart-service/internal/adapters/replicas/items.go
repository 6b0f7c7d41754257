// Package replicas reads the cart service's item replica.
package replicas

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/ports"
)

const ItemKind = "item"

type Items struct {
	store replica.Store
}

func NewItems(store replica.Store) *Items {
	return &Items{store: store}
}

func (i *Items) Item(ctx context.Context, id string) (ports.ItemView, error) {
	rec, err := i.store.Get(ctx, ItemKind, id)
	if errors.Is(err, replica.ErrNotFound) {
		return ports.ItemView{}, fmt.Errorf("%w: %s", domain.ErrUnknownItem, id)
	}
	if err != nil {
		return ports.ItemView{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return ViewFromRecord(rec)
}

func ViewFromRecord(rec replica.Record) (ports.ItemView, error) {
	var payload contracts.ItemPayload
	if err := rec.Decode(&payload); err != nil {
		return ports.ItemView{}, err
	}
	return ports.ItemView{ID: rec.ID, Title: payload.Title, Price: payload.Price, Quantity: payload.Quantity, Version: rec.Version}, nil
}
