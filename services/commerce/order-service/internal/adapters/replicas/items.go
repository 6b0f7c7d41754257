// Package replicas reads the order service's item replica in domain terms.
package replicas

import (
	"context"
	"errors"
	"fmt"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

const ItemKind = "item"

type Items struct {
	store replica.Store
}

func NewItems(store replica.Store) *Items {
	return &Items{store: store}
}

func (i *Items) Item(ctx context.Context, id string) (domain.Item, error) {
	rec, err := i.store.Get(ctx, ItemKind, id)
	if errors.Is(err, replica.ErrNotFound) {
		return domain.Item{}, fmt.Errorf("%w: %s", domain.ErrUnknownItem, id)
	}
	if err != nil {
		return domain.Item{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return ItemFromRecord(rec)
}

func ItemFromRecord(rec replica.Record) (domain.Item, error) {
	var payload contracts.ItemPayload
	if err := rec.Decode(&payload); err != nil {
		return domain.Item{}, err
	}
	return domain.Item{
		ID:       rec.ID,
		Title:    payload.Title,
		Price:    payload.Price,
		Quantity: payload.Quantity,
		Version:  rec.Version,
	}, nil
}
