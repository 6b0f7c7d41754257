package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/viralforge/commerce-mesh/contracts"
	"github.com/viralforge/commerce-mesh/platform/outbox"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/memory"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
)

type fixture struct {
	service *application.Service
	store   *replica.MemoryStore
	outbox  *outbox.MemoryRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := replica.NewMemoryStore(replica.DefaultMaxParked)
	ob := outbox.NewMemoryRepository()
	svc := application.NewService(application.Dependencies{
		Items: replicas.NewItems(store),
		Carts: memory.NewCartRepository(ob),
	})
	return fixture{service: svc, store: store, outbox: ob}
}

func (f fixture) stock(t *testing.T, id string, version, price int64, qty int) {
	t.Helper()
	if _, err := f.store.Apply(context.Background(), replica.Change{
		Kind: replicas.ItemKind, ID: id, Version: version, Creates: version == 0,
		Attributes: map[string]any{"item_id": id, "title": id, "price": price, "quantity": qty},
	}); err != nil {
		t.Fatalf("stock: %v", err)
	}
}

func TestCheckoutEmitsEventAtClosingVersion(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "item-1", 0, 300, 5)
	ctx := context.Background()

	cart, err := f.service.CreateCart(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cart, err = f.service.SetItem(ctx, cart.ID, "item-1", application.SetItemInput{Quantity: 2}); err != nil {
		t.Fatalf("set item: %v", err)
	}
	if cart.Total() != 600 {
		t.Fatalf("expected total 600, got %d", cart.Total())
	}
	closed, err := f.service.Checkout(ctx, cart.ID, "")
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if closed.Status != domain.StatusCheckedOut || closed.Version != 2 {
		t.Fatalf("unexpected cart %s v%d", closed.Status, closed.Version)
	}

	records := f.outbox.Snapshot()
	if len(records) != 1 || records[0].Topic != string(contracts.TopicCartCheckout) || records[0].PartitionKey != cart.ID {
		t.Fatalf("expected one cart-checkout keyed by cart, got %+v", records)
	}
	env, err := contracts.DecodeEnvelope(records[0].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var payload contracts.CartCheckoutPayload
	if err := env.DecodeData(&payload); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if env.Version != 2 || env.EntityID != cart.ID || len(payload.Items) != 1 || payload.Items[0].UnitPrice != 300 {
		t.Fatalf("unexpected checkout event v%d %+v", env.Version, payload)
	}

	if _, err := f.service.Checkout(ctx, cart.ID, ""); !errors.Is(err, domain.ErrCartClosed) {
		t.Fatalf("second checkout must fail, got %v", err)
	}
	if len(f.outbox.Snapshot()) != 1 {
		t.Fatalf("failed checkout must not emit")
	}
}

func TestSetItemChecks(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "item-1", 0, 300, 2)
	ctx := context.Background()
	cart, _ := f.service.CreateCart(ctx, "u1")

	if _, err := f.service.SetItem(ctx, cart.ID, "nope", application.SetItemInput{Quantity: 1}); !errors.Is(err, domain.ErrUnknownItem) {
		t.Fatalf("expected unknown item, got %v", err)
	}
	if _, err := f.service.SetItem(ctx, cart.ID, "item-1", application.SetItemInput{Quantity: 3}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected stock rejection, got %v", err)
	}
	stale := int64(4)
	if _, err := f.service.SetItem(ctx, cart.ID, "item-1", application.SetItemInput{Quantity: 1, ExpectedVersion: &stale}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, err := f.service.Checkout(ctx, cart.ID, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("empty cart checkout must be rejected, got %v", err)
	}
}

func TestRepriceFollowsItemUpdates(t *testing.T) {
	f := newFixture(t)
	f.stock(t, "item-1", 0, 300, 5)
	ctx := context.Background()
	open, _ := f.service.CreateCart(ctx, "u1")
	done, _ := f.service.CreateCart(ctx, "u2")
	for _, id := range []string{open.ID, done.ID} {
		if _, err := f.service.SetItem(ctx, id, "item-1", application.SetItemInput{Quantity: 1}); err != nil {
			t.Fatalf("set item: %v", err)
		}
	}
	if _, err := f.service.Checkout(ctx, done.ID, ""); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	n, err := f.service.RepriceItem(ctx, "item-1", 350)
	if err != nil || n != 1 {
		t.Fatalf("expected one open cart repriced, got %d (%v)", n, err)
	}
	got, _ := f.service.GetCart(ctx, open.ID)
	if got.Lines[0].UnitPrice != 350 {
		t.Fatalf("open cart not repriced: %+v", got.Lines)
	}
	got, _ = f.service.GetCart(ctx, done.ID)
	if got.Lines[0].UnitPrice != 300 {
		t.Fatalf("checked out cart must keep its price")
	}
	if n, _ := f.service.RepriceItem(ctx, "item-1", 350); n != 0 {
		t.Fatalf("same price should not touch carts, got %d", n)
	}
}
