//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/adapters/postgres"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/application"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
	"gorm.io/gorm"
)

// Run with: TEST_DB_URL=postgres://... go test -tags integration ./services/commerce/order-service/...
func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	url := os.Getenv("TEST_DB_URL")
	if url == "" {
		t.Skip("TEST_DB_URL not set")
	}
	ctx := context.Background()
	db, err := platformpg.Connect(ctx, url, 20)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = platformpg.Close(db) })
	if err := postgres.RunMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE order_items, orders, replica_parked, replica_records, outbox_events").Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB) (*application.Service, *replica.GormStore) {
	t.Helper()
	store := replica.NewGormStore(db, 0)
	svc := application.NewService(application.Dependencies{
		Config: application.Config{ServiceName: "order-service", ReservationTTL: 15 * time.Minute},
		Items:  replicas.NewItems(store),
		Orders: postgres.NewOrderRepository(db),
	})
	return svc, store
}

func stock(t *testing.T, store *replica.GormStore, id string, version int64, qty int) {
	t.Helper()
	_, err := store.Apply(context.Background(), replica.Change{
		Kind:       replicas.ItemKind,
		ID:         id,
		Version:    version,
		Creates:    version == 0,
		Attributes: map[string]any{"item_id": id, "title": id, "price": 100, "quantity": qty},
	})
	if err != nil {
		t.Fatalf("stock %s: %v", id, err)
	}
}

func placeOne(svc *application.Service, user, entity string, qty int) (domain.Order, error) {
	return svc.PlaceOrder(context.Background(), application.PlaceOrderInput{
		UserID: user,
		Items:  []application.LineInput{{EntityID: entity, Quantity: qty}},
	})
}

func TestCreateOrderIfAvailableDeclinesSecondReservation(t *testing.T) {
	db := openDB(t)
	svc, store := newService(t, db)
	stock(t, store, "item-1", 0, 5)

	if _, err := placeOne(svc, "u1", "item-1", 3); err != nil {
		t.Fatalf("first placement: %v", err)
	}
	if _, err := placeOne(svc, "u2", "item-1", 3); !errors.Is(err, domain.ErrInsufficientInventory) {
		t.Fatalf("expected insufficient inventory, got %v", err)
	}
	var events int64
	if err := db.Table("outbox_events").Count(&events).Error; err != nil || events != 1 {
		t.Fatalf("expected one order-created in the outbox, got %d (%v)", events, err)
	}
}

func TestCreateOrderIfAvailableNeverOversells(t *testing.T) {
	const stockQty = 25
	db := openDB(t)
	svc, store := newService(t, db)
	stock(t, store, "item-1", 0, stockQty)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			qty := 1 + i%3
			_, err := placeOne(svc, fmt.Sprintf("user-%d", i), "item-1", qty)
			switch {
			case err == nil:
				admitted.Add(int64(qty))
			case errors.Is(err, domain.ErrInsufficientInventory):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if admitted.Load() > stockQty {
		t.Fatalf("oversold: %d units admitted for %d in stock", admitted.Load(), stockQty)
	}
	var reserved int64
	if err := db.Raw("SELECT COALESCE(SUM(i.quantity), 0) FROM order_items i JOIN orders o ON o.id = i.order_id WHERE i.entity_id = ?", "item-1").
		Scan(&reserved).Error; err != nil {
		t.Fatalf("sum: %v", err)
	}
	if reserved != admitted.Load() {
		t.Fatalf("stored reservations %d do not match admitted %d", reserved, admitted.Load())
	}
}
