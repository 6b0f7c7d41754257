package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/adapters/replicas"
	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// CreateOrderIfAvailable locks the item replica rows of every line, so item updates and
// competing placements for those items serialize behind this transaction, then recomputes
// the active sum before inserting.
func (r *OrderRepository) CreateOrderIfAvailable(ctx context.Context, order domain.Order, event outbox.Record) error {
	quantities := order.Quantities()
	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := replica.LockRecords(tx, replicas.ItemKind, ids)
		if err != nil {
			return err
		}
		for _, id := range ids {
			rec, ok := locked[id]
			if !ok {
				return fmt.Errorf("%w: %s", domain.ErrUnknownItem, id)
			}
			item, err := replicas.ItemFromRecord(rec)
			if err != nil {
				return err
			}
			reserved, err := activeSum(tx, id, "")
			if err != nil {
				return err
			}
			if reserved+quantities[id] > item.Quantity {
				return fmt.Errorf("%w: %s", domain.ErrInsufficientInventory, id)
			}
		}
		row := toOrderModel(order)
		if err := tx.Create(&row).Error; err != nil {
			if platformpg.IsUniqueViolation(err) {
				return fmt.Errorf("%w: order %s exists", domain.ErrConflict, order.ID)
			}
			return err
		}
		return outbox.EnqueueTx(tx, event)
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, order domain.Order, expectedVersion int64, event outbox.Record) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&orderModel{}).
			Where("id = ? AND version = ?", order.ID, expectedVersion).
			Updates(map[string]any{
				"status":     string(order.Status),
				"version":    order.Version,
				"updated_at": order.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&orderModel{}).Where("id = ?", order.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: order %s moved past v%d", domain.ErrConflict, order.ID, expectedVersion)
		}
		return outbox.EnqueueTx(tx, event)
	})
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	var row orderModel
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("id = ?", id).
		Take(&row).Error
	if err != nil {
		return domain.Order{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	var rows []orderModel
	if err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no ASC") }).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toDomainList(rows), nil
}

func (r *OrderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []orderModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status IN ? AND expires_at < ?", activeStatuses(), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	return toDomainList(rows), nil
}

func (r *OrderRepository) ActiveReservations(ctx context.Context, entityID, excludeOrderID string) (int, error) {
	n, err := activeSum(r.db.WithContext(ctx), entityID, excludeOrderID)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func activeSum(db *gorm.DB, entityID, excludeOrderID string) (int, error) {
	var total int64
	q := db.Table("order_items AS oi").
		Select("COALESCE(SUM(oi.quantity), 0)").
		Joins("JOIN orders o ON o.id = oi.order_id").
		Where("oi.entity_id = ?", entityID).
		Where("o.status IN ?", activeStatuses())
	if excludeOrderID != "" {
		q = q.Where("o.id <> ?", excludeOrderID)
	}
	if err := q.Scan(&total).Error; err != nil {
		return 0, err
	}
	return int(total), nil
}

func toDomainList(rows []orderModel) []domain.Order {
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrUnknownItem),
		errors.Is(err, domain.ErrInsufficientInventory):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}
