package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/services/commerce/catalog-service/internal/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := outbox.Migrate(ctx, db); err != nil {
		return err
	}
	return platformpg.RunMigrations(ctx, db, migrationFS, "migrations")
}

type itemModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	SellerID  string    `gorm:"column:seller_id"`
	Title     string    `gorm:"column:title"`
	Price     int64     `gorm:"column:price"`
	Quantity  int       `gorm:"column:quantity"`
	Version   int64     `gorm:"column:version"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (itemModel) TableName() string { return "items" }

func (m itemModel) toDomain() domain.Item {
	return domain.Item{
		ID:        m.ID,
		SellerID:  m.SellerID,
		Title:     m.Title,
		Price:     m.Price,
		Quantity:  m.Quantity,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) Create(ctx context.Context, item domain.Item, event outbox.Record) error {
	return mapError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := itemModel{
			ID:        item.ID,
			SellerID:  item.SellerID,
			Title:     item.Title,
			Price:     item.Price,
			Quantity:  item.Quantity,
			Version:   item.Version,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if platformpg.IsUniqueViolation(err) {
				return fmt.Errorf("%w: item %s exists", domain.ErrConflict, item.ID)
			}
			return err
		}
		return outbox.EnqueueTx(tx, event)
	}))
}

func (r *ItemRepository) Update(ctx context.Context, item domain.Item, expectedVersion int64, event outbox.Record) error {
	return mapError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&itemModel{}).
			Where("id = ? AND version = ?", item.ID, expectedVersion).
			Updates(map[string]any{
				"title":      item.Title,
				"price":      item.Price,
				"quantity":   item.Quantity,
				"version":    item.Version,
				"updated_at": item.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&itemModel{}).Where("id = ?", item.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: item %s moved past v%d", domain.ErrConflict, item.ID, expectedVersion)
		}
		return outbox.EnqueueTx(tx, event)
	}))
}

func (r *ItemRepository) Get(ctx context.Context, id string) (domain.Item, error) {
	var row itemModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return domain.Item{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (r *ItemRepository) List(ctx context.Context, sellerID string, limit int) ([]domain.Item, error) {
	q := r.db.WithContext(ctx).Order("id ASC").Limit(limit)
	if sellerID != "" {
		q = q.Where("seller_id = ?", sellerID)
	}
	var rows []itemModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Item, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}
