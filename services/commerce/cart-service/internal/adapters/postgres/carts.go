package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/cart-service/internal/domain"
	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := outbox.Migrate(ctx, db); err != nil {
		return err
	}
	if err := replica.Migrate(ctx, db); err != nil {
		return err
	}
	return platformpg.RunMigrations(ctx, db, migrationFS, "migrations")
}

type cartModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	UserID    string    `gorm:"column:user_id"`
	Status    string    `gorm:"column:status"`
	Lines     string    `gorm:"column:lines;type:jsonb"`
	Version   int64     `gorm:"column:version"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (cartModel) TableName() string { return "carts" }

func toModel(c domain.Cart) (cartModel, error) {
	lines := c.Lines
	if lines == nil {
		lines = []domain.Line{}
	}
	raw, err := json.Marshal(lines)
	if err != nil {
		return cartModel{}, err
	}
	return cartModel{
		ID:        c.ID,
		UserID:    c.UserID,
		Status:    string(c.Status),
		Lines:     string(raw),
		Version:   c.Version,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}, nil
}

func (m cartModel) toDomain() (domain.Cart, error) {
	var lines []domain.Line
	if err := json.Unmarshal([]byte(m.Lines), &lines); err != nil {
		return domain.Cart{}, fmt.Errorf("decode cart %s lines: %w", m.ID, err)
	}
	return domain.Cart{
		ID:        m.ID,
		UserID:    m.UserID,
		Lines:     lines,
		Status:    domain.Status(m.Status),
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

type CartRepository struct {
	db *gorm.DB
}

func NewCartRepository(db *gorm.DB) *CartRepository {
	return &CartRepository{db: db}
}

func (r *CartRepository) Create(ctx context.Context, cart domain.Cart) error {
	row, err := toModel(cart)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if platformpg.IsUniqueViolation(err) {
			return fmt.Errorf("%w: cart %s exists", domain.ErrConflict, cart.ID)
		}
		return mapError(err)
	}
	return nil
}

func (r *CartRepository) Update(ctx context.Context, cart domain.Cart, expectedVersion int64, event *outbox.Record) error {
	row, err := toModel(cart)
	if err != nil {
		return err
	}
	return mapError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&cartModel{}).
			Where("id = ? AND version = ?", cart.ID, expectedVersion).
			Updates(map[string]any{
				"status":     row.Status,
				"lines":      gorm.Expr("?::jsonb", row.Lines),
				"version":    row.Version,
				"updated_at": row.UpdatedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&cartModel{}).Where("id = ?", cart.ID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return domain.ErrNotFound
			}
			return fmt.Errorf("%w: cart %s moved past v%d", domain.ErrConflict, cart.ID, expectedVersion)
		}
		if event == nil {
			return nil
		}
		return outbox.EnqueueTx(tx, *event)
	}))
}

func (r *CartRepository) Get(ctx context.Context, id string) (domain.Cart, error) {
	var row cartModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return domain.Cart{}, mapError(err)
	}
	return row.toDomain()
}

func (r *CartRepository) ListOpenWithItem(ctx context.Context, entityID string) ([]domain.Cart, error) {
	probe, err := json.Marshal([]map[string]string{{"entity_id": entityID}})
	if err != nil {
		return nil, err
	}
	var rows []cartModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND lines @> ?::jsonb", string(domain.StatusOpen), string(probe)).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, mapError(err)
	}
	out := make([]domain.Cart, 0, len(rows))
	for _, row := range rows {
		c, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
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
