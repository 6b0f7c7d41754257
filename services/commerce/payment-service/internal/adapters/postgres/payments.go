package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/viralforge/commerce-mesh/platform/outbox"
	platformpg "github.com/viralforge/commerce-mesh/platform/postgres"
	"github.com/viralforge/commerce-mesh/platform/replica"
	"github.com/viralforge/commerce-mesh/services/commerce/payment-service/internal/domain"
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

type paymentModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	OrderID   string    `gorm:"column:order_id"`
	UserID    string    `gorm:"column:user_id"`
	Amount    int64     `gorm:"column:amount"`
	ChargeID  string    `gorm:"column:charge_id"`
	Status    string    `gorm:"column:status"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (paymentModel) TableName() string { return "payments" }

func (m paymentModel) toDomain() domain.Payment {
	return domain.Payment{
		ID:        m.ID,
		OrderID:   m.OrderID,
		UserID:    m.UserID,
		Amount:    m.Amount,
		ChargeID:  m.ChargeID,
		Status:    domain.PaymentStatus(m.Status),
		CreatedAt: m.CreatedAt,
	}
}

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create relies on the unique order_id to pay each order once.
func (r *PaymentRepository) Create(ctx context.Context, p domain.Payment, event outbox.Record) error {
	return mapError(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := paymentModel{
			ID:        p.ID,
			OrderID:   p.OrderID,
			UserID:    p.UserID,
			Amount:    p.Amount,
			ChargeID:  p.ChargeID,
			Status:    string(p.Status),
			CreatedAt: p.CreatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if platformpg.IsUniqueViolation(err) {
				return fmt.Errorf("%w: order %s already paid", domain.ErrConflict, p.OrderID)
			}
			return err
		}
		return outbox.EnqueueTx(tx, event)
	}))
}

func (r *PaymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.find(ctx, "id = ?", id)
}

func (r *PaymentRepository) GetByOrder(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.find(ctx, "order_id = ?", orderID)
}

func (r *PaymentRepository) find(ctx context.Context, query string, arg string) (domain.Payment, error) {
	var row paymentModel
	if err := r.db.WithContext(ctx).Where(query, arg).Take(&row).Error; err != nil {
		return domain.Payment{}, mapError(err)
	}
	return row.toDomain(), nil
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
