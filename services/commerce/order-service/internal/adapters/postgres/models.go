package postgres

import (
	"time"

	"github.com/viralforge/commerce-mesh/services/commerce/order-service/internal/domain"
)

type orderModel struct {
	ID        string           `gorm:"column:id;primaryKey"`
	UserID    string           `gorm:"column:user_id"`
	Status    string           `gorm:"column:status"`
	Version   int64            `gorm:"column:version"`
	Total     int64            `gorm:"column:total"`
	ExpiresAt time.Time        `gorm:"column:expires_at"`
	CreatedAt time.Time        `gorm:"column:created_at"`
	UpdatedAt time.Time        `gorm:"column:updated_at"`
	Items     []orderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

func (orderModel) TableName() string { return "orders" }

type orderItemModel struct {
	OrderID   string `gorm:"column:order_id;primaryKey"`
	LineNo    int    `gorm:"column:line_no;primaryKey"`
	EntityID  string `gorm:"column:entity_id"`
	Quantity  int    `gorm:"column:quantity"`
	UnitPrice int64  `gorm:"column:unit_price"`
}

func (orderItemModel) TableName() string { return "order_items" }

func toOrderModel(o domain.Order) orderModel {
	items := make([]orderItemModel, 0, len(o.Items))
	for i, l := range o.Items {
		items = append(items, orderItemModel{OrderID: o.ID, LineNo: i + 1, EntityID: l.EntityID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return orderModel{
		ID:        o.ID,
		UserID:    o.UserID,
		Status:    string(o.Status),
		Version:   o.Version,
		Total:     o.Total,
		ExpiresAt: o.ExpiresAt,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		Items:     items,
	}
}

func (m orderModel) toDomain() domain.Order {
	items := make([]domain.OrderLine, 0, len(m.Items))
	for _, it := range m.Items {
		items = append(items, domain.OrderLine{EntityID: it.EntityID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return domain.Order{
		ID:        m.ID,
		UserID:    m.UserID,
		Items:     items,
		Status:    domain.Status(m.Status),
		Version:   m.Version,
		Total:     m.Total,
		ExpiresAt: m.ExpiresAt,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func activeStatuses() []string {
	out := make([]string, 0, len(domain.ActiveStatuses))
	for _, s := range domain.ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}
