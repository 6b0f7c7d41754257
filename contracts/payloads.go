package contracts

import "time"

// ItemPayload is the full state of a sellable item. Amounts are in minor units.
type ItemPayload struct {
	ItemID   string `json:"item_id"`
	Title    string `json:"title"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
	SellerID string `json:"seller_id"`
}

type OrderLine struct {
	EntityID  string `json:"entity_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderPayload is carried by order-created, order-updated and order-cancelled.
type OrderPayload struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	Status    string      `json:"status"`
	Items     []OrderLine `json:"items"`
	Total     int64       `json:"total"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type PaymentCreatedPayload struct {
	PaymentID string `json:"payment_id"`
	OrderID   string `json:"order_id"`
	ChargeID  string `json:"charge_id"`
	Amount    int64  `json:"amount"`
}

type CartCheckoutPayload struct {
	CartID string      `json:"cart_id"`
	UserID string      `json:"user_id"`
	Items  []OrderLine `json:"items"`
}
