package domain

import (
	"encoding/json"
	"time"
)

func (i Item) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ItemID    string    `json:"item_id"`
		SellerID  string    `json:"seller_id"`
		Title     string    `json:"title"`
		Price     int64     `json:"price"`
		Quantity  int       `json:"quantity"`
		Version   int64     `json:"version"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}{i.ID, i.SellerID, i.Title, i.Price, i.Quantity, i.Version, i.CreatedAt, i.UpdatedAt})
}
