package domain

import (
	"fmt"
	"strings"
	"time"
)

// Item is the canonical sellable item. Every accepted mutation increments Version by one.
type Item struct {
	ID        string
	SellerID  string
	Title     string
	Price     int64
	Quantity  int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewItem(id, sellerID, title string, price int64, quantity int, now time.Time) (Item, error) {
	item := Item{
		ID:        strings.TrimSpace(id),
		SellerID:  strings.TrimSpace(sellerID),
		Title:     strings.TrimSpace(title),
		Price:     price,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := item.validate(); err != nil {
		return Item{}, err
	}
	return item, nil
}

// Patch holds the fields an update may change. Nil fields are left alone.
type Patch struct {
	Title    *string
	Price    *int64
	Quantity *int
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Price == nil && p.Quantity == nil
}

// Apply returns the next version of the item.
func (i Item) Apply(p Patch, now time.Time) (Item, error) {
	if p.Empty() {
		return Item{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	if p.Title != nil {
		i.Title = strings.TrimSpace(*p.Title)
	}
	if p.Price != nil {
		i.Price = *p.Price
	}
	if p.Quantity != nil {
		i.Quantity = *p.Quantity
	}
	if err := i.validate(); err != nil {
		return Item{}, err
	}
	i.Version++
	i.UpdatedAt = now
	return i, nil
}

func (i Item) validate() error {
	switch {
	case i.ID == "":
		return fmt.Errorf("%w: item id is required", ErrInvalidInput)
	case i.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", ErrInvalidInput)
	case i.Title == "" || len(i.Title) > 200:
		return fmt.Errorf("%w: title must be 1-200 characters", ErrInvalidInput)
	case i.Price < 0:
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	case i.Quantity < 0:
		return fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	return nil
}
