package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusCheckedOut Status = "checked_out"
)

type Line struct {
	EntityID  string `json:"entity_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Cart is owned by the cart service. Version increments on every accepted change.
type Cart struct {
	ID        string
	UserID    string
	Lines     []Line
	Status    Status
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewCart(id, userID string, now time.Time) (Cart, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(userID) == "" {
		return Cart{}, fmt.Errorf("%w: cart id and user_id are required", ErrInvalidInput)
	}
	return Cart{ID: id, UserID: strings.TrimSpace(userID), Status: StatusOpen, CreatedAt: now, UpdatedAt: now}, nil
}

func (c Cart) Total() int64 {
	var total int64
	for _, l := range c.Lines {
		total += int64(l.Quantity) * l.UnitPrice
	}
	return total
}

func (c Cart) Line(entityID string) (Line, bool) {
	for _, l := range c.Lines {
		if l.EntityID == entityID {
			return l, true
		}
	}
	return Line{}, false
}

// SetLine sets the quantity of one item; zero removes the line.
func (c Cart) SetLine(entityID string, quantity int, unitPrice int64, now time.Time) (Cart, error) {
	if c.Status != StatusOpen {
		return Cart{}, ErrCartClosed
	}
	if strings.TrimSpace(entityID) == "" || quantity < 0 {
		return Cart{}, fmt.Errorf("%w: entity_id and a non-negative quantity are required", ErrInvalidInput)
	}
	lines := make([]Line, 0, len(c.Lines)+1)
	for _, l := range c.Lines {
		if l.EntityID != entityID {
			lines = append(lines, l)
		}
	}
	if quantity > 0 {
		lines = append(lines, Line{EntityID: entityID, Quantity: quantity, UnitPrice: unitPrice})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].EntityID < lines[j].EntityID })
	return c.next(lines, StatusOpen, now), nil
}

// Reprice updates the unit price of an item already in the cart.
func (c Cart) Reprice(entityID string, unitPrice int64, now time.Time) (Cart, bool) {
	if c.Status != StatusOpen {
		return c, false
	}
	lines := append([]Line(nil), c.Lines...)
	changed := false
	for i := range lines {
		if lines[i].EntityID == entityID && lines[i].UnitPrice != unitPrice {
			lines[i].UnitPrice = unitPrice
			changed = true
		}
	}
	if !changed {
		return c, false
	}
	return c.next(lines, StatusOpen, now), true
}

func (c Cart) Checkout(now time.Time) (Cart, error) {
	if c.Status != StatusOpen {
		return Cart{}, ErrCartClosed
	}
	if len(c.Lines) == 0 {
		return Cart{}, fmt.Errorf("%w: cart is empty", ErrInvalidInput)
	}
	return c.next(c.Lines, StatusCheckedOut, now), nil
}

func (c Cart) next(lines []Line, status Status, now time.Time) Cart {
	c.Lines = lines
	c.Status = status
	c.Version++
	c.UpdatedAt = now
	return c
}
