package domain

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusInitial         Status = "initial"
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusComplete        Status = "complete"
	StatusCancelled       Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusInitial:         {StatusCreated, StatusCancelled},
	StatusCreated:         {StatusAwaitingPayment, StatusCancelled},
	StatusAwaitingPayment: {StatusComplete, StatusCancelled},
}

// ActiveStatuses hold inventory.
var ActiveStatuses = []Status{StatusInitial, StatusCreated, StatusAwaitingPayment}

func (s Status) Valid() bool {
	switch s {
	case StatusInitial, StatusCreated, StatusAwaitingPayment, StatusComplete, StatusCancelled:
		return true
	}
	return false
}

func (s Status) IsActive() bool {
	return s == StatusInitial || s == StatusCreated || s == StatusAwaitingPayment
}

func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsEntry reports whether an order may be placed directly in s.
func IsEntry(s Status) bool {
	return s == StatusInitial || s == StatusCreated
}

type OrderLine struct {
	EntityID  string
	Quantity  int
	UnitPrice int64
}

type Order struct {
	ID        string
	UserID    string
	Items     []OrderLine
	Status    Status
	Version   int64
	Total     int64
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder validates the lines, derives the total and returns the order at version 0 in
// the given entry status.
func NewOrder(id, userID string, entry Status, items []OrderLine, now time.Time, ttl time.Duration) (Order, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(userID) == "" {
		return Order{}, fmt.Errorf("%w: order id and user id are required", ErrInvalidInput)
	}
	if !IsEntry(entry) {
		return Order{}, fmt.Errorf("%w: %s is not an entry status", ErrInvalidInput, entry)
	}
	if len(items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrInvalidInput)
	}
	seen := make(map[string]struct{}, len(items))
	var total int64
	for _, line := range items {
		if strings.TrimSpace(line.EntityID) == "" || line.Quantity <= 0 || line.UnitPrice < 0 {
			return Order{}, fmt.Errorf("%w: invalid line for %q", ErrInvalidInput, line.EntityID)
		}
		if _, dup := seen[line.EntityID]; dup {
			return Order{}, fmt.Errorf("%w: item %s listed twice", ErrInvalidInput, line.EntityID)
		}
		seen[line.EntityID] = struct{}{}
		total += int64(line.Quantity) * line.UnitPrice
	}
	return Order{
		ID:        id,
		UserID:    userID,
		Items:     append([]OrderLine(nil), items...),
		Status:    entry,
		Version:   0,
		Total:     total,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition returns the order moved to next with its version incremented.
func (o Order) Transition(next Status, now time.Time) (Order, error) {
	if !CanTransition(o.Status, next) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Status = next
	o.Version++
	o.UpdatedAt = now
	return o, nil
}

// Quantities sums requested units per item.
func (o Order) Quantities() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, line := range o.Items {
		out[line.EntityID] += line.Quantity
	}
	return out
}

// Item is the order service's view of a catalog item, read from its replica.
type Item struct {
	ID       string
	Title    string
	Price    int64
	Quantity int
	Version  int64
}
