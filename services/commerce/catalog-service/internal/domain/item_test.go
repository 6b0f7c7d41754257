package domain

import (
	"errors"
	"testing"
	"time"
)

func TestItemApplyIncrementsVersion(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item, err := NewItem("item-1", "seller-1", "Mug", 1200, 10, now)
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	qty := 7
	next, err := item.Apply(Patch{Quantity: &qty}, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Version != 1 || next.Quantity != 7 || next.Title != "Mug" {
		t.Fatalf("unexpected item %+v", next)
	}
	if item.Version != 0 {
		t.Fatalf("apply must not mutate the receiver")
	}
}

func TestItemValidation(t *testing.T) {
	now := time.Now()
	if _, err := NewItem("item-1", "", "Mug", 1, 1, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input without seller, got %v", err)
	}
	item, _ := NewItem("item-1", "s", "Mug", 1, 1, now)
	neg := -1
	if _, err := item.Apply(Patch{Quantity: &neg}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative quantity, got %v", err)
	}
	if _, err := item.Apply(Patch{}, now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty patch, got %v", err)
	}
}
