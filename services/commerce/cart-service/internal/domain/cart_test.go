package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCartLinesAndCheckout(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cart, err := NewCart("cart-1", "u1", now)
	if err != nil {
		t.Fatalf("new cart: %v", err)
	}
	cart, _ = cart.SetLine("b", 2, 100, now)
	cart, _ = cart.SetLine("a", 1, 50, now)
	if cart.Version != 2 || cart.Lines[0].EntityID != "a" || cart.Total() != 250 {
		t.Fatalf("unexpected cart %+v", cart)
	}
	cart, _ = cart.SetLine("b", 0, 100, now)
	if len(cart.Lines) != 1 || cart.Version != 3 {
		t.Fatalf("zero quantity should drop the line: %+v", cart)
	}
	done, err := cart.Checkout(now)
	if err != nil || done.Status != StatusCheckedOut || done.Version != 4 {
		t.Fatalf("checkout: %+v (%v)", done, err)
	}
	if _, err := done.SetLine("a", 1, 50, now); !errors.Is(err, ErrCartClosed) {
		t.Fatalf("closed carts reject changes, got %v", err)
	}
	if _, err := done.Checkout(now); !errors.Is(err, ErrCartClosed) {
		t.Fatalf("second checkout must fail, got %v", err)
	}
}

func TestRepriceOnlyTouchesMatchingLines(t *testing.T) {
	now := time.Now()
	cart, _ := NewCart("cart-1", "u1", now)
	cart, _ = cart.SetLine("a", 1, 50, now)
	if _, changed := cart.Reprice("a", 50, now); changed {
		t.Fatalf("same price is not a change")
	}
	next, changed := cart.Reprice("a", 70, now)
	if !changed || next.Lines[0].UnitPrice != 70 || next.Version != cart.Version+1 {
		t.Fatalf("unexpected reprice result %+v", next)
	}
	if _, err := (Cart{}).Checkout(now); err == nil {
		t.Fatalf("zero cart must not check out")
	}
}
