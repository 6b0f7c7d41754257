package domain

import (
	"errors"
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusInitial, StatusCreated, true},
		{StatusInitial, StatusCancelled, true},
		{StatusCreated, StatusAwaitingPayment, true},
		{StatusCreated, StatusCancelled, true},
		{StatusAwaitingPayment, StatusComplete, true},
		{StatusAwaitingPayment, StatusCancelled, true},
		{StatusCreated, StatusComplete, false},
		{StatusInitial, StatusAwaitingPayment, false},
		{StatusComplete, StatusCancelled, false},
		{StatusCancelled, StatusCreated, false},
		{StatusComplete, StatusComplete, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

func TestNewOrderDerivesTotal(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	o, err := NewOrder("o-1", "u-1", StatusCreated, []OrderLine{
		{EntityID: "a", Quantity: 2, UnitPrice: 150},
		{EntityID: "b", Quantity: 1, UnitPrice: 1000},
	}, now, 15*time.Minute)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if o.Total != 1300 || o.Version != 0 || !o.ExpiresAt.Equal(now.Add(15*time.Minute)) {
		t.Fatalf("unexpected order %+v", o)
	}
}

func TestNewOrderRejectsBadInput(t *testing.T) {
	now := time.Now()
	if _, err := NewOrder("o", "u", StatusCreated, nil, now, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty items, got %v", err)
	}
	dup := []OrderLine{{EntityID: "a", Quantity: 1}, {EntityID: "a", Quantity: 1}}
	if _, err := NewOrder("o", "u", StatusCreated, dup, now, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for duplicate lines, got %v", err)
	}
	if _, err := NewOrder("o", "u", StatusAwaitingPayment, []OrderLine{{EntityID: "a", Quantity: 1}}, now, time.Minute); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for non-entry status, got %v", err)
	}
}

func TestTransitionBumpsVersionAndKeepsTotal(t *testing.T) {
	now := time.Now()
	o, _ := NewOrder("o-1", "u-1", StatusCreated, []OrderLine{{EntityID: "a", Quantity: 1, UnitPrice: 5}}, now, time.Minute)
	next, err := o.Transition(StatusAwaitingPayment, now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if next.Version != 1 || next.Total != 5 || o.Status != StatusCreated {
		t.Fatalf("unexpected transition result %+v (original %+v)", next, o)
	}
	done, _ := next.Transition(StatusComplete, now)
	if _, err := done.Transition(StatusCancelled, now); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("terminal states must not transition, got %v", err)
	}
}
