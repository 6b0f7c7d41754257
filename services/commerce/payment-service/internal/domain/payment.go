package domain

import (
	"errors"
	"time"
)

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrUnknownOrder       = errors.New("order not known to this service")
	ErrOrderNotPayable    = errors.New("order is not awaiting payment")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// OrderAwaitingPayment mirrors the order service's status name.
const OrderAwaitingPayment = "awaiting_payment"

type PaymentStatus string

const PaymentSucceeded PaymentStatus = "succeeded"

// Payment settles exactly one order.
type Payment struct {
	ID        string
	OrderID   string
	UserID    string
	Amount    int64
	ChargeID  string
	Status    PaymentStatus
	CreatedAt time.Time
}

// OrderView is the payment service's replica of an order.
type OrderView struct {
	ID      string
	UserID  string
	Status  string
	Total   int64
	Version int64
}
