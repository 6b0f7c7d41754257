package domain

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("conflict")
	ErrUnknownItem        = errors.New("item not known to this service")
	ErrCartClosed         = errors.New("cart already checked out")
	ErrStorageUnavailable = errors.New("storage unavailable")
)
