package service

import "errors"

var (
	ErrEmptyItems          = errors.New("order items cannot be empty")
	ErrQuantityNotPositive = errors.New("quantity must be greater than zero")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidStatus       = errors.New("invalid order status")
	ErrSubscriptionDenied  = errors.New("subscription denied")
)
