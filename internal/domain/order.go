package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCreated, OrderStatusPaid, OrderStatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"userId"`
	Status         OrderStatus `json:"status"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	Items          []OrderItem `json:"items"`
	EventVersion   int64       `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type OrderItem struct {
	ID        string `json:"id"`
	OrderID   string `json:"orderId"`
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	// PriceSnapshot is captured when the order is created and never follows
	// later product price changes.
	PriceSnapshot decimal.Decimal `json:"priceSnapshot"`
}

// ProductStock is the stock view of a product, read under a row lock.
type ProductStock struct {
	ID    string
	Stock int32
}
