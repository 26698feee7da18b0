package domain

// StatusChangedEvent is the transient notification emitted after an order
// status transition commits. Version is monotonically increasing per order.
type StatusChangedEvent struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
	Version int64       `json:"version"`
	Ts      int64       `json:"ts"`
}

type BusMetrics struct {
	Received     int64 `json:"received"`
	DedupDropped int64 `json:"dedupDropped"`
	Emitted      int64 `json:"emitted"`
}
