package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderExpired   = "ORDER_EXPIRED"
	EventTypeOrderShipped   = "ORDER_SHIPPED"
	EventTypeOrderDelivered = "ORDER_DELIVERED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a checkout creates a pending order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	Email      *string         `json:"email,omitempty"`
	TotalCents int64           `json:"total_cents"`
	Items      []OrderItemData `json:"items"`
}

// OrderPaidEvent published when a payment notification moves an order to paid
type OrderPaidEvent struct {
	BaseEvent
	OrderID    int64   `json:"order_id"`
	SessionID  string  `json:"session_id"`
	Email      *string `json:"email,omitempty"`
	TotalCents int64   `json:"total_cents"`
}

// OrderExpiredEvent published when a payment session expires unpaid
type OrderExpiredEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	SessionID string `json:"session_id"`
}

// OrderShippedEvent published when fulfillment ships an order
type OrderShippedEvent struct {
	BaseEvent
	OrderID        int64     `json:"order_id"`
	Email          *string   `json:"email,omitempty"`
	Carrier        string    `json:"carrier"`
	TrackingNumber string    `json:"tracking_number"`
	TrackingURL    string    `json:"tracking_url,omitempty"`
	ShippedAt      time.Time `json:"shipped_at"`
}

// OrderDeliveredEvent published when a tracking refresh reports delivery
type OrderDeliveredEvent struct {
	BaseEvent
	OrderID int64   `json:"order_id"`
	Email   *string `json:"email,omitempty"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID      int64 `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}
