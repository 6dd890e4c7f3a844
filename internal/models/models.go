package models

import "time"

// Product represents a catalog product. The catalog itself is maintained
// elsewhere; this service only reads it for server-trusted prices.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	SKU        string    `db:"sku" json:"sku"`
	Name       string    `db:"name" json:"name"`
	PriceCents int64     `db:"price_cents" json:"price_cents"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Inventory holds the stock counters for a product. Available stock is
// always derived as on_hand - reserved and never stored.
type Inventory struct {
	ProductID int64     `db:"product_id" json:"product_id"`
	OnHand    int       `db:"on_hand" json:"on_hand"`
	Reserved  int       `db:"reserved" json:"reserved"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Available returns the sellable quantity.
func (i Inventory) Available() int {
	return i.OnHand - i.Reserved
}

// Order represents a customer order and its fulfillment lifecycle.
// Orders are never deleted; they are the audit trail.
type Order struct {
	ID                int64       `db:"id" json:"id"`
	UserID            *int64      `db:"user_id" json:"user_id,omitempty"`
	Email             *string     `db:"email" json:"email,omitempty"`
	TotalCents        int64       `db:"total_cents" json:"total_cents"`
	Status            OrderStatus `db:"status" json:"status"`
	PaymentSessionID  string      `db:"payment_session_id" json:"payment_session_id"`
	InventoryReserved bool        `db:"inventory_reserved" json:"inventory_reserved"`
	ShipName          *string     `db:"ship_name" json:"ship_name,omitempty"`
	ShipPhone         *string     `db:"ship_phone" json:"ship_phone,omitempty"`
	ShipLine1         *string     `db:"ship_line1" json:"ship_line1,omitempty"`
	ShipLine2         *string     `db:"ship_line2" json:"ship_line2,omitempty"`
	ShipCity          *string     `db:"ship_city" json:"ship_city,omitempty"`
	ShipState         *string     `db:"ship_state" json:"ship_state,omitempty"`
	ShipPostalCode    *string     `db:"ship_postal_code" json:"ship_postal_code,omitempty"`
	ShipCountry       *string     `db:"ship_country" json:"ship_country,omitempty"`
	Carrier           *string     `db:"carrier" json:"carrier,omitempty"`
	TrackingNumber    *string     `db:"tracking_number" json:"tracking_number,omitempty"`
	TrackingDetails   []byte      `db:"tracking_details" json:"tracking_details,omitempty"`
	TrackingLastSync  *time.Time  `db:"tracking_last_sync" json:"tracking_last_sync,omitempty"`
	ShippedAt         *time.Time  `db:"shipped_at" json:"shipped_at,omitempty"`
	CreatedAt         time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item with the unit price snapshotted at checkout.
// Immutable after creation.
type OrderItem struct {
	ID             int64 `db:"id" json:"id"`
	OrderID        int64 `db:"order_id" json:"order_id"`
	ProductID      int64 `db:"product_id" json:"product_id"`
	Quantity       int   `db:"quantity" json:"quantity"`
	UnitPriceCents int64 `db:"unit_price_cents" json:"unit_price_cents"`
}

// Address is a saved shipping address. At most one address per user carries
// is_default, and exactly one if the user has any addresses at all.
type Address struct {
	ID         int64     `db:"id" json:"id"`
	UserID     int64     `db:"user_id" json:"user_id"`
	Name       string    `db:"name" json:"name"`
	Line1      string    `db:"line1" json:"line1"`
	Line2      *string   `db:"line2" json:"line2,omitempty"`
	City       string    `db:"city" json:"city"`
	State      *string   `db:"state" json:"state,omitempty"`
	PostalCode string    `db:"postal_code" json:"postal_code"`
	Country    string    `db:"country" json:"country"`
	Phone      *string   `db:"phone" json:"phone,omitempty"`
	IsDefault  bool      `db:"is_default" json:"is_default"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent records consumer-side event handling for dedupe.
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
