package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
)

// CreateOrderParams carries everything needed to persist a checkout.
type CreateOrderParams struct {
	UserID           *int64
	Email            *string
	TotalCents       int64
	PaymentSessionID string
	Items            []models.OrderItem
}

// CreateOrder inserts the order and its item snapshots and reserves stock
// for every SKU, all in one transaction. If any SKU lacks available stock
// the whole checkout rolls back and an InsufficientStockError is returned.
func (s *Store) CreateOrder(ctx context.Context, params CreateOrderParams) (*models.Order, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (user_id, email, total_cents, status, payment_session_id, inventory_reserved)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING *`,
		params.UserID, params.Email, params.TotalCents, models.OrderStatusPending, params.PaymentSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	for _, item := range params.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			VALUES ($1, $2, $3, $4)`,
			order.ID, item.ProductID, item.Quantity, item.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}

		if err := reserveStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderBySessionID correlates a payment notification to an order. A nil
// order with nil error means no order references the session.
func (s *Store) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE payment_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// TransitionOrder performs a compare-and-swap status transition. It returns
// true only when this call actually moved the order; zero affected rows
// means someone else already moved it and is not an error.
func (s *Store) TransitionOrder(ctx context.Context, orderID int64, from, to models.OrderStatus) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("invalid transition %s -> %s", from, to)
	}

	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		to, orderID, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkOrderShipped transitions paid -> shipped and records the tracking
// fields in the same conditional write. Returns false when the order is not
// currently paid; the caller reports that as a conflict, never overwriting
// tracking data from an earlier shipment.
func (s *Store) MarkOrderShipped(ctx context.Context, orderID int64, carrier, trackingNumber string, details []byte, syncedAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    carrier = $3,
		    tracking_number = $4,
		    tracking_details = $5,
		    tracking_last_sync = $6,
		    shipped_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $7`,
		orderID, models.OrderStatusShipped, carrier, trackingNumber, details, syncedAt, models.OrderStatusPaid)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// UpdateOrderTracking stores a refreshed tracking payload and the (possibly
// advanced) status. The write is conditional on the status the caller read
// plus carrier and tracking number being unchanged, so a stale refresh can
// neither clobber a re-shipped order nor resurrect one that was cancelled
// after the read.
func (s *Store) UpdateOrderTracking(ctx context.Context, orderID int64, from, to models.OrderStatus, details []byte, trackingNumber, carrier string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    tracking_details = $3,
		    tracking_last_sync = NOW(),
		    updated_at = NOW()
		WHERE id = $1 AND status = $4 AND tracking_number = $5 AND carrier = $6`,
		orderID, to, details, from, trackingNumber, carrier)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ShippingSnapshot is the address captured onto a paid order.
type ShippingSnapshot struct {
	Name       *string
	Phone      *string
	Line1      *string
	Line2      *string
	City       *string
	State      *string
	PostalCode *string
	Country    *string
}

// SetShippingSnapshot stores the shipping address reported by the payment
// session onto the order.
func (s *Store) SetShippingSnapshot(ctx context.Context, orderID int64, snap ShippingSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET ship_name = $2, ship_phone = $3, ship_line1 = $4, ship_line2 = $5,
		    ship_city = $6, ship_state = $7, ship_postal_code = $8, ship_country = $9,
		    updated_at = NOW()
		WHERE id = $1`,
		orderID, snap.Name, snap.Phone, snap.Line1, snap.Line2,
		snap.City, snap.State, snap.PostalCode, snap.Country)
	return err
}
