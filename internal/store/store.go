package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for unique-constraint violations.
	ErrConflict = errors.New("conflict")
)

// InsufficientStockError reports a failed reservation with the shortfall.
type InsufficientStockError struct {
	ProductID int64
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d", e.ProductID, e.Requested)
}

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies pending schema migrations from dir.
func Migrate(databaseURL, dir string) error {
	m, err := migrate.New("file://"+dir, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// GetInventory retrieves inventory counters for a product
func (s *Store) GetInventory(ctx context.Context, productID int64) (*models.Inventory, error) {
	var inv models.Inventory
	err := s.db.GetContext(ctx, &inv, "SELECT * FROM inventory WHERE product_id = $1", productID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("inventory for product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// reserveStock increments reserved for one SKU inside tx. The guard on
// available stock and the increment happen in a single statement so
// concurrent reservations for the same SKU cannot lose updates.
func reserveStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory
		SET reserved = reserved + $1, updated_at = NOW()
		WHERE product_id = $2 AND on_hand - reserved >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("failed to reserve stock: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return &InsufficientStockError{ProductID: productID, Requested: quantity}
	}
	return nil
}

// DeductStock permanently deducts the order's quantities from both on_hand
// and reserved. The order's inventory_reserved flag is cleared in the same
// conditional write that authorizes the deduction, so duplicate payment
// notifications can trigger at most one deduction. Returns deducted=false
// when the flag was already cleared.
func (s *Store) DeductStock(ctx context.Context, orderID int64) (deducted bool, clamped []int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET inventory_reserved = FALSE, updated_at = NOW()
		WHERE id = $1 AND inventory_reserved = TRUE`, orderID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to clear reservation flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if rows == 0 {
		return false, nil, nil
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
		return false, nil, fmt.Errorf("failed to load order items: %w", err)
	}

	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET on_hand = on_hand - $1, reserved = reserved - $1, updated_at = NOW()
			WHERE product_id = $2 AND on_hand >= $1 AND reserved >= $1`,
			item.Quantity, item.ProductID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to deduct stock: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return false, nil, err
		}
		if rows == 0 {
			// Counters would go negative: clamp at zero instead of
			// underflowing, let the caller log the inconsistency.
			if _, err := tx.ExecContext(ctx, `
				UPDATE inventory
				SET on_hand = GREATEST(on_hand - $1, 0),
				    reserved = GREATEST(reserved - $1, 0),
				    updated_at = NOW()
				WHERE product_id = $2`,
				item.Quantity, item.ProductID); err != nil {
				return false, nil, fmt.Errorf("failed to clamp stock: %w", err)
			}
			clamped = append(clamped, item.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	return true, clamped, nil
}

// ReleaseStock releases the order's reservations without touching on_hand,
// guarded by the same inventory_reserved flag as DeductStock. Used when a
// payment session expires.
func (s *Store) ReleaseStock(ctx context.Context, orderID int64) (released bool, clamped []int64, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET inventory_reserved = FALSE, updated_at = NOW()
		WHERE id = $1 AND inventory_reserved = TRUE`, orderID)
	if err != nil {
		return false, nil, fmt.Errorf("failed to clear reservation flag: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, nil, err
	}
	if rows == 0 {
		return false, nil, nil
	}

	var items []models.OrderItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID); err != nil {
		return false, nil, fmt.Errorf("failed to load order items: %w", err)
	}

	for _, item := range items {
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory
			SET reserved = reserved - $1, updated_at = NOW()
			WHERE product_id = $2 AND reserved >= $1`,
			item.Quantity, item.ProductID)
		if err != nil {
			return false, nil, fmt.Errorf("failed to release stock: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return false, nil, err
		}
		if rows == 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE inventory
				SET reserved = GREATEST(reserved - $1, 0), updated_at = NOW()
				WHERE product_id = $2`,
				item.Quantity, item.ProductID); err != nil {
				return false, nil, fmt.Errorf("failed to clamp reservation: %w", err)
			}
			clamped = append(clamped, item.ProductID)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, nil, err
	}
	return true, clamped, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
