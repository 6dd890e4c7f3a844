package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"fulfillment-service/internal/models"

	"github.com/lib/pq"
)

// AddressInput carries normalized address fields for create/update.
type AddressInput struct {
	Name       string
	Line1      string
	Line2      *string
	City       string
	State      *string
	PostalCode string
	Country    string
	Phone      *string
	IsDefault  bool
}

// ListAddresses returns a user's addresses, default first, newest next.
func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	var addrs []models.Address
	err := s.db.SelectContext(ctx, &addrs, `
		SELECT * FROM addresses
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC`, userID)
	return addrs, err
}

// CreateAddress inserts (or upserts on the user/line1/postal dedupe key) an
// address. The first address a user creates becomes default automatically;
// an explicit default request is enforced with a single-statement flip over
// all of the user's rows so concurrent readers never observe zero or two
// defaults.
func (s *Store) CreateAddress(ctx context.Context, userID int64, in AddressInput) (*models.Address, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var addr models.Address
	err = tx.GetContext(ctx, &addr, `
		INSERT INTO addresses (user_id, name, line1, line2, city, state, postal_code, country, phone, is_default)
		VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9,
			(NOT EXISTS (SELECT 1 FROM addresses a WHERE a.user_id = $1))
		)
		ON CONFLICT (user_id, line1, postal_code)
		DO UPDATE SET
			name = EXCLUDED.name,
			line2 = EXCLUDED.line2,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			country = EXCLUDED.country,
			phone = EXCLUDED.phone,
			updated_at = NOW()
		RETURNING *`,
		userID, in.Name, in.Line1, in.Line2, in.City, in.State, in.PostalCode, in.Country, in.Phone)
	if err != nil {
		return nil, mapAddressError(err)
	}

	if in.IsDefault && !addr.IsDefault {
		if err := setDefaultAddress(ctx, tx, userID, addr.ID); err != nil {
			return nil, mapAddressError(err)
		}
		addr.IsDefault = true
	}

	if err := tx.Commit(); err != nil {
		return nil, mapAddressError(err)
	}
	return &addr, nil
}

// UpdateAddress updates an address owned by userID. The ownership row is
// locked first so concurrent updates to the same address serialize.
func (s *Store) UpdateAddress(ctx context.Context, userID, addressID int64, in AddressInput) (*models.Address, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var existingID int64
	err = tx.GetContext(ctx, &existingID, `
		SELECT id FROM addresses
		WHERE id = $1 AND user_id = $2
		FOR UPDATE`, addressID, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("address %d: %w", addressID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var addr models.Address
	err = tx.GetContext(ctx, &addr, `
		UPDATE addresses
		SET name = $1, line1 = $2, line2 = $3, city = $4, state = $5,
		    postal_code = $6, country = $7, phone = $8, updated_at = NOW()
		WHERE id = $9 AND user_id = $10
		RETURNING *`,
		in.Name, in.Line1, in.Line2, in.City, in.State,
		in.PostalCode, in.Country, in.Phone, addressID, userID)
	if err != nil {
		return nil, mapAddressError(err)
	}

	if in.IsDefault && !addr.IsDefault {
		if err := setDefaultAddress(ctx, tx, userID, addr.ID); err != nil {
			return nil, mapAddressError(err)
		}
		addr.IsDefault = true
	}

	if err := tx.Commit(); err != nil {
		return nil, mapAddressError(err)
	}
	return &addr, nil
}

// DeleteAddress removes an address owned by userID. When the default address
// is deleted and other addresses remain, the most recently created one is
// promoted so the user is never left with addresses but no default.
func (s *Store) DeleteAddress(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var deleted models.Address
	err = tx.GetContext(ctx, &deleted, `
		DELETE FROM addresses
		WHERE id = $1 AND user_id = $2
		RETURNING *`, addressID, userID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("address %d: %w", addressID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if deleted.IsDefault {
		var newDefaultID int64
		err = tx.GetContext(ctx, &newDefaultID, `
			SELECT id FROM addresses
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT 1`, userID)
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
		if err == nil {
			if err := setDefaultAddress(ctx, tx, userID, newDefaultID); err != nil {
				return nil, mapAddressError(err)
			}
		}
		// No rows left: zero addresses is a valid end state.
	}

	if err := tx.Commit(); err != nil {
		return nil, mapAddressError(err)
	}
	return &deleted, nil
}

// setDefaultAddress flips is_default for exactly one of the user's rows in a
// single statement, leaving no window where a concurrent reader can see zero
// or two defaults.
func setDefaultAddress(ctx context.Context, tx execerContext, userID, addressID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE addresses
		SET is_default = CASE WHEN id = $2 THEN TRUE ELSE FALSE END,
		    updated_at = NOW()
		WHERE user_id = $1`, userID, addressID)
	return err
}

type execerContext interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// mapAddressError turns unique-violation errors (duplicate dedupe key or a
// race on the one-default partial index) into ErrConflict.
func mapAddressError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("address conflict: %w", ErrConflict)
	}
	return err
}
