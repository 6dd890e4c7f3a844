package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AddressService manages a user's address book. The store layer enforces
// that exactly one address per user is the default; this layer only
// validates input and translates store errors.
type AddressService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewAddressService creates a new address service
func NewAddressService(store *store.Store) *AddressService {
	return &AddressService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// AddressRequest is the mutation payload for create and update.
type AddressRequest struct {
	Name       string  `json:"name"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2"`
	City       string  `json:"city"`
	State      *string `json:"state"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone"`
	IsDefault  bool    `json:"is_default"`
}

// ListAddresses returns the user's addresses, default first.
func (s *AddressService) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	return s.store.ListAddresses(ctx, userID)
}

// CreateAddress adds an address to the user's book. The first address a
// user creates becomes the default regardless of the request flag.
func (s *AddressService) CreateAddress(ctx context.Context, userID int64, req *AddressRequest) (*models.Address, error) {
	input, err := normalizeAddress(req)
	if err != nil {
		return nil, err
	}

	addr, err := s.store.CreateAddress(ctx, userID, *input)
	if err != nil {
		return nil, s.mapError(err)
	}

	s.logger.Info("Address created",
		zap.Int64("user_id", userID),
		zap.Int64("address_id", addr.ID),
		zap.Bool("is_default", addr.IsDefault))
	return addr, nil
}

// UpdateAddress modifies an existing address owned by the user.
func (s *AddressService) UpdateAddress(ctx context.Context, userID, addressID int64, req *AddressRequest) (*models.Address, error) {
	input, err := normalizeAddress(req)
	if err != nil {
		return nil, err
	}

	addr, err := s.store.UpdateAddress(ctx, userID, addressID, *input)
	if err != nil {
		return nil, s.mapError(err)
	}

	s.logger.Info("Address updated",
		zap.Int64("user_id", userID),
		zap.Int64("address_id", addressID))
	return addr, nil
}

// DeleteAddress removes an address. Deleting the default promotes the most
// recently created remaining address; deleting the last address is allowed.
func (s *AddressService) DeleteAddress(ctx context.Context, userID, addressID int64) error {
	if _, err := s.store.DeleteAddress(ctx, userID, addressID); err != nil {
		return s.mapError(err)
	}

	s.logger.Info("Address deleted",
		zap.Int64("user_id", userID),
		zap.Int64("address_id", addressID))
	return nil
}

func (s *AddressService) mapError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: address not found", ErrNotFound)
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: default address changed concurrently, retry", ErrConflict)
	default:
		return err
	}
}

// normalizeAddress trims all fields and checks the required ones.
func normalizeAddress(req *AddressRequest) (*store.AddressInput, error) {
	input := &store.AddressInput{
		Name:       strings.TrimSpace(req.Name),
		Line1:      strings.TrimSpace(req.Line1),
		Line2:      trimOptional(req.Line2),
		City:       strings.TrimSpace(req.City),
		State:      trimOptional(req.State),
		PostalCode: strings.TrimSpace(req.PostalCode),
		Country:    strings.TrimSpace(req.Country),
		Phone:      trimOptional(req.Phone),
		IsDefault:  req.IsDefault,
	}

	missing := make([]string, 0, 5)
	if input.Name == "" {
		missing = append(missing, "name")
	}
	if input.Line1 == "" {
		missing = append(missing, "line1")
	}
	if input.City == "" {
		missing = append(missing, "city")
	}
	if input.PostalCode == "" {
		missing = append(missing, "postal_code")
	}
	if input.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return input, nil
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
