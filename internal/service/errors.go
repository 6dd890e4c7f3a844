package service

import "errors"

// Error classes surfaced to the API layer. Guard failures on
// notification-driven transitions are deliberately absent: those are
// idempotent no-ops, not errors.
var (
	// ErrValidation marks malformed input rejected before any transaction.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing order or address.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a state-machine guard failure on a user-initiated
	// action, or an address uniqueness race. Retrying without refreshing
	// is useless.
	ErrConflict = errors.New("conflict")

	// ErrThrottled marks a tracking refresh inside the cooldown window.
	ErrThrottled = errors.New("too frequent")

	// ErrTrackingUnavailable marks a degraded carrier lookup; retry later.
	ErrTrackingUnavailable = errors.New("tracking unavailable")
)
