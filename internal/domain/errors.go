package domain

import "errors"

var (
	// ErrNotFound is returned when an entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrVersionConflict is returned when an optimistic update loses to a
	// concurrent writer (stored version no longer matches the caller's)
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidStatus is returned for an unknown or disallowed lead status
	ErrInvalidStatus = errors.New("invalid lead status")

	// ErrClaimConflict is returned when a conditional claim write finds the
	// lead already owned by someone else
	ErrClaimConflict = errors.New("lead already claimed")
)
