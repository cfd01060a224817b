package database

import (
	"errors"
	"fmt"
)

type storageError string

func (e storageError) Error() string { return string(e) }

const (
	// ErrPersistence marks a store that is unavailable or failed mid-operation.
	// Callers treat it as retryable.
	ErrPersistence = storageError("persistence failure")

	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = storageError("not found")

	// ErrCorrupt is returned when stored data fails validation on load.
	ErrCorrupt = storageError("stored data is corrupt")
)

// Persistence wraps err so that it matches both ErrPersistence and the cause.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
