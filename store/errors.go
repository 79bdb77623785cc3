package store

import (
	"errors"
	"fmt"
)

var (
	// ErrLockUnavailable is returned when a row or table-wide lock is held elsewhere,
	// or when the main and auxiliary tables disagree on their row counts.
	ErrLockUnavailable = errors.New("tablelock: lock unavailable")

	// ErrLockNotHeld is returned when an operation requiring a lock runs without one.
	ErrLockNotHeld = errors.New("tablelock: lock not held")

	// ErrLockReleaseFailed is returned when a key could not be put back into the
	// auxiliary table. The row data is intact but stays unavailable to others.
	ErrLockReleaseFailed = errors.New("tablelock: lock release failed")

	// ErrNotLoaded is returned when updating an existing row that was never loaded.
	ErrNotLoaded = errors.New("tablelock: record not loaded")

	// ErrRowMissing is returned when a row-specific operation finds no row.
	ErrRowMissing = errors.New("tablelock: row missing")

	// ErrConnector wraps every failure reported by the underlying connector.
	ErrConnector = errors.New("tablelock: connector failure")
)

// connectorError wraps err so that both ErrConnector and err match errors.Is.
func connectorError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnector, err)
}
