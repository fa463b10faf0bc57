package storage

import "errors"

var (
	// ErrNotFound is returned when no record exists at or before the requested time.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed lookups or inserts.
	ErrInvalidInput = errors.New("invalid input")
	// ErrClosed is returned after a store has been closed.
	ErrClosed = errors.New("store closed")
)
