package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects malformed input before any store write.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden rejects a sender who is not entitled to the target.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a missing user, group or friend request.
	ErrNotFound = errors.New("not found")
)

// StorageError wraps a failed store operation. The transaction it belongs to
// has rolled back completely, so the caller may retry the whole operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
