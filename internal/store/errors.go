package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when a write would violate uniqueness.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when a batch fails validation before it is
	// written.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrUpdateFailed is returned when an update matched the batch but was
	// refused, which happens once the batch is terminal.
	ErrUpdateFailed = errors.New("update failed")

	// ErrTransactionFailed wraps begin and commit failures.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrBatchNotFound is returned for unknown batch or member IDs.
	ErrBatchNotFound = fmt.Errorf("%w: batch", ErrNotFound)

	// ErrMemberExists is returned when a request already belongs to a batch.
	ErrMemberExists = fmt.Errorf("%w: batch member", ErrDuplicate)
)

// IsNotFoundError reports whether err is any "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateError reports whether err is any uniqueness violation.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
