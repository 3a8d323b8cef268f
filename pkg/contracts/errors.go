package contracts

import "errors"

// Error taxonomy. Callers classify with errors.Is; everything else that
// surfaces from the storage driver is a storage error and aborts the
// transaction.
var (
	// ErrIllegalTransition: the requested status change violates the
	// lifecycle table. State is left untouched.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrLeaseLost: the caller no longer holds the lease (expired, swept,
	// or never granted). The actor must re-checkout.
	ErrLeaseLost = errors.New("lease lost")

	// ErrNotFound: the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation: bad template, malformed policy, or bad argument.
	// No state change.
	ErrValidation = errors.New("validation failed")

	// ErrRetry: contention (optimistic-lock miss, busy row). Safe to retry.
	ErrRetry = errors.New("retry")
)
