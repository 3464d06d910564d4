package domain

import "errors"

var (
	// ErrAccountNotFound a referenced account id has no row.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds the transfer would drive the source balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrOptimisticConflict a version-checked update affected zero rows.
	ErrOptimisticConflict = errors.New("optimistic lock conflict")

	// ErrRetryLimitExceeded all retry attempts exhausted while still conflicting.
	ErrRetryLimitExceeded = errors.New("optimistic retry limit exceeded")

	// ErrDuplicateTransferKey the transfer record insert hit the unique
	// transfer-key constraint; a concurrent attempt already applied this transfer.
	ErrDuplicateTransferKey = errors.New("duplicate transfer key")

	// ErrInvalidAmount the requested amount is negative.
	ErrInvalidAmount = errors.New("transfer amount must not be negative")

	// ErrMissingTransferKey the request carries no idempotency key.
	ErrMissingTransferKey = errors.New("transfer key must not be empty")
)
