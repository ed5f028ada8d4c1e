package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// Ledger Errors
	ErrDuplicateID        = errors.New("trade id already exists")
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyClosed      = errors.New("trade already closed")
	ErrStorageUnavailable = errors.New("storage unavailable")

	// Validation Errors
	ErrInvalidInput = errors.New("invalid input")
	ErrRiskRejected = errors.New("rejected by risk governor")

	// Lifecycle Errors
	ErrNotReady           = errors.New("position tracker has not replayed the ledger")
	ErrConfigurationError = errors.New("invalid or missing configuration")
)
