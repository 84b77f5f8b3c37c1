package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before persistence
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned by repositories when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrInsufficientHistory marks a disposal with no prior lots. It is a warning:
	// the disposal proceeds with a zero cost basis.
	ErrInsufficientHistory = errors.New("insufficient purchase history")
	// ErrSyncInProgress is returned when a wallet is already being synced
	ErrSyncInProgress = errors.New("sync already in progress for wallet")
	// ErrPartialSourceFailure marks a wallet whose transactions could not be fetched
	ErrPartialSourceFailure = errors.New("transaction source failure")
	// ErrPriceUnavailable is returned when no price exists, even after the fallback window
	ErrPriceUnavailable = errors.New("price unavailable")
)

// ValidationError describes a single rejected field
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError builds a ValidationError with a formatted message
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ItemError reports a recoverable failure of one item inside a batch operation
type ItemError struct {
	Item string // wallet, token or transaction hash
	Err  error
}

func (e ItemError) Error() string {
	return e.Item + ": " + e.Err.Error()
}

func (e ItemError) Unwrap() error {
	return e.Err
}
