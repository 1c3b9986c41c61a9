/*
errors.go - Centralized error types for the stock engine

ERROR CATEGORIES:
  1. Configuration errors - No service or no location resolvable
  2. Invalid input - Non-positive magnitudes, zero adjustments, bad types
  3. Storage failures - Retryable, never swallowed
  4. Concurrency - Checkpoint compare-and-set conflicts

USAGE:
  if errors.Is(err, stock.ErrConfiguration) {
      // surface to the operator, do not retry
  }
  if stock.IsRetryable(err) {
      // safe to retry the whole operation
  }
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConfiguration is returned when no service or no transaction
	// location can be resolved for an entity.
	ErrConfiguration = errors.New("stock configuration error")

	// ErrInvalidQuantity is returned when a movement receives a
	// non-positive magnitude.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrZeroQuantity is returned when a ledger write would record nothing.
	ErrZeroQuantity = errors.New("quantity must not be zero")

	ErrInvalidTransactionType = errors.New("invalid transaction type")

	// ErrInvalidInput covers malformed requests not covered above
	// (missing entity id, identical move endpoints).
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorage wraps every failure coming from the persistence layer.
	ErrStorage = errors.New("storage failure")

	// ErrConcurrentModification is returned when a checkpoint changed
	// between read and compare-and-set.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateIdempotencyKey is returned by stores when a key is reused.
	// The ledger turns it into an idempotent replay.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrLocationNotFound    = errors.New("location not found")
	ErrServiceNotFound     = errors.New("service not found")
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrRetentionViolation is returned when a prune would delete
	// transactions that are not yet folded into the checkpoint.
	ErrRetentionViolation = errors.New("retention would delete unfolded transactions")

	// ErrStoreRequired is returned when an operation requires a specific store capability.
	ErrStoreRequired = errors.New("operation requires extended store interface")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigurationError reports why an entity could not be served.
type ConfigurationError struct {
	Entity Entity
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("stock configuration error for %s: %s", e.Entity, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// StorageError wraps a persistence failure. It matches both ErrStorage
// and the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// WrapStorage returns nil for a nil err, passes through errors that are
// already classified, and wraps everything else in a StorageError.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRetentionViolation) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrZeroQuantity) ||
		errors.Is(err, ErrInvalidTransactionType) ||
		errors.Is(err, ErrInvalidInput)
}

func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLocationNotFound) ||
		errors.Is(err, ErrServiceNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}
