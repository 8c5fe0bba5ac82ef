package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnavailable  = errors.New("service unavailable")
	ErrCorrupt      = errors.New("corrupt data")
	ErrPermanent    = errors.New("permanent failure")
)

// Specific errors.
var (
	ErrProductNotFound     = fmt.Errorf("product: %w", ErrNotFound)
	ErrMalformedProductID  = fmt.Errorf("product identifier: %w", ErrInvalidInput)
	ErrUnauthorized        = fmt.Errorf("archive credentials rejected: %w", ErrPermanent)
	ErrDescriptorNotFound  = fmt.Errorf("metadata descriptor: %w", ErrCorrupt)
	ErrMissingGroup        = fmt.Errorf("resolution group: %w", ErrCorrupt)
	ErrShapeMismatch       = fmt.Errorf("shape mismatch: %w", ErrCorrupt)
	ErrArchiveUnavailable  = fmt.Errorf("archive: %w", ErrUnavailable)
	ErrInsufficientSpace   = fmt.Errorf("staging disk space: %w", ErrUnavailable)
	ErrStagingOutsideRoot  = fmt.Errorf("staging path outside root: %w", ErrInvalidInput)
	ErrNoCredentials       = fmt.Errorf("credentials: %w", ErrInvalidInput)
	ErrNoProductDownloaded = fmt.Errorf("no product queried before download: %w", ErrInvalidInput)
)

// IsPermanentAcquisition reports whether an acquisition error must not be
// retried: unknown products, malformed identifiers and rejected credentials.
func IsPermanentAcquisition(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrPermanent)
}

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrMalformedProductID
}

// TransientAcquisitionError is a failed refresh, query or download attempt
// that may succeed when retried.
type TransientAcquisitionError struct {
	Product string // Product identifier
	Stage   string // refresh, query or download
	Attempt int    // 1-based attempt number
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *TransientAcquisitionError) Error() string {
	return fmt.Sprintf("acquisition of %s failed during %s (attempt %d): %v",
		e.Product, e.Stage, e.Attempt, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientAcquisitionError) Unwrap() error {
	return e.Err
}

// AcquisitionExhaustedError is returned once the attempt budget is spent.
type AcquisitionExhaustedError struct {
	Product  string // Product identifier
	Attempts int    // Attempts made
	Err      error  // Last error
}

// Error implements the error interface.
func (e *AcquisitionExhaustedError) Error() string {
	return fmt.Sprintf("giving up on %s after %d attempts: %v", e.Product, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *AcquisitionExhaustedError) Unwrap() error {
	return e.Err
}

// CorruptProductError is a staged product that cannot be converted. It is
// never retried; the staging directory is kept for inspection.
type CorruptProductError struct {
	Product string // Product identifier
	Reason  string // What was wrong
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *CorruptProductError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt product %s: %s: %v", e.Product, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt product %s: %s", e.Product, e.Reason)
}

// Unwrap returns the underlying error, or ErrCorrupt if there is none.
func (e *CorruptProductError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrCorrupt
}

// Is lets errors.Is(err, ErrCorrupt) match every corrupt product.
func (e *CorruptProductError) Is(target error) bool {
	return target == ErrCorrupt
}

// ReclaimError is a failed staging deletion after a successful conversion.
type ReclaimError struct {
	Product string // Product identifier
	Path    string // Staging directory
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *ReclaimError) Error() string {
	return fmt.Sprintf("reclaiming staging %s of %s: %v", e.Path, e.Product, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReclaimError) Unwrap() error {
	return e.Err
}

// PublishError is a failed upload of a finished mosaic. The local output is
// kept.
type PublishError struct {
	Product string // Product identifier
	Key     string // Destination object key
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing %s as %s: %v", e.Product, e.Key, e.Err)
}

// Unwrap returns the underlying error.
func (e *PublishError) Unwrap() error {
	return e.Err
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (upload, exists, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error type.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
