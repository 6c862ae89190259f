package webq

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrNotFound indicates a record is missing or belongs to another owner
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates a field failed validation
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateKey indicates an owner external key is already taken
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrContentNotLoaded indicates file content was read outside of the scope that could load it
	ErrContentNotLoaded = errors.New("content not loaded")

	// ErrConversionNotApplicable indicates the conversion does not accept the file's schema
	ErrConversionNotApplicable = errors.New("conversion not applicable")

	// ErrConversionFailed indicates the external converter could not render the file
	ErrConversionFailed = errors.New("conversion failed")

	// ErrConversionTimeout indicates the external converter did not answer in time
	ErrConversionTimeout = errors.New("conversion timed out")

	// ErrStorage indicates the underlying store failed
	ErrStorage = errors.New("storage failure")
)

// Validation codes
const (
	CodeRequired = "required"
	CodeTooLong  = "too_long"
	CodeTooLarge = "too_large"
	CodeInvalid  = "invalid"
)

// ValidationError represents a field-level constraint violation
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Code)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DuplicateKeyError reports an external key that is already registered
type DuplicateKeyError struct {
	Field string
	Key   string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Field, e.Key)
}

func (e *DuplicateKeyError) Unwrap() error {
	return ErrDuplicateKey
}

// ConversionError represents a failed dispatch to the external converter
type ConversionError struct {
	ConversionID int
	Err          error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion %d: %v", e.ConversionID, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure of the underlying store
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() []error {
	return []error{ErrStorage, e.Err}
}

// storageErr wraps err unless it already belongs to the taxonomy.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
