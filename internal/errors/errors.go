// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrMalformedBar  = errors.New("malformed bar")
	ErrStateStore    = errors.New("state store failure")
	ErrStateNotFound = errors.New("state not found")
	ErrInvalidLabel  = errors.New("invalid stroke label")
	ErrInvalidCode   = errors.New("invalid instrument code")
	ErrConfigInvalid = errors.New("invalid configuration")
	ErrDataNotFound  = errors.New("data not found")
)

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewMalformedBarError creates a ValidationError for bar i that matches ErrMalformedBar.
func NewMalformedBarError(index int, field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   fmt.Sprintf("bars[%d].%s", index, field),
		Value:   value,
		Message: message,
		Err:     ErrMalformedBar,
	}
}

// DataError represents a data-related error.
type DataError struct {
	DataType string
	Code     string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Code, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, code, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Code:     code,
		Message:  message,
		Err:      err,
	}
}

// StoreError represents a failure of a state or bar store backend.
type StoreError struct {
	Backend   string
	Operation string
	Code      string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store error [%s] %s %s: %v", e.Backend, e.Operation, e.Code, e.Err)
	}
	return fmt.Sprintf("store error [%s] %s: %v", e.Backend, e.Operation, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStateStore, e.Err}
}

// NewStoreError creates a new StoreError. The result matches ErrStateStore
// as well as err.
func NewStoreError(backend, operation, code string, err error) *StoreError {
	return &StoreError{
		Backend:   backend,
		Operation: operation,
		Code:      code,
		Err:       err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
