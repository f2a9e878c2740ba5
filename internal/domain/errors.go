package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code, so that
// errors.Is(err, ErrStoreUnavailable) matches any store failure.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeSourceFormat     = "SOURCE_FORMAT_ERROR"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeGeneration       = "GENERATION_FAILURE"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

var (
	ErrInvalidTopK   = NewDomainError(ErrCodeValidation, "top_k must not be negative")
	ErrEmptyQuestion = NewDomainError(ErrCodeValidation, "question cannot be empty")
)

var (
	ErrConfiguration    = NewDomainError(ErrCodeConfiguration, "invalid configuration")
	ErrSourceFormat     = NewDomainError(ErrCodeSourceFormat, "malformed chunk records")
	ErrStoreUnavailable = NewDomainError(ErrCodeStoreUnavailable, "vector store unavailable")
	ErrGeneration       = NewDomainError(ErrCodeGeneration, "generation model call failed")
)

// NewConfigurationError names the offending setting.
func NewConfigurationError(field, reason string) *DomainError {
	return NewDomainError(ErrCodeConfiguration, fmt.Sprintf("%s: %s", field, reason))
}

// NewStoreUnavailableError wraps a failure to open or query the vector store.
func NewStoreUnavailableError(message string, err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeStoreUnavailable, message, err)
}

// NewGenerationFailure wraps an error from the generation model.
func NewGenerationFailure(err error) *DomainError {
	return NewDomainErrorWithCause(ErrCodeGeneration, ErrGeneration.Message, err)
}

// IsCode reports whether any DomainError in err's chain carries code.
func IsCode(err error, code string) bool {
	var de *DomainError
	if !errors.As(err, &de) {
		return false
	}
	return de.Code == code
}
