package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyText     = errors.New("text is empty")
	ErrEmptyQuery    = errors.New("query is empty")
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrBadChunking   = errors.New("invalid chunking options")
	ErrEmptyVector   = errors.New("embedding is empty")
	ErrEmptyAnswer   = errors.New("generated answer is empty")
	ErrCountMismatch = errors.New("embedding count mismatch")
)

// ValidationError is a caller-fixable input error.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Wrapped)
	}
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Field, e.Wrapped, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ProviderError reports a failed or malformed call to an embedding or
// generation provider. Status is the upstream HTTP status when known.
type ProviderError struct {
	Provider string
	Op       string
	Status   int
	Detail   string
	Wrapped  error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s: %s", e.Provider, e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Wrapped }

// NewProviderError creates a ProviderError wrapping err.
func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Wrapped: err}
}

// StoreError reports a persistence layer failure.
type StoreError struct {
	Op      string
	Wrapped error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Wrapped) }

func (e *StoreError) Unwrap() error { return e.Wrapped }

// NewStoreError creates a StoreError. A nil err yields nil.
func NewStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Wrapped: err}
}

// ConsistencyError reports an internal invariant violation. It is always
// fatal for the current request.
type ConsistencyError struct {
	Msg     string
	Wrapped error
}

func (e *ConsistencyError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("consistency: %s: %v", e.Msg, e.Wrapped)
	}
	return "consistency: " + e.Msg
}

func (e *ConsistencyError) Unwrap() error { return e.Wrapped }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsProvider reports whether err is (or wraps) a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsStore reports whether err is (or wraps) a StoreError.
func IsStore(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsConsistency reports whether err is (or wraps) a ConsistencyError.
func IsConsistency(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}

// HTTPStatus maps an error kind to a response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsProvider(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short label for the error kind, used in logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsValidation(err):
		return "validation"
	case IsProvider(err):
		return "provider"
	case IsStore(err):
		return "store"
	case IsConsistency(err):
		return "consistency"
	default:
		return "internal"
	}
}

// IsTransient reports whether retrying the operation later may succeed:
// store failures, provider transport failures, provider 429 and 5xx.
// Validation and consistency errors, provider 4xx and cancellation are
// permanent.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || IsValidation(err) || IsConsistency(err) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Status == 0 || pe.Status == http.StatusTooManyRequests || pe.Status >= http.StatusInternalServerError
	}
	return true
}
