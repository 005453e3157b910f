// Package errs defines the error taxonomy shared across the
// orchestration core. Workers classify failures with IsRetryable; they
// never inspect concrete error types themselves.
package errs

import (
	"errors"
	"fmt"
)

// ValidationError reports bad caller input. Never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validation builds a ValidationError for a field.
func Validation(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// NotFoundError reports a missing referenced record. Never retried.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// NotFound builds a NotFoundError for a record kind and id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// ProviderError reports a failure talking to an external provider.
// Transient failures (network hiccups, 5xx) are retried up to the
// attempt budget; terminal ones (provider rejected the input, malformed
// response) surface immediately.
type ProviderError struct {
	Provider  string
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error from %s.%s: %v", kind, e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Transient: true, Err: err}
}

// Terminal wraps err as a non-retryable provider failure.
func Terminal(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Transient: false, Err: err}
}

// IsRetryable is the single classification point for retry decisions.
// Validation and not-found errors are never retried; provider errors
// retry only when transient. Unclassified errors default to retryable so
// an unannotated failure still gets its attempt budget.
func IsRetryable(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
