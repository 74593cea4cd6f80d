// Package util provides utility functions and common error types.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared across the sync engine
var (
	ErrNotConnected      = errors.New("downstream database not connected")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrValidationFailed  = errors.New("validation failed")
	ErrInvariantViolated = errors.New("state machine invariant violated")
	ErrClosed            = errors.New("closed")
)

// InvariantError reports a logic bug: an operation was invoked in a state
// the state machine does not allow. These are surfaced loudly in logs and
// never caused by environmental conditions.
type InvariantError struct {
	Component string
	Operation string
	State     string
	Details   string
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("%s: %s not allowed in state %s", e.Component, e.Operation, e.State)
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolated
}

// NewInvariantError creates a new invariant error
func NewInvariantError(component, operation, state, details string) *InvariantError {
	return &InvariantError{
		Component: component,
		Operation: operation,
		State:     state,
		Details:   details,
	}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
