// Package errors provides error classification for gocoal services.
//
// Infrastructure failures are wrapped in ServiceError. Protocol aborts raised
// by the on-ledger program implement Classified so the same IsType and
// IsRetryable helpers answer for both.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	// ErrorTypeTiming covers submissions made too early or after the epoch expired
	ErrorTypeTiming ErrorType = "timing"
	// ErrorTypeProofOfWork covers invalid or too easy solutions
	ErrorTypeProofOfWork ErrorType = "proof_of_work"
	// ErrorTypeIntegrity covers authentication and resource binding failures
	ErrorTypeIntegrity ErrorType = "integrity"
	// ErrorTypeEconomic covers supply exhaustion
	ErrorTypeEconomic ErrorType = "economic"
	// ErrorTypeAccountData covers malformed accounts, arithmetic overflow and bad instruction data
	ErrorTypeAccountData ErrorType = "account_data"
	// ErrorTypeValidation represents configuration and input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeDatabase represents database-related errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeKafka represents Kafka messaging errors
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
)

// Classified is implemented by errors that carry their own category.
type Classified interface {
	error
	ErrorType() ErrorType
}

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// ErrorType implements Classified
func (e *ServiceError) ErrorType() ErrorType {
	return e.Type
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: RetryableType(errorType),
	}
}

// Wrap wraps an existing error with context
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := isRetryableByDefault(err)
	var c Classified
	if errors.As(err, &c) {
		// the inner classification wins over string matching
		retryable = IsRetryable(err)
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

// RetryableType reports whether errors of the given type are generally retryable.
// Timing errors clear once the clock advances or the epoch is reset.
func RetryableType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka, ErrorTypeTiming:
		return true
	default:
		return false
	}
}

// isRetryableByDefault checks if an error is retryable based on common patterns
func isRetryableByDefault(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	networkErrors := []string{
		"connection refused",
		"connection reset",
		"network unreachable",
		"timeout",
		"temporary failure",
		"too many connections",
	}

	for _, netErr := range networkErrors {
		if strings.Contains(errStr, netErr) {
			return true
		}
	}

	return false
}

// TypeOf returns the category of err, or ErrorTypeInternal when unclassified
func TypeOf(err error) ErrorType {
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorType()
	}
	return ErrorTypeInternal
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorType() == errorType
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	var c Classified
	if errors.As(err, &c) {
		return RetryableType(c.ErrorType())
	}
	return isRetryableByDefault(err)
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
