// Package errors provides standardized error handling patterns for marble
// listeners and effect pipelines. It includes error classification, standard
// error variables, and helper functions for consistent error wrapping across
// the dispatch layer.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorPipeline represents recoverable failures inside an effect or
	// middleware stage; the owning pipeline is resubscribed, the connection
	// survives
	ErrorPipeline ErrorClass = iota
	// ErrorTransform represents wire encode/decode failures; handled like
	// pipeline errors on the side where they occur
	ErrorTransform
	// ErrorConnection represents admission failures that abort a single
	// connection upgrade
	ErrorConnection
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorPipeline:
		return "pipeline"
	case ErrorTransform:
		return "transform"
	case ErrorConnection:
		return "connection"
	case ErrorInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Routing errors
	ErrRouteNotFound  = errors.New("no route matched")
	ErrDuplicateRoute = errors.New("duplicate route registration")
	ErrParamConflict  = errors.New("conflicting path parameter names")

	// Pipeline lifecycle errors
	ErrSubscriptionExhausted = errors.New("pipeline subscription exhausted")
	ErrEmptyPipeline         = errors.New("pipeline produced no output")
	ErrResponseSent          = errors.New("response already sent")

	// Connection errors
	ErrConnectionRejected = errors.New("connection rejected")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrClientNotAlive     = errors.New("client not alive")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// ConnectionError carries the HTTP status and message used to abort a
// WebSocket upgrade when the admission gate declines or fails. An admission
// callback may return one directly to control the rejection response.
type ConnectionError struct {
	Status  int
	Message string
}

// NewConnectionError creates a ConnectionError with the given status and
// message. A zero status falls back to http.StatusUnauthorized.
func NewConnectionError(status int, message string) *ConnectionError {
	if status == 0 {
		status = http.StatusUnauthorized
	}
	return &ConnectionError{Status: status, Message: message}
}

// Error implements the error interface
func (ce *ConnectionError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ErrConnectionRejected.Error()
}

// Unwrap ties every ConnectionError to the ErrConnectionRejected sentinel
func (ce *ConnectionError) Unwrap() error {
	return ErrConnectionRejected
}

// IsPipeline checks if an error is a recoverable pipeline failure
func IsPipeline(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorPipeline || ce.Class == ErrorTransform
	}

	// Unclassified stage errors are treated as pipeline failures so a
	// single bad event never tears down the connection
	return !IsConnection(err) && !IsInvalid(err)
}

// IsTransform checks if an error is a wire encode/decode failure
func IsTransform(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransform
	}
	return false
}

// IsConnection checks if an error aborts a connection upgrade
func IsConnection(err error) bool {
	if err == nil {
		return false
	}

	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorConnection
	}
	return errors.Is(err, ErrConnectionRejected)
}

// IsInvalid checks if an error is due to invalid input or configuration
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDuplicateRoute) ||
		errors.Is(err, ErrParamConflict)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if IsTransform(err) {
		return ErrorTransform
	}
	if IsConnection(err) {
		return ErrorConnection
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	// Default to pipeline so unknown errors are recovered locally
	return ErrorPipeline
}

// newClassified creates a new classified error
// This is an internal helper - use the Wrap* functions instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapPipeline wraps an error as a recoverable pipeline failure with context
func WrapPipeline(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorPipeline, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTransform wraps an error as a wire transform failure with context
func WrapTransform(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransform, wrappedErr, component, method, wrappedErr.Error())
}

// WrapConnection wraps an error as a connection admission failure with context
func WrapConnection(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorConnection, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid input or configuration with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
