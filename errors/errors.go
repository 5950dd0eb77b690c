// Package errors provides classified error handling for SondeAlert.
// Errors are sorted into three classes that map directly onto how the
// driving loops react: transient errors are logged and the loop carries
// on at its next scheduled iteration, invalid errors mean the offending
// event or message is dropped, and fatal errors stop the process (they
// only occur during startup).
package errors

import (
	"errors"
	"fmt"
)

// Class is the handling classification of an error.
type Class int

const (
	// ClassTransient marks temporary failures (broker disconnect, poll
	// HTTP failure, send failure). The loop logs and continues.
	ClassTransient Class = iota
	// ClassInvalid marks bad input (malformed prediction payload,
	// unparseable poll response). The event is dropped.
	ClassInvalid
	// ClassFatal marks unrecoverable failures (missing configuration).
	// The process does not start.
	ClassFatal
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassInvalid:
		return "invalid"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors shared across packages.
var (
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStarted = errors.New("component already started")
	ErrShuttingDown   = errors.New("component is shutting down")

	ErrNoConnection = errors.New("no connection available")
	ErrDecodeFailed = errors.New("payload decode failed")

	ErrMissingConfig = errors.New("missing required configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ClassifiedError wraps an error with its class and origin.
type ClassifiedError struct {
	Class     Class
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error.
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error following the pattern
// "component.operation: action failed: %w". Returns nil for a nil error.
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

func wrapClassified(class Class, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, operation, action),
		Component: component,
		Operation: operation,
	}
}

// WrapTransient wraps an error as transient with context.
func WrapTransient(err error, component, operation, action string) error {
	return wrapClassified(ClassTransient, err, component, operation, action)
}

// WrapInvalid wraps an error as invalid with context.
func WrapInvalid(err error, component, operation, action string) error {
	return wrapClassified(ClassInvalid, err, component, operation, action)
}

// WrapFatal wraps an error as fatal with context.
func WrapFatal(err error, component, operation, action string) error {
	return wrapClassified(ClassFatal, err, component, operation, action)
}

// IsTransient reports whether an error should be retried on the next
// loop iteration.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassTransient
	}
	return errors.Is(err, ErrNoConnection)
}

// IsInvalid reports whether an error is caused by bad input.
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassInvalid
	}
	return errors.Is(err, ErrDecodeFailed)
}

// IsFatal reports whether an error should stop the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ClassFatal
	}
	return errors.Is(err, ErrMissingConfig) || errors.Is(err, ErrInvalidConfig)
}

// Classify returns the class for an error. Unknown errors default to
// transient so the owning loop keeps running.
func Classify(err error) Class {
	switch {
	case IsFatal(err):
		return ClassFatal
	case IsInvalid(err):
		return ClassInvalid
	default:
		return ClassTransient
	}
}
