// Package errors provides a lightweight structured error type (ImageBuilderError)
// for category-based classification of run and per-entry failures in the CLI and daemon.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the category of an imagebuilder error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryInventory  ErrorCategory = "inventory"

	// Per-entry processing errors
	CategorySource     ErrorCategory = "source"
	CategoryDecode     ErrorCategory = "decode"
	CategoryEncode     ErrorCategory = "encode"
	CategoryFileSystem ErrorCategory = "filesystem"

	// Run level errors
	CategoryBuild    ErrorCategory = "build"
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ImageBuilderError is a structured error with category, severity and context
type ImageBuilderError struct {
	Category ErrorCategory `json:"category"`
	Severity ErrorSeverity `json:"severity"`
	Message  string        `json:"message"`
	Cause    error         `json:"cause,omitempty"`
	Context  ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for ImageBuilderError
type ContextFields map[string]any

// Error implements the error interface
func (e *ImageBuilderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *ImageBuilderError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *ImageBuilderError) WithContext(key string, value any) *ImageBuilderError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// Reason returns the message plus cause without the category prefix, for one-line diagnostics.
func (e *ImageBuilderError) Reason() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// New creates a new ImageBuilderError
func New(category ErrorCategory, severity ErrorSeverity, message string) *ImageBuilderError {
	return &ImageBuilderError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new ImageBuilderError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *ImageBuilderError {
	return &ImageBuilderError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// As finds the first ImageBuilderError in err's chain.
func As(err error) (*ImageBuilderError, bool) {
	var ibe *ImageBuilderError
	if stderrors.As(err, &ibe) {
		return ibe, true
	}
	return nil, false
}

// IsCategory checks if an error (or anything it wraps) belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if ibe, ok := As(err); ok {
		return ibe.Category == category
	}
	return false
}

// IsFatal reports whether err carries fatal severity.
func IsFatal(err error) bool {
	if ibe, ok := As(err); ok {
		return ibe.Severity == SeverityFatal
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not an ImageBuilderError
func GetCategory(err error) ErrorCategory {
	if ibe, ok := As(err); ok {
		return ibe.Category
	}
	return CategoryInternal
}

// Reason returns a short human reason for err suitable for "Failed: x (reason)" lines.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if ibe, ok := As(err); ok {
		return ibe.Reason()
	}
	return err.Error()
}
