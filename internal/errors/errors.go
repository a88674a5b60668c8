// Package errors provides categorized error handling for the pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"time"
)

// ErrorCategory represents the type of error for better categorization
type ErrorCategory string

const (
	// CategoryTransport covers broker connectivity and publish failures.
	// Transport errors are fatal to the call and never retried automatically.
	CategoryTransport ErrorCategory = "transport"

	// CategoryTimeout marks RPC calls that received no correlated reply in
	// time. Surfaced as a distinct condition so callers can decide to retry.
	CategoryTimeout ErrorCategory = "timeout"

	// CategoryApplication marks handler-level failures (validation or
	// persistence inside a worker). Converted into explicit error replies.
	CategoryApplication ErrorCategory = "application"

	// CategoryValidation marks malformed payloads, e.g. monitoring events
	// missing required fields. Dropped and logged, never surfaced upstream.
	CategoryValidation ErrorCategory = "validation"

	CategoryDatabase      ErrorCategory = "database"
	CategoryNotFound      ErrorCategory = "not-found"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryGeneric       ErrorCategory = "generic"
)

// ComponentUnknown is used when the component cannot be determined.
const ComponentUnknown = "unknown"

// EnhancedError wraps an error with a category, component and context data.
type EnhancedError struct {
	Err       error
	Component string
	Category  ErrorCategory
	Context   map[string]any
	Timestamp time.Time
}

// Error implements the error interface
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap implements the error unwrapping interface
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// Is matches two enhanced errors by category, otherwise defers to the
// wrapped error chain.
func (ee *EnhancedError) Is(target error) bool {
	if ee2, ok := target.(*EnhancedError); ok {
		return ee.Category == ee2.Category
	}
	return stderrors.Is(ee.Err, target)
}

// GetCategory returns the error category
func (ee *EnhancedError) GetCategory() string {
	return string(ee.Category)
}

// GetContext returns a copy of the error context.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	contextCopy := make(map[string]any, len(ee.Context))
	maps.Copy(contextCopy, ee.Context)
	return contextCopy
}

// ErrorBuilder provides a fluent interface for creating enhanced errors
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new formatted error with enhanced context
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category for better grouping
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds context data to the error
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the final EnhancedError
func (eb *ErrorBuilder) Build() *EnhancedError {
	component := eb.component
	if component == "" {
		component = ComponentUnknown
	}
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	return &EnhancedError{
		Err:       eb.err,
		Component: component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
}

// HasCategory reports whether any error in err's chain carries the category.
func HasCategory(err error, category ErrorCategory) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		return ee.Category == category
	}
	return false
}

// IsTimeout reports whether err is an RPC timeout.
func IsTimeout(err error) bool {
	return HasCategory(err, CategoryTimeout)
}

// IsTransport reports whether err is a broker transport failure.
func IsTransport(err error) bool {
	return HasCategory(err, CategoryTransport)
}

// --- Standard library re-exports so callers need a single errors import ---

// Is re-exports errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As re-exports errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// NewStd creates a plain standard library error.
func NewStd(text string) error {
	return stderrors.New(text)
}
