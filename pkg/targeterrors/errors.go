// Package targeterrors provides structured error handling for the BigQuery
// target with error categorization, key-value context and stack traces.
//
// # Overview
//
// The taxonomy mirrors how a run reacts to a failure:
//   - ErrorTypeStructural: malformed envelopes, record before schema, unknown
//     message kinds and unmappable schema types. Always fatal.
//   - ErrorTypeValidation: a record failed its schema and the invalid-record
//     policy escalated it.
//   - ErrorTypeWarehouse: BigQuery rejected a table, a load job or a row.
//   - ErrorTypeConflict / ErrorTypeNotFound: warehouse lookups that callers
//     may recover from (get-after-create races, missing tables).
//
// # Basic Usage
//
//	err := targeterrors.New(targeterrors.ErrorTypeStructural, "record before schema").
//	    WithDetail("stream", "users")
//
//	if err := job.Wait(ctx); err != nil {
//	    return targeterrors.Wrap(err, targeterrors.ErrorTypeWarehouse, "load job failed").
//	        WithDetail("table", table)
//	}
//
// Error instances are not safe for concurrent modification. Add details before
// sharing an error across goroutines.
package targeterrors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error and drives how the driver reacts.
type ErrorType string

const (
	// ErrorTypeInternal represents internal invariant violations
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeStructural represents malformed input or protocol violations
	ErrorTypeStructural ErrorType = "structural"
	// ErrorTypeValidation represents records escalated by the abort policy
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeWarehouse represents BigQuery failures
	ErrorTypeWarehouse ErrorType = "warehouse"
	// ErrorTypeConflict represents create conflicts (resource already exists)
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeNotFound represents missing datasets or tables
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeData represents staging and serialization failures
	ErrorTypeData ErrorType = "data"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: Categorizes the error for handling strategies
//   - Message: Human-readable error description
//   - Cause: The underlying error that caused this error
//   - Details: Key-value pairs providing additional context
//   - Stack: Call stack at the point of error creation
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Details map[string]interface{}
	Stack   []StackFrame
}

// StackFrame represents a single frame in the call stack.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. It can be chained.
//
// Example:
//
//	err := targeterrors.New(targeterrors.ErrorTypeWarehouse, "load job failed").
//	    WithDetail("table", "users").
//	    WithDetail("job_id", jobID)
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Detail returns the detail stored under key, if any.
func (e *Error) Detail(key string) (interface{}, bool) {
	v, ok := e.Details[key]
	return v, ok
}

// New creates a new error with the given type and message, capturing the call
// stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf is New with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the original
// error as the cause. If the error is already a structured Error, its stack
// trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// IsType reports whether the outermost structured error in err's chain has the
// given type.
//
// Example:
//
//	if targeterrors.IsType(err, targeterrors.ErrorTypeNotFound) {
//	    return createTable(ctx)
//	}
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// HasType reports whether any structured error in err's chain has the given
// type. Unlike IsType it looks through wrapping layers.
func HasType(err error, errType ErrorType) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Type == errType {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsFatal reports whether err must abort a run. Only conflicts and missing
// resources are recoverable, and only by the warehouse layer itself.
func IsFatal(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return err != nil
	}

	switch e.Type {
	case ErrorTypeConflict, ErrorTypeNotFound:
		return false
	default:
		return true
	}
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
