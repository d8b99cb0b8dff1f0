package errors

import (
	"context"
	"errors"
	"fmt"
)

// Code is the numeric result of a public API operation. Zero means
// success; failures are negative, matching the wire-level contract of
// the handle-based entry points.
type Code int32

const (
	// CodeSuccess indicates the operation completed.
	CodeSuccess Code = 0
	// CodeGeneric is an unclassified failure.
	CodeGeneric Code = -1
	// CodeInvalidHandle indicates an unknown, wrong-kind, or already
	// closed handle.
	CodeInvalidHandle Code = -2
	// CodeInvalidParam indicates null/empty/mismatched-length or
	// otherwise malformed input.
	CodeInvalidParam Code = -3
	// CodeRuntime indicates a network or background-task failure with
	// no fallback available.
	CodeRuntime Code = -4
	// CodeIO indicates the fallback file could not be opened or written.
	CodeIO Code = -5
	// CodeNotSupported indicates the operation is not available on this
	// build or target.
	CodeNotSupported Code = -6
)

// String returns the lowercase name of the code.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeGeneric:
		return "generic"
	case CodeInvalidHandle:
		return "invalid_handle"
	case CodeInvalidParam:
		return "invalid_param"
	case CodeRuntime:
		return "runtime"
	case CodeIO:
		return "io"
	case CodeNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions.
var (
	// Handle resolution errors
	ErrInvalidHandle = errors.New("invalid handle")
	ErrHandleClosed  = errors.New("handle already closed")
	ErrWrongKind     = errors.New("handle kind mismatch")

	// Validation errors
	ErrEmptyChannelName = errors.New("channel name is empty")
	ErrMalformedTag     = errors.New("tag entry is not key=value")
	ErrDuplicateTagKey  = errors.New("duplicate tag key")
	ErrLengthMismatch   = errors.New("timestamp and value counts differ")
	ErrEmptyBatch       = errors.New("batch count is zero")
	ErrNoDestination    = errors.New("neither token nor fallback path configured")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrTypeMismatch     = errors.New("value type differs from channel type")

	// Lifecycle errors
	ErrStreamClosed  = errors.New("stream is closed")
	ErrWriterClosed  = errors.New("writer is closed")
	ErrAlreadyClosed = errors.New("already closed")

	// Delivery errors
	ErrRemoteUnavailable = errors.New("remote sink unavailable")
	ErrFallbackWrite     = errors.New("fallback log write failed")
	ErrFallbackCorrupt   = errors.New("fallback log record corrupt")

	// Capability errors
	ErrNotSupported = errors.New("operation not supported")
)

// CodedError wraps an error with its API code and originating context.
type CodedError struct {
	Code      Code
	Err       error
	Component string
	Operation string
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *CodedError) Unwrap() error {
	return e.Err
}

// CodeOf maps an error chain to its API code. A nil error maps to
// CodeSuccess. Explicitly coded errors win; known sentinels are mapped
// by category; everything else is CodeGeneric.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}

	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}

	switch {
	case errors.Is(err, ErrInvalidHandle),
		errors.Is(err, ErrHandleClosed),
		errors.Is(err, ErrWrongKind),
		errors.Is(err, ErrStreamClosed),
		errors.Is(err, ErrWriterClosed),
		errors.Is(err, ErrAlreadyClosed):
		return CodeInvalidHandle

	case errors.Is(err, ErrEmptyChannelName),
		errors.Is(err, ErrMalformedTag),
		errors.Is(err, ErrDuplicateTagKey),
		errors.Is(err, ErrLengthMismatch),
		errors.Is(err, ErrEmptyBatch),
		errors.Is(err, ErrNoDestination),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrTypeMismatch):
		return CodeInvalidParam

	case errors.Is(err, ErrFallbackWrite),
		errors.Is(err, ErrFallbackCorrupt):
		return CodeIO

	case errors.Is(err, ErrRemoteUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return CodeRuntime

	case errors.Is(err, ErrNotSupported):
		return CodeNotSupported
	}

	return CodeGeneric
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w". The original error's code, if
// any, is preserved through the chain.
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// newCoded creates a coded error. Use the WrapX helpers instead.
func newCoded(code Code, err error, component, method string) *CodedError {
	return &CodedError{
		Code:      code,
		Err:       err,
		Component: component,
		Operation: method,
	}
}

// WrapInvalidHandle wraps an error as a handle-resolution failure.
func WrapInvalidHandle(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newCoded(CodeInvalidHandle, Wrap(err, component, method, action), component, method)
}

// WrapInvalidParam wraps an error as an input-validation failure.
func WrapInvalidParam(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newCoded(CodeInvalidParam, Wrap(err, component, method, action), component, method)
}

// WrapRuntime wraps an error as a network or background-task failure.
func WrapRuntime(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newCoded(CodeRuntime, Wrap(err, component, method, action), component, method)
}

// WrapIO wraps an error as a fallback-file failure.
func WrapIO(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return newCoded(CodeIO, Wrap(err, component, method, action), component, method)
}
