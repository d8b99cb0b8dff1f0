// Package errors defines pointstream's error taxonomy and the mapping
// between Go error values and the numeric codes returned by the public
// handle-based API.
//
// # Error Codes
//
// Every fallible public operation resolves to one of seven codes:
//
//   - CodeSuccess (0): operation completed
//   - CodeGeneric (-1): unclassified failure
//   - CodeInvalidHandle (-2): unknown, wrong-kind, or closed handle
//   - CodeInvalidParam (-3): malformed or inconsistent input
//   - CodeRuntime (-4): delivery failure with no fallback available
//   - CodeIO (-5): fallback file cannot be opened or written
//   - CodeNotSupported (-6): operation unavailable on this build
//
// Internal code returns ordinary Go errors; the boundary layer calls
// CodeOf to collapse the chain to a code. Classification survives
// wrapping: CodeOf walks the chain with errors.As/errors.Is, so
//
//	err := errors.WrapIO(osErr, "FallbackLog", "Append", "write record")
//	code := errors.CodeOf(fmt.Errorf("flush: %w", err)) // CodeIO
//
// # Wrapping Pattern
//
// All wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// via Wrap and the code-carrying WrapInvalidHandle, WrapInvalidParam,
// WrapRuntime, and WrapIO helpers. Sentinel variables (ErrLengthMismatch,
// ErrStreamClosed, ...) stand in for ad-hoc message strings so that
// callers can branch with errors.Is rather than string matching.
//
// Context cancellation errors classify as CodeRuntime: a deadline hit
// while draining buffers is a delivery failure from the caller's
// point of view.
//
// All helpers are safe for concurrent use; sentinel variables are
// immutable.
package errors
