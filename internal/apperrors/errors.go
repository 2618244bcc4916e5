// Package apperrors provides standardized error codes for the bridge.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (source, encoder, bluetooth, ...)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by API clients for programmatic
// error handling. Human-readable messages are provided alongside codes.
package apperrors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that clients can rely on for error handling.
const (
	// Source domain - audio input resolution
	CodeSourceUnavailable     = "source.unavailable"      // No usable audio input could be resolved
	CodeSourceEnumerateFailed = "source.enumerate_failed" // Audio source enumeration tool failed

	// Encoder domain - external encoder process lifecycle
	CodeEncoderLaunchFailed   = "encoder.launch_failed"   // Encoder process could not start
	CodeEncoderUnexpectedExit = "encoder.unexpected_exit" // Encoder exited outside a requested stop
	CodeEncoderReadFailed     = "encoder.read_failed"     // Read from encoder output failed
	CodeEncoderNotRunning     = "encoder.not_running"     // Operation requires a running encoder

	// Bluetooth domain - connection monitoring
	CodeBluetoothToolFailed = "bluetooth.tool_failed" // Bluetooth query tool failed or timed out

	// Tool domain - any other boundary query
	CodeToolFailed = "tool.failed" // External tool invocation failed or timed out

	// Restart domain - retry supervision
	CodeRestartExhausted = "restart.exhausted" // Retry policy exhausted without a running encoder

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration failed validation

	// Storage domain - event journal persistence
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Server domain - WebSocket and network errors
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message
	CodeServerRateLimited    = "server.rate_limited"    // Too many client commands per second

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "encoder.launch_failed")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// SourceUnavailable creates a "source.unavailable" error.
// Raised when the resolver exhausts every fallback without finding an input.
func SourceUnavailable() *CodedError {
	return New(CodeSourceUnavailable, "no usable audio source available")
}

// EnumerateFailed creates a "source.enumerate_failed" error.
func EnumerateFailed(tool string, cause error) *CodedError {
	return Wrap(CodeSourceEnumerateFailed, fmt.Sprintf("%s enumeration failed", tool), cause)
}

// LaunchFailed creates an "encoder.launch_failed" error.
func LaunchFailed(source string, cause error) *CodedError {
	return Wrap(CodeEncoderLaunchFailed, fmt.Sprintf("encoder failed to start for source %s", source), cause)
}

// UnexpectedExit creates an "encoder.unexpected_exit" error.
// Raised when the encoder terminates outside a requested stop.
func UnexpectedExit(detail string) *CodedError {
	msg := "encoder exited unexpectedly"
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return New(CodeEncoderUnexpectedExit, msg)
}

// ReadFailed creates an "encoder.read_failed" error.
func ReadFailed(cause error) *CodedError {
	return Wrap(CodeEncoderReadFailed, "read from encoder output failed", cause)
}

// BluetoothToolFailed creates a "bluetooth.tool_failed" error.
// Timeouts and outright command failures are not distinguished: both leave
// the monitor with no new information.
func BluetoothToolFailed(cause error) *CodedError {
	return Wrap(CodeBluetoothToolFailed, "bluetooth query failed", cause)
}

// ToolFailed creates a "tool.failed" error for a named external tool.
func ToolFailed(tool string, cause error) *CodedError {
	return Wrap(CodeToolFailed, fmt.Sprintf("%s invocation failed", tool), cause)
}

// RestartExhausted creates a "restart.exhausted" error.
func RestartExhausted(attempts int) *CodedError {
	return New(CodeRestartExhausted, fmt.Sprintf("stream restart failed after %d attempts", attempts))
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// InvalidMessage creates a "server.invalid_message" error.
func InvalidMessage(reason string) *CodedError {
	return New(CodeServerInvalidMessage, reason)
}

// RateLimited creates a "server.rate_limited" error.
func RateLimited() *CodedError {
	return New(CodeServerRateLimited, "too many commands, slow down")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
