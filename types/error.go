package types

import "fmt"

// ErrorCode represents a unified error code across the package.
type ErrorCode string

// Spec error codes
const (
	ErrSpecInvalid      ErrorCode = "SPEC_INVALID"
	ErrDuplicateProcess ErrorCode = "DUPLICATE_PROCESS"
	ErrSweepInvalid     ErrorCode = "SWEEP_INVALID"
	ErrProcessNotFound  ErrorCode = "PROCESS_NOT_FOUND"
	ErrPartitionMissing ErrorCode = "PARTITION_MISSING"
)

// Data operation error codes
const (
	ErrBadSubset     ErrorCode = "BAD_SUBSET"
	ErrBadFilter     ErrorCode = "BAD_FILTER"
	ErrColumnMissing ErrorCode = "COLUMN_MISSING"
	ErrMetadataRead  ErrorCode = "METADATA_READ"
)

// Run error codes
const (
	ErrInputNotFound     ErrorCode = "INPUT_NOT_FOUND"
	ErrHookFailed        ErrorCode = "HOOK_FAILED"
	ErrProcessFailed     ErrorCode = "PROCESS_FAILED"
	ErrRunNotFound       ErrorCode = "RUN_NOT_FOUND"
	ErrCatalogueConflict ErrorCode = "CATALOGUE_CONFLICT"
	ErrRootMetaMismatch  ErrorCode = "ROOT_META_MISMATCH"
	ErrRemoteUnset       ErrorCode = "REMOTE_UNSET"
)

// Infrastructure error codes
const (
	ErrStorage       ErrorCode = "STORAGE_ERROR"
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrChecksum      ErrorCode = "CHECKSUM_MISMATCH"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Process   string    `json:"process,omitempty"`
	Retryable bool      `json:"retryable"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithProcess sets the process name the error occurred in.
func (e *Error) WithProcess(process string) *Error {
	e.Process = process
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
