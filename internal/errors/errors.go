package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidAddress indicates a malformed mailbox address
	ErrInvalidAddress = errors.New("invalid mailbox address")

	// ErrProtectedAddress indicates the local part matches the protected pattern
	ErrProtectedAddress = errors.New("address is protected")

	// ErrInvalidRetention indicates a retention period outside the configured bounds
	ErrInvalidRetention = errors.New("retention period out of range")

	// ErrInvalidWhitelistRule indicates a malformed sender whitelist rule
	ErrInvalidWhitelistRule = errors.New("invalid whitelist rule")

	// ErrMailboxNotFound indicates the mailbox was not found
	ErrMailboxNotFound = errors.New("mailbox not found")

	// ErrMessageNotFound indicates the message was not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrMailboxExists indicates a live mailbox already holds the address
	ErrMailboxExists = errors.New("mailbox already exists")

	// ErrMailboxExpired indicates the mailbox exists but is past its expiry
	ErrMailboxExpired = errors.New("mailbox has expired")

	// ErrMailboxDisabled indicates the mailbox exists but is deactivated
	ErrMailboxDisabled = errors.New("mailbox is disabled")

	// ErrInvalidKey indicates a mailbox key mismatch
	ErrInvalidKey = errors.New("invalid mailbox key")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates forbidden access
	ErrForbidden = errors.New("forbidden")

	// ErrStore indicates the storage layer failed
	ErrStore = errors.New("storage failure")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")
)

// Error codes for API responses
const (
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeProtectedAddress = "PROTECTED_ADDRESS"
	CodeInvalidRetention = "INVALID_RETENTION"
	CodeMailboxExists    = "MAILBOX_EXISTS"
	CodeMailboxExpired   = "MAILBOX_EXPIRED"
	CodeMailboxDisabled  = "MAILBOX_DISABLED"
	CodeInvalidKey       = "INVALID_KEY"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeStoreError       = "STORE_ERROR"
	CodeInternalError    = "INTERNAL_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Store marks an error as a storage failure while keeping its detail
func Store(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMailboxNotFound) ||
		errors.Is(err, ErrMessageNotFound)
}

// IsValidation checks if the error is an input validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAddress) ||
		errors.Is(err, ErrProtectedAddress) ||
		errors.Is(err, ErrInvalidRetention) ||
		errors.Is(err, ErrInvalidWhitelistRule)
}

// IsConflict checks if the error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrMailboxExists)
}

// IsState checks if the error reports a mailbox in the wrong state
func IsState(err error) bool {
	return errors.Is(err, ErrMailboxExpired) ||
		errors.Is(err, ErrMailboxDisabled)
}

// IsStore checks if the error is a storage failure
func IsStore(err error) bool {
	return errors.Is(err, ErrStore)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case errors.Is(err, ErrProtectedAddress):
		return CodeProtectedAddress
	case errors.Is(err, ErrInvalidRetention):
		return CodeInvalidRetention
	case IsValidation(err):
		return CodeInvalidInput
	case errors.Is(err, ErrMailboxExists):
		return CodeMailboxExists
	case errors.Is(err, ErrMailboxExpired):
		return CodeMailboxExpired
	case errors.Is(err, ErrMailboxDisabled):
		return CodeMailboxDisabled
	case errors.Is(err, ErrInvalidKey):
		return CodeInvalidKey
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case IsStore(err):
		return CodeStoreError
	default:
		return CodeInternalError
	}
}
