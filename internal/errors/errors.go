package errors

import (
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   appErr,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

// Predefined error codes
const (
	// CodeInputShape is fatal: tables being combined disagree on the
	// flavor-energy axis, or a required table or category is empty.
	CodeInputShape = "INPUT_SHAPE"
	// CodeConfigInvalid is fatal at load time: bad horn or flavor names,
	// non-monotonic binning, malformed run catalogue or energy window.
	CodeConfigInvalid = "CONFIG_INVALID"
	// CodeDegenerateVariance marks recoverable conditions: covariance over
	// fewer than two universes or a zero-variance bin. Resolved by
	// substituting zero, never NaN.
	CodeDegenerateVariance = "DEGENERATE_VARIANCE"
	// CodeSingularMatrix marks numerically non-positive eigenvalues filtered
	// out during spectral decomposition.
	CodeSingularMatrix = "SINGULAR_MATRIX"

	CodeExportError   = "EXPORT_ERROR"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeInvalidInput  = "INVALID_INPUT"
)

// Common error constructors
func InputShape(message string) *AppError {
	return New(CodeInputShape, message)
}

func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DegenerateVariance(message string) *AppError {
	return New(CodeDegenerateVariance, message)
}

func SingularMatrix(message string) *AppError {
	return New(CodeSingularMatrix, message)
}

func ExportError(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeExportError,
		Message: message,
		Cause:   cause,
	}
}

func DatabaseError(message string) *AppError {
	return New(CodeDatabaseError, message)
}

func InternalError(message string) *AppError {
	return New(CodeInternalError, message)
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}
