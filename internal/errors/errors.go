package errors

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Sentinels every error leaving a repository or service is marked with.
// Callers branch on them with errors.Is or the Is* helpers below.
var (
	ErrNotFound            = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists       = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation          = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation    = new(ErrCodeInvalidOperation, "invalid operation")
	ErrAllocationFailed    = new(ErrCodeAllocationFailed, "sequence allocation failed")
	ErrConstraintViolation = new(ErrCodeConstraintViolation, "constraint violation")
	ErrDatabase            = new(ErrCodeDatabase, "database error")
	ErrCanceled            = new(ErrCodeCanceled, "request canceled")
	ErrSystem              = new(ErrCodeSystemError, "system error")
	// maps errors to http status codes for the outer api layer
	statusCodeMap = map[error]int{
		ErrDatabase:            http.StatusInternalServerError,
		ErrNotFound:            http.StatusNotFound,
		ErrAlreadyExists:       http.StatusConflict,
		ErrValidation:          http.StatusBadRequest,
		ErrInvalidOperation:    http.StatusBadRequest,
		ErrAllocationFailed:    http.StatusServiceUnavailable,
		ErrConstraintViolation: http.StatusInternalServerError,
		ErrSystem:              http.StatusInternalServerError,
		ErrCanceled:            http.StatusRequestTimeout,
	}
)

const (
	ErrCodeSystemError         = "system_error"
	ErrCodeNotFound            = "not_found"
	ErrCodeAlreadyExists       = "already_exists"
	ErrCodeValidation          = "validation_error"
	ErrCodeInvalidOperation    = "invalid_operation"
	ErrCodeAllocationFailed    = "allocation_failed"
	ErrCodeConstraintViolation = "constraint_violation"
	ErrCodeDatabase            = "database_error"
	ErrCodeCanceled            = "canceled"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.DisplayError()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) DisplayError() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err, reference error) bool {
	return errors.Is(err, reference)
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsCanceled checks if the caller gave up on the request
func IsCanceled(err error) bool {
	return errors.Is(err, ErrCanceled)
}

// IsAllocationFailed checks if the counter could not be advanced
func IsAllocationFailed(err error) bool {
	return errors.Is(err, ErrAllocationFailed)
}

// IsConstraintViolation checks if storage rejected a write on a constraint
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraintViolation)
}

// IsRetryable reports whether the whole operation may be attempted again in a
// fresh transaction. Only allocation failures qualify; constraint violations
// point at a bug and must never be retried around.
func IsRetryable(err error) bool {
	if err == nil || IsConstraintViolation(err) {
		return false
	}
	return IsAllocationFailed(err)
}

func HTTPStatusFromErr(err error) int {
	for e, status := range statusCodeMap {
		if errors.Is(err, e) {
			return status
		}
	}
	return http.StatusInternalServerError
}
