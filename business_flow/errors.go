// Package businessflow contains the use cases behind the control API
package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Job-related errors
	ErrJobNotFound         = errors.New("job not found")
	ErrJobActive           = errors.New("job is processing")
	ErrItemsRequired       = errors.New("at least one item is required")
	ErrTooManyItems        = errors.New("too many items")
	ErrSenderRequired      = errors.New("from_email is required when send_email is set")
	ErrSubjectRequired     = errors.New("subject is required when send_email is set")
	ErrUnknownPlatform     = errors.New("unknown platform")
	ErrSchedulerNotRunning = errors.New("scheduler is not accepting jobs")
	ErrJobRunNotFound      = errors.New("job run not found")

	// Account-related errors
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountAlreadyExists = errors.New("account already exists")

	// Operator auth errors
	ErrOperatorTokenInvalid = errors.New("operator token is invalid")
	ErrOperatorTokenExpired = errors.New("operator token has expired")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}

func IsJobActive(err error) bool {
	return errors.Is(err, ErrJobActive)
}

func IsUnknownPlatform(err error) bool {
	return errors.Is(err, ErrUnknownPlatform)
}

func IsSchedulerNotRunning(err error) bool {
	return errors.Is(err, ErrSchedulerNotRunning)
}

func IsJobRunNotFound(err error) bool {
	return errors.Is(err, ErrJobRunNotFound)
}

func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsAccountAlreadyExists(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists)
}

func IsOperatorTokenInvalid(err error) bool {
	return errors.Is(err, ErrOperatorTokenInvalid)
}

func IsOperatorTokenExpired(err error) bool {
	return errors.Is(err, ErrOperatorTokenExpired)
}

// IsValidationError reports whether err is a request level business rule violation
func IsValidationError(err error) bool {
	return errors.Is(err, ErrItemsRequired) ||
		errors.Is(err, ErrTooManyItems) ||
		errors.Is(err, ErrSenderRequired) ||
		errors.Is(err, ErrSubjectRequired)
}
