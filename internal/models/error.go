package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")
)

// Recoverable input errors: the attempt stays open and the user may retry
var (
	ErrInvalidCode     = errors.New("invalid verification code")
	ErrInvalidPassword = errors.New("invalid second factor password")
)

// Flow and credential errors
var (
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrExternalService   = errors.New("external service error")
	ErrCredentialInvalid = errors.New("credential rejected by messaging service")
	ErrMonitorTimeout    = errors.New("monitoring timed out")
	ErrMonitorNotFound   = errors.New("no active monitor for phone number")
	ErrAttemptNotFound   = errors.New("login attempt not found or expired")
	ErrAttemptTerminal   = errors.New("login attempt already finished")
	ErrAttemptStage      = errors.New("login attempt is not awaiting this step")
	ErrHandleNotFound    = errors.New("device session not found")
	ErrCurrentSession    = errors.New("refusing to terminate the current session")
	ErrInvalidPhone      = errors.New("phone number is not in international format")
)

// ExternalError carries an upstream failure with the service's own message, which
// is surfaced to the caller verbatim
type ExternalError struct {
	Op      string
	Message string
	Err     error
}

func (e *ExternalError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": external service error"
}

// Unwrap exposes ErrExternalService and the upstream cause
func (e *ExternalError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrExternalService}
	}
	return []error{ErrExternalService, e.Err}
}

// NewExternalError wraps err as an ExternalError for op
func NewExternalError(op string, err error) *ExternalError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &ExternalError{Op: op, Message: msg, Err: err}
}

// IsRecoverable reports whether err invites the user to retry the same step
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrInvalidPassword)
}
