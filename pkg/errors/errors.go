package errors

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType classifies failures of a run
type ErrorType string

const (
	ErrorTypeInfrastructure ErrorType = "infrastructure"
	ErrorTypeUISync         ErrorType = "ui_sync"
	ErrorTypeDataAbsence    ErrorType = "data_absence"
	ErrorTypeFilesystem     ErrorType = "filesystem"
	ErrorTypeConfiguration  ErrorType = "configuration"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Sentinel errors. Wrap them in *Error to attach the failing operation.
var (
	ErrCodeSourceNotFound = errors.New("code source not found")
	ErrCodeNotFound       = errors.New("code not found")
	ErrElementNotFound    = errors.New("element not found")
	ErrNoReportRows       = errors.New("no matching report rows")
	ErrEmptyDownloadDir   = errors.New("download directory is empty")
	ErrEmptyRows          = errors.New("missing rows")
	ErrDownloadDirMissing = errors.New("download directory not found")
	ErrArtifactTimeout    = errors.New("download did not complete")
)

// Error is a typed error carrying the operation that failed
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Type, msg)
	}
	return fmt.Sprintf("%s error in %s: %s", e.Type, e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a typed error for op wrapping err
func New(t ErrorType, op string, err error) *Error {
	return &Error{Type: t, Op: op, Err: err}
}

// Newf builds a typed error with a formatted message
func Newf(t ErrorType, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Type: t, Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Infra wraps an infrastructure failure (browser launch, mailbox connection)
func Infra(op string, err error) *Error {
	return New(ErrorTypeInfrastructure, op, err)
}

// UISync wraps an element that never became interactable
func UISync(op string, err error) *Error {
	return New(ErrorTypeUISync, op, err)
}

// DataAbsence wraps a missing email, code, row set or similar
func DataAbsence(op string, err error) *Error {
	return New(ErrorTypeDataAbsence, op, err)
}

// Filesystem wraps a filesystem failure
func Filesystem(op string, err error) *Error {
	return New(ErrorTypeFilesystem, op, err)
}

// TypeOf returns the type of the outermost *Error in the chain
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeInfrastructure
	}
	return ErrorTypeUnknown
}

// IsRetryable checks if an error type should be retried
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeInfrastructure, ErrorTypeUISync:
		return true
	case ErrorTypeDataAbsence, ErrorTypeFilesystem, ErrorTypeConfiguration:
		return false
	default:
		return false
	}
}

// Is and As re-export the standard helpers so callers importing this
// package under the name errors keep working.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
