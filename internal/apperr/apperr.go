// Package apperr carries the error taxonomy shared by the ledger, reward
// engine and webhook ingestor. Callers branch on Code, never on message text.
package apperr

import (
	"errors"
	"fmt"
)

type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(err error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

const (
	CodeValidation = "VALIDATION_ERROR"
	CodeNotFound   = "NOT_FOUND"
	CodeConflict   = "CONFLICT"
	CodeTransient  = "TRANSIENT"
	CodeSecurity   = "SECURITY"
	CodeInternal   = "INTERNAL_ERROR"
)

// Validation returns a validation error with a formatted reason.
func Validation(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

// NotFound returns a not-found error with a formatted reason.
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message for err. Internal errors get a
// generic message so storage details never leak.
func MessageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != CodeInternal && ae.Code != CodeTransient {
		return ae.Message
	}
	if CodeOf(err) == CodeTransient {
		return "temporarily unavailable, retry later"
	}
	return "internal error"
}

func Is(err error, code string) bool {
	return CodeOf(err) == code
}
