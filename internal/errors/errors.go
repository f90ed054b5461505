package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess      Code = 0
	CodeInternal     Code = 1
	CodeUsage        Code = 2
	CodeNoRoute      Code = 10
	CodeSimulation   Code = 11
	CodeApproval     Code = 12
	CodeSubmission   Code = 13
	CodeConfirmation Code = 14
	CodeUnavailable  Code = 15
	CodeRateLimited  Code = 16
	CodeAuth         Code = 17
	CodeUnsupported  Code = 18
	CodeBlocked      Code = 19
)

// Error is a typed engine error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	engErr, ok := As(err)
	return ok && engErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if engErr, ok := As(err); ok {
		return int(engErr.Code)
	}
	return int(CodeInternal)
}
