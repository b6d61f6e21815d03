// Package naverr defines the structured errors produced by navigation dispatch.
package naverr

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeInvalidPath      = "INVALID_PATH"
	CodePathNotFound     = "PATH_NOT_FOUND"
	CodeHandlerNotFound  = "HANDLER_NOT_FOUND"
	CodeCapabilityDenied = "CAPABILITY_DENIED"
	CodeAuthRequired     = "AUTH_REQUIRED"
	CodeMiddlewareFault  = "MIDDLEWARE_FAULT"
	CodeChainFailed      = "CHAIN_FAILED"
	CodeLaunchFaulted    = "LAUNCH_FAULTED"
	CodeInvalidState     = "INVALID_STATE"
	CodeTimeout          = "TIMEOUT"
)

// Error is a structured navigation error.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so callers can write
// errors.Is(err, naverr.New(naverr.CodeInvalidPath, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error that carries cause.
func Wrap(code string, cause error, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithDetails returns a copy of e carrying details.
func (e *Error) WithDetails(details interface{}) *Error {
	c := *e
	c.Details = details
	return &c
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code
	}
	return ""
}

// HasCode reports whether err's chain holds an *Error with code.
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}
