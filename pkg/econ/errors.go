// Package econ holds the domain error taxonomy and request-freshness rules
// shared by every engine.
package econ

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error kind. Codes are part of the API
// contract; messages are not.
type Code string

const (
	CodeValidation          Code = "validation_error"
	CodeNotFound            Code = "not_found"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeSlippageExceeded    Code = "slippage_exceeded"
	CodeHighContention      Code = "high_contention"
	CodeChainLinkage        Code = "chain_linkage_error"
	CodeSignatureInvalid    Code = "signature_invalid"
	CodeAlreadyWithdrawn    Code = "already_withdrawn"
	CodeInternal            Code = "internal_error"
)

// Error carries a Code plus a human message. Internal store errors are
// wrapped, never surfaced verbatim to clients.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// E builds a coded error.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a coded error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the code from an error chain, defaulting to CodeInternal
// for unclassified failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
