// Package xerrors defines the error taxonomy shared by the matching core,
// the ledger, and the placement coordinator. It follows the same structured
// shape the rest of the exchange stack uses (code, message, cause,
// call-site), but narrows the code set to exactly the kinds the core
// distinguishes.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// Code is a taxonomy of error kinds, not identifiers. Every caller-facing
// error from the core carries exactly one of these.
type Code string

const (
	// NotFound: unknown UUID on cancel/amend.
	NotFound Code = "NOT_FOUND"
	// InsufficientFunds: reservation denied.
	InsufficientFunds Code = "INSUFFICIENT_FUNDS"
	// Unresponsive: engine state rejects the command, or the inbound
	// queue is closed.
	Unresponsive Code = "UNRESPONSIVE"
	// UnserializableInput: command cannot be safely appended to the log.
	UnserializableInput Code = "UNSERIALIZABLE_INPUT"
	// Storage: durable store failure.
	Storage Code = "STORAGE"
	// Internal: defensive invariant violation, fatal to the engine worker.
	Internal Code = "INTERNAL"
)

// CoreError is the structured error type returned by the core.
type CoreError struct {
	Code     Code
	Message  string
	Cause    error
	File     string
	Line     int
	Function string
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

func caller() (file string, line int, function string) {
	pc, file, line, ok := runtime.Caller(2)
	if !ok {
		return "", 0, ""
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = fn.Name()
	}
	return file, line, function
}

// New creates a CoreError with the given code and message.
func New(code Code, message string) *CoreError {
	file, line, fn := caller()
	return &CoreError{Code: code, Message: message, File: file, Line: line, Function: fn}
}

// Newf creates a CoreError with a formatted message.
func Newf(code Code, format string, args ...interface{}) *CoreError {
	file, line, fn := caller()
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...), File: file, Line: line, Function: fn}
}

// Wrap attaches a code and message to an existing error, preserving it as
// the cause.
func Wrap(err error, code Code, message string) *CoreError {
	if err == nil {
		return nil
	}
	file, line, fn := caller()
	return &CoreError{Code: code, Message: message, Cause: err, File: file, Line: line, Function: fn}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// GetCode extracts the code from an error, returning "" if err is not a
// CoreError.
func GetCode(err error) Code {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
