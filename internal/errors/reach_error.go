// Package errors is the ambient error type for plumbing failures: config
// loading, file I/O, process wiring. Core decisions (verify/kernel
// results) never use this type — they are reason-code values per the
// trust algebra. ReachError wraps only the outer boundary: a CAS root
// that can't be opened, a manifest file that can't be read.
package errors

import (
	"encoding/json"
	"fmt"
)

// ReachError is the canonical error value for outer-boundary failures.
type ReachError struct {
	Code          Code              `json:"code"`
	Message       string            `json:"message"`
	Deterministic bool              `json:"deterministic"`
	Retryable     bool              `json:"retryable"`
	Cause         error             `json:"-"`
	Context       map[string]string `json:"context,omitempty"`
}

func (e *ReachError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ReachError) Unwrap() error { return e.Cause }

func (e *ReachError) WithCause(cause error) *ReachError {
	e.Cause = cause
	return e
}

func (e *ReachError) WithContext(key, value string) *ReachError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[SanitizeContextKey(key)] = Redact(value)
	return e
}

func (e *ReachError) SetRetryable(retryable bool) *ReachError {
	e.Retryable = retryable
	return e
}

// SafeError renders a string with no internal details, suitable for logs.
func (e *ReachError) SafeError() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ReachError) MarshalJSON() ([]byte, error) {
	type safeErr struct {
		Code          string            `json:"code"`
		Category      string            `json:"category"`
		Message       string            `json:"message"`
		Deterministic bool              `json:"deterministic"`
		Retryable     bool              `json:"retryable"`
		Context       map[string]string `json:"context,omitempty"`
	}
	return json.Marshal(safeErr{
		Code:          string(e.Code),
		Category:      e.Code.Category(),
		Message:       e.Message,
		Deterministic: e.Deterministic,
		Retryable:     e.Retryable,
		Context:       e.Context,
	})
}

// New creates a ReachError with the given code and message.
func New(code Code, message string) *ReachError {
	return &ReachError{Code: code, Message: message, Retryable: code.IsRetryable()}
}

// Newf creates a ReachError with a formatted message.
func Newf(code Code, format string, args ...any) *ReachError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err as a ReachError, returning it unchanged if it already is one.
func Wrap(err error, code Code, message string) *ReachError {
	if err == nil {
		return nil
	}
	if re, ok := err.(*ReachError); ok {
		return re
	}
	return New(code, message).WithCause(err)
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *ReachError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// GetCode extracts the code from err, or CodeUnknown.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	if re, ok := err.(*ReachError); ok {
		return re.Code
	}
	return CodeUnknown
}
