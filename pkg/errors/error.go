// Package errors provides structured error types for sendflow
package errors

import (
	"fmt"
)

// SendError carries a structured code alongside the human-readable message so
// chain stages and channel handlers can report failures the caller can act on.
type SendError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Channel string    `json:"channel,omitempty"`
	Target  string    `json:"target,omitempty"`
	Cause   error     `json:"-"`
}

// New creates a SendError with the given code and message
func New(code ErrorCode, format string, args ...interface{}) *SendError {
	return &SendError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a SendError that records cause for errors.Unwrap chains
func Wrap(code ErrorCode, cause error, format string, args ...interface{}) *SendError {
	return &SendError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface
func (e *SendError) Error() string {
	switch {
	case e.Channel != "" && e.Target != "":
		return fmt.Sprintf("%s: %s (channel: %s, target: %s)", e.Code, e.Message, e.Channel, e.Target)
	case e.Channel != "":
		return fmt.Sprintf("%s: %s (channel: %s)", e.Code, e.Message, e.Channel)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause error
func (e *SendError) Unwrap() error {
	return e.Cause
}

// Is matches on error code so errors.Is works against sentinel SendErrors
func (e *SendError) Is(target error) bool {
	if t, ok := target.(*SendError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithChannel sets the channel name
func (e *SendError) WithChannel(channel string) *SendError {
	e.Channel = channel
	return e
}

// WithTarget sets the offending target
func (e *SendError) WithTarget(target string) *SendError {
	e.Target = target
	return e
}

// CodeOf extracts the ErrorCode from err, or empty string for foreign errors
func CodeOf(err error) ErrorCode {
	if se, ok := err.(*SendError); ok {
		return se.Code
	}
	return ""
}
