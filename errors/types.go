// Package errors defines the coded errors wayshell returns across package
// and process boundaries. Codes travel over the state API unchanged.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies a ShellError.
type ErrorCode string

// Config file problems.
const (
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// Compositor IPC failures. Transport and Protocol trigger a reconnect.
const (
	ErrCodeTransport          ErrorCode = "TRANSPORT"
	ErrCodeProtocol           ErrorCode = "PROTOCOL"
	ErrCodeNoBackend          ErrorCode = "NO_BACKEND"
	ErrCodeCommandUnsupported ErrorCode = "COMMAND_UNSUPPORTED"
	ErrCodeCommandFailed      ErrorCode = "COMMAND_FAILED"
)

// Instance coordination.
const (
	ErrCodeLockHeld     ErrorCode = "LOCK_HELD"
	ErrCodeLockRecovery ErrorCode = "LOCK_RECOVERY"
)

// Service registry lookups and dispatch.
const (
	ErrCodeUnknownService ErrorCode = "UNKNOWN_SERVICE"
	ErrCodeUnknownField   ErrorCode = "UNKNOWN_FIELD"
	ErrCodeInvalidCommand ErrorCode = "INVALID_COMMAND"
)

const (
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
)

// ShellError carries a code, a message and optional details. Cause is kept
// for errors.Unwrap but not serialized.
type ShellError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

func (e *ShellError) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Cause == nil {
		return msg
	}
	return fmt.Sprintf("%s (caused by: %v)", msg, e.Cause)
}

func (e *ShellError) Unwrap() error { return e.Cause }

// WithDetail sets a detail and returns e for chaining.
func (e *ShellError) WithDetail(key string, value interface{}) *ShellError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// ToJSON returns the indented wire form of e.
func (e *ShellError) ToJSON() string {
	out, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"code":%q,"message":%q}`, e.Code, e.Message)
	}
	return string(out)
}

func New(code ErrorCode, message string) *ShellError {
	return &ShellError{Code: code, Message: message}
}

// Wrap attaches code and message to err.
func Wrap(err error, code ErrorCode, message string) *ShellError {
	return &ShellError{Code: code, Message: message, Cause: err}
}

// Is reports whether any ShellError in err's chain has code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var se *ShellError
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Code == code {
			return true
		}
		err = se.Cause
	}
	return false
}

// GetCode returns the code of the outermost ShellError in err's chain, or
// "" when there is none.
func GetCode(err error) ErrorCode {
	var se *ShellError
	if stderrors.As(err, &se) {
		return se.Code
	}
	return ""
}
