// Package toolerr defines the structured error vocabulary actions return
// to the model. Every failure becomes a typed, JSON-encodable result so
// the model can explain it or recover, never a crash.
package toolerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code identifies a failure class.
type Code string

const (
	// CodeNotConnected means the user has not linked the integration.
	CodeNotConnected Code = "not_connected"
	// CodeTokenRejected means the upstream refused our credential.
	CodeTokenRejected Code = "token_rejected"
	// CodeValidation means the action arguments were malformed.
	CodeValidation Code = "validation_error"
	// CodeUpstream means the upstream service failed.
	CodeUpstream Code = "upstream_error"
	// CodeSecurityDenied means the confirmation policy refused the action.
	CodeSecurityDenied Code = "security_denied"
	// CodeLockedOut means confirmations are locked after repeated failures.
	CodeLockedOut Code = "locked_out"
	// CodeUnknownAction means the model requested an action that does not exist.
	CodeUnknownAction Code = "unknown_action"
)

// Error is a structured action failure.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	// Provider names the integration involved, when one is.
	Provider string `json:"provider,omitempty"`
	// Cause is the underlying error; never serialized.
	Cause error `json:"-"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error keeping the underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithProvider tags the error with the integration it came from.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// As extracts an *Error from an error chain.
func As(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// envelope is the wire shape of every action result.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// ResultJSON encodes a successful action payload.
func ResultJSON(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("toolerr: encode result: %w", err)
	}
	out, err := json.Marshal(envelope{Success: true, Data: raw})
	if err != nil {
		return "", fmt.Errorf("toolerr: encode envelope: %w", err)
	}
	return string(out), nil
}

// ErrorJSON encodes err as a failed action result. Errors outside the
// taxonomy are reported as upstream failures with a generic message so
// internal details never reach the model.
func ErrorJSON(err error) string {
	te, ok := As(err)
	if !ok {
		te = &Error{Code: CodeUpstream, Message: "the request could not be completed"}
	}
	out, marshalErr := json.Marshal(envelope{Success: false, Error: te})
	if marshalErr != nil {
		return `{"success":false,"error":{"code":"upstream_error","message":"the request could not be completed"}}`
	}
	return string(out)
}
