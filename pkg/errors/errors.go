// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed fault taxonomy shared by the rule engine,
// the agent scheduler and the game client.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies mmopilot faults for logging, metrics and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeSyntaxFault indicates malformed condition or action text.
	CodeSyntaxFault ErrorCode = "SYNTAX_FAULT"

	// CodeTypeMismatch indicates a resolved value has an unexpected type.
	CodeTypeMismatch ErrorCode = "TYPE_MISMATCH"

	// CodeUnsupportedPath indicates an unknown or unimplemented state path.
	CodeUnsupportedPath ErrorCode = "UNSUPPORTED_PATH"

	// CodeRemoteActionFailure indicates the game API rejected an action.
	CodeRemoteActionFailure ErrorCode = "REMOTE_ACTION_FAILURE"

	// CodeQueueAbort indicates pending actions were discarded after a failure.
	CodeQueueAbort ErrorCode = "QUEUE_ABORT"

	// CodeContextLost indicates context was lost (e.g., cancelled while waiting).
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
)

// PilotError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type PilotError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool

	// Source and Offset locate a syntax fault inside condition or action text.
	Source string
	Offset int

	// ResultKind is the failure category reported by the game client and is
	// the key used for failure-route lookup.
	ResultKind string
}

// Error implements the error interface.
func (e *PilotError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Code == CodeSyntaxFault {
		msg = fmt.Sprintf("%s at offset %d: %q", msg, e.Offset, e.Source)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *PilotError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *PilotError) MarshalJSON() ([]byte, error) {
	var cause string
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		ResultKind  string                 `json:"result_kind,omitempty"`
		Source      string                 `json:"source,omitempty"`
		Offset      int                    `json:"offset,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		ResultKind:  e.ResultKind,
		Source:      e.Source,
		Offset:      e.Offset,
		Context:     e.Context,
	})
}

// New creates a new PilotError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *PilotError {
	return &PilotError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *PilotError) WithContext(key string, value interface{}) *PilotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *PilotError) WithRecoverable(recoverable bool) *PilotError {
	e.Recoverable = recoverable
	return e
}

// NewSyntaxFault reports malformed text at the given character offset.
func NewSyntaxFault(msg, source string, offset int) *PilotError {
	e := New(CodeSyntaxFault, msg, nil).WithRecoverable(true)
	e.Source = source
	e.Offset = offset
	return e
}

// NewTypeMismatch reports a token that resolved to the wrong value type.
func NewTypeMismatch(token, want, got string) *PilotError {
	return New(CodeTypeMismatch, fmt.Sprintf("invalid type %s for %s, expected %s", got, token, want), nil).
		WithContext("token", token).
		WithRecoverable(true)
}

// NewUnsupportedPath reports a state path the resolver cannot serve.
func NewUnsupportedPath(path, reason string) *PilotError {
	return New(CodeUnsupportedPath, reason, nil).
		WithContext("path", path).
		WithRecoverable(true)
}

// NewRemoteFailure reports an action the game API rejected, tagged with the
// result kind used to select a failure route.
func NewRemoteFailure(kind, msg string, cause error) *PilotError {
	e := New(CodeRemoteActionFailure, msg, cause).WithRecoverable(true)
	e.ResultKind = kind
	return e
}

// NewQueueAbort reports how many pending actions were dropped after a failure.
func NewQueueAbort(dropped int, cause error) *PilotError {
	return New(CodeQueueAbort, fmt.Sprintf("discarded %d pending actions", dropped), cause).
		WithContext("dropped", dropped).
		WithRecoverable(true)
}

// AsPilotError attempts to convert an error to a PilotError.
// Returns the error as PilotError if it is one, or wraps it otherwise.
func AsPilotError(err error) *PilotError {
	if err == nil {
		return nil
	}
	var pe *PilotError
	if stderrors.As(err, &pe) {
		return pe
	}
	// Wrap unknown error as internal
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var pe *PilotError
	if !stderrors.As(err, &pe) {
		return false
	}
	return pe.Code == code
}

// ResultKindOf returns the failure-route key for err. Remote failures use
// their reported kind; every other fault is keyed by its code.
func ResultKindOf(err error) string {
	if err == nil {
		return ""
	}
	var pe *PilotError
	if !stderrors.As(err, &pe) {
		return string(CodeInternal)
	}
	if pe.ResultKind != "" {
		return pe.ResultKind
	}
	return string(pe.Code)
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *PilotError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}
