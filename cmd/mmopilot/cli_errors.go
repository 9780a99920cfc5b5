// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/mmopilot/pkg/config"
	"github.com/jllopis/mmopilot/pkg/errors"
)

// CLIError wraps PilotError with a hint for the operator.
type CLIError struct {
	*errors.PilotError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(pe *errors.PilotError, hint string) *CLIError {
	return &CLIError{
		PilotError: pe,
		Hint:       hint,
	}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.PilotError == nil {
		return "unknown error"
	}
	msg := e.PilotError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error.
func (e *CLIError) Unwrap() error {
	return e.PilotError
}

// NewConfigError reports settings that could not be loaded.
func NewConfigError(err error, configPath string) *CLIError {
	pe := errors.New(errors.CodeInvalidInput, "settings error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your settings file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s; run 'mmopilot validate' to list every problem", configPath)
	}
	return NewCLIError(pe, hint)
}

// NewUnauthorizedError reports a missing or rejected API token.
func NewUnauthorizedError(reason string) *CLIError {
	pe := errors.New(errors.CodeUnauthorized, reason, nil).
		WithRecoverable(false)
	return NewCLIError(pe, fmt.Sprintf("set api.token in the settings file or export %sAPI_TOKEN", config.EnvPrefix))
}

// NewServerError reports a failed call to the game API.
func NewServerError(err error, operation string) *CLIError {
	pe := errors.New(errors.CodeInternal, operation+" failed", err).
		WithContext("operation", operation).
		WithRecoverable(true)
	return NewCLIError(pe, "the game API may be down; try again later")
}

// wrapStartupError picks the CLI error matching a failed startup step.
func wrapStartupError(err error, operation string) error {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) {
		return err
	}
	if errors.IsCode(err, errors.CodeUnauthorized) {
		return NewUnauthorizedError(err.Error())
	}
	return NewServerError(err, operation)
}

// printError writes err for the operator.
func printError(w io.Writer, err error) {
	var cliErr *CLIError
	if stderrors.As(err, &cliErr) && cliErr.PilotError != nil {
		fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(cliErr.Code), cliErr.PilotError.Error())
		if cliErr.Hint != "" {
			fmt.Fprintf(w, "  Hint: %s\n", cliErr.Hint)
		}
		return
	}
	fmt.Fprintf(w, "Error: %s\n", err.Error())
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeUnauthorized:
		return "Unauthorized"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeSyntaxFault:
		return "Syntax Fault"
	case errors.CodeRemoteActionFailure:
		return "Action Failed"
	case errors.CodeContextLost:
		return "Context Lost"
	default:
		return string(code)
	}
}
