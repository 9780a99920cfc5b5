// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	stderrors "errors"

	"github.com/jllopis/mmopilot/pkg/errors"
)

// errInterrupted ends an operation whose cooldown wait was cut short by
// Stop or Reload. It is not an action failure.
var errInterrupted = stderrors.New("cooldown wait interrupted")

// IsFatal reports whether err must end the agent loop instead of being
// handed to the failure routes. Only typed faults explicitly marked as not
// recoverable qualify; plain errors are treated as transient.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var pe *errors.PilotError
	if !stderrors.As(err, &pe) {
		return false
	}
	return !pe.Recoverable
}

// NewNotFoundError reports an unknown character name.
func NewNotFoundError(name string) *errors.PilotError {
	return errors.New(errors.CodeNotFound, "character "+name+" not found", nil).
		WithContext("character", name).
		WithRecoverable(false)
}

// NewStoppedError reports a control request for a loop that already ended
// on a fatal fault.
func NewStoppedError(name string, cause error) *errors.PilotError {
	return errors.New(errors.CodeInternal, "agent "+name+" loop ended", cause).
		WithContext("character", name).
		WithRecoverable(false)
}
