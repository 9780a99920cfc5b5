// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
)

// WithTimeout runs fn with a deadline of d. When the deadline (and not the
// caller's context) ends the call, the error is a recoverable TIMEOUT fault
// reporting the ClientTimeout result kind. A zero d runs fn unbounded.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && (stderrors.Is(err, context.DeadlineExceeded) || tctx.Err() == context.DeadlineExceeded) {
		return TimeoutError(d, err)
	}
	return err
}

// TimeoutError builds the fault reported when a call exceeds d.
func TimeoutError(d time.Duration, cause error) *errors.PilotError {
	pe := errors.New(errors.CodeTimeout, "operation exceeded timeout", cause).
		WithContext("timeout", d.String()).
		WithRecoverable(true)
	pe.ResultKind = core.ResultClientTimeout
	return pe
}
