// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/resilience"
)

// Request is one call to the game API.
type Request struct {
	Method string
	Path   string
	Header http.Header
	// Body is JSON encoded by the terminal doer when not nil.
	Body any
	// Character names the character the call acts for; empty for account
	// level calls.
	Character string
}

// Response is the raw answer of the game API.
type Response struct {
	Status int
	Body   []byte
}

// Doer performs a request.
type Doer func(ctx context.Context, req *Request) (*Response, error)

// Middleware wraps a Doer.
type Middleware func(next Doer) Doer

// Chain composes middlewares around terminal. The first middleware is the
// outermost one.
func Chain(terminal Doer, mws ...Middleware) Doer {
	d := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// BearerAuth sets the Authorization header.
func BearerAuth(token string) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, req *Request) (*Response, error) {
			if req.Header == nil {
				req.Header = make(http.Header)
			}
			req.Header.Set("Authorization", "Bearer "+token)
			return next(ctx, req)
		}
	}
}

// Logging logs every request at debug level.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Doer) Doer {
		return func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			attrs := []any{
				slog.String("method", req.Method),
				slog.String("path", req.Path),
				slog.Duration("duration", time.Since(start)),
			}
			if req.Character != "" {
				attrs = append(attrs, slog.String("character", req.Character))
			}
			if resp != nil {
				attrs = append(attrs, slog.Int("status", resp.Status))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.DebugContext(ctx, "artifacts.request.error", attrs...)
				return resp, err
			}
			logger.DebugContext(ctx, "artifacts.request", attrs...)
			return resp, nil
		}
	}
}

// RateLimitConfig configures the client side token bucket.
type RateLimitConfig struct {
	// Limiter overrides the limiter built from Rate and Burst.
	Limiter ratelimit.RateLimiter
	// Rate is the number of requests allowed per second.
	Rate int
	// Burst is the bucket capacity.
	Burst int
}

// RateLimit rejects requests above the configured rate, keyed by character,
// with an ArtifactsCooldown failure so the rule set can route it like a
// server side cooldown.
func RateLimit(cfg RateLimitConfig) Middleware {
	limiter := cfg.Limiter
	if limiter == nil {
		rate := cfg.Rate
		if rate <= 0 {
			rate = 10
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = rate
		}
		limiter = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    burst,
			FailOpen: true,
		})
	}
	return func(next Doer) Doer {
		return func(ctx context.Context, req *Request) (*Response, error) {
			key := req.Character
			if key == "" {
				key = "account"
			}
			if !limiter.Allow(ctx, key) {
				return nil, errors.NewRemoteFailure(core.ResultCooldown, "local rate limit exceeded", nil).
					WithContext("character", key)
			}
			return next(ctx, req)
		}
	}
}

// serverError marks 5xx answers so the breaker counts them as failures.
type serverError struct{ status int }

func (e serverError) Error() string { return fmt.Sprintf("server error %d", e.status) }

// Breaker stops calling the API while cb is open. Transport errors,
// timeouts and 5xx answers count as failures; game rule rejections do not.
func Breaker(cb *resilience.CircuitBreaker) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, req *Request) (*Response, error) {
			var resp *Response
			err := cb.Call(ctx, func(ctx context.Context) error {
				var err error
				resp, err = next(ctx, req)
				if err == nil && resp != nil && resp.Status >= http.StatusInternalServerError {
					return serverError{status: resp.Status}
				}
				return err
			})
			if _, ok := err.(serverError); ok {
				return resp, nil
			}
			return resp, err
		}
	}
}

// TripsBreaker reports whether err means the API is unreachable.
func TripsBreaker(err error) bool {
	if _, ok := err.(serverError); ok {
		return true
	}
	switch errors.ResultKindOf(err) {
	case core.ResultConnectionRefused, core.ResultClientTimeout:
		return true
	}
	return false
}

// Timeout bounds every request to d.
func Timeout(d time.Duration) Middleware {
	return func(next Doer) Doer {
		return func(ctx context.Context, req *Request) (*Response, error) {
			var resp *Response
			err := resilience.WithTimeout(ctx, d, func(ctx context.Context) error {
				var err error
				resp, err = next(ctx, req)
				return err
			})
			return resp, err
		}
	}
}
