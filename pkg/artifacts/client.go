// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifacts is the HTTP client of the Artifacts MMO game API. Calls
// go through a middleware chain (auth, logging, rate limit, circuit breaker,
// timeout) and failures are reported as remote faults carrying the result
// kind the rule sets route on.
package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/resilience"
	"github.com/jllopis/mmopilot/pkg/telemetry"
)

// DefaultBaseURL is the public game API.
const DefaultBaseURL = "https://api.artifactsmmo.com"

// Game specific status codes.
const (
	StatusInventoryFull = 497
	StatusCooldown      = 499
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
	// RateLimit is the number of requests per second allowed per character.
	RateLimit int
	Burst     int
	Breaker   resilience.CircuitBreakerConfig
	Retry     resilience.RetryConfig
}

// Client talks to the game API.
type Client struct {
	baseURL string
	http    *http.Client
	do      Doer
	logger  *slog.Logger
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	metrics *telemetry.AgentMetrics
	extra   []Middleware
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics reports circuit breaker transitions.
func WithMetrics(m *telemetry.AgentMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithMiddleware appends middlewares inside the built-in chain, closest to
// the transport.
func WithMiddleware(mws ...Middleware) ClientOption {
	return func(c *Client) { c.extra = append(c.extra, mws...) }
}

// NewClient builds a client. A missing token is an UNAUTHORIZED fault.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New(errors.CodeUnauthorized, "api token is not set", nil).WithRecoverable(false)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{},
		logger:  slog.Default(),
		retry:   cfg.Retry,
	}
	for _, opt := range opts {
		opt(c)
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "artifacts"
	}
	if breakerCfg.Trips == nil {
		breakerCfg.Trips = TripsBreaker
	}
	onChange := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitBreakerState) {
		c.logger.Warn(fmt.Sprintf("Circuit breaker %s: %s -> %s", name, from, to))
		c.metrics.RecordCircuitBreakerState(context.Background(), name, to.Gauge())
		if onChange != nil {
			onChange(name, from, to)
		}
	}
	c.breaker = resilience.NewCircuitBreaker(breakerCfg)

	mws := []Middleware{
		Logging(c.logger),
		RateLimit(RateLimitConfig{Rate: cfg.RateLimit, Burst: cfg.Burst}),
		Breaker(c.breaker),
		Timeout(cfg.Timeout),
		BearerAuth(cfg.Token),
	}
	c.do = Chain(c.transport, append(mws, c.extra...)...)
	return c, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// transport is the terminal doer.
func (c *Client) transport(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		buf, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "encode request body", err)
		}
		body = bytes.NewReader(buf)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "build request", err)
	}
	for k, v := range req.Header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewRemoteFailure(core.ResultConnectionRefused, "game API unreachable", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewRemoteFailure(core.ResultConnectionRefused, "read response", err)
	}
	return &Response{Status: resp.StatusCode, Body: data}, nil
}

// GetCharacters lists the characters of the account. Transient faults are
// retried.
func (c *Client) GetCharacters(ctx context.Context) ([]CharacterData, error) {
	return resilience.DoWithResult(ctx, c.retry.WithOnRetry(func(attempt int, err error) {
		c.logger.WarnContext(ctx, fmt.Sprintf("Failed to get player characters, retrying: %v", err), slog.Int("attempt", attempt))
	}), func(ctx context.Context) ([]CharacterData, error) {
		var out envelope[[]CharacterData]
		if err := c.call(ctx, http.MethodGet, "/my/characters", "", nil, "characters", &out); err != nil {
			return nil, err
		}
		return out.Data, nil
	})
}

// Move moves name to x,y.
func (c *Client) Move(ctx context.Context, name string, x, y int) (*MoveResponseData, error) {
	var out envelope[MoveResponseData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "move"), name, map[string]int{"x": x, "y": y}, core.ResultMove, &out)
	return &out.Data, err
}

// Fight attacks the monster on the current tile.
func (c *Client) Fight(ctx context.Context, name string) (*FightData, error) {
	var out envelope[FightData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "fight"), name, nil, core.ResultFight, &out)
	return &out.Data, err
}

// Gather harvests the resource on the current tile.
func (c *Client) Gather(ctx context.Context, name string) (*GatherData, error) {
	var out envelope[GatherData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "gathering"), name, nil, core.ResultGather, &out)
	return &out.Data, err
}

// Rest recovers hit points.
func (c *Client) Rest(ctx context.Context, name string) (*RestData, error) {
	var out envelope[RestData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "rest"), name, nil, core.ResultRest, &out)
	return &out.Data, err
}

// Deposit moves quantity of code into the bank.
func (c *Client) Deposit(ctx context.Context, name, code string, quantity int) (*BankItemData, error) {
	var out envelope[BankItemData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "bank/deposit"), name, itemBody(code, quantity), core.ResultDeposit, &out)
	return &out.Data, err
}

// Withdraw takes quantity of code out of the bank.
func (c *Client) Withdraw(ctx context.Context, name, code string, quantity int) (*BankItemData, error) {
	var out envelope[BankItemData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "bank/withdraw"), name, itemBody(code, quantity), core.ResultWithdraw, &out)
	return &out.Data, err
}

// Craft crafts quantity of code.
func (c *Client) Craft(ctx context.Context, name, code string, quantity int) (*CraftItemData, error) {
	var out envelope[CraftItemData]
	err := c.call(ctx, http.MethodPost, actionPath(name, "crafting"), name, itemBody(code, quantity), core.ResultCraft, &out)
	return &out.Data, err
}

func actionPath(name, action string) string {
	return "/my/" + name + "/action/" + action
}

func itemBody(code string, quantity int) map[string]any {
	return map[string]any{"code": code, "quantity": quantity}
}

// call sends the request and decodes a 2xx answer into out. Other answers
// are mapped to faults; kind is the result kind of a generic rejection.
func (c *Client) call(ctx context.Context, method, path, character string, body any, kind string, out any) error {
	resp, err := c.do(ctx, &Request{Method: method, Path: path, Body: body, Character: character})
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return statusError(kind, resp)
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return errors.NewRemoteFailure(kind, "failed to deserialize response", err)
	}
	return nil
}

// statusError maps a rejected answer to a fault.
func statusError(kind string, resp *Response) error {
	msg := fmt.Sprintf("response code %d", resp.Status)
	var body apiError
	if json.Unmarshal(resp.Body, &body) == nil && body.Error.Message != "" {
		msg = fmt.Sprintf("%s (%d)", body.Error.Message, resp.Status)
	}

	var pe *errors.PilotError
	switch resp.Status {
	case StatusInventoryFull:
		pe = errors.NewRemoteFailure(core.ResultInventoryFull, "inventory is full", nil)
	case StatusCooldown:
		pe = errors.NewRemoteFailure(core.ResultCooldown, "character in cooldown", nil)
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.New(errors.CodeUnauthorized, msg, nil).
			WithContext("status", resp.Status).
			WithRecoverable(false)
	default:
		pe = errors.NewRemoteFailure(kind, msg, nil)
	}
	return pe.WithContext("status", resp.Status)
}

// IsStatus reports whether err was produced by an answer with status.
func IsStatus(err error, status int) bool {
	var pe *errors.PilotError
	if !stderrors.As(err, &pe) {
		return false
	}
	got, ok := pe.Context["status"].(int)
	return ok && got == status
}
