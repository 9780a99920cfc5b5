// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the per-character scheduler: it drains a queue
// of parsed action lines one at a time, waits out the game cooldown before
// every dispatch and asks the rule selector for more work when the queue
// empties or an action fails.
package agent

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/mmopilot/pkg/action"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/eval"
	"github.com/jllopis/mmopilot/pkg/planner"
	"github.com/jllopis/mmopilot/pkg/telemetry"
)

const (
	// CooldownMargin is added to the reported cooldown expiry before a
	// dispatch so the server clock never rejects the request.
	CooldownMargin = 50 * time.Millisecond

	// CancelledPoll is how often a stopped loop checks whether it was
	// started again.
	CancelledPoll = time.Second
)

// Agent drives one character.
type Agent struct {
	name     string
	client   core.ActionClient
	logger   *slog.Logger
	audit    planner.AuditStore
	metrics  *telemetry.AgentMetrics
	emitter  core.EventEmitter
	tracer   trace.Tracer
	sleep    planner.BackoffFunc
	margin   time.Duration
	poll     time.Duration
	maxWhile int

	resolver  *eval.Resolver
	evaluator *eval.Evaluator
	actions   *action.Interpreter
	phases    *phaseTracker

	mu          sync.Mutex
	selector    *planner.Selector
	queue       []planner.Step
	cancelled   bool
	generation  uint64
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
	failure     error
	lastErr     error
	fatal       error
	running     bool
}

// Option configures an Agent instance.
type Option func(*Agent) error

// WithLogger sets the logger. The agent adds its own "agent" attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) error {
		if logger != nil {
			a.logger = logger
		}
		return nil
	}
}

// WithAuditStore records the outcome of every dispatched action.
func WithAuditStore(store planner.AuditStore) Option {
	return func(a *Agent) error {
		a.audit = store
		return nil
	}
}

// WithMetrics attaches agent metrics.
func WithMetrics(m *telemetry.AgentMetrics) Option {
	return func(a *Agent) error {
		a.metrics = m
		return nil
	}
}

// WithEventEmitter attaches an emitter for lifecycle and action events.
func WithEventEmitter(emitter core.EventEmitter) Option {
	return func(a *Agent) error {
		if emitter != nil {
			a.emitter = emitter
		}
		return nil
	}
}

// WithBackoff replaces the fixed 5 second back-off, mainly for tests.
func WithBackoff(fn planner.BackoffFunc) Option {
	return func(a *Agent) error {
		if fn == nil {
			return fmt.Errorf("backoff func is nil")
		}
		a.sleep = fn
		return nil
	}
}

// WithCooldownMargin overrides the safety margin added to cooldowns.
func WithCooldownMargin(d time.Duration) Option {
	return func(a *Agent) error {
		if d < 0 {
			return fmt.Errorf("cooldown margin must not be negative")
		}
		a.margin = d
		return nil
	}
}

// WithCancelledPoll overrides how often a stopped loop checks for a restart.
func WithCancelledPoll(d time.Duration) Option {
	return func(a *Agent) error {
		if d <= 0 {
			return fmt.Errorf("poll interval must be positive")
		}
		a.poll = d
		return nil
	}
}

// WithMaxWhilePasses bounds consecutive passes of a while rule.
func WithMaxWhilePasses(n int) Option {
	return func(a *Agent) error {
		a.maxWhile = n
		return nil
	}
}

// New creates an agent for client driven by rules.
func New(client core.ActionClient, rules *planner.RuleSet, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("agent client is required")
	}
	a := &Agent{
		name:    client.Name(),
		client:  client,
		logger:  slog.Default(),
		emitter: core.NoopEventEmitter{},
		tracer:  otel.Tracer("mmopilot/agent"),
		sleep:   planner.Sleep(planner.BackoffDelay),
		margin:  CooldownMargin,
		poll:    CancelledPoll,
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	phases, err := newPhaseTracker()
	if err != nil {
		return nil, fmt.Errorf("build scheduler phases: %w", err)
	}
	a.phases = phases
	a.logger = a.logger.With(slog.String("agent", a.name))
	a.resolver = eval.NewResolver(client)
	a.evaluator = eval.NewEvaluator(a.resolver)
	a.actions = action.New(client,
		action.WithLogger(a.logger),
		action.WithResolver(a.resolver),
		action.WithWait(a.waitForCall),
	)
	selector, err := a.newSelector(rules)
	if err != nil {
		return nil, err
	}
	a.selector = selector
	return a, nil
}

func (a *Agent) newSelector(rules *planner.RuleSet) (*planner.Selector, error) {
	rules = rules.Clone()
	if err := rules.Validate(); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "invalid rules for "+a.name, err)
	}
	return planner.NewSelector(rules, a.evaluator, a.actions,
		planner.WithLogger(a.logger),
		planner.WithBackoff(a.backoff),
		planner.WithMaxWhilePasses(a.maxWhile),
	), nil
}

// Name returns the character name.
func (a *Agent) Name() string { return a.name }

// Client returns the game client of the character.
func (a *Agent) Client() core.ActionClient { return a.client }

// Evaluator returns the condition evaluator bound to the character state.
func (a *Agent) Evaluator() *eval.Evaluator { return a.evaluator }

// Phase returns the current scheduler phase.
func (a *Agent) Phase() Phase { return a.phases.current() }

// Rules returns the rule set currently in use.
func (a *Agent) Rules() *planner.RuleSet {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selector.Rules()
}

// Status is a point-in-time view of the loop.
type Status struct {
	Name       string          `json:"name"`
	Phase      Phase           `json:"phase"`
	Running    bool            `json:"running"`
	Queued     []string        `json:"queued"`
	ActiveRule string          `json:"active_rule,omitempty"`
	LastError  string          `json:"last_error,omitempty"`
	Fatal      string          `json:"fatal,omitempty"`
	Dispatched int             `json:"dispatched"`
	Failed     int             `json:"failed"`
	State      core.AgentState `json:"state"`
}

// Status returns a snapshot of the loop and the character.
func (a *Agent) Status() Status {
	a.mu.Lock()
	st := Status{
		Name:    a.name,
		Running: a.running && !a.cancelled,
		Queued:  make([]string, len(a.queue)),
	}
	for i, step := range a.queue {
		st.Queued[i] = step.Line
	}
	if a.lastErr != nil {
		st.LastError = a.lastErr.Error()
	}
	if a.fatal != nil {
		st.Fatal = a.fatal.Error()
	}
	selector := a.selector
	a.mu.Unlock()

	st.ActiveRule, _ = selector.Active()
	st.Phase = a.phases.current()
	counts := a.phases.counts()
	st.Dispatched, st.Failed = counts.Dispatched, counts.Failed
	st.State = a.client.State()
	return st
}

// Stop cancels the loop cooperatively: the queue is cleared, pending waits
// are interrupted and no further action is dequeued. An action already in
// flight completes.
func (a *Agent) Stop() {
	a.mu.Lock()
	already := a.cancelled
	a.cancelled = true
	a.generation++
	a.queue = nil
	a.failure = nil
	if a.cycleCancel != nil {
		a.cycleCancel()
	}
	a.mu.Unlock()

	a.phases.send(evStop)
	if !already {
		a.logger.Info("Stopped")
		a.emit(context.Background(), core.EventAgentStopped, nil)
	}
}

// Start resumes a stopped loop from Idle.
func (a *Agent) Start() {
	a.mu.Lock()
	was := a.cancelled
	a.cancelled = false
	a.mu.Unlock()

	a.phases.send(evStart)
	if was {
		a.logger.Info("Started")
		a.emit(context.Background(), core.EventAgentStarted, nil)
	}
}

// Reload swaps the rule set: the loop is stopped, the queue cleared, the
// new rules installed and the loop restarted from Idle. The character
// state is untouched. Invalid rules leave the running loop alone.
func (a *Agent) Reload(rules *planner.RuleSet) error {
	selector, err := a.newSelector(rules)
	if err != nil {
		return err
	}
	a.Stop()
	a.mu.Lock()
	a.selector = selector
	a.mu.Unlock()
	a.logger.Info("Reloaded character")
	a.emit(context.Background(), core.EventAgentReloaded, map[string]any{"rules": len(selector.Rules().Rules)})
	a.Start()
	return nil
}

// Err returns the fatal error that ended the loop, if any.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// Run drives the loop until ctx is done or a fatal fault occurs. Only
// non-recoverable faults (for example a rejected API token) are returned.
func (a *Agent) Run(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("agent %s is already running", a.name)
	}
	a.running = true
	a.fatal = nil
	a.mu.Unlock()

	ctx = core.WithAgent(ctx, a.name)
	a.logger.InfoContext(ctx, "agent.loop.start")
	a.emit(ctx, core.EventAgentStarted, nil)
	defer func() {
		a.mu.Lock()
		a.running = false
		if a.cycleCancel != nil {
			a.cycleCancel()
			a.cycleCtx, a.cycleCancel = nil, nil
		}
		a.mu.Unlock()
		a.logger.InfoContext(ctx, "agent.loop.stop")
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if a.isCancelled() {
			planner.Sleep(a.poll)(ctx, "")
			continue
		}

		cycle, gen := a.cycle(ctx)
		step, ok := a.dequeue(gen)
		if !ok {
			a.decide(ctx, cycle, gen)
			continue
		}

		if err := a.execute(ctx, cycle, gen, step); err != nil {
			if IsFatal(err) {
				a.setFatal(err)
				a.phases.send(evFail)
				a.logger.ErrorContext(ctx, fmt.Sprintf("Stopping: %v", err), slog.String("code", string(errors.AsPilotError(err).Code)))
				a.emit(ctx, core.EventAgentError, map[string]any{"error": err.Error()})
				return err
			}
		}
	}
}

// decide asks the selector for the next batch and enqueues it unless the
// loop was stopped or reloaded meanwhile.
func (a *Agent) decide(ctx, cycle context.Context, gen uint64) {
	a.phases.send(evSelect)

	a.mu.Lock()
	failure := a.failure
	a.failure = nil
	selector := a.selector
	a.mu.Unlock()

	runCtx, _ := core.EnsureRunID(cycle)
	d := selector.Select(runCtx, failure)
	if cycle.Err() != nil {
		return
	}
	if d.Empty() {
		if !d.Ended {
			a.backoff(cycle, planner.ReasonIdle)
		}
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen || a.cancelled {
		return
	}
	a.queue = append(a.queue, d.Steps...)
	a.logger.DebugContext(ctx, "agent.queue.fill",
		slog.String("rule", d.Rule),
		slog.String("route", d.Route),
		slog.Int("steps", len(d.Steps)),
	)
}

// execute waits for the cooldown, runs step and records its outcome. A
// failed step aborts the rest of the queue and is handed to the selector.
func (a *Agent) execute(ctx, cycle context.Context, gen uint64, step planner.Step) error {
	if !a.waitCooldown(cycle) {
		return nil
	}

	a.phases.send(evDispatch)
	runCtx, runID := core.EnsureRunID(ctx)
	spanAttrs := append(telemetry.AgentAttributes(a.name, runID), telemetry.ActionAttributes(step.Rule, step.Verb, step.Line)...)
	actionCtx, span := a.tracer.Start(runCtx, "Agent.Action", trace.WithAttributes(spanAttrs...))
	a.logger.DebugContext(actionCtx, "agent.action.start", slog.String("line", step.Line))
	a.emit(actionCtx, core.EventActionStarted, map[string]any{"line": step.Line})

	started := time.Now()
	err := step.Op(actionCtx)
	finished := time.Now()
	elapsed := float64(finished.Sub(started).Microseconds()) / 1000

	event := planner.AuditEvent{
		Agent:      a.name,
		RunID:      runID,
		Rule:       step.Rule,
		Line:       step.Line,
		Verb:       step.Verb,
		Status:     planner.AuditCompleted,
		StartedAt:  started,
		FinishedAt: finished,
	}

	if err == nil {
		span.SetAttributes(telemetry.OutcomeAttributes(planner.AuditCompleted, "", elapsed)...)
		span.End()
		a.phases.send(evSucceed)
		a.metrics.RecordAction(actionCtx, a.name, step.Verb, planner.AuditCompleted, elapsed)
		a.record(actionCtx, event)
		a.emit(actionCtx, core.EventActionCompleted, map[string]any{"line": step.Line})
		return nil
	}

	if stderrors.Is(err, errInterrupted) || (ctx.Err() != nil && stderrors.Is(err, ctx.Err())) {
		span.End()
		return nil
	}

	kind := errors.ResultKindOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	span.SetAttributes(telemetry.OutcomeAttributes(planner.AuditFailed, kind, elapsed)...)
	span.End()

	a.phases.send(evFail)
	a.metrics.RecordAction(actionCtx, a.name, step.Verb, planner.AuditFailed, elapsed)
	a.metrics.RecordFault(actionCtx, a.name, err)
	event.Status = planner.AuditFailed
	event.ResultKind = kind
	event.Error = err.Error()
	a.record(actionCtx, event)
	a.emit(actionCtx, core.EventActionFailed, map[string]any{"line": step.Line, "result_kind": kind, "error": err.Error()})
	a.logger.WarnContext(actionCtx, fmt.Sprintf("Action %q failed: %v", step.Line, err), slog.String("result_kind", kind))

	dropped := a.abort(gen, err)
	if dropped > 0 {
		abort := errors.NewQueueAbort(dropped, err)
		a.metrics.RecordFault(actionCtx, a.name, abort)
		a.logger.InfoContext(actionCtx, fmt.Sprintf("Discarded %d queued actions", dropped), slog.String("code", string(errors.CodeQueueAbort)))
		a.emit(actionCtx, core.EventQueueAborted, map[string]any{"dropped": dropped, "result_kind": kind})
	}
	return err
}

// waitCooldown blocks until the cooldown expiry plus the margin. It reports
// false when the wait was interrupted by Stop or shutdown.
func (a *Agent) waitCooldown(ctx context.Context) bool {
	until := a.client.State().CooldownExpiration
	if until.IsZero() {
		return ctx.Err() == nil
	}
	wait := time.Until(until.Add(a.margin))
	if wait <= 0 {
		return ctx.Err() == nil
	}
	a.logger.DebugContext(ctx, "agent.cooldown.wait", slog.Duration("wait", wait))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitForCall runs before each remote call an operation makes, so the
// calls of a foreach loop are spaced by the cooldown too. Stop interrupts
// the wait.
func (a *Agent) waitForCall(ctx context.Context) error {
	a.mu.Lock()
	cycle := a.cycleCtx
	a.mu.Unlock()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cycle != nil {
		stop := context.AfterFunc(cycle, cancel)
		defer stop()
	}
	if !a.waitCooldown(waitCtx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errInterrupted
	}
	return nil
}

func (a *Agent) backoff(ctx context.Context, reason string) {
	a.metrics.RecordBackoff(ctx, a.name, reason)
	a.sleep(ctx, reason)
}

func (a *Agent) cycle(parent context.Context) (context.Context, uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cycleCtx == nil || a.cycleCtx.Err() != nil {
		a.cycleCtx, a.cycleCancel = context.WithCancel(parent)
	}
	return a.cycleCtx, a.generation
}

func (a *Agent) dequeue(gen uint64) (planner.Step, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen || len(a.queue) == 0 {
		return planner.Step{}, false
	}
	step := a.queue[0]
	a.queue = a.queue[1:]
	return step, true
}

// abort drops the pending queue and stores err for the next selection.
func (a *Agent) abort(gen uint64, err error) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastErr = err
	if a.generation != gen || a.cancelled {
		return 0
	}
	dropped := len(a.queue)
	a.queue = nil
	a.failure = err
	return dropped
}

func (a *Agent) isCancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

func (a *Agent) setFatal(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fatal = err
	a.lastErr = err
	a.queue = nil
}

func (a *Agent) record(ctx context.Context, event planner.AuditEvent) {
	if a.audit == nil {
		return
	}
	if err := a.audit.Record(ctx, event); err != nil {
		a.logger.DebugContext(ctx, "agent.audit.error", slog.String("error", err.Error()))
	}
}

func (a *Agent) emit(ctx context.Context, eventType core.EventType, payload map[string]any) {
	runID, _ := core.RunID(ctx)
	a.emitter.Emit(ctx, core.NewEvent(eventType, a.name, runID, payload))
}
