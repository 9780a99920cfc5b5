// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package planner holds a character's rule configuration and the selector
// that turns it into the next batch of queued actions.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/mmopilot/pkg/action"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/eval"
)

// BackoffDelay is the fixed pause applied after an unusable line, a failed
// condition or an unhandled failure.
const BackoffDelay = 5 * time.Second

// DefaultMaxWhilePasses bounds how many consecutive passes a while rule may
// run before the selector gives up on it.
const DefaultMaxWhilePasses = 1000

// Back-off reasons passed to the BackoffFunc.
const (
	ReasonInvalidAction    = "invalid_action"
	ReasonConditionFault   = "condition_fault"
	ReasonUnhandledFailure = "unhandled_failure"
	ReasonIdle             = "idle"
)

// BackoffFunc pauses the calling loop. Implementations must return early
// when ctx is done.
type BackoffFunc func(ctx context.Context, reason string)

// Sleep returns a BackoffFunc waiting d on a timer.
func Sleep(d time.Duration) BackoffFunc {
	return func(ctx context.Context, _ string) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
}

// Step is one queued action line with its parsed operation.
type Step struct {
	Rule string
	Line string
	Verb string
	Op   action.Operation
}

// Decision is the outcome of one selection cycle.
type Decision struct {
	Steps []Step
	// Rule is the last rule whose lines were enqueued.
	Rule string
	// Route is the result kind whose failure route was enqueued.
	Route string
	// Ended reports that a while rule without cascade just finished; the
	// empty batch is intentional and later rules were not evaluated.
	Ended bool
}

// Empty reports whether the decision enqueued nothing.
func (d Decision) Empty() bool { return len(d.Steps) == 0 }

// Selector evaluates one character's rule set. It is used by a single agent
// loop; Active may be read concurrently.
type Selector struct {
	rules     *RuleSet
	evaluator *eval.Evaluator
	actions   *action.Interpreter
	logger    *slog.Logger
	backoff   BackoffFunc
	maxPasses int
	tracer    trace.Tracer

	mu     sync.Mutex
	active int
	passes int
	// spent holds while rules stopped by the pass guard. They are skipped
	// until their condition has been false once.
	spent map[int]bool
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithLogger sets the logger used for decisions and faults.
func WithLogger(logger *slog.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithBackoff replaces the default 5 second sleep.
func WithBackoff(fn BackoffFunc) SelectorOption {
	return func(s *Selector) {
		if fn != nil {
			s.backoff = fn
		}
	}
}

// WithMaxWhilePasses sets the while pass guard. Values below 1 keep the default.
func WithMaxWhilePasses(n int) SelectorOption {
	return func(s *Selector) {
		if n > 0 {
			s.maxPasses = n
		}
	}
}

// NewSelector creates a selector for rules. Conditions are evaluated with
// evaluator and action lines parsed with actions.
func NewSelector(rules *RuleSet, evaluator *eval.Evaluator, actions *action.Interpreter, opts ...SelectorOption) *Selector {
	if rules == nil {
		rules = &RuleSet{}
	}
	s := &Selector{
		rules:     rules,
		evaluator: evaluator,
		actions:   actions,
		logger:    slog.Default(),
		backoff:   Sleep(BackoffDelay),
		maxPasses: DefaultMaxWhilePasses,
		tracer:    otel.Tracer("mmopilot/planner"),
		active:    -1,
		spent:     make(map[int]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules returns the rule set driving the selector.
func (s *Selector) Rules() *RuleSet {
	return s.rules
}

// Active returns the name of the while rule currently looping, if any.
func (s *Selector) Active() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active < 0 {
		return "", false
	}
	return s.rules.Rules[s.active].Name, true
}

// Reset forgets any active while rule.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active, s.passes = -1, 0
}

// Select decides the next batch of action lines. failure is the error of
// the action that just failed, or nil when the queue simply drained.
//
// A failure first enqueues its failure route (or backs off when there is
// none) and then falls through to the rule scan. A while rule that matched
// in an earlier cycle is re-evaluated before any other rule.
func (s *Selector) Select(ctx context.Context, failure error) Decision {
	attrs := []attribute.KeyValue{attribute.Bool("failure", failure != nil)}
	if name, ok := core.AgentFromContext(ctx); ok {
		attrs = append(attrs, attribute.String("agent.name", name))
	}
	ctx, span := s.tracer.Start(ctx, "Planner.Select", trace.WithAttributes(attrs...))
	defer span.End()

	var d Decision
	if failure != nil {
		s.Reset()
		kind := errors.ResultKindOf(failure)
		if route, ok := s.rules.Route(kind); ok {
			s.logger.InfoContext(ctx, fmt.Sprintf("Running recovery actions for %s", kind), slog.String("result_kind", kind))
			d.Route = kind
			d.Steps = append(d.Steps, s.enqueue(ctx, "on_failure."+kind, route.Do)...)
		} else {
			s.logger.WarnContext(ctx, fmt.Sprintf("No recovery actions for %s", kind), slog.String("result_kind", kind))
			s.pause(ctx, ReasonUnhandledFailure)
		}
	}

	start, ended := s.continueWhile(ctx, &d)
	if ended || start < 0 {
		span.SetAttributes(attribute.Int("steps", len(d.Steps)), attribute.Bool("ended", d.Ended))
		return d
	}

	for i := start; i < len(s.rules.Rules); i++ {
		if ctx.Err() != nil {
			break
		}
		rule := s.rules.Rules[i]
		holds := false
		if hasText(rule.While) {
			holds = s.condition(ctx, rule, "while", rule.While)
			if s.skipSpent(i, holds) {
				s.logger.DebugContext(ctx, fmt.Sprintf("Skipping rule %s until its while condition turns false", rule.Name), slog.String("rule", rule.Name))
				continue
			}
		}
		switch {
		case holds:
			s.mu.Lock()
			s.active, s.passes = i, 1
			s.mu.Unlock()
			s.logger.InfoContext(ctx, fmt.Sprintf("Executing rule %s", rule.Name), slog.String("rule", rule.Name), slog.Int("pass", 1))
			d.Rule = rule.Name
			d.Steps = append(d.Steps, s.enqueue(ctx, rule.Name, rule.Do)...)
			span.SetAttributes(attribute.String("rule", rule.Name), attribute.Int("steps", len(d.Steps)))
			return d
		case hasText(rule.If) && s.condition(ctx, rule, "if", rule.If),
			rule.Unconditional():
			s.logger.InfoContext(ctx, fmt.Sprintf("Executing rule %s", rule.Name), slog.String("rule", rule.Name))
			d.Rule = rule.Name
			d.Steps = append(d.Steps, s.enqueue(ctx, rule.Name, rule.Do)...)
			if !rule.Cascade {
				span.SetAttributes(attribute.String("rule", rule.Name), attribute.Int("steps", len(d.Steps)))
				return d
			}
		}
	}
	span.SetAttributes(attribute.String("rule", d.Rule), attribute.Int("steps", len(d.Steps)))
	return d
}

// continueWhile runs the next pass of the active while rule. It returns the
// index the rule scan starts from, -1 when a pass was enqueued, and whether
// the cycle ended with the rule. A rule stopped by the pass guard hands over
// to the rules after it.
func (s *Selector) continueWhile(ctx context.Context, d *Decision) (int, bool) {
	s.mu.Lock()
	idx, passes := s.active, s.passes
	s.mu.Unlock()
	if idx < 0 {
		return 0, false
	}

	rule := s.rules.Rules[idx]
	if s.condition(ctx, rule, "while", rule.While) {
		if passes < s.maxPasses {
			s.mu.Lock()
			s.passes++
			passes = s.passes
			s.mu.Unlock()
			s.logger.DebugContext(ctx, fmt.Sprintf("Repeating rule %s", rule.Name), slog.String("rule", rule.Name), slog.Int("pass", passes))
			d.Rule = rule.Name
			d.Steps = append(d.Steps, s.enqueue(ctx, rule.Name, rule.Do)...)
			return -1, false
		}
		s.logger.WarnContext(ctx, fmt.Sprintf("Rule %s still true after %d passes, moving on", rule.Name, passes),
			slog.String("rule", rule.Name), slog.Int("passes", passes))
		s.mu.Lock()
		s.active, s.passes = -1, 0
		s.spent[idx] = true
		s.mu.Unlock()
		return idx + 1, false
	}

	s.Reset()
	if !rule.Cascade {
		d.Ended = true
		return 0, true
	}
	return idx + 1, false
}

// skipSpent reports whether rule idx is still held back by the pass guard.
// A false condition releases it.
func (s *Selector) skipSpent(idx int, holds bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.spent[idx] {
		return false
	}
	if !holds {
		delete(s.spent, idx)
		return false
	}
	return true
}

// condition evaluates text, turning any fault into a logged false plus a
// back-off.
func (s *Selector) condition(ctx context.Context, rule Rule, field, text string) bool {
	ok, err := s.evaluator.Evaluate(text)
	if err != nil {
		s.logger.WarnContext(ctx, fmt.Sprintf("[CMD] Invalid %s condition in rule %s: %v", field, rule.Name, err),
			slog.String("rule", rule.Name),
			slog.String("code", string(errors.AsPilotError(err).Code)),
		)
		s.pause(ctx, ReasonConditionFault)
		return false
	}
	return ok
}

// enqueue parses lines into steps. Unusable lines trigger a back-off and
// are skipped; the remaining lines are still parsed.
func (s *Selector) enqueue(ctx context.Context, rule string, lines []string) []Step {
	steps := make([]Step, 0, len(lines))
	for _, line := range lines {
		op, err := s.actions.Parse(line)
		if err != nil {
			s.logger.WarnContext(ctx, fmt.Sprintf("[CMD] Cannot run %q: %v", line, err),
				slog.String("rule", rule),
				slog.String("code", string(errors.AsPilotError(err).Code)),
			)
			s.pause(ctx, ReasonInvalidAction)
			continue
		}
		if op == nil {
			s.pause(ctx, ReasonInvalidAction)
			continue
		}
		steps = append(steps, Step{Rule: rule, Line: line, Verb: action.Verb(line), Op: op})
	}
	return steps
}

func (s *Selector) pause(ctx context.Context, reason string) {
	s.logger.DebugContext(ctx, "planner.backoff", slog.String("reason", reason))
	s.backoff(ctx, reason)
}

func hasText(s string) bool {
	return strings.TrimSpace(s) != ""
}
