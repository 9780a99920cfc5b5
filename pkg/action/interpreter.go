// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package action turns action lines such as "move 1 1" or
// "foreach $item in $player.inventory.items do deposit $item 1"
// into operations bound to a character's game client.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/eval"
)

// Operation is one executable action. It blocks until the game API answers.
type Operation func(ctx context.Context) error

// WaitFunc blocks until the character may issue its next remote call.
type WaitFunc func(ctx context.Context) error

type verbSpec struct {
	args  int
	usage string
	build func(in *Interpreter, args []string) (Operation, error)
}

// Interpreter parses action lines for a single character.
type Interpreter struct {
	client   core.ActionClient
	resolver *eval.Resolver
	logger   *slog.Logger
	wait     WaitFunc
	verbs    map[string]verbSpec
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the logger used for action lines.
func WithLogger(logger *slog.Logger) Option {
	return func(in *Interpreter) {
		if logger != nil {
			in.logger = logger
		}
	}
}

// WithResolver overrides the resolver used for arguments.
func WithResolver(r *eval.Resolver) Option {
	return func(in *Interpreter) {
		if r != nil {
			in.resolver = r
		}
	}
}

// WithWait runs fn before every remote call, including each call made by
// a foreach loop.
func WithWait(fn WaitFunc) Option {
	return func(in *Interpreter) {
		in.wait = fn
	}
}

// New creates an interpreter issuing actions through client. Arguments are
// resolved against the client's current state unless WithResolver is given.
func New(client core.ActionClient, opts ...Option) *Interpreter {
	in := &Interpreter{
		client:   client,
		resolver: eval.NewResolver(client),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(in)
	}
	in.verbs = map[string]verbSpec{
		"move":     {args: 2, usage: "move <x> <y>", build: (*Interpreter).buildMove},
		"fight":    {build: noArg("Attacking", core.ActionClient.Fight)},
		"gather":   {build: noArg("Gathering resources", core.ActionClient.Gather)},
		"rest":     {build: noArg("Resting", core.ActionClient.Rest)},
		"deposit":  {args: 2, usage: "deposit <code> <quantity>", build: itemAction("Depositing %d %s to bank", core.ActionClient.Deposit)},
		"withdraw": {args: 2, usage: "withdraw <code> <quantity>", build: itemAction("Withdrawing %d %s from bank", core.ActionClient.Withdraw)},
		"craft":    {args: 2, usage: "craft <code> <quantity>", build: itemAction("Crafting %d %s", core.ActionClient.Craft)},
		"foreach":  {args: 5, usage: "foreach $var in $collection do <action>", build: (*Interpreter).buildForeach},
	}
	return in
}

// Parse turns line into an operation. A nil operation with a nil error means
// the line is not actionable (unknown verb or missing arguments); callers
// apply their back-off instead of treating it as a fault. Argument
// resolution faults are returned as errors.
func (in *Interpreter) Parse(line string) (Operation, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		in.logger.Warn("[CMD] Empty action")
		return nil, nil
	}

	verb := strings.ToLower(fields[0])
	spec, ok := in.verbs[verb]
	if !ok {
		in.logger.Warn(fmt.Sprintf("[CMD] Invalid action %s", fields[0]))
		return nil, nil
	}
	args := fields[1:]
	if len(args) < spec.args {
		in.logger.Warn(fmt.Sprintf("[CMD] Missing arguments, usage: %s", spec.usage))
		return nil, nil
	}
	return spec.build(in, args)
}

// Check validates the shape of line without resolving any argument. It is
// used to lint rule files before characters start.
func (in *Interpreter) Check(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return errors.New(errors.CodeInvalidInput, "empty action", nil)
	}
	verb := strings.ToLower(fields[0])
	spec, ok := in.verbs[verb]
	if !ok {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid action %s", fields[0]), nil).
			WithContext("line", line)
	}
	if len(fields)-1 < spec.args {
		return errors.New(errors.CodeInvalidInput, "missing arguments, usage: "+spec.usage, nil).
			WithContext("line", line)
	}
	if verb == "foreach" {
		if err := checkForeachShape(fields[1:]); err != nil {
			return err
		}
		return in.Check(strings.Join(fields[5:], " "))
	}
	return nil
}

// Verb returns the lower-cased verb of line, or "" for blank lines.
func Verb(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func (in *Interpreter) buildMove(args []string) (Operation, error) {
	x, err := eval.ResolveAs[int](in.resolver, args[0])
	if err != nil {
		return nil, err
	}
	y, err := eval.ResolveAs[int](in.resolver, args[1])
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		if err := in.ready(ctx); err != nil {
			return err
		}
		in.logger.InfoContext(ctx, fmt.Sprintf("Moving to %d,%d", x, y))
		return in.client.Move(ctx, x, y)
	}, nil
}

func (in *Interpreter) ready(ctx context.Context) error {
	if in.wait == nil {
		return nil
	}
	return in.wait(ctx)
}

func noArg(msg string, call func(core.ActionClient, context.Context) error) func(*Interpreter, []string) (Operation, error) {
	return func(in *Interpreter, _ []string) (Operation, error) {
		return func(ctx context.Context) error {
			if err := in.ready(ctx); err != nil {
				return err
			}
			in.logger.InfoContext(ctx, msg)
			return call(in.client, ctx)
		}, nil
	}
}

func itemAction(format string, call func(core.ActionClient, context.Context, string, int) error) func(*Interpreter, []string) (Operation, error) {
	return func(in *Interpreter, args []string) (Operation, error) {
		code, err := eval.ResolveAs[string](in.resolver, args[0])
		if err != nil {
			return nil, err
		}
		qty, err := eval.ResolveAs[int](in.resolver, args[1])
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			if err := in.ready(ctx); err != nil {
				return err
			}
			in.logger.InfoContext(ctx, fmt.Sprintf(format, qty, code))
			return call(in.client, ctx, code, qty)
		}, nil
	}
}

func checkForeachShape(args []string) error {
	if !strings.HasPrefix(args[0], "$") || len(args[0]) < 2 {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("foreach variable %s must start with $", args[0]), nil)
	}
	if !strings.EqualFold(args[1], "in") || !strings.EqualFold(args[3], "do") {
		return errors.New(errors.CodeInvalidInput, "usage: foreach $var in $collection do <action>", nil)
	}
	return nil
}

// buildForeach resolves the collection once, then at run time substitutes
// the loop variable with each item key, re-parses the inner line and runs
// it. The first failing item stops the loop; earlier items are not undone.
func (in *Interpreter) buildForeach(args []string) (Operation, error) {
	if err := checkForeachShape(args); err != nil {
		in.logger.Warn("[CMD] " + errors.AsPilotError(err).Message)
		return nil, nil
	}
	variable := args[0]
	items, err := eval.ResolveAs[[]eval.Item](in.resolver, args[2])
	if err != nil {
		return nil, err
	}
	inner := strings.Join(args[4:], " ")

	return func(ctx context.Context) error {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			line := strings.ReplaceAll(inner, variable, item.Key)
			op, err := in.Parse(line)
			if err != nil {
				in.logger.WarnContext(ctx, fmt.Sprintf("[CMD] Failed to parse %q for %s: %v", line, item.Key, err))
				return err
			}
			if op == nil {
				continue
			}
			if err := op(ctx); err != nil {
				in.logger.WarnContext(ctx, fmt.Sprintf("[CMD] Failed to execute action %s for %s: %v", inner, item.Key, err))
				return err
			}
		}
		return nil
	}, nil
}
