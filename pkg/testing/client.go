// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides an in-memory game client and assertion helpers
// for exercising agents without the network.
package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
)

// Call records one action received by a ScriptedClient.
type Call struct {
	Verb     string
	X, Y     int
	Code     string
	Quantity int
}

// String renders the call like an action line.
func (c Call) String() string {
	switch c.Verb {
	case "move":
		return fmt.Sprintf("move %d %d", c.X, c.Y)
	case "deposit", "withdraw", "craft":
		return fmt.Sprintf("%s %s %d", c.Verb, c.Code, c.Quantity)
	default:
		return c.Verb
	}
}

// ScriptedClient implements core.ActionClient over an in-memory snapshot.
// Successful calls apply a simple effect to the snapshot (position, bank
// transfers, rest) and set the cooldown; queued failures are returned in
// order per verb.
type ScriptedClient struct {
	mu       sync.Mutex
	state    core.AgentState
	calls    []Call
	failures map[string][]error
	handler  func(call Call, state *core.AgentState) error
	cooldown time.Duration
	delay    time.Duration
	notify   chan Call
}

// NewScriptedClient creates a client starting from state.
func NewScriptedClient(state core.AgentState) *ScriptedClient {
	return &ScriptedClient{
		state:    state.Clone(),
		failures: make(map[string][]error),
	}
}

// FailNext queues err as the result of the next call to verb.
func (c *ScriptedClient) FailNext(verb string, err error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[verb] = append(c.failures[verb], err)
	return c
}

// WithHandler installs fn to run after the default effect of every
// successful call. A non-nil error from fn fails the call.
func (c *ScriptedClient) WithHandler(fn func(call Call, state *core.AgentState) error) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
	return c
}

// WithCooldown sets the cooldown applied after each successful call.
func (c *ScriptedClient) WithCooldown(d time.Duration) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldown = d
	return c
}

// WithDelay makes each call take d, honouring context cancellation.
func (c *ScriptedClient) WithDelay(d time.Duration) *ScriptedClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
	return c
}

// Notify returns a channel receiving every call as it is made. The channel
// is buffered; calls are dropped when it is full.
func (c *ScriptedClient) Notify(buffer int) <-chan Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = make(chan Call, buffer)
	return c.notify
}

// Calls returns the calls received so far.
func (c *ScriptedClient) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.calls))
	copy(out, c.calls)
	return out
}

// Lines returns the calls rendered as action lines.
func (c *ScriptedClient) Lines() []string {
	calls := c.Calls()
	out := make([]string, len(calls))
	for i, call := range calls {
		out[i] = call.String()
	}
	return out
}

// SetState replaces the snapshot.
func (c *ScriptedClient) SetState(state core.AgentState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state.Clone()
}

// Name implements core.ActionClient.
func (c *ScriptedClient) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Name
}

// State implements core.StateSource.
func (c *ScriptedClient) State() core.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Move implements core.ActionClient.
func (c *ScriptedClient) Move(ctx context.Context, x, y int) error {
	return c.do(ctx, Call{Verb: "move", X: x, Y: y})
}

// Fight implements core.ActionClient.
func (c *ScriptedClient) Fight(ctx context.Context) error {
	return c.do(ctx, Call{Verb: "fight"})
}

// Gather implements core.ActionClient.
func (c *ScriptedClient) Gather(ctx context.Context) error {
	return c.do(ctx, Call{Verb: "gather"})
}

// Rest implements core.ActionClient.
func (c *ScriptedClient) Rest(ctx context.Context) error {
	return c.do(ctx, Call{Verb: "rest"})
}

// Deposit implements core.ActionClient.
func (c *ScriptedClient) Deposit(ctx context.Context, code string, quantity int) error {
	return c.do(ctx, Call{Verb: "deposit", Code: code, Quantity: quantity})
}

// Withdraw implements core.ActionClient.
func (c *ScriptedClient) Withdraw(ctx context.Context, code string, quantity int) error {
	return c.do(ctx, Call{Verb: "withdraw", Code: code, Quantity: quantity})
}

// Craft implements core.ActionClient.
func (c *ScriptedClient) Craft(ctx context.Context, code string, quantity int) error {
	return c.do(ctx, Call{Verb: "craft", Code: code, Quantity: quantity})
}

func (c *ScriptedClient) do(ctx context.Context, call Call) error {
	c.mu.Lock()
	delay := c.delay
	c.calls = append(c.calls, call)
	if c.notify != nil {
		select {
		case c.notify <- call:
		default:
		}
	}
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if queued := c.failures[call.Verb]; len(queued) > 0 {
		c.failures[call.Verb] = queued[1:]
		return queued[0]
	}

	applyEffect(&c.state, call)
	if c.handler != nil {
		if err := c.handler(call, &c.state); err != nil {
			return err
		}
	}
	if c.cooldown > 0 {
		c.state.CooldownExpiration = time.Now().Add(c.cooldown)
	}
	return nil
}

func applyEffect(state *core.AgentState, call Call) {
	switch call.Verb {
	case "move":
		state.Position = core.Position{X: call.X, Y: call.Y}
	case "rest":
		state.Health.Current = state.Health.Max
	case "deposit":
		for i := range state.Inventory {
			if state.Inventory[i].Code == call.Code {
				state.Inventory[i].Quantity -= call.Quantity
				if state.Inventory[i].Quantity <= 0 {
					state.Inventory[i] = core.InventorySlot{Slot: state.Inventory[i].Slot}
				}
				return
			}
		}
	case "withdraw":
		for i := range state.Inventory {
			if state.Inventory[i].Code == call.Code {
				state.Inventory[i].Quantity += call.Quantity
				return
			}
		}
		state.Inventory = append(state.Inventory, core.InventorySlot{
			Slot:     len(state.Inventory),
			Code:     call.Code,
			Quantity: call.Quantity,
		})
	}
}
