// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package action

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	pilottest "github.com/jllopis/mmopilot/pkg/testing"
)

func newState() core.AgentState {
	return core.AgentState{
		Name:     "Robin",
		Level:    3,
		Position: core.Position{X: 0, Y: 0},
		Health:   core.Health{Current: 40, Max: 120},
		Inventory: []core.InventorySlot{
			{Slot: 0, Code: "ash_wood", Quantity: 5},
			{Slot: 1, Code: "", Quantity: 0},
			{Slot: 2, Code: "copper_ore", Quantity: 2},
		},
		InventoryCapacity: 100,
	}
}

func newInterpreter(client *pilottest.ScriptedClient) *Interpreter {
	return New(client, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestParseAndRunVerbs(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"move 1 -2", "move 1 -2"},
		{"MOVE 4 1", "move 4 1"},
		{"fight", "fight"},
		{"gather", "gather"},
		{"rest", "rest"},
		{"deposit ash_wood 3", "deposit ash_wood 3"},
		{"withdraw copper_ore $player.level", "withdraw copper_ore 3"},
		{"craft copper 1", "craft copper 1"},
		{"deposit ash_wood $player.inventory.ash_wood.count", "deposit ash_wood 5"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			client := pilottest.NewScriptedClient(newState())
			op, err := newInterpreter(client).Parse(tt.line)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if op == nil {
				t.Fatalf("expected an operation")
			}
			if err := op(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			pilottest.AssertLines(t, client, tt.want)
		})
	}
}

func TestParseNotActionable(t *testing.T) {
	lines := []string{
		"",
		"   ",
		"dance",
		"move 1",
		"deposit ash_wood",
		"foreach $item in $player.inventory.items",
		"foreach item in $player.inventory.items do deposit item 1",
	}
	for _, line := range lines {
		client := pilottest.NewScriptedClient(newState())
		op, err := newInterpreter(client).Parse(line)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", line, err)
		}
		if op != nil {
			t.Fatalf("%q: expected no operation", line)
		}
	}
}

func TestParseArgumentFaults(t *testing.T) {
	tests := []struct {
		line string
		code errors.ErrorCode
	}{
		{"move north 1", errors.CodeTypeMismatch},
		{"move $player.position 1", errors.CodeTypeMismatch},
		{"deposit ash_wood many", errors.CodeTypeMismatch},
		{"move $world.x 1", errors.CodeUnsupportedPath},
		{"foreach $i in $player.hp do rest", errors.CodeTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			client := pilottest.NewScriptedClient(newState())
			_, err := newInterpreter(client).Parse(tt.line)
			pilottest.AssertCode(t, err, tt.code)
			if len(client.Calls()) != 0 {
				t.Fatalf("no call should be issued on a fault")
			}
		})
	}
}

func TestArgumentsResolvedAtParseTime(t *testing.T) {
	client := pilottest.NewScriptedClient(newState())
	op, err := newInterpreter(client).Parse("withdraw copper_ore $player.level")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}

	state := newState()
	state.Level = 9
	client.SetState(state)

	if err := op(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	pilottest.AssertLines(t, client, "withdraw copper_ore 3")
}

func TestForeachDepositsEveryStack(t *testing.T) {
	client := pilottest.NewScriptedClient(newState())
	op, err := newInterpreter(client).Parse("foreach $item in $player.inventory.items do deposit $item $player.inventory.$item.count")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}
	if err := op(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	pilottest.AssertLines(t, client, "deposit ash_wood 5", "deposit copper_ore 2")
	if got := client.State().TotalItems(); got != 0 {
		t.Fatalf("expected empty inventory, got %d items", got)
	}
}

func TestForeachStopsAtFirstFailure(t *testing.T) {
	state := newState()
	state.Inventory = append(state.Inventory, core.InventorySlot{Slot: 3, Code: "feather", Quantity: 1})
	client := pilottest.NewScriptedClient(state)

	op, err := newInterpreter(client).Parse("foreach $item in $player.inventory.items do deposit $item 1")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}

	// The first deposit succeeds, the second is rejected.
	client.WithHandler(func(call pilottest.Call, _ *core.AgentState) error {
		if call.Code == "copper_ore" {
			return errors.NewRemoteFailure(core.ResultDeposit, "bank rejected deposit", nil)
		}
		return nil
	})

	err = op(context.Background())
	if errors.ResultKindOf(err) != core.ResultDeposit {
		t.Fatalf("expected deposit failure, got %v", err)
	}
	pilottest.AssertLines(t, client, "deposit ash_wood 1", "deposit copper_ore 1")
}

func TestWaitRunsBeforeEveryCall(t *testing.T) {
	client := pilottest.NewScriptedClient(newState())
	var waits []int
	in := New(client,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithWait(func(context.Context) error {
			waits = append(waits, len(client.Calls()))
			return nil
		}),
	)

	for _, line := range []string{"fight", "foreach $item in $player.inventory.items do deposit $item 1"} {
		op, err := in.Parse(line)
		if err != nil || op == nil {
			t.Fatalf("parse %q: op=%v err=%v", line, op, err)
		}
		if err := op(context.Background()); err != nil {
			t.Fatalf("run %q: %v", line, err)
		}
	}

	// One wait per remote call, each before the call it guards.
	want := []int{0, 1, 2}
	if len(waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Fatalf("wait %d saw %d prior calls, expected %d", i, waits[i], want[i])
		}
	}
}

func TestWaitErrorStopsForeach(t *testing.T) {
	client := pilottest.NewScriptedClient(newState())
	interrupted := stderrors.New("interrupted")
	in := New(client,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithWait(func(context.Context) error {
			if len(client.Calls()) > 0 {
				return interrupted
			}
			return nil
		}),
	)
	op, err := in.Parse("foreach $item in $player.inventory.items do deposit $item 1")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}
	if err := op(context.Background()); !stderrors.Is(err, interrupted) {
		t.Fatalf("expected the wait error, got %v", err)
	}
	pilottest.AssertLines(t, client, "deposit ash_wood 1")
}

func TestForeachEmptyCollection(t *testing.T) {
	state := newState()
	state.Inventory = nil
	client := pilottest.NewScriptedClient(state)

	op, err := newInterpreter(client).Parse("foreach $item in $player.inventory.items do deposit $item 1")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}
	if err := op(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	pilottest.AssertLines(t, client)
}

func TestForeachHonoursCancellation(t *testing.T) {
	client := pilottest.NewScriptedClient(newState())
	op, err := newInterpreter(client).Parse("foreach $item in $player.inventory.items do deposit $item 1")
	if err != nil || op == nil {
		t.Fatalf("parse: op=%v err=%v", op, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := op(ctx); err == nil {
		t.Fatalf("expected cancellation error")
	}
	pilottest.AssertLines(t, client)
}

func TestCheck(t *testing.T) {
	in := newInterpreter(pilottest.NewScriptedClient(newState()))
	tests := []struct {
		line    string
		wantErr bool
	}{
		{"move 1 1", false},
		{"move $player.hp 1", false},
		{"fight", false},
		{"foreach $item in $player.inventory.items do deposit $item 1", false},
		{"", true},
		{"dance", true},
		{"craft copper", true},
		{"foreach item in $player.inventory.items do deposit item 1", true},
		{"foreach $item of $player.inventory.items do deposit $item 1", true},
		{"foreach $item in $player.inventory.items do dance", true},
	}
	for _, tt := range tests {
		err := in.Check(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("Check(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
		}
	}
}

func TestVerb(t *testing.T) {
	if got := Verb("  Deposit ash_wood 1"); got != "deposit" {
		t.Fatalf("expected deposit, got %q", got)
	}
	if got := Verb(""); got != "" {
		t.Fatalf("expected empty verb, got %q", got)
	}
}
