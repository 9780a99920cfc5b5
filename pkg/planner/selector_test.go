package planner

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jllopis/mmopilot/pkg/action"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/eval"
	pilottest "github.com/jllopis/mmopilot/pkg/testing"
)

type backoffRecorder struct {
	mu      sync.Mutex
	reasons []string
}

func (b *backoffRecorder) pause(_ context.Context, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reasons = append(b.reasons, reason)
}

func (b *backoffRecorder) get() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.reasons...)
}

func newSelector(t *testing.T, state core.AgentState, rules *RuleSet, opts ...SelectorOption) (*Selector, *pilottest.ScriptedClient, *backoffRecorder) {
	t.Helper()
	if err := rules.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	client := pilottest.NewScriptedClient(state)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := eval.NewResolver(client)
	rec := &backoffRecorder{}
	opts = append([]SelectorOption{WithLogger(logger), WithBackoff(rec.pause)}, opts...)
	sel := NewSelector(rules,
		eval.NewEvaluator(resolver),
		action.New(client, action.WithLogger(logger), action.WithResolver(resolver)),
		opts...,
	)
	return sel, client, rec
}

func lines(d Decision) []string {
	out := make([]string, len(d.Steps))
	for i, s := range d.Steps {
		out[i] = s.Line
	}
	return out
}

func run(t *testing.T, d Decision) {
	t.Helper()
	for _, step := range d.Steps {
		if err := step.Op(context.Background()); err != nil {
			t.Fatalf("step %q: %v", step.Line, err)
		}
	}
}

func baseState() core.AgentState {
	return core.AgentState{
		Name:              "Robin",
		Level:             10,
		Health:            core.Health{Current: 100, Max: 120},
		Inventory:         []core.InventorySlot{{Slot: 0, Code: "copper_ore", Quantity: 3}},
		InventoryCapacity: 10,
	}
}

func TestSelectFirstMatchingRule(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "heal", If: "$player.hp < 50", Do: []string{"rest"}},
		{Name: "farm", If: "$player.level >= 10", Do: []string{"move 1 0", "fight"}},
		{Name: "idle", Do: []string{"gather"}},
	}}
	sel, _, rec := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "move 1 0|fight" {
		t.Fatalf("unexpected lines %q", got)
	}
	if d.Rule != "farm" || d.Ended {
		t.Fatalf("unexpected decision %+v", d)
	}
	if len(rec.get()) != 0 {
		t.Fatalf("unexpected back-offs %v", rec.get())
	}
}

func TestSelectCascade(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "first", Do: []string{"rest"}, Cascade: true},
		{Name: "skipped", If: "$player.level > 50", Do: []string{"craft sword 1"}},
		{Name: "second", If: "$player.level == 10", Do: []string{"fight"}},
		{Name: "never", Do: []string{"gather"}},
	}}
	sel, _, _ := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "rest|fight" {
		t.Fatalf("unexpected lines %q", got)
	}
	if d.Rule != "second" {
		t.Fatalf("expected last rule second, got %q", d.Rule)
	}
}

func TestSelectNothingMatches(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "heal", If: "$player.hp < 50", Do: []string{"rest"}},
	}}
	sel, _, _ := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if !d.Empty() || d.Ended {
		t.Fatalf("expected empty, non-ended decision, got %+v", d)
	}
}

func TestWhileRepeatsUntilFalseWithoutCascade(t *testing.T) {
	state := baseState()
	state.Inventory = []core.InventorySlot{{Slot: 0, Code: "copper_ore", Quantity: 0}}
	rules := &RuleSet{Rules: []Rule{
		{Name: "mine", While: "$player.inventory.count < 3", Do: []string{"gather"}},
		{Name: "later", Do: []string{"rest"}},
	}}
	sel, client, _ := newSelector(t, state, rules)
	client.WithHandler(func(call pilottest.Call, s *core.AgentState) error {
		if call.Verb == "gather" {
			s.Inventory[0].Quantity++
		}
		return nil
	})

	for pass := 1; pass <= 3; pass++ {
		d := sel.Select(context.Background(), nil)
		if got := strings.Join(lines(d), "|"); got != "gather" {
			t.Fatalf("pass %d: unexpected lines %q", pass, got)
		}
		if name, ok := sel.Active(); !ok || name != "mine" {
			t.Fatalf("pass %d: expected active while rule", pass)
		}
		run(t, d)
	}

	d := sel.Select(context.Background(), nil)
	if !d.Ended || !d.Empty() {
		t.Fatalf("expected the while rule to end the cycle, got %+v", d)
	}
	if _, ok := sel.Active(); ok {
		t.Fatalf("while rule should no longer be active")
	}

	// The next cycle scans from the top again: while is false, later fires.
	d = sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "rest" {
		t.Fatalf("unexpected lines after while ended %q", got)
	}
	pilottest.AssertLines(t, client, "gather", "gather", "gather")
}

func TestWhileCascadeContinuesScan(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "mine", While: "$player.inventory.count < 4", Do: []string{"gather"}, Cascade: true},
		{Name: "bank", Do: []string{"deposit copper_ore 1"}},
	}}
	sel, client, _ := newSelector(t, baseState(), rules)
	client.WithHandler(func(call pilottest.Call, s *core.AgentState) error {
		if call.Verb == "gather" {
			s.Inventory[0].Quantity++
		}
		return nil
	})

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "gather" {
		t.Fatalf("unexpected lines %q", got)
	}
	run(t, d)

	d = sel.Select(context.Background(), nil)
	if d.Ended {
		t.Fatalf("cascading while rule must not end the cycle")
	}
	if got := strings.Join(lines(d), "|"); got != "deposit copper_ore 1" {
		t.Fatalf("unexpected lines %q", got)
	}
}

func TestWhileWinsOverIf(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "both", If: "$player.level > 100", While: "$player.level == 10", Do: []string{"fight"}},
	}}
	sel, _, _ := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "fight" {
		t.Fatalf("unexpected lines %q", got)
	}
	if name, ok := sel.Active(); !ok || name != "both" {
		t.Fatalf("expected the rule to loop as a while rule")
	}
}

func TestFalseWhileFallsBackToIf(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "both", If: "$player.level == 10", While: "$player.level > 100", Do: []string{"fight"}},
	}}
	sel, _, _ := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "fight" {
		t.Fatalf("unexpected lines %q", got)
	}
	if _, ok := sel.Active(); ok {
		t.Fatalf("rule fired through if and must not loop")
	}
}

func TestWhilePassGuard(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "forever", While: "$player.level == 10", Do: []string{"fight"}},
		{Name: "later", Do: []string{"rest"}},
	}}
	sel, client, _ := newSelector(t, baseState(), rules, WithMaxWhilePasses(3))

	for i := 0; i < 3; i++ {
		d := sel.Select(context.Background(), nil)
		if d.Rule != "forever" || len(d.Steps) != 1 {
			t.Fatalf("pass %d: expected forever, got %+v", i+1, d)
		}
	}

	// The guard hands over to the next rule and keeps the spent rule out
	// of later scans while its condition holds.
	for i := 0; i < 2; i++ {
		d := sel.Select(context.Background(), nil)
		if d.Rule != "later" || strings.Join(lines(d), "|") != "rest" {
			t.Fatalf("cycle %d after the guard: expected later, got rule=%q lines=%v", i+1, d.Rule, lines(d))
		}
		if name, ok := sel.Active(); ok {
			t.Fatalf("no while rule should be active, got %s", name)
		}
	}

	state := baseState()
	state.Level = 11
	client.SetState(state)
	if d := sel.Select(context.Background(), nil); d.Rule != "later" {
		t.Fatalf("expected later while the condition is false, got %+v", d)
	}

	client.SetState(baseState())
	if d := sel.Select(context.Background(), nil); d.Rule != "forever" {
		t.Fatalf("a false condition must release the rule, got %+v", d)
	}
}

func TestFailureRouteThenRuleScan(t *testing.T) {
	rules := &RuleSet{
		Rules: []Rule{
			{Name: "farm", Do: []string{"fight"}},
		},
		OnFailure: map[string]FailureRoute{
			core.ResultInventoryFull: {Do: []string{"move 4 1", "foreach $item in $player.inventory.items do deposit $item 1"}},
		},
	}
	sel, _, rec := newSelector(t, baseState(), rules)

	failure := errors.NewRemoteFailure(core.ResultInventoryFull, "inventory is full", nil)
	d := sel.Select(context.Background(), failure)
	want := "move 4 1|foreach $item in $player.inventory.items do deposit $item 1|fight"
	if got := strings.Join(lines(d), "|"); got != want {
		t.Fatalf("unexpected lines %q", got)
	}
	if d.Route != core.ResultInventoryFull {
		t.Fatalf("expected route to be reported, got %q", d.Route)
	}
	if len(rec.get()) != 0 {
		t.Fatalf("unexpected back-offs %v", rec.get())
	}
}

func TestUnhandledFailureBacksOffAndScans(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{{Name: "farm", Do: []string{"fight"}}}}
	sel, _, rec := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), errors.NewRemoteFailure(core.ResultClientTimeout, "timeout", nil))
	if got := strings.Join(lines(d), "|"); got != "fight" {
		t.Fatalf("unexpected lines %q", got)
	}
	if got := rec.get(); len(got) != 1 || got[0] != ReasonUnhandledFailure {
		t.Fatalf("expected one unhandled-failure back-off, got %v", got)
	}
}

func TestFailureClearsActiveWhile(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "loop", While: "$player.level == 10", Do: []string{"fight"}},
	}}
	sel, _, _ := newSelector(t, baseState(), rules)
	sel.Select(context.Background(), nil)
	if _, ok := sel.Active(); !ok {
		t.Fatalf("expected active while rule")
	}
	sel.Select(context.Background(), errors.NewRemoteFailure(core.ResultFight, "lost", nil))
	name, ok := sel.Active()
	if !ok || name != "loop" {
		t.Fatalf("expected the rule to restart as a fresh while pass")
	}
}

func TestInvalidLinesBackOffAndContinue(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "mixed", Do: []string{"dance", "move north 1", "rest", "deposit"}},
	}}
	sel, _, rec := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "rest" {
		t.Fatalf("unexpected lines %q", got)
	}
	if got := rec.get(); len(got) != 3 {
		t.Fatalf("expected 3 back-offs, got %v", got)
	}
}

func TestConditionFaultIsFalse(t *testing.T) {
	rules := &RuleSet{Rules: []Rule{
		{Name: "broken", If: "$player.level >", Do: []string{"fight"}},
		{Name: "world", If: "$world.time == 1", Do: []string{"fight"}},
		{Name: "fallback", Do: []string{"rest"}},
	}}
	sel, _, rec := newSelector(t, baseState(), rules)

	d := sel.Select(context.Background(), nil)
	if got := strings.Join(lines(d), "|"); got != "rest" {
		t.Fatalf("unexpected lines %q", got)
	}
	got := rec.get()
	if len(got) != 2 || got[0] != ReasonConditionFault {
		t.Fatalf("expected two condition-fault back-offs, got %v", got)
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	Sleep(BackoffDelay)(ctx, ReasonIdle)
}
