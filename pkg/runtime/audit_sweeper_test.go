package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/mmopilot/pkg/config"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/planner"
)

type testPruner struct {
	calls    int64
	deadline int64
	cutoff   atomic.Value
	ch       chan struct{}
}

func (p *testPruner) Prune(ctx context.Context, before time.Time) (int, error) {
	atomic.AddInt64(&p.calls, 1)
	p.cutoff.Store(before)
	if deadline, ok := ctx.Deadline(); ok {
		atomic.StoreInt64(&p.deadline, deadline.UnixNano())
	}
	select {
	case p.ch <- struct{}{}:
	default:
	}
	return 0, nil
}

func TestAuditSweeperTimeout(t *testing.T) {
	pruner := &testPruner{ch: make(chan struct{}, 1)}
	cfg := &config.Config{Characters: []config.CharacterConfig{characterConfig("Robin", "rest")}}
	f := newTestFleet(t, cfg, []core.ActionClient{character("Robin")})
	f.AddAuditPruner(pruner)
	f.SetAuditRetention(time.Hour)
	f.SetAuditSweepInterval(10 * time.Millisecond)
	f.SetAuditSweepTimeout(50 * time.Millisecond)

	runFleet(t, f)

	select {
	case <-pruner.ch:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected sweeper call")
	}
	if atomic.LoadInt64(&pruner.deadline) == 0 {
		t.Fatalf("expected deadline to be set on sweep context")
	}
	cutoff, _ := pruner.cutoff.Load().(time.Time)
	if age := time.Since(cutoff); age < 59*time.Minute || age > 61*time.Minute {
		t.Fatalf("expected a cutoff one hour back, got %s", age)
	}
}

func TestAuditSweeperDisabledWithoutRetention(t *testing.T) {
	pruner := &testPruner{ch: make(chan struct{}, 1)}
	cfg := &config.Config{Characters: []config.CharacterConfig{characterConfig("Robin", "rest")}}
	f := newTestFleet(t, cfg, []core.ActionClient{character("Robin")})
	f.AddAuditPruner(pruner)
	f.SetAuditSweepInterval(5 * time.Millisecond)

	runFleet(t, f)
	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt64(&pruner.calls) != 0 {
		t.Fatalf("sweeper must not run without a retention")
	}
}

func TestAuditRetentionFromSettings(t *testing.T) {
	store := planner.NewMemoryAuditStore()
	old := time.Now().Add(-3 * time.Hour)
	_ = store.Record(context.Background(), planner.AuditEvent{Agent: "Robin", Line: "rest", Verb: "rest", Status: planner.AuditCompleted, FinishedAt: old})

	cfg := &config.Config{
		Audit:      config.AuditConfig{Driver: "memory", RetentionHours: 1},
		Characters: []config.CharacterConfig{characterConfig("Robin", "rest")},
	}
	f := newTestFleet(t, cfg, []core.ActionClient{character("Robin")}, WithAuditStore(store))
	f.SetAuditSweepInterval(10 * time.Millisecond)
	runFleet(t, f)

	waitFor(t, time.Second, func() bool {
		events, _ := store.List(context.Background(), planner.AuditFilter{})
		for _, ev := range events {
			if ev.FinishedAt.Equal(old) {
				return false
			}
		}
		return true
	}, "the stale audit event to be pruned")
}
