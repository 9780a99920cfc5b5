package planner

import (
	"context"
	"sync"
	"time"
)

// Audit statuses.
const (
	AuditCompleted = "completed"
	AuditFailed    = "failed"
	AuditSkipped   = "skipped"
)

// AuditEvent is the outcome of one dispatched action line.
type AuditEvent struct {
	Agent      string    `json:"agent"`
	RunID      string    `json:"run_id"`
	Rule       string    `json:"rule,omitempty"`
	Line       string    `json:"line"`
	Verb       string    `json:"verb"`
	Status     string    `json:"status"`
	ResultKind string    `json:"result_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// AuditStore persists action audit events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	Agent      string
	RunID      string
	Status     string
	ResultKind string
	Limit      int
}

func (f AuditFilter) matches(ev AuditEvent) bool {
	if f.Agent != "" && ev.Agent != f.Agent {
		return false
	}
	if f.RunID != "" && ev.RunID != f.RunID {
		return false
	}
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.ResultKind != "" && ev.ResultKind != f.ResultKind {
		return false
	}
	return true
}

// MemoryAuditStore keeps audit events in memory. When max is positive only
// the most recent max events are kept.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
	max    int
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// NewBoundedAuditStore returns an in-memory store retaining at most max events.
func NewBoundedAuditStore(max int) *MemoryAuditStore {
	return &MemoryAuditStore{max: max}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if s.max > 0 && len(s.events) > s.max {
		s.events = append(s.events[:0], s.events[len(s.events)-s.max:]...)
	}
	return nil
}

// List returns filtered audit events, oldest first.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if !filter.matches(ev) {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Prune drops events that finished before the cutoff and reports how many
// were removed.
func (s *MemoryAuditStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.FinishedAt.Before(before) {
			continue
		}
		kept = append(kept, ev)
	}
	removed := len(s.events) - len(kept)
	s.events = kept
	return removed, nil
}

// normalizeAuditTime ensures timestamps are in UTC.
func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
