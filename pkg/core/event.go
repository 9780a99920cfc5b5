package core

import (
	"context"
	"time"
)

// EventType identifies a semantic event emitted by agents.
type EventType string

const (
	EventAgentStarted    EventType = "agent.started"
	EventAgentStopped    EventType = "agent.stopped"
	EventAgentReloaded   EventType = "agent.reloaded"
	EventActionStarted   EventType = "agent.action.started"
	EventActionCompleted EventType = "agent.action.completed"
	EventActionFailed    EventType = "agent.action.failed"
	EventQueueAborted    EventType = "agent.queue.aborted"
	EventAgentError      EventType = "agent.error"
)

// Event captures a semantic logging/audit event.
type Event struct {
	Type      EventType
	Agent     string
	RunID     string
	Timestamp time.Time
	Payload   map[string]any
}

// EventEmitter receives semantic events.
type EventEmitter interface {
	Emit(ctx context.Context, event Event)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event Event)

// Emit implements EventEmitter.
func (f EmitterFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// NoopEventEmitter is a default no-op implementation.
type NoopEventEmitter struct{}

// Emit implements EventEmitter.
func (NoopEventEmitter) Emit(_ context.Context, _ Event) {}

// NewEvent builds a default event with timestamp.
func NewEvent(eventType EventType, agent string, runID string, payload map[string]any) Event {
	return Event{
		Type:      eventType,
		Agent:     agent,
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}
