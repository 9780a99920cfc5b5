// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/mmopilot/pkg/errors"
)

// AgentMetrics counts what agents do. A nil *AgentMetrics is valid and
// records nothing.
type AgentMetrics struct {
	// actions counts dispatched actions by agent, verb and outcome
	actions metric.Int64Counter

	// faults counts faults by agent and error code
	faults metric.Int64Counter

	// backoffs counts fixed back-offs by agent and reason
	backoffs metric.Int64Counter

	// duration records remote action latency in milliseconds
	duration metric.Float64Histogram

	// breaker tracks circuit breaker state per agent (0=open, 1=half-open, 2=closed)
	breaker metric.Int64Gauge
}

// NewAgentMetrics creates the agent instruments on the global meter provider.
func NewAgentMetrics() (*AgentMetrics, error) {
	meter := otel.Meter("mmopilot/agent")

	actions, err := meter.Int64Counter(
		"mmopilot.actions.total",
		metric.WithDescription("Dispatched actions by agent, verb and outcome"),
	)
	if err != nil {
		return nil, err
	}

	faults, err := meter.Int64Counter(
		"mmopilot.faults.total",
		metric.WithDescription("Faults by agent and error code"),
	)
	if err != nil {
		return nil, err
	}

	backoffs, err := meter.Int64Counter(
		"mmopilot.backoffs.total",
		metric.WithDescription("Fixed back-offs by agent and reason"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"mmopilot.action.duration",
		metric.WithDescription("Remote action latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	breaker, err := meter.Int64Gauge(
		"mmopilot.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per agent (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	return &AgentMetrics{
		actions:  actions,
		faults:   faults,
		backoffs: backoffs,
		duration: duration,
		breaker:  breaker,
	}, nil
}

// RecordAction counts one finished action.
func (m *AgentMetrics) RecordAction(ctx context.Context, agent, verb, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("verb", verb),
		attribute.String("outcome", outcome),
	)
	m.actions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, durationMs, attrs)
}

// RecordFault counts err under its error code.
func (m *AgentMetrics) RecordFault(ctx context.Context, agent string, err error) {
	if m == nil || err == nil {
		return
	}
	pe := errors.AsPilotError(err)
	m.faults.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("error.code", string(pe.Code)),
			attribute.String("recoverable", pe.RecoverableString()),
		),
	)
}

// RecordBackoff counts one back-off.
func (m *AgentMetrics) RecordBackoff(ctx context.Context, agent, reason string) {
	if m == nil {
		return
	}
	m.backoffs.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("agent", agent),
			attribute.String("reason", reason),
		),
	)
}

// RecordCircuitBreakerState records the breaker state of an agent's client.
func (m *AgentMetrics) RecordCircuitBreakerState(ctx context.Context, agent string, state int64) {
	if m == nil {
		return
	}
	m.breaker.Record(ctx, state, metric.WithAttributes(attribute.String("agent", agent)))
}
