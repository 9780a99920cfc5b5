// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry wires slog, OpenTelemetry traces and metrics for
// mmopilot agents.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span and metric attribute keys.
const (
	AttrAgentName  = "mmopilot.agent.name"
	AttrAgentRunID = "mmopilot.agent.run_id"
	AttrAgentPhase = "mmopilot.agent.phase"

	AttrActionLine       = "mmopilot.action.line"
	AttrActionVerb       = "mmopilot.action.verb"
	AttrActionRule       = "mmopilot.action.rule"
	AttrActionOutcome    = "mmopilot.action.outcome"
	AttrActionResultKind = "mmopilot.action.result_kind"
	AttrActionDurationMs = "mmopilot.action.duration_ms"

	AttrQueueLength  = "mmopilot.queue.length"
	AttrQueueDropped = "mmopilot.queue.dropped"

	AttrHTTPMethod = "http.request.method"
	AttrHTTPPath   = "url.path"
	AttrHTTPStatus = "http.response.status_code"
)

// maxLineLen bounds action lines recorded on spans.
const maxLineLen = 200

// AgentAttributes returns common attributes for agent spans.
func AgentAttributes(name, runID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAgentName, name),
	}
	if runID != "" {
		attrs = append(attrs, attribute.String(AttrAgentRunID, runID))
	}
	return attrs
}

// ActionAttributes returns attributes for one dispatched action line.
func ActionAttributes(rule, verb, line string) []attribute.KeyValue {
	if len(line) > maxLineLen {
		line = line[:maxLineLen] + "..."
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrActionVerb, verb),
		attribute.String(AttrActionLine, line),
	}
	if rule != "" {
		attrs = append(attrs, attribute.String(AttrActionRule, rule))
	}
	return attrs
}

// OutcomeAttributes describes how an action ended.
func OutcomeAttributes(outcome, resultKind string, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrActionOutcome, outcome),
		attribute.Float64(AttrActionDurationMs, durationMs),
	}
	if resultKind != "" {
		attrs = append(attrs, attribute.String(AttrActionResultKind, resultKind))
	}
	return attrs
}

// HTTPAttributes returns attributes for a game API request.
func HTTPAttributes(method, path string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPPath, path),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int(AttrHTTPStatus, status))
	}
	return attrs
}
