// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Log formats accepted by ConfigureSlog.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
	FormatText    = "text"
)

// ConfigureSlog sets the global slog logger and returns it.
//
// The console format prints one "[agent] message key=value" line per record
// through a Console, for people watching the characters play. The json and
// text formats are for collectors: they keep every attribute and stamp
// trace_id and span_id from the active span.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	logger := slog.New(newSlogHandler(output, parseLogLevel(level), format))
	slog.SetDefault(logger)
	return logger
}

func newSlogHandler(output io.Writer, level slog.Level, format string) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatConsole:
		return NewConsoleHandler(NewConsole(output), level)
	case FormatJSON:
		return &traceHandler{next: slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})}
	default:
		return &traceHandler{next: slog.NewTextHandler(output, &slog.HandlerOptions{Level: level})}
	}
}

// consoleHandler renders records through a Console. The "agent" attribute
// becomes the line tag; other attributes follow as key=value. Warnings and
// errors carry their level in front of the message.
type consoleHandler struct {
	console *Console
	level   slog.Leveler
	tag     string
	attrs   []slog.Attr
	group   string
}

// NewConsoleHandler returns a slog handler writing through console.
func NewConsoleHandler(console *Console, level slog.Leveler) slog.Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &consoleHandler{console: console, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	tag := h.tag
	var b strings.Builder
	if record.Level >= slog.LevelWarn {
		b.WriteString(record.Level.String())
		b.WriteByte(' ')
	}
	b.WriteString(record.Message)

	write := func(a slog.Attr) {
		if a.Key == "" {
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		if a.Key == "agent" && h.group == "" {
			tag = a.Value.String()
			return true
		}
		write(a)
		return true
	})
	h.console.WriteLine(tag, b.String())
	return nil
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if a.Key == "agent" && h.group == "" {
			next.tag = a.Value.String()
			continue
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

// traceHandler adds the ids of the span in ctx unless the record already
// has them.
type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			if !recordHasAttr(record, "trace_id") {
				record.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
			}
			if !recordHasAttr(record, "span_id") {
				record.AddAttrs(slog.String("span_id", sc.SpanID().String()))
			}
		}
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err == nil {
		return l
	}
	if strings.EqualFold(strings.TrimSpace(level), "warning") {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
