// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"fmt"
	"io"
	"sync"
)

// Console writes single tagged lines to a shared writer. It is the only
// state shared between agent loops; one mutex serialises every line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole creates a console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// WriteLine writes "[tag] message". An empty tag writes the bare message.
func (c *Console) WriteLine(tag, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tag == "" {
		fmt.Fprintln(c.w, message)
		return
	}
	fmt.Fprintf(c.w, "[%s] %s\n", tag, message)
}
