// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
)

// HealthChecker reports the health of one agent loop. Results are cached
// for a short interval because control tools may poll aggressively.
type HealthChecker struct {
	agent       *Agent
	lastCheck   time.Time
	lastResult  core.HealthResult
	minInterval time.Duration
	mu          sync.RWMutex
}

// NewHealthChecker creates a health checker for agent.
func NewHealthChecker(agent *Agent) *HealthChecker {
	return &HealthChecker{
		agent:       agent,
		minInterval: time.Second,
	}
}

// WithInterval overrides the cache interval. Zero disables caching.
func (h *HealthChecker) WithInterval(d time.Duration) *HealthChecker {
	h.minInterval = d
	return h
}

// Check implements core.HealthChecker.
func (h *HealthChecker) Check(ctx context.Context) core.HealthResult {
	h.mu.RLock()
	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		result := h.lastResult
		h.mu.RUnlock()
		return result
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.lastCheck) < h.minInterval && !h.lastResult.LastCheck.IsZero() {
		return h.lastResult
	}

	st := h.agent.Status()
	result := core.HealthResult{
		Component: "agent:" + st.Name,
		LastCheck: time.Now(),
	}
	switch {
	case st.Fatal != "":
		result.Status = core.HealthUnhealthy
		result.Message = st.Fatal
	case st.Phase == PhaseCancelled:
		result.Status = core.HealthDegraded
		result.Message = "stopped"
	case st.Phase == PhaseFailed:
		result.Status = core.HealthDegraded
		result.Message = fmt.Sprintf("last action failed: %s", st.LastError)
	default:
		result.Status = core.HealthHealthy
		result.Message = fmt.Sprintf("%s, %d queued", st.Phase, len(st.Queued))
	}

	h.lastResult = result
	h.lastCheck = result.LastCheck
	return result
}
