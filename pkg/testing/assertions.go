// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"strings"
	"testing"
	"time"

	"github.com/jllopis/mmopilot/pkg/errors"
)

// AssertLines fails t unless client received exactly the given action lines.
func AssertLines(t testing.TB, client *ScriptedClient, want ...string) {
	t.Helper()
	got := client.Lines()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected calls:\n  got  %q\n  want %q", got, want)
	}
}

// AssertCode fails t unless err carries code.
func AssertCode(t testing.TB, err error, code errors.ErrorCode) {
	t.Helper()
	if !errors.IsCode(err, code) {
		t.Fatalf("expected %s, got %v", code, err)
	}
}

// WaitForCalls polls client until it has received at least n calls.
func WaitForCalls(t testing.TB, client *ScriptedClient, n int, timeout time.Duration) []Call {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		calls := client.Calls()
		if len(calls) >= n {
			return calls
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %d calls, got %d: %v", n, len(calls), calls)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
