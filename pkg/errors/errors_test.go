// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("network timeout")
	pe := New(CodeTimeout, "move timed out", cause)

	if pe.Code != CodeTimeout {
		t.Errorf("expected CodeTimeout, got %v", pe.Code)
	}
	if pe.Message != "move timed out" {
		t.Errorf("expected message 'move timed out', got %q", pe.Message)
	}
	if !errors.Is(pe, cause) {
		t.Errorf("expected errors.Is to work with wrapped error")
	}
	if pe.Recoverable {
		t.Errorf("expected recoverable to be false by default")
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		pe       *PilotError
		expected string
	}{
		{
			name:     "with cause",
			pe:       New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			pe:       New(CodeNotFound, "character not found", nil),
			expected: "[NOT_FOUND] character not found",
		},
		{
			name:     "syntax fault",
			pe:       NewSyntaxFault("no right hand comparison", "$player.level >", 14),
			expected: `[SYNTAX_FAULT] no right hand comparison at offset 14: "$player.level >"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.pe.Error()
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAsPilotError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "already PilotError", err: NewTypeMismatch("$player.hp", "Text", "Int"), expected: CodeTypeMismatch},
		{name: "wrapped PilotError", err: fmt.Errorf("deposit: %w", NewRemoteFailure("BankDepositData", "rejected", nil)), expected: CodeRemoteActionFailure},
		{name: "generic error", err: errors.New("generic error"), expected: CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := AsPilotError(tt.err)
			if tt.expected == "" {
				if pe != nil {
					t.Errorf("expected nil for nil error")
				}
				return
			}
			if pe == nil {
				t.Fatalf("expected non-nil PilotError")
			}
			if pe.Code != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, pe.Code)
			}
		})
	}
}

func TestResultKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"remote failure", NewRemoteFailure("ArtifactsInventoryFull", "inventory is full", nil), "ArtifactsInventoryFull"},
		{"wrapped remote failure", fmt.Errorf("fight: %w", NewRemoteFailure("ClientTimeout", "timeout", nil)), "ClientTimeout"},
		{"coded fault", NewUnsupportedPath("$world.time", "world properties not implemented"), "UNSUPPORTED_PATH"},
		{"plain error", errors.New("boom"), "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultKindOf(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("parse: %w", NewSyntaxFault("dangling operator", "a &&", 2))
	if !IsCode(err, CodeSyntaxFault) {
		t.Errorf("expected syntax fault to be detected through wrapping")
	}
	if IsCode(err, CodeTypeMismatch) {
		t.Errorf("unexpected type mismatch match")
	}
	if IsCode(errors.New("plain"), CodeSyntaxFault) {
		t.Errorf("plain errors carry no code")
	}
}

func TestQueueAbort(t *testing.T) {
	cause := NewRemoteFailure("FightData", "fight failed", nil)
	pe := NewQueueAbort(3, cause)
	if pe.Context["dropped"] != 3 {
		t.Errorf("expected dropped count in context, got %v", pe.Context["dropped"])
	}
	if ResultKindOf(pe) != string(CodeQueueAbort) {
		t.Errorf("queue abort should be keyed by its own code, got %q", ResultKindOf(pe))
	}
	if !errors.Is(pe, cause) {
		t.Errorf("expected cause to be preserved")
	}
}

func TestMarshalJSON(t *testing.T) {
	pe := NewRemoteFailure("ArtifactsInventoryFull", "inventory is full", errors.New("status 497"))
	pe.WithContext("agent", "Robin")

	data, err := json.Marshal(pe)
	if err != nil {
		t.Fatalf("unexpected error marshaling: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unexpected error unmarshaling: %v", err)
	}

	if result["code"] != "REMOTE_ACTION_FAILURE" {
		t.Errorf("expected code 'REMOTE_ACTION_FAILURE', got %v", result["code"])
	}
	if result["result_kind"] != "ArtifactsInventoryFull" {
		t.Errorf("expected result kind, got %v", result["result_kind"])
	}
	if result["recoverable"] != true {
		t.Errorf("expected recoverable true")
	}
}
