// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
)

func TestCharacterActionsRefreshState(t *testing.T) {
	expiry := time.Now().Add(3 * time.Second).UTC().Truncate(time.Second)
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastBody = nil
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&lastBody)
		}
		cd := map[string]any{"total_seconds": 3, "remaining_seconds": 3, "expiration": expiry}
		switch r.URL.Path {
		case "/my/Robin/action/move":
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cooldown": cd, "character": character("Robin", 4, 5)}})
		case "/my/Robin/action/gathering":
			ch := character("Robin", 4, 5)
			ch["inventory"] = []map[string]any{{"slot": 1, "code": "ash_wood", "quantity": 6}}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"cooldown":  cd,
				"details":   map[string]any{"xp": 5, "items": []map[string]any{{"code": "ash_wood", "quantity": 2}}},
				"character": ch,
			}})
		case "/my/Robin/action/bank/deposit":
			ch := character("Robin", 4, 5)
			ch["inventory"] = []map[string]any{{"slot": 1, "code": "", "quantity": 0}}
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cooldown": cd, "character": ch}})
		case "/my/Robin/action/rest":
			ch := character("Robin", 4, 5)
			ch["hp"] = 120
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"cooldown": cd, "hp_restored": 30, "character": ch}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	var initial CharacterData
	raw, _ := json.Marshal(character("Robin", 0, 0))
	if err := json.Unmarshal(raw, &initial); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ch := NewCharacter(client, initial, quietLogger())
	ctx := context.Background()

	if err := ch.Move(ctx, 4, 5); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if lastBody["x"] != float64(4) || lastBody["y"] != float64(5) {
		t.Fatalf("unexpected move body %v", lastBody)
	}
	st := ch.State()
	if st.Position != (core.Position{X: 4, Y: 5}) {
		t.Fatalf("position not refreshed: %+v", st.Position)
	}
	if !st.CooldownExpiration.Equal(expiry) {
		t.Fatalf("expected cooldown from the answer, got %s", st.CooldownExpiration)
	}

	if err := ch.Gather(ctx); err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if got := ch.State().ItemCount("ash_wood"); got != 6 {
		t.Fatalf("expected 6 ash_wood, got %d", got)
	}

	if err := ch.Deposit(ctx, "ash_wood", 6); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if lastBody["code"] != "ash_wood" || lastBody["quantity"] != float64(6) {
		t.Fatalf("unexpected deposit body %v", lastBody)
	}
	if got := ch.State().ItemCount("ash_wood"); got != 0 {
		t.Fatalf("expected empty stack after deposit, got %d", got)
	}

	if err := ch.Rest(ctx); err != nil {
		t.Fatalf("Rest: %v", err)
	}
	if hp := ch.State().Health.Current; hp != 120 {
		t.Fatalf("expected full health, got %d", hp)
	}
}

func TestCharacterFailureKeepsState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(StatusInventoryFull)
	}))
	defer srv.Close()

	ch := NewCharacter(newTestClient(t, srv), CharacterData{Name: "Robin", X: 2, Y: 3}, quietLogger())
	err := ch.Fight(context.Background())
	if errors.ResultKindOf(err) != core.ResultInventoryFull {
		t.Fatalf("expected inventory full, got %v", err)
	}
	if ch.State().Position != (core.Position{X: 2, Y: 3}) {
		t.Fatalf("failed action must not change the snapshot")
	}
}

func TestAnswerWithoutCharacterKeepsSnapshot(t *testing.T) {
	expiry := time.Now().Add(2 * time.Second).UTC().Truncate(time.Second)
	var (
		mu    sync.Mutex
		paths []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		n := len(paths)
		mu.Unlock()
		switch n {
		case 1:
			w.WriteHeader(http.StatusOK)
		case 2:
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
				"cooldown": map[string]any{"total_seconds": 2, "remaining_seconds": 2, "expiration": expiry},
			}})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"character": character("Robin", 1, 1)}})
		}
	}))
	defer srv.Close()

	ch := NewCharacter(newTestClient(t, srv), CharacterData{Name: "Robin", X: 2, Y: 3}, quietLogger())
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := ch.Rest(ctx); err != nil {
			t.Fatalf("Rest %d: %v", i+1, err)
		}
		if i == 1 {
			st := ch.State()
			if st.Position != (core.Position{X: 2, Y: 3}) {
				t.Fatalf("snapshot lost after an answer without character: %+v", st)
			}
			if !st.CooldownExpiration.Equal(expiry) {
				t.Fatalf("expected the cooldown of the answer, got %s", st.CooldownExpiration)
			}
		}
	}
	mu.Lock()
	defer mu.Unlock()
	for _, p := range paths {
		if p != "/my/Robin/action/rest" {
			t.Fatalf("unexpected path %q in %v", p, paths)
		}
	}
	if ch.Name() != "Robin" {
		t.Fatalf("name lost: %q", ch.Name())
	}
}

func TestFormatItems(t *testing.T) {
	if got := formatItems(nil); got != "no" {
		t.Errorf("got %q", got)
	}
	if got := formatItems([]Item{{Code: "egg", Quantity: 1}, {Code: "feather", Quantity: 2}}); got != "1 egg, 2 feather" {
		t.Errorf("got %q", got)
	}
}
