// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"fmt"
	"time"
)

// Position is a map coordinate.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String renders the position as "x,y", the form used by conditions.
func (p Position) String() string {
	return fmt.Sprintf("%d,%d", p.X, p.Y)
}

// Health is the current and maximum hit points of a character.
type Health struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// InventorySlot is one stack of items carried by a character.
type InventorySlot struct {
	Slot     int    `json:"slot"`
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// AgentState is a read-only snapshot of a character as last reported by the
// game API. The core never mutates it; the game client replaces it after
// every successful action.
type AgentState struct {
	Name               string          `json:"name"`
	Skin               string          `json:"skin,omitempty"`
	Level              int             `json:"level"`
	Position           Position        `json:"position"`
	Health             Health          `json:"health"`
	Inventory          []InventorySlot `json:"inventory"`
	InventoryCapacity  int             `json:"inventory_capacity"`
	CooldownExpiration time.Time       `json:"cooldown_expiration,omitempty"`
}

// ItemCount returns the quantity carried for code, or 0 when absent.
func (s AgentState) ItemCount(code string) int {
	for _, slot := range s.Inventory {
		if slot.Code == code {
			return slot.Quantity
		}
	}
	return 0
}

// TotalItems sums the quantities of every inventory slot.
func (s AgentState) TotalItems() int {
	total := 0
	for _, slot := range s.Inventory {
		total += slot.Quantity
	}
	return total
}

// Clone returns a deep copy so callers can hand snapshots across goroutines.
func (s AgentState) Clone() AgentState {
	out := s
	if s.Inventory != nil {
		out.Inventory = make([]InventorySlot, len(s.Inventory))
		copy(out.Inventory, s.Inventory)
	}
	return out
}
