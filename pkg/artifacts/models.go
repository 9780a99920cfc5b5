// SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"time"

	"github.com/jllopis/mmopilot/pkg/core"
)

// envelope is the {"data": ...} wrapper of every successful answer.
type envelope[T any] struct {
	Data T `json:"data"`
}

// apiError is the body of a rejected call.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CharacterData is a character as reported by the game API. Only the
// fields the rule engine reads or the log lines print are decoded.
type CharacterData struct {
	Name               string          `json:"name"`
	Account            string          `json:"account,omitempty"`
	Skin               string          `json:"skin"`
	Level              int             `json:"level"`
	XP                 int             `json:"xp"`
	MaxXP              int             `json:"max_xp"`
	Gold               int             `json:"gold"`
	HP                 int             `json:"hp"`
	MaxHP              int             `json:"max_hp"`
	X                  int             `json:"x"`
	Y                  int             `json:"y"`
	Cooldown           int             `json:"cooldown"`
	CooldownExpiration *time.Time      `json:"cooldown_expiration,omitempty"`
	InventoryMaxItems  int             `json:"inventory_max_items"`
	Inventory          []InventoryItem `json:"inventory"`
}

// InventoryItem is one inventory slot.
type InventoryItem struct {
	Slot     int    `json:"slot"`
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// State converts the API view into the snapshot the rule engine reads.
func (c CharacterData) State() core.AgentState {
	st := core.AgentState{
		Name:              c.Name,
		Skin:              c.Skin,
		Level:             c.Level,
		Position:          core.Position{X: c.X, Y: c.Y},
		Health:            core.Health{Current: c.HP, Max: c.MaxHP},
		InventoryCapacity: c.InventoryMaxItems,
		Inventory:         make([]core.InventorySlot, len(c.Inventory)),
	}
	for i, item := range c.Inventory {
		st.Inventory[i] = core.InventorySlot{Slot: item.Slot, Code: item.Code, Quantity: item.Quantity}
	}
	if c.CooldownExpiration != nil {
		st.CooldownExpiration = *c.CooldownExpiration
	}
	return st
}

// Cooldown describes the wait imposed by an action.
type Cooldown struct {
	TotalSeconds     int       `json:"total_seconds"`
	RemainingSeconds int       `json:"remaining_seconds"`
	StartedAt        time.Time `json:"started_at"`
	Expiration       time.Time `json:"expiration"`
	Reason           string    `json:"reason"`
}

// Item is a quantity of one item code.
type Item struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// Destination is the map tile reached by a move.
type Destination struct {
	Name    string `json:"name"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Content *struct {
		Type string `json:"type"`
		Code string `json:"code"`
	} `json:"content,omitempty"`
}

// Fight is the outcome of a fight.
type Fight struct {
	XP    int      `json:"xp"`
	Gold  int      `json:"gold"`
	Turns int      `json:"turns"`
	Drops []Item   `json:"drops,omitempty"`
	Logs  []string `json:"logs,omitempty"`
	// Result is "win" or "lose".
	Result string `json:"result"`
}

// Won reports whether the character won.
func (f Fight) Won() bool { return f.Result == "win" }

// SkillDetails lists the XP and items earned by gathering.
type SkillDetails struct {
	XP    int    `json:"xp"`
	Items []Item `json:"items"`
}

// actionResult is implemented by every action answer.
type actionResult interface {
	character() CharacterData
	cooldown() Cooldown
}

// MoveResponseData answers a move.
type MoveResponseData struct {
	Cooldown    Cooldown      `json:"cooldown"`
	Destination Destination   `json:"destination"`
	Character   CharacterData `json:"character"`
}

// FightData answers a fight.
type FightData struct {
	Cooldown  Cooldown      `json:"cooldown"`
	Fight     Fight         `json:"fight"`
	Character CharacterData `json:"character"`
}

// GatherData answers a gathering.
type GatherData struct {
	Cooldown  Cooldown      `json:"cooldown"`
	Details   SkillDetails  `json:"details"`
	Character CharacterData `json:"character"`
}

// RestData answers a rest.
type RestData struct {
	Cooldown   Cooldown      `json:"cooldown"`
	HPRestored int           `json:"hp_restored"`
	Character  CharacterData `json:"character"`
}

// BankItemData answers a bank deposit or withdrawal.
type BankItemData struct {
	Cooldown  Cooldown      `json:"cooldown"`
	Item      *Item         `json:"item,omitempty"`
	Character CharacterData `json:"character"`
}

// CraftItemData answers a crafting.
type CraftItemData struct {
	Cooldown  Cooldown      `json:"cooldown"`
	Details   SkillDetails  `json:"details"`
	Character CharacterData `json:"character"`
}

func (d *MoveResponseData) character() CharacterData { return d.Character }
func (d *MoveResponseData) cooldown() Cooldown       { return d.Cooldown }
func (d *FightData) character() CharacterData        { return d.Character }
func (d *FightData) cooldown() Cooldown              { return d.Cooldown }
func (d *GatherData) character() CharacterData       { return d.Character }
func (d *GatherData) cooldown() Cooldown             { return d.Cooldown }
func (d *RestData) character() CharacterData         { return d.Character }
func (d *RestData) cooldown() Cooldown               { return d.Cooldown }
func (d *BankItemData) character() CharacterData     { return d.Character }
func (d *BankItemData) cooldown() Cooldown           { return d.Cooldown }
func (d *CraftItemData) character() CharacterData    { return d.Character }
func (d *CraftItemData) cooldown() Cooldown          { return d.Cooldown }
