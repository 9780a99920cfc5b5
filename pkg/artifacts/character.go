// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jllopis/mmopilot/pkg/core"
)

// Character drives one character through a Client. It implements
// core.ActionClient: every successful action replaces the snapshot with the
// character returned by the API.
type Character struct {
	client *Client
	logger *slog.Logger

	mu   sync.RWMutex
	data CharacterData
}

// NewCharacter wraps data, as returned by GetCharacters.
func NewCharacter(client *Client, data CharacterData, logger *slog.Logger) *Character {
	if logger == nil {
		logger = slog.Default()
	}
	return &Character{
		client: client,
		logger: logger.With(slog.String("agent", data.Name)),
		data:   data,
	}
}

// Name implements core.ActionClient.
func (c *Character) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Name
}

// State implements core.StateSource.
func (c *Character) State() core.AgentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.State()
}

// apply stores the character returned with an action. An answer without a
// character keeps the previous snapshot and only takes the new cooldown.
func (c *Character) apply(res actionResult) {
	data := res.character()
	exp := res.cooldown().Expiration

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case data.Name == "":
		data = c.data
		if !exp.IsZero() {
			data.CooldownExpiration = &exp
		}
	case data.CooldownExpiration == nil && !exp.IsZero():
		data.CooldownExpiration = &exp
	}
	c.data = data
}

// Move implements core.ActionClient.
func (c *Character) Move(ctx context.Context, x, y int) error {
	res, err := c.client.Move(ctx, c.Name(), x, y)
	if err != nil {
		return err
	}
	c.apply(res)
	return nil
}

// Fight implements core.ActionClient.
func (c *Character) Fight(ctx context.Context) error {
	res, err := c.client.Fight(ctx, c.Name())
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, res.Fight.Result,
		slog.Int("xp", res.Fight.XP),
		slog.Int("gold", res.Fight.Gold),
		slog.Int("turns", res.Fight.Turns),
	)
	return nil
}

// Gather implements core.ActionClient.
func (c *Character) Gather(ctx context.Context) error {
	res, err := c.client.Gather(ctx, c.Name())
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, fmt.Sprintf("Gathered %s resources", formatItems(res.Details.Items)))
	return nil
}

// Rest implements core.ActionClient.
func (c *Character) Rest(ctx context.Context) error {
	res, err := c.client.Rest(ctx, c.Name())
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, fmt.Sprintf("Recovered %d health", res.HPRestored))
	return nil
}

// Deposit implements core.ActionClient.
func (c *Character) Deposit(ctx context.Context, code string, quantity int) error {
	res, err := c.client.Deposit(ctx, c.Name(), code, quantity)
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, fmt.Sprintf("Deposited %d %s", quantity, code))
	return nil
}

// Withdraw implements core.ActionClient.
func (c *Character) Withdraw(ctx context.Context, code string, quantity int) error {
	res, err := c.client.Withdraw(ctx, c.Name(), code, quantity)
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, fmt.Sprintf("Withdrew %d %s", quantity, code))
	return nil
}

// Craft implements core.ActionClient.
func (c *Character) Craft(ctx context.Context, code string, quantity int) error {
	res, err := c.client.Craft(ctx, c.Name(), code, quantity)
	if err != nil {
		return err
	}
	c.apply(res)
	c.logger.InfoContext(ctx, fmt.Sprintf("Crafted %d %s", quantity, code))
	return nil
}

func formatItems(items []Item) string {
	if len(items) == 0 {
		return "no"
	}
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%d %s", it.Quantity, it.Code)
	}
	return strings.Join(parts, ", ")
}

var _ core.ActionClient = (*Character)(nil)
