// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package eval

import (
	"fmt"
	"strings"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
)

// Resolver turns tokens into values. Literal tokens are classified; tokens
// prefixed with '$' are read from the current snapshot of the source.
type Resolver struct {
	source core.StateSource
}

// NewResolver creates a resolver reading from source. The snapshot is taken
// on every Resolve call so conditions always see the latest state.
func NewResolver(source core.StateSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the typed value of token.
func (r *Resolver) Resolve(token string) (Value, error) {
	if !strings.HasPrefix(token, "$") {
		return Classify(token), nil
	}

	segments := strings.Split(token[1:], ".")
	if len(segments) < 2 {
		return Value{}, errors.NewUnsupportedPath(token, fmt.Sprintf("path %s has no property", token))
	}

	entity := strings.ToLower(segments[0])
	switch entity {
	case "player":
		return r.resolvePlayer(token, segments[1:])
	case "world":
		return Value{}, errors.NewUnsupportedPath(token, "world properties not implemented")
	default:
		return Value{}, errors.NewUnsupportedPath(token, fmt.Sprintf("unknown entity %s", segments[0]))
	}
}

func (r *Resolver) resolvePlayer(token string, props []string) (Value, error) {
	if r.source == nil {
		return Value{}, errors.NewUnsupportedPath(token, "no player state available")
	}
	state := r.source.State()

	unsupported := func() (Value, error) {
		return Value{}, errors.NewUnsupportedPath(token,
			fmt.Sprintf("property %s not supported for player", strings.Join(props, ".")))
	}

	switch strings.ToLower(props[0]) {
	case "hp":
		if len(props) != 1 {
			return unsupported()
		}
		return Int(state.Health.Current), nil
	case "position":
		if len(props) != 1 {
			return unsupported()
		}
		return Coordinate(state.Position.String()), nil
	case "level":
		if len(props) != 1 {
			return unsupported()
		}
		return Int(state.Level), nil
	case "inventory":
		return resolveInventory(state, props[1:], unsupported)
	}
	return unsupported()
}

func resolveInventory(state core.AgentState, props []string, unsupported func() (Value, error)) (Value, error) {
	switch len(props) {
	case 1:
		switch strings.ToLower(props[0]) {
		case "items":
			items := make([]Item, 0, len(state.Inventory))
			for _, slot := range state.Inventory {
				if slot.Quantity > 0 {
					items = append(items, Item{Key: slot.Code, Quantity: slot.Quantity})
				}
			}
			return Collection(items), nil
		case "count":
			return Int(state.TotalItems()), nil
		case "max":
			return Int(state.InventoryCapacity), nil
		}
	case 2:
		if strings.EqualFold(props[1], "count") {
			code := props[0]
			for _, slot := range state.Inventory {
				if strings.EqualFold(slot.Code, code) {
					return Int(slot.Quantity), nil
				}
			}
			return Int(0), nil
		}
	}
	return unsupported()
}

// ResolveAs resolves token and fails with a type mismatch unless the value
// holds T. Text and coordinate values both satisfy string.
func ResolveAs[T bool | int | string | []Item](r *Resolver, token string) (T, error) {
	var zero T
	v, err := r.Resolve(token)
	if err != nil {
		return zero, err
	}

	var out any
	switch any(zero).(type) {
	case bool:
		if v.kind == KindBool {
			out = v.b
		}
	case int:
		if v.kind == KindInt {
			out = v.i
		}
	case string:
		if v.kind == KindText || v.kind == KindCoordinate {
			out = v.s
		}
	case []Item:
		if v.kind == KindCollection {
			out = v.items
		}
	}
	if out == nil {
		return zero, errors.NewTypeMismatch(token, fmt.Sprintf("%T", zero), v.kind.String())
	}
	return out.(T), nil
}
