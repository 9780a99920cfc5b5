// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package eval implements the rule mini-language: typed values, the
// $player state-path resolver and the left-to-right condition evaluator.
package eval

import (
	"regexp"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindText
	// KindCoordinate is "x,y" text. It compares as text, not as a pair.
	KindCoordinate
	// KindCollection only results from resolving $player.inventory.items.
	KindCollection
)

// String returns the kind name used in fault messages.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindText:
		return "Text"
	case KindCoordinate:
		return "CoordinateText"
	case KindCollection:
		return "Collection"
	default:
		return "Unknown"
	}
}

// Item is a handle into a collection. Key is what foreach substitutes for
// its loop variable.
type Item struct {
	Key      string
	Quantity int
}

// Value is a tagged variant produced by the resolver.
type Value struct {
	kind  Kind
	b     bool
	i     int
	s     string
	items []Item
}

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int) Value { return Value{kind: KindInt, i: i} }

// Text wraps free text.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Coordinate wraps "x,y" text.
func Coordinate(s string) Value { return Value{kind: KindCoordinate, s: s} }

// Collection wraps a list of item handles.
func Collection(items []Item) Value { return Value{kind: KindCollection, items: items} }

// Kind reports the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Items returns the handles of a collection value, nil otherwise.
func (v Value) Items() []Item {
	if v.kind != KindCollection {
		return nil
	}
	return v.items
}

// String renders the value the way it would be written in a rule.
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.Itoa(v.i)
	case KindText, KindCoordinate:
		return v.s
	case KindCollection:
		keys := make([]string, len(v.items))
		for i, it := range v.items {
			keys[i] = it.Key
		}
		return "[" + strings.Join(keys, " ") + "]"
	default:
		return ""
	}
}

var coordinatePattern = regexp.MustCompile(`^-?\d+,-?\d+$`)

// Classify turns a literal token into a Value. The order matters: booleans
// first, then coordinates, then integers; anything else is text.
func Classify(literal string) Value {
	lower := strings.ToLower(literal)
	if lower == "true" {
		return Bool(true)
	}
	if lower == "false" {
		return Bool(false)
	}
	if coordinatePattern.MatchString(literal) {
		return Coordinate(literal)
	}
	if n, err := strconv.Atoi(literal); err == nil {
		return Int(n)
	}
	return Text(literal)
}
