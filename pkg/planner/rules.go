// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"fmt"
	"strings"
)

// Rule is one entry of a character's ordered rule list.
type Rule struct {
	Name    string   `json:"name" yaml:"name" koanf:"name"`
	If      string   `json:"if,omitempty" yaml:"if,omitempty" koanf:"if"`
	While   string   `json:"while,omitempty" yaml:"while,omitempty" koanf:"while"`
	Do      []string `json:"do" yaml:"do" koanf:"do"`
	Cascade bool     `json:"cascade,omitempty" yaml:"cascade,omitempty" koanf:"cascade"`
}

// Unconditional reports whether the rule fires on every scan.
func (r Rule) Unconditional() bool {
	return strings.TrimSpace(r.If) == "" && strings.TrimSpace(r.While) == ""
}

// FailureRoute lists the action lines enqueued after a failure of one
// result kind.
type FailureRoute struct {
	Do []string `json:"do" yaml:"do" koanf:"do"`
}

// RuleSet is the rule configuration of a single character.
type RuleSet struct {
	Rules     []Rule                  `json:"actions" yaml:"actions" koanf:"actions"`
	OnFailure map[string]FailureRoute `json:"on_failure,omitempty" yaml:"on_failure,omitempty" koanf:"on_failure"`
}

// Route returns the failure route for kind, if any.
func (rs *RuleSet) Route(kind string) (FailureRoute, bool) {
	if rs == nil || rs.OnFailure == nil {
		return FailureRoute{}, false
	}
	route, ok := rs.OnFailure[kind]
	return route, ok
}

// Clone returns a deep copy so a running agent never shares slices with
// the configuration it was built from.
func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return &RuleSet{}
	}
	out := &RuleSet{Rules: make([]Rule, len(rs.Rules))}
	for i, r := range rs.Rules {
		r.Do = append([]string(nil), r.Do...)
		out.Rules[i] = r
	}
	if rs.OnFailure != nil {
		out.OnFailure = make(map[string]FailureRoute, len(rs.OnFailure))
		for kind, route := range rs.OnFailure {
			out.OnFailure[kind] = FailureRoute{Do: append([]string(nil), route.Do...)}
		}
	}
	return out
}

// Validate checks the structure of the rule set. Condition and action text
// is not interpreted here; see Lint.
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return fmt.Errorf("rule set is nil")
	}
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.Name == "" {
			r.Name = fmt.Sprintf("rule-%d", i+1)
		}
		if len(r.Do) == 0 {
			return fmt.Errorf("rule %q has no actions", r.Name)
		}
	}
	for kind := range rs.OnFailure {
		if strings.TrimSpace(kind) == "" {
			return fmt.Errorf("failure route with empty result kind")
		}
	}
	return nil
}

// Checker validates one condition or action line.
type Checker interface {
	Check(text string) error
}

// Finding is one problem reported by Lint.
type Finding struct {
	Rule  string
	Field string
	Text  string
	Err   error
}

func (f Finding) String() string {
	return fmt.Sprintf("%s.%s %q: %v", f.Rule, f.Field, f.Text, f.Err)
}

// Lint checks every condition with conditions and every action line with
// actions, returning all findings instead of stopping at the first.
func (rs *RuleSet) Lint(conditions, actions Checker) []Finding {
	var out []Finding
	check := func(c Checker, rule, field, text string) {
		if err := c.Check(text); err != nil {
			out = append(out, Finding{Rule: rule, Field: field, Text: text, Err: err})
		}
	}
	for _, r := range rs.Rules {
		if strings.TrimSpace(r.While) != "" {
			check(conditions, r.Name, "while", r.While)
		}
		if strings.TrimSpace(r.If) != "" {
			check(conditions, r.Name, "if", r.If)
		}
		for i, line := range r.Do {
			check(actions, r.Name, fmt.Sprintf("do[%d]", i), line)
		}
	}
	for kind, route := range rs.OnFailure {
		for i, line := range route.Do {
			check(actions, "on_failure."+kind, fmt.Sprintf("do[%d]", i), line)
		}
	}
	return out
}
