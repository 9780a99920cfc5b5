// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jllopis/mmopilot/pkg/action"
	"github.com/jllopis/mmopilot/pkg/config"
	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/errors"
	"github.com/jllopis/mmopilot/pkg/eval"
	"github.com/jllopis/mmopilot/pkg/planner"
)

func (a *App) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the settings file and every rule",
		Long: `Check the settings file against its schema, then parse every rule
condition and action line of every character against an empty snapshot.
Every problem is listed; nothing is sent to the game.

Examples:
  mmopilot validate
  mmopilot validate -c bots/farm.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.validate()
		},
	}
}

// emptySnapshot is the state rules are linted against.
type emptySnapshot struct{ name string }

func (s emptySnapshot) State() core.AgentState { return core.AgentState{Name: s.name} }

func (a *App) validate() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return NewConfigError(err, a.configPath)
	}

	problems := 0
	for _, ch := range cfg.Characters {
		findings := lintCharacter(ch)
		if len(findings) == 0 {
			fmt.Fprintf(a.stdout, "✓ %s: %d rules\n", ch.Name, len(ch.Actions))
			continue
		}
		problems += len(findings)
		fmt.Fprintf(a.stdout, "✗ %s\n", ch.Name)
		for _, f := range findings {
			fmt.Fprintf(a.stdout, "    %s\n", f)
		}
	}
	if problems > 0 {
		return NewCLIError(
			errors.New(errors.CodeInvalidInput, fmt.Sprintf("%d rule problems found", problems), nil),
			"fix the listed conditions and action lines",
		)
	}
	fmt.Fprintf(a.stdout, "Settings %s are valid\n", a.configPath)
	return nil
}

func lintCharacter(ch config.CharacterConfig) []planner.Finding {
	rules := ch.RuleSet()
	resolver := eval.NewResolver(emptySnapshot{name: ch.Name})
	conditions := eval.NewEvaluator(resolver)
	actions := action.New(nil, action.WithResolver(resolver))
	return rules.Lint(conditions, actions)
}
