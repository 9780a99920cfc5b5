// SPDX-License-Identifier: Apache-2.0

package config

import (
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func settingsSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("mmopilot://settings.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("mmopilot://settings.json")
	})
	return schema, schemaErr
}

// ValidationError lists every problem found in the settings.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid settings:\n  " + strings.Join(e.Problems, "\n  ")
}

// Validate checks cfg against the settings schema and the rules the schema
// cannot express (unique character names).
func Validate(cfg *Config) error {
	s, err := settingsSchema()
	if err != nil {
		return fmt.Errorf("compile settings schema: %w", err)
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	var problems []string
	if err := s.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if !stderrors.As(err, &ve) {
			return err
		}
		problems = append(problems, leafProblems(ve)...)
	}

	seen := map[string]bool{}
	for i, ch := range cfg.Characters {
		if ch.Name != "" && seen[ch.Name] {
			problems = append(problems, fmt.Sprintf("/characters/%d/name: duplicate character %q", i, ch.Name))
		}
		seen[ch.Name] = true
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return &ValidationError{Problems: problems}
}

// leafProblems flattens the error tree to the innermost causes, one line per
// offending instance path.
func leafProblems(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafProblems(c)...)
	}
	return out
}
