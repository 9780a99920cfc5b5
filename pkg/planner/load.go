// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadRules loads a rule set from a YAML or JSON file. Files without a
// known extension are sniffed.
func LoadRules(path string) (*RuleSet, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("rules path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return parseRulesAuto(data)
	}
}

func parseRulesAuto(data []byte) (*RuleSet, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		if rs, err := ParseJSON(data); err == nil {
			return rs, nil
		}
	}
	if rs, err := ParseYAML(data); err == nil {
		return rs, nil
	}
	if rs, err := ParseJSON(data); err == nil {
		return rs, nil
	}
	return nil, fmt.Errorf("unsupported rules format")
}
