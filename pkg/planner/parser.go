// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

package planner

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParseJSON loads a rule set from JSON and validates it.
func ParseJSON(data []byte) (*RuleSet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON payload")
	}
	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse json rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ParseYAML loads a rule set from YAML and validates it.
func ParseYAML(data []byte) (*RuleSet, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty YAML payload")
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parse yaml rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// MarshalJSON serializes a rule set to JSON. Use pretty for indented output.
func MarshalJSON(rs *RuleSet, pretty bool) ([]byte, error) {
	if rs == nil {
		return nil, fmt.Errorf("rule set is nil")
	}
	if pretty {
		return json.MarshalIndent(rs, "", "  ")
	}
	return json.Marshal(rs)
}

// MarshalYAML serializes a rule set to YAML.
func MarshalYAML(rs *RuleSet) ([]byte, error) {
	if rs == nil {
		return nil, fmt.Errorf("rule set is nil")
	}
	return yaml.Marshal(rs)
}
