// Copyright 2026 © The mmopilot Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads mmopilot settings: defaults, then the settings file,
// then MMOPILOT_ environment variables, validated against an embedded JSON
// Schema.
package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/mmopilot/pkg/planner"
)

// EnvPrefix prefixes every environment override. MMOPILOT_API_TOKEN sets
// api.token; only the first underscore after the section separates levels,
// so MMOPILOT_PLANNER_MAX_WHILE_PASSES sets planner.max_while_passes.
const EnvPrefix = "MMOPILOT_"

type Config struct {
	API        APIConfig         `koanf:"api" yaml:"api" json:"api"`
	Log        LogConfig         `koanf:"log" yaml:"log" json:"log"`
	Telemetry  TelemetryConfig   `koanf:"telemetry" yaml:"telemetry" json:"telemetry"`
	Audit      AuditConfig       `koanf:"audit" yaml:"audit" json:"audit"`
	Control    ControlConfig     `koanf:"control" yaml:"control" json:"control"`
	Planner    PlannerConfig     `koanf:"planner" yaml:"planner" json:"planner"`
	Characters []CharacterConfig `koanf:"characters" yaml:"characters" json:"characters"`
}

type APIConfig struct {
	URL            string `koanf:"url" yaml:"url" json:"url"`
	Token          string `koanf:"token" yaml:"token" json:"token"`
	TimeoutSeconds int    `koanf:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	// RateLimit is the number of requests per second allowed per character.
	RateLimit int `koanf:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst     int `koanf:"burst" yaml:"burst" json:"burst"`
}

type LogConfig struct {
	Level  string `koanf:"level" yaml:"level" json:"level"`
	Format string `koanf:"format" yaml:"format" json:"format"` // console, text, json
}

type TelemetryConfig struct {
	Exporter       string `koanf:"exporter" yaml:"exporter" json:"exporter"` // none, stdout, otlp
	Endpoint       string `koanf:"endpoint" yaml:"endpoint" json:"endpoint"`
	Insecure       bool   `koanf:"insecure" yaml:"insecure" json:"insecure"`
	ServiceName    string `koanf:"service_name" yaml:"service_name" json:"service_name"`
	TimeoutSeconds int    `koanf:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"` // per OTLP export, 0 keeps the exporter default
}

type AuditConfig struct {
	Driver    string `koanf:"driver" yaml:"driver" json:"driver"` // memory, sqlite
	Path      string `koanf:"path" yaml:"path" json:"path"`
	MaxEvents int    `koanf:"max_events" yaml:"max_events" json:"max_events"`
	// RetentionHours drops audit events older than this many hours. Zero
	// keeps everything.
	RetentionHours int `koanf:"retention_hours" yaml:"retention_hours" json:"retention_hours"`
}

type ControlConfig struct {
	MCP bool `koanf:"mcp" yaml:"mcp" json:"mcp"`
}

type PlannerConfig struct {
	MaxWhilePasses int `koanf:"max_while_passes" yaml:"max_while_passes" json:"max_while_passes"`
}

// CharacterConfig is the rule set of one character.
type CharacterConfig struct {
	Name      string                          `koanf:"name" yaml:"name" json:"name"`
	Actions   []planner.Rule                  `koanf:"actions" yaml:"actions" json:"actions"`
	OnFailure map[string]planner.FailureRoute `koanf:"on_failure" yaml:"on_failure,omitempty" json:"on_failure,omitempty"`
}

// RuleSet returns the character rules as a planner rule set.
func (c CharacterConfig) RuleSet() *planner.RuleSet {
	rs := &planner.RuleSet{Rules: c.Actions, OnFailure: c.OnFailure}
	return rs.Clone()
}

// Character returns the configuration of name.
func (c *Config) Character(name string) (CharacterConfig, bool) {
	for _, ch := range c.Characters {
		if ch.Name == name {
			return ch, true
		}
	}
	return CharacterConfig{}, false
}

// RequireToken fails when no API token is configured.
func (c *Config) RequireToken() error {
	if strings.TrimSpace(c.API.Token) == "" {
		return fmt.Errorf("api token is not set: add api.token to the settings file or export %sAPI_TOKEN", EnvPrefix)
	}
	return nil
}

func setDefaults(k *koanf.Koanf) {
	k.Set("api.url", "https://api.artifactsmmo.com")
	k.Set("api.timeout_seconds", 30)
	k.Set("api.rate_limit", 10)
	k.Set("api.burst", 10)

	k.Set("log.level", "info")
	k.Set("log.format", "console")

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.endpoint", "localhost:4317")
	k.Set("telemetry.insecure", true)
	k.Set("telemetry.service_name", "mmopilot")
	k.Set("telemetry.timeout_seconds", 10)

	k.Set("audit.driver", "memory")
	k.Set("audit.path", "mmopilot-audit.db")
	k.Set("audit.max_events", 10000)
	k.Set("audit.retention_hours", 0)

	k.Set("control.mcp", false)
	k.Set("planner.max_while_passes", planner.DefaultMaxWhilePasses)
}

// Load reads defaults, the settings file at path (YAML or JSON) when path is
// not empty, and MMOPILOT_ environment overrides. The merged result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	if path != "" {
		// JSON is a subset of YAML, so settings.json loads through the same parser.
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	return strings.Replace(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".", 1)
}

// Changes lists the characters whose rules differ between two settings.
type Changes struct {
	Added   []string
	Changed []string
	Removed []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Added) == 0 && len(c.Changed) == 0 && len(c.Removed) == 0
}

// Diff compares the character sections of old and next.
func Diff(old, next *Config) Changes {
	var out Changes
	before := map[string]CharacterConfig{}
	if old != nil {
		for _, ch := range old.Characters {
			before[ch.Name] = ch
		}
	}
	seen := map[string]bool{}
	for _, ch := range next.Characters {
		seen[ch.Name] = true
		prev, ok := before[ch.Name]
		switch {
		case !ok:
			out.Added = append(out.Added, ch.Name)
		case !reflect.DeepEqual(prev.RuleSet(), ch.RuleSet()):
			out.Changed = append(out.Changed, ch.Name)
		}
	}
	for name := range before {
		if !seen[name] {
			out.Removed = append(out.Removed, name)
		}
	}
	sort.Strings(out.Removed)
	return out
}
