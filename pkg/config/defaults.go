package config

import (
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/planner"
)

// DefaultPath is the settings file used when none is given.
const DefaultPath = "settings.yaml"

// Default returns the sample settings written on first run.
func Default() *Config {
	return &Config{
		API: APIConfig{
			URL:            "https://api.artifactsmmo.com",
			TimeoutSeconds: 30,
			RateLimit:      10,
			Burst:          10,
		},
		Log:       LogConfig{Level: "info", Format: "console"},
		Telemetry: TelemetryConfig{Exporter: "none", Endpoint: "localhost:4317", Insecure: true, ServiceName: "mmopilot", TimeoutSeconds: 10},
		Audit:     AuditConfig{Driver: "memory", Path: "mmopilot-audit.db", MaxEvents: 10000},
		Planner:   PlannerConfig{MaxWhilePasses: planner.DefaultMaxWhilePasses},
		Characters: []CharacterConfig{{
			Name: "Character1",
			Actions: []planner.Rule{
				{Name: "heal", If: "$player.hp < 50", Do: []string{"rest"}},
				{Name: "bank", If: "$player.inventory.count >= 90", Do: []string{
					"move 4 1",
					"foreach $item in $player.inventory.items do deposit $item $player.inventory.$item.count",
				}},
				{Name: "farm", Do: []string{"move 0 1", "fight"}},
			},
			OnFailure: map[string]planner.FailureRoute{
				core.ResultInventoryFull: {Do: []string{
					"move 4 1",
					"foreach $item in $player.inventory.items do deposit $item $player.inventory.$item.count",
				}},
			},
		}},
	}
}

// WriteDefault writes the sample settings to path unless a file already
// exists there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("encode default settings: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, err
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return false, err
	}
	return true, nil
}
