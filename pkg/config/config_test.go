package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jllopis/mmopilot/pkg/core"
	"github.com/jllopis/mmopilot/pkg/planner"
)

const sampleSettings = `
api:
  token: "abc"
log:
  level: debug
characters:
  - name: Robin
    actions:
      - name: heal
        if: "$player.hp < 50"
        do: ["rest"]
      - name: farm
        do: ["move 0 1", "fight"]
    on_failure:
      ArtifactsInventoryFull:
        do: ["move 4 1"]
`

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.URL != "https://api.artifactsmmo.com" {
		t.Errorf("unexpected api url %q", cfg.API.URL)
	}
	if cfg.Log.Format != "console" || cfg.Telemetry.Exporter != "none" || cfg.Audit.Driver != "memory" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Telemetry.TimeoutSeconds != 10 {
		t.Errorf("expected a 10s export timeout, got %d", cfg.Telemetry.TimeoutSeconds)
	}
	if cfg.Planner.MaxWhilePasses != planner.DefaultMaxWhilePasses {
		t.Errorf("expected default while guard, got %d", cfg.Planner.MaxWhilePasses)
	}
	if err := cfg.RequireToken(); err == nil {
		t.Errorf("expected missing token to be reported")
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeSettings(t, sampleSettings))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "abc" || cfg.Log.Level != "debug" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	ch, ok := cfg.Character("Robin")
	if !ok {
		t.Fatalf("character Robin not found")
	}
	rs := ch.RuleSet()
	if len(rs.Rules) != 2 || rs.Rules[0].If != "$player.hp < 50" || rs.Rules[1].Do[1] != "fight" {
		t.Fatalf("unexpected rules %+v", rs.Rules)
	}
	if route, ok := rs.Route(core.ResultInventoryFull); !ok || route.Do[0] != "move 4 1" {
		t.Fatalf("unexpected failure route %+v", rs.OnFailure)
	}
}

func TestLoadJSONSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	content := `{"api": {"token": "json-token"}, "characters": [{"name": "Marian", "actions": [{"do": ["gather"]}]}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "json-token" || len(cfg.Characters) != 1 || cfg.Characters[0].Actions[0].Do[0] != "gather" {
		t.Fatalf("unexpected settings %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MMOPILOT_API_TOKEN", "from-env")
	t.Setenv("MMOPILOT_PLANNER_MAX_WHILE_PASSES", "25")
	t.Setenv("MMOPILOT_LOG_FORMAT", "json")
	t.Setenv("MMOPILOT_TELEMETRY_TIMEOUT_SECONDS", "3")

	cfg, err := Load(writeSettings(t, sampleSettings))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "from-env" {
		t.Errorf("expected env token, got %q", cfg.API.Token)
	}
	if cfg.Planner.MaxWhilePasses != 25 {
		t.Errorf("expected 25 passes, got %d", cfg.Planner.MaxWhilePasses)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("expected json format, got %q", cfg.Log.Format)
	}
	if cfg.Telemetry.TimeoutSeconds != 3 {
		t.Errorf("expected export timeout 3, got %d", cfg.Telemetry.TimeoutSeconds)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	content := `
log:
  format: fancy
telemetry:
  exporter: zipkin
characters:
  - name: Robin
    actions:
      - name: empty
  - name: Robin
    actions:
      - do: ["fight"]
`
	_, err := Load(writeSettings(t, content))
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	joined := strings.Join(ve.Problems, "\n")
	for _, want := range []string{"/log/format", "/telemetry/exporter", "/characters/0/actions/0", "duplicate character"} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected a problem mentioning %q in:\n%s", want, joined)
		}
	}
}

func TestValidateSQLiteNeedsPath(t *testing.T) {
	cfg := Default()
	cfg.Audit = AuditConfig{Driver: "sqlite"}
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected sqlite without a path to be rejected")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	written, err := WriteDefault(path)
	if err != nil || !written {
		t.Fatalf("WriteDefault: written=%v err=%v", written, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("default settings must load: %v", err)
	}
	if len(cfg.Characters) != 1 || cfg.Characters[0].Name != "Character1" {
		t.Fatalf("unexpected default characters %+v", cfg.Characters)
	}

	if err := os.WriteFile(path, []byte("api:\n  token: keep\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	written, err = WriteDefault(path)
	if err != nil || written {
		t.Fatalf("existing settings must not be overwritten: written=%v err=%v", written, err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "keep") {
		t.Fatalf("settings were overwritten")
	}
}

func TestDiff(t *testing.T) {
	old := &Config{Characters: []CharacterConfig{
		{Name: "Robin", Actions: []planner.Rule{{Name: "farm", Do: []string{"fight"}}}},
		{Name: "Marian", Actions: []planner.Rule{{Name: "gather", Do: []string{"gather"}}}},
		{Name: "Tuck", Actions: []planner.Rule{{Name: "rest", Do: []string{"rest"}}}},
	}}
	next := &Config{Characters: []CharacterConfig{
		{Name: "Robin", Actions: []planner.Rule{{Name: "farm", Do: []string{"fight"}}}},
		{Name: "Marian", Actions: []planner.Rule{{Name: "gather", Do: []string{"gather", "rest"}}}},
		{Name: "John", Actions: []planner.Rule{{Name: "craft", Do: []string{"craft sword 1"}}}},
	}}

	d := Diff(old, next)
	if strings.Join(d.Added, ",") != "John" || strings.Join(d.Changed, ",") != "Marian" || strings.Join(d.Removed, ",") != "Tuck" {
		t.Fatalf("unexpected diff %+v", d)
	}
	if !Diff(next, next).Empty() {
		t.Fatalf("identical settings must produce an empty diff")
	}
}
