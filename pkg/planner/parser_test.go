package planner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
actions:
  - name: heal
    if: $player.hp < 50
    do:
      - rest
  - name: farm
    while: $player.inventory.count < $player.inventory.max
    cascade: true
    do:
      - move 1 0
      - fight
on_failure:
  ArtifactsInventoryFull:
    do:
      - move 4 1
      - foreach $item in $player.inventory.items do deposit $item $player.inventory.$item.count
`

func TestParseYAML(t *testing.T) {
	rs, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rs.Rules))
	}
	if !rs.Rules[1].Cascade || rs.Rules[1].While == "" {
		t.Fatalf("unexpected farm rule: %+v", rs.Rules[1])
	}
	route, ok := rs.Route("ArtifactsInventoryFull")
	if !ok || len(route.Do) != 2 {
		t.Fatalf("unexpected failure route: %+v", route)
	}
}

func TestParseJSON(t *testing.T) {
	payload := []byte(`{
  "actions": [
    {"do": ["fight"]},
    {"name": "rest", "if": "$player.hp < 10", "do": ["rest"]}
  ]
}`)
	rs, err := ParseJSON(payload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if rs.Rules[0].Name != "rule-1" {
		t.Fatalf("expected generated name, got %q", rs.Rules[0].Name)
	}
	if !rs.Rules[0].Unconditional() || rs.Rules[1].Unconditional() {
		t.Fatalf("unexpected unconditional flags")
	}
}

func TestValidateRejectsEmptyRule(t *testing.T) {
	if _, err := ParseJSON([]byte(`{"actions":[{"name":"x","do":[]}]}`)); err == nil {
		t.Fatalf("expected error for rule without actions")
	}
	if _, err := ParseYAML(nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rs, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	jsonPayload, err := MarshalJSON(rs, true)
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	back, err := ParseJSON(jsonPayload)
	if err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if back.Rules[1].While != rs.Rules[1].While {
		t.Fatalf("json round-trip mismatch: %q", back.Rules[1].While)
	}

	yamlPayload, err := MarshalYAML(rs)
	if err != nil {
		t.Fatalf("marshal yaml: %v", err)
	}
	if _, err := ParseYAML(yamlPayload); err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
}

func TestLoadRules(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "robin.rules")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	rs, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rs.Rules[0].Name != "heal" {
		t.Fatalf("unexpected first rule %q", rs.Rules[0].Name)
	}
	if _, err := LoadRules(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

type checkFunc func(string) error

func (f checkFunc) Check(text string) error { return f(text) }

func TestLint(t *testing.T) {
	rs, err := ParseYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse yaml: %v", err)
	}
	rejectFight := checkFunc(func(line string) error {
		if strings.HasPrefix(line, "fight") {
			return os.ErrInvalid
		}
		return nil
	})
	acceptAll := checkFunc(func(string) error { return nil })

	findings := rs.Lint(acceptAll, rejectFight)
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %v", findings)
	}
	if findings[0].Rule != "farm" || findings[0].Field != "do[1]" {
		t.Fatalf("unexpected finding %s", findings[0])
	}
}

func TestCloneIsDeep(t *testing.T) {
	rs, _ := ParseYAML([]byte(sampleYAML))
	cp := rs.Clone()
	cp.Rules[0].Do[0] = "fight"
	cp.OnFailure["ArtifactsInventoryFull"].Do[0] = "rest"
	if rs.Rules[0].Do[0] != "rest" || rs.OnFailure["ArtifactsInventoryFull"].Do[0] != "move 4 1" {
		t.Fatalf("clone shares storage with the original")
	}
}
