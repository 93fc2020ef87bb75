package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccessServer(t *testing.T) {
	path := writeTempServerConfig(t, `{"udplisten":":29900",
		"rules":[{"service":"web","target":"127.0.0.1:8080"}],
		"udptimeout":800,"udpretries":5,"slidewindow":32}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}
	if cfg.UDPListen != ":29900" || cfg.UDPTimeout != 800 || cfg.UDPRetries != 5 || cfg.SlideWindow != 32 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Service != "web" || cfg.Rules[0].Target != "127.0.0.1:8080" {
		t.Fatalf("unexpected rules: %+v", cfg.Rules)
	}
}

func TestParseJSONConfigMissingFileServer(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func TestParseRuleFlagServer(t *testing.T) {
	spec, err := parseRuleFlag("service=web,target=127.0.0.1:8080,compress")
	if err != nil {
		t.Fatalf("parseRuleFlag returned error: %v", err)
	}
	if spec.Service != "web" || spec.Target != "127.0.0.1:8080" || !spec.Compress {
		t.Fatalf("unexpected rule spec: %+v", spec)
	}
}

func TestParseRuleFlagMissingFieldServer(t *testing.T) {
	if _, err := parseRuleFlag("service=web"); err == nil {
		t.Fatalf("expected error for rule missing target=")
	}
}

func TestExpandRuleSpecsSinglePortServer(t *testing.T) {
	specs, err := expandRuleSpecs([]RuleSpec{{Service: "web", Target: "127.0.0.1:8080"}})
	if err != nil {
		t.Fatalf("expandRuleSpecs returned error: %v", err)
	}
	if len(specs) != 1 || specs[0].Service != "web" || specs[0].Target != "127.0.0.1:8080" {
		t.Fatalf("unexpected expansion: %+v", specs)
	}
}

func TestExpandRuleSpecsPortRangeServer(t *testing.T) {
	specs, err := expandRuleSpecs([]RuleSpec{{Service: "web", Target: "127.0.0.1:8080-8082"}})
	if err != nil {
		t.Fatalf("expandRuleSpecs returned error: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 expanded rules, got %d: %+v", len(specs), specs)
	}
	wantServices := []string{"web-8080", "web-8081", "web-8082"}
	wantTargets := []string{"127.0.0.1:8080", "127.0.0.1:8081", "127.0.0.1:8082"}
	for i, spec := range specs {
		if spec.Service != wantServices[i] || spec.Target != wantTargets[i] {
			t.Fatalf("expanded rule %d = %+v, want service=%s target=%s", i, spec, wantServices[i], wantTargets[i])
		}
	}
}

func TestExpandRuleSpecsInvalidRangeServer(t *testing.T) {
	if _, err := expandRuleSpecs([]RuleSpec{{Service: "web", Target: "127.0.0.1:bad"}}); err == nil {
		t.Fatalf("expected error for malformed target=")
	}
}

func writeTempServerConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
