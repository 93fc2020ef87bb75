package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONConfigSuccessClient(t *testing.T) {
	path := writeTempClientConfig(t, `{"udplisten":":0","remoteaddr":"2.2.2.2:4000",
		"rules":[{"service":"web","listen":"127.0.0.1:8080","compress":true}],
		"udptimeout":800,"udpretries":5,"slidewindow":32}`)

	var cfg Config
	if err := parseJSONConfig(&cfg, path); err != nil {
		t.Fatalf("parseJSONConfig returned error: %v", err)
	}

	if cfg.RemoteAddr != "2.2.2.2:4000" || cfg.UDPTimeout != 800 || cfg.UDPRetries != 5 || cfg.SlideWindow != 32 {
		t.Fatalf("unexpected field values: %+v", cfg)
	}
	if len(cfg.Rules) != 1 || cfg.Rules[0].Service != "web" || !cfg.Rules[0].Compress {
		t.Fatalf("unexpected rules: %+v", cfg.Rules)
	}
}

func TestParseJSONConfigMissingFileClient(t *testing.T) {
	var cfg Config
	missing := filepath.Join(t.TempDir(), "missing.json")
	if err := parseJSONConfig(&cfg, missing); err == nil {
		t.Fatalf("parseJSONConfig expected error for missing file")
	}
}

func TestParseRuleFlag(t *testing.T) {
	spec, err := parseRuleFlag("service=web,listen=127.0.0.1:8080,compress")
	if err != nil {
		t.Fatalf("parseRuleFlag returned error: %v", err)
	}
	if spec.Service != "web" || spec.Listen != "127.0.0.1:8080" || !spec.Compress {
		t.Fatalf("unexpected rule spec: %+v", spec)
	}
}

func TestParseRuleFlagMissingField(t *testing.T) {
	if _, err := parseRuleFlag("service=web"); err == nil {
		t.Fatalf("expected error for rule missing listen=")
	}
}

func TestExpandRuleSpecsSinglePort(t *testing.T) {
	specs, err := expandRuleSpecs([]RuleSpec{{Service: "web", Listen: "127.0.0.1:8080"}})
	if err != nil {
		t.Fatalf("expandRuleSpecs returned error: %v", err)
	}
	if len(specs) != 1 || specs[0].Service != "web" || specs[0].Listen != "127.0.0.1:8080" {
		t.Fatalf("unexpected expansion: %+v", specs)
	}
}

func TestExpandRuleSpecsPortRange(t *testing.T) {
	specs, err := expandRuleSpecs([]RuleSpec{{Service: "web", Listen: "127.0.0.1:8080-8082", Compress: true}})
	if err != nil {
		t.Fatalf("expandRuleSpecs returned error: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 expanded rules, got %d: %+v", len(specs), specs)
	}
	wantServices := []string{"web-8080", "web-8081", "web-8082"}
	wantListens := []string{"127.0.0.1:8080", "127.0.0.1:8081", "127.0.0.1:8082"}
	for i, spec := range specs {
		if spec.Service != wantServices[i] || spec.Listen != wantListens[i] || !spec.Compress {
			t.Fatalf("expanded rule %d = %+v, want service=%s listen=%s", i, spec, wantServices[i], wantListens[i])
		}
	}
}

func TestExpandRuleSpecsInvalidRange(t *testing.T) {
	if _, err := expandRuleSpecs([]RuleSpec{{Service: "web", Listen: "127.0.0.1:bad"}}); err == nil {
		t.Fatalf("expected error for malformed listen=")
	}
}

func writeTempClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}
