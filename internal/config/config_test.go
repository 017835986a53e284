package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8317 {
		t.Errorf("Port = %d, want 8317", cfg.Port)
	}
	if cfg.GetRedactionMarker() != DefaultRedactionMarker {
		t.Errorf("unexpected marker %q", cfg.GetRedactionMarker())
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
port: 9000
upstream-url: "http://localhost:1234"
redaction-marker: "[gone]"
protected-tools:
  - MySpecialTool
analysis:
  recent-turns-protected: 5
  write-tools: [Write]
  read-tools: [Read]
tokens:
  chars-per-token: 3
logging:
  level: debug
metrics:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Errorf("Port = %d", cfg.Port)
	}
	if cfg.UpstreamURL != "http://localhost:1234" {
		t.Errorf("UpstreamURL = %q", cfg.UpstreamURL)
	}
	if cfg.GetRedactionMarker() != "[gone]" {
		t.Errorf("marker = %q", cfg.GetRedactionMarker())
	}
	if got := cfg.Analysis.GetRecentTurnsProtected(); got != 5 {
		t.Errorf("recency floor = %d, want 5", got)
	}
	if got := cfg.Tokens.GetCharsPerToken(); got != 3 {
		t.Errorf("chars-per-token = %d, want 3", got)
	}
	if cfg.Logging.GetLevel() != "debug" {
		t.Errorf("level = %q", cfg.Logging.GetLevel())
	}
	if cfg.Metrics.IsEnabled() {
		t.Error("metrics should be disabled")
	}
	if _, ok := cfg.GetProtectedTools()["myspecialtool"]; !ok {
		t.Error("custom protected tool missing")
	}
}

func TestProtectedToolsAlwaysIncludePruneAction(t *testing.T) {
	cfg := Default()
	set := cfg.GetProtectedTools()
	for _, name := range []string{"prune_context", "task", "todowrite"} {
		if _, ok := set[name]; !ok {
			t.Errorf("%s missing from protected set", name)
		}
	}
}

func TestDefaultsOnNil(t *testing.T) {
	var a *AnalysisConfig
	if a.GetRecentTurnsProtected() != 3 {
		t.Error("nil AnalysisConfig should default to 3")
	}
	var tk *TokensConfig
	if tk.GetCharsPerToken() != 4 {
		t.Error("nil TokensConfig should default to 4")
	}
	var m *MetricsConfig
	if !m.IsEnabled() {
		t.Error("nil MetricsConfig should default to enabled")
	}
}

func TestWriteReadToolSets(t *testing.T) {
	cfg := Default()
	writes := cfg.Analysis.GetWriteTools()
	if _, ok := writes["write"]; !ok {
		t.Error("default write set missing 'write'")
	}
	reads := cfg.Analysis.GetReadTools()
	if _, ok := reads["read"]; !ok {
		t.Error("default read set missing 'read'")
	}
}

func TestManagerSwap(t *testing.T) {
	m, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	if m.Current().Port != 8317 {
		t.Errorf("Port = %d", m.Current().Port)
	}
	m.Set(&Config{Port: 1})
	if m.Current().Port != 1 {
		t.Error("Set did not swap the active config")
	}
}
