// Package config provides configuration management for the context pruning
// gateway. It handles loading and parsing the YAML configuration file and
// provides structured access to application settings including the listen
// port, upstream routing, redaction behavior, and pruning-analysis tunables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRedactionMarker replaces pruned tool-result content on the wire.
const DefaultRedactionMarker = "[Output removed to save context — superseded or no longer needed]"

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port" json:"port"`

	// UpstreamURL overrides upstream routing. When empty, the upstream is
	// chosen from the detected wire format.
	UpstreamURL string `yaml:"upstream-url,omitempty" json:"upstream-url,omitempty"`

	// ConverseUpstreamURL is the upstream for Converse-shaped requests,
	// which have no well-known public endpoint to auto-detect.
	ConverseUpstreamURL string `yaml:"converse-upstream-url,omitempty" json:"converse-upstream-url,omitempty"`

	// StateDir is where per-session prune state is persisted.
	StateDir string `yaml:"state-dir,omitempty" json:"state-dir,omitempty"`

	// RedactionMarker replaces pruned tool-result content.
	// Empty means the built-in default.
	RedactionMarker string `yaml:"redaction-marker,omitempty" json:"redaction-marker,omitempty"`

	// ProtectedTools lists tool names whose outputs are never pruned.
	// The prune-action tool itself is always protected.
	ProtectedTools []string `yaml:"protected-tools,omitempty" json:"protected-tools,omitempty"`

	// PruneNudge is an instruction line injected ahead of the prunable
	// listing. Empty disables the nudge.
	PruneNudge string `yaml:"prune-nudge,omitempty" json:"prune-nudge,omitempty"`

	// Analysis holds strategy-engine tunables.
	Analysis AnalysisConfig `yaml:"analysis,omitempty" json:"analysis,omitempty"`

	// Tokens holds token-estimation tunables.
	Tokens TokensConfig `yaml:"tokens,omitempty" json:"tokens,omitempty"`

	// Logging holds log output configuration.
	Logging LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`

	// Metrics toggles the Prometheus endpoint and collectors.
	Metrics MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// AnalysisConfig holds pruning-strategy tunables.
type AnalysisConfig struct {
	// RecentTurnsProtected exempts calls from the most recent N assistant
	// turns from pruning unconditionally. nil means default (3).
	RecentTurnsProtected *int `yaml:"recent-turns-protected,omitempty" json:"recent-turns-protected,omitempty"`

	// WriteTools lists tool names treated as write-class by the
	// supersede-writes strategy. Empty means the built-in set.
	WriteTools []string `yaml:"write-tools,omitempty" json:"write-tools,omitempty"`

	// ReadTools lists tool names treated as read-class by the
	// supersede-writes strategy. Empty means the built-in set.
	ReadTools []string `yaml:"read-tools,omitempty" json:"read-tools,omitempty"`
}

// TokensConfig holds token-estimation configuration.
type TokensConfig struct {
	// CharsPerToken is the fallback ratio used when the tokenizer
	// encoding is unavailable. nil means default (4).
	CharsPerToken *int `yaml:"chars-per-token,omitempty" json:"chars-per-token,omitempty"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	// Level is the logrus level name. Empty means "info".
	Level string `yaml:"level,omitempty" json:"level,omitempty"`

	// File enables rotated file output when set.
	File string `yaml:"file,omitempty" json:"file,omitempty"`
}

// MetricsConfig holds the Prometheus toggle.
type MetricsConfig struct {
	// Enabled toggles metrics collection. nil means default (true).
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{Port: 8317}
}

// Load reads and parses the YAML configuration file at path. A missing file
// yields the default configuration, not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Port <= 0 {
		cfg.Port = 8317
	}
	return cfg, nil
}

// GetRedactionMarker returns the redaction marker, defaulting to the built-in.
func (c *Config) GetRedactionMarker() string {
	if c == nil || strings.TrimSpace(c.RedactionMarker) == "" {
		return DefaultRedactionMarker
	}
	return c.RedactionMarker
}

// GetStateDir returns the state directory, defaulting to ~/.contextgate.
func (c *Config) GetStateDir() string {
	if c != nil && strings.TrimSpace(c.StateDir) != "" {
		return expandHome(c.StateDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contextgate"
	}
	return filepath.Join(home, ".contextgate")
}

// GetProtectedTools returns the protected tool set, lowercased. The
// prune-action tool is always included.
func (c *Config) GetProtectedTools() map[string]struct{} {
	names := []string{"task", "todowrite", "prune_context"}
	if c != nil {
		for _, n := range c.ProtectedTools {
			names = append(names, strings.ToLower(strings.TrimSpace(n)))
		}
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

// GetRecentTurnsProtected returns the recency floor, defaulting to 3.
func (a *AnalysisConfig) GetRecentTurnsProtected() int {
	if a == nil || a.RecentTurnsProtected == nil || *a.RecentTurnsProtected < 0 {
		return 3
	}
	return *a.RecentTurnsProtected
}

// GetWriteTools returns the write-class tool set, lowercased.
func (a *AnalysisConfig) GetWriteTools() map[string]struct{} {
	names := a.writeNames()
	return lowerSet(names)
}

// GetReadTools returns the read-class tool set, lowercased.
func (a *AnalysisConfig) GetReadTools() map[string]struct{} {
	names := []string{"read", "open", "cat", "view"}
	if a != nil && len(a.ReadTools) > 0 {
		names = a.ReadTools
	}
	return lowerSet(names)
}

func (a *AnalysisConfig) writeNames() []string {
	if a != nil && len(a.WriteTools) > 0 {
		return a.WriteTools
	}
	return []string{"write", "edit", "multiedit", "create_file", "str_replace_editor"}
}

// GetCharsPerToken returns the fallback estimation ratio, defaulting to 4.
func (t *TokensConfig) GetCharsPerToken() int {
	if t == nil || t.CharsPerToken == nil || *t.CharsPerToken <= 0 {
		return 4
	}
	return *t.CharsPerToken
}

// GetLevel returns the log level name, defaulting to "info".
func (l *LoggingConfig) GetLevel() string {
	if l == nil || strings.TrimSpace(l.Level) == "" {
		return "info"
	}
	return strings.ToLower(strings.TrimSpace(l.Level))
}

// IsEnabled returns whether metrics are enabled, defaulting to true.
func (m *MetricsConfig) IsEnabled() bool {
	if m == nil || m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

func lowerSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			out[n] = struct{}{}
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
