package tools

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Well-known job types. The registry is driven by config, so new types need
// no code change; these constants only name the tools shipped by default.
const (
	TypeMaxQuant    = "maxquant"
	TypeDIANN       = "diann"
	TypeSpectronaut = "spectronaut"
	TypeQuantMS     = "quantms"
	TypePipeline    = "pipeline"
)

// Spec describes one configured job type.
type Spec struct {
	Type            string   `yaml:"type"`
	Command         string   `yaml:"command"`
	Args            []string `yaml:"args"`
	RequiredDemands []string `yaml:"requiredDemands"`
	TotalSteps      int      `yaml:"totalSteps"`
	Simulate        bool     `yaml:"simulate"` // use the built-in simulator instead of Command
}

// Config is the tools.yaml document.
type Config struct {
	APIVersion string `yaml:"apiVersion"`
	Tools      []Spec `yaml:"tools"`
}

// LoadConfig reads and validates a tools config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tools config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tools config %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i, spec := range cfg.Tools {
		if spec.Type == "" {
			return nil, fmt.Errorf("tools[%d]: missing type", i)
		}
		if seen[spec.Type] {
			return nil, fmt.Errorf("tools[%d]: duplicate type %q", i, spec.Type)
		}
		seen[spec.Type] = true
		if !spec.Simulate && spec.Command == "" {
			return nil, fmt.Errorf("tools[%d] (%s): missing command", i, spec.Type)
		}
	}

	return &cfg, nil
}

// DefaultConfig returns a config with all known tool types in simulate mode.
// Used when no tools.yaml is supplied, so the dashboard works out of the box.
func DefaultConfig() *Config {
	types := []string{TypeMaxQuant, TypeDIANN, TypeSpectronaut, TypeQuantMS, TypePipeline}
	cfg := &Config{APIVersion: "v1"}
	for _, t := range types {
		cfg.Tools = append(cfg.Tools, Spec{Type: t, Simulate: true, TotalSteps: 4})
	}
	return cfg
}
