package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"atelierdesk/internal/domain"
)

// Config models atelierdesk.yml.
type Config struct {
	Defaults struct {
		Priority string `yaml:"priority"`
		Nature   string `yaml:"nature"`
	} `yaml:"defaults"`
	Taxonomy TaxonomyConfig `yaml:"taxonomy"`
	Insights struct {
		Model     string `yaml:"model"`
		MaxOrders int    `yaml:"max_orders"`
	} `yaml:"insights"`
	Server struct {
		AccessKey string `yaml:"access_key"`
	} `yaml:"server"`
}

// TaxonomyConfig seeds the taxonomy blob on first run.
type TaxonomyConfig struct {
	Stages []struct {
		Name    string `yaml:"name"`
		Percent int    `yaml:"percent"`
		Color   string `yaml:"color"`
	} `yaml:"stages"`
	Sources []struct {
		Name       string  `yaml:"name"`
		FeePercent float64 `yaml:"fee_percent"`
	} `yaml:"sources"`
	ArtTypes     []string `yaml:"art_types"`
	PersonCounts []string `yaml:"person_counts"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run ad init or create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Defaults.Priority {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh:
	default:
		return fmt.Errorf("defaults.priority must be one of low, normal, high")
	}
	switch c.Defaults.Nature {
	case domain.NaturePersonal, domain.NatureCommercial:
	default:
		return fmt.Errorf("defaults.nature must be personal or commercial")
	}
	if len(c.Taxonomy.Stages) == 0 {
		return fmt.Errorf("taxonomy.stages is required")
	}
	seen := map[string]bool{}
	for _, s := range c.Taxonomy.Stages {
		if s.Name == "" {
			return fmt.Errorf("taxonomy.stages contains an empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate stage name %s", s.Name)
		}
		seen[s.Name] = true
		if s.Percent < 0 || s.Percent > 100 {
			return fmt.Errorf("stage %s percent must be in [0,100]", s.Name)
		}
	}
	seen = map[string]bool{}
	for _, s := range c.Taxonomy.Sources {
		if s.Name == "" {
			return fmt.Errorf("taxonomy.sources contains an empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %s", s.Name)
		}
		seen[s.Name] = true
		if s.FeePercent < 0 || s.FeePercent > 100 {
			return fmt.Errorf("source %s fee_percent must be in [0,100]", s.Name)
		}
	}
	if c.Insights.MaxOrders < 0 {
		return fmt.Errorf("insights.max_orders must not be negative")
	}
	return nil
}

// SeedTaxonomy converts the config taxonomy section into the domain shape.
func (c *Config) SeedTaxonomy() domain.Taxonomy {
	var t domain.Taxonomy
	for _, s := range c.Taxonomy.Stages {
		t.Stages = append(t.Stages, domain.Stage{Name: s.Name, Percent: s.Percent, Color: s.Color})
	}
	for _, s := range c.Taxonomy.Sources {
		t.Sources = append(t.Sources, domain.Source{Name: s.Name, FeePercent: s.FeePercent})
	}
	t.ArtTypes = append(t.ArtTypes, c.Taxonomy.ArtTypes...)
	t.PersonCounts = append(t.PersonCounts, c.Taxonomy.PersonCounts...)
	return t
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "atelierdesk.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `defaults:
  priority: normal
  nature: personal

taxonomy:
  stages:
    - name: Not Started
      percent: 0
      color: "#9ca3af"
    - name: Sketching
      percent: 25
      color: "#60a5fa"
    - name: Line Art
      percent: 50
      color: "#818cf8"
    - name: Coloring
      percent: 75
      color: "#f472b6"
    - name: Delivered
      percent: 100
      color: "#34d399"

  sources:
    - name: Direct
      fee_percent: 0
    - name: Skeb
      fee_percent: 10
    - name: Pixiv Requests
      fee_percent: 10
    - name: Fiverr
      fee_percent: 20

  art_types: [Icon, Half Body, Full Body, Illustration, Chibi]
  person_counts: ["1", "2", "3+"]

insights:
  model: gemini-2.0-flash
  max_orders: 50
`
