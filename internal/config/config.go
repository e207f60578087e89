package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models turnstile.yml.
type Config struct {
	Hub struct {
		URL string `yaml:"url"`
	} `yaml:"hub"`
	Terminal struct {
		Name string `yaml:"name"`
	} `yaml:"terminal"`
	Session struct {
		OrgID        string   `yaml:"org_id"`
		EventID      string   `yaml:"event_id"`
		BadgeTypeIDs []string `yaml:"badge_type_ids"`
	} `yaml:"session"`
	Sync struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sync"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
	Mockhub struct {
		Listen    string `yaml:"listen"`
		JWTSecret string `yaml:"jwt_secret"`
		Seed      int64  `yaml:"seed"`
	} `yaml:"mockhub"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ts config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Hub.URL == "" {
		return fmt.Errorf("config.hub.url is required")
	}
	if c.Sync.Interval < 0 {
		return fmt.Errorf("config.sync.interval must not be negative")
	}
	for i, id := range c.Session.BadgeTypeIDs {
		if id == "" {
			return fmt.Errorf("config.session.badge_type_ids[%d] is empty", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "turnstile.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(err)
	}
	return cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Interval returns the sync interval, falling back to the default.
func (c *Config) Interval() time.Duration {
	if c.Sync.Interval > 0 {
		return c.Sync.Interval
	}
	return 5 * time.Second
}

const defaultTemplate = `hub:
  url: http://127.0.0.1:8686

terminal:
  name: terminal-1

session:
  org_id: ""
  event_id: ""
  badge_type_ids: []

sync:
  interval: 5s

server:
  listen: 127.0.0.1:8787

mockhub:
  listen: 127.0.0.1:8686
  jwt_secret: dev-secret
  seed: 0
`
