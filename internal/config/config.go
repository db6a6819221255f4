package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"scopeline/internal/ledger"
)

// Config models scopeline.yml.
type Config struct {
	Calendar struct {
		WorkdayStart string `yaml:"workday_start"`
		WorkdayEnd   string `yaml:"workday_end"`
	} `yaml:"calendar"`
	Due struct {
		DeliveryDays int `yaml:"delivery_days"`
		PQADays      int `yaml:"pqa_days"`
	} `yaml:"due"`
	Sweep struct {
		IntervalMinutes int `yaml:"interval_minutes"`
	} `yaml:"sweep"`
	Roles map[string]Role `yaml:"roles"`
}

// Role grants a set of capabilities to its members. Capability checks are
// advisory inside guards; they are not the system's access-control layer.
type Role struct {
	Members      []string `yaml:"members"`
	Capabilities []string `yaml:"capabilities"`
}

// Window parses the configured working-day window.
func (c *Config) Window() (ledger.Window, error) {
	return ledger.ParseWindow(c.Calendar.WorkdayStart, c.Calendar.WorkdayEnd)
}

// Offsets returns the due-date derivation offsets.
func (c *Config) Offsets() ledger.Offsets {
	return ledger.Offsets{DeliveryDays: c.Due.DeliveryDays, PQADays: c.Due.PQADays}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if _, err := c.Window(); err != nil {
		return fmt.Errorf("config.calendar: %w", err)
	}
	if c.Due.DeliveryDays <= 0 {
		return fmt.Errorf("config.due.delivery_days must be positive")
	}
	if c.Due.PQADays <= 0 {
		return fmt.Errorf("config.due.pqa_days must be positive")
	}
	if c.Sweep.IntervalMinutes <= 0 {
		return fmt.Errorf("config.sweep.interval_minutes must be positive")
	}
	for name, role := range c.Roles {
		if name == "" {
			return fmt.Errorf("config.roles contains an empty role name")
		}
		for _, cap := range role.Capabilities {
			if cap == "" {
				return fmt.Errorf("role %s has an empty capability", name)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "scopeline.yml")
}

// Load reads and validates config from the workspace, falling back to the
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// GenerateDefault returns the default config YAML for `sl init`.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `calendar:
  workday_start: "09:00"
  workday_end: "17:30"

due:
  delivery_days: 7
  pqa_days: 5

sweep:
  interval_minutes: 5

roles:
  account_managers:
    members: []
    capabilities: [job.scope, job.watch]

  scope_approvers:
    members: []
    capabilities: [scope.signoff]

  principal_consultants:
    members: []
    capabilities: [scope.signoff, scope.signoff.own, qa.tech, qa.pres]

  qa_reviewers:
    members: []
    capabilities: [qa.tech, qa.pres]
`
