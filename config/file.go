// Package config loads the dashctl configuration from a YAML file and,
// optionally, extra section definitions from the state database.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/dashctl/dbopen"
	"github.com/hazyhaar/dashctl/section"
	"github.com/hazyhaar/dashctl/theme"
)

// Surface kinds.
const (
	SurfaceHTML    = "html"
	SurfaceBrowser = "browser"
)

// Config is the top-level dashctl configuration.
type Config struct {
	Surface  SurfaceConfig     `yaml:"surface"`
	Sections []section.Section `yaml:"sections"`
	Initial  string            `yaml:"initial"`
	Database string            `yaml:"database"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Theme    ThemeConfig       `yaml:"theme"`
	Journal  JournalConfig     `yaml:"journal"`
	HTTP     HTTPConfig        `yaml:"http"`
	Hooks    []HookConfig      `yaml:"hooks"`
}

// SurfaceConfig selects and configures the rendering surface.
type SurfaceConfig struct {
	Kind     string   `yaml:"kind"` // html | browser
	HTMLFile string   `yaml:"html_file"`
	CSSFiles []string `yaml:"css_files"`

	URL             string        `yaml:"url"`
	Remote          string        `yaml:"remote"`
	Headful         bool          `yaml:"headful"`
	Stealth         bool          `yaml:"stealth"`
	BlockResources  []string      `yaml:"block_resources"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
}

// SQLiteConfig tunes the state database connection.
type SQLiteConfig struct {
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	Synchronous string        `yaml:"synchronous"` // OFF | NORMAL | FULL | EXTRA
}

type ThemeConfig struct {
	Attribute string `yaml:"attribute"`
}

type JournalConfig struct {
	Disabled bool `yaml:"disabled"`
	Buffer   int  `yaml:"buffer"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// HookConfig notifies an external data loader when a section is shown.
type HookConfig struct {
	Section    string        `yaml:"section"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Surface.Kind == "" {
		c.Surface.Kind = SurfaceHTML
	}
	if c.Surface.NavigateTimeout <= 0 {
		c.Surface.NavigateTimeout = 30 * time.Second
	}
	if c.Database == "" {
		c.Database = "dashctl.db"
	}
	if c.SQLite.BusyTimeout <= 0 {
		c.SQLite.BusyTimeout = 5 * time.Second
	}
	if c.SQLite.Synchronous == "" {
		c.SQLite.Synchronous = "NORMAL"
	}
	c.SQLite.Synchronous = strings.ToUpper(c.SQLite.Synchronous)
	if c.Theme.Attribute == "" {
		c.Theme.Attribute = theme.DefaultAttribute
	}
	if c.Journal.Buffer <= 0 {
		c.Journal.Buffer = 256
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8470"
	}
	for i := range c.Hooks {
		if c.Hooks[i].Timeout <= 0 {
			c.Hooks[i].Timeout = 10 * time.Second
		}
		if c.Hooks[i].MaxRetries <= 0 {
			c.Hooks[i].MaxRetries = 3
		}
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Surface.Kind {
	case SurfaceHTML:
		if c.Surface.HTMLFile == "" {
			errs = append(errs, errors.New("surface.html_file is required for kind html"))
		}
	case SurfaceBrowser:
		if c.Surface.URL == "" {
			errs = append(errs, errors.New("surface.url is required for kind browser"))
		}
	default:
		errs = append(errs, fmt.Errorf("surface.kind %q: want html or browser", c.Surface.Kind))
	}

	switch c.SQLite.Synchronous {
	case "OFF", "NORMAL", "FULL", "EXTRA":
	default:
		errs = append(errs, fmt.Errorf("sqlite.synchronous %q: want OFF, NORMAL, FULL or EXTRA", c.SQLite.Synchronous))
	}

	seen := make(map[string]bool, len(c.Sections))
	for i, s := range c.Sections {
		switch {
		case s.ID == "":
			errs = append(errs, fmt.Errorf("sections[%d]: id is required", i))
		case seen[s.ID]:
			errs = append(errs, fmt.Errorf("sections[%d]: duplicate id %q", i, s.ID))
		}
		seen[s.ID] = true
	}
	for i, h := range c.Hooks {
		if h.Section == "" || h.URL == "" {
			errs = append(errs, fmt.Errorf("hooks[%d]: section and url are required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// DBOptions returns the dbopen options for the state database.
func (c *Config) DBOptions() []dbopen.Option {
	return []dbopen.Option{
		dbopen.WithBusyTimeout(int(c.SQLite.BusyTimeout / time.Millisecond)),
		dbopen.WithSynchronous(c.SQLite.Synchronous),
	}
}
