package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Stemt/hexcaster/internal/detector"
	"github.com/Stemt/hexcaster/internal/loader"
)

const DefaultPath = "hexcaster.yaml"

type Config struct {
	Artifact     string         `yaml:"artifact"`
	Args         []string       `yaml:"args"`
	SymbolPrefix string         `yaml:"symbol_prefix"`
	Preload      []string       `yaml:"preload"`
	Detector     DetectorConfig `yaml:"detector"`
	Build        BuildConfig    `yaml:"build"`
	Events       EventsConfig   `yaml:"events"`
	Stats        StatsConfig    `yaml:"stats"`
}

type DetectorConfig struct {
	QuietPeriod  time.Duration `yaml:"quiet_period"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// BuildConfig describes the optional rebuild step. An empty Command runs
// the supervisor as a plain loader.
type BuildConfig struct {
	Command []string `yaml:"command"`
	// Dir is where Command runs. When set, a relative artifact or source
	// path is taken relative to Dir as well.
	Dir     string   `yaml:"dir"`
	Env     []string `yaml:"env"`
	Sources []string `yaml:"sources"`
}

type EventsConfig struct {
	Listen string `yaml:"listen"`
	// SendBuffer is the per-client queue length before a slow client is dropped.
	SendBuffer int `yaml:"send_buffer"`
}

type StatsConfig struct {
	Memory bool `yaml:"memory"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		SymbolPrefix: loader.DefaultSymbolPrefix,
		Detector: DetectorConfig{
			QuietPeriod:  detector.DefaultQuietPeriod,
			PollInterval: detector.DefaultPollInterval,
		},
		Events: EventsConfig{
			SendBuffer: 64,
		},
	}
}

// Load reads path on top of the defaults. It does not validate, so flags can
// still fill in missing fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// RebuildEnabled reports whether a build command is configured.
func (c *Config) RebuildEnabled() bool {
	return len(c.Build.Command) > 0
}

// Symbols returns the entry point names for the configured prefix.
func (c *Config) Symbols() loader.Symbols {
	return loader.SymbolsWithPrefix(c.SymbolPrefix)
}

// Validate normalizes and checks the configuration.
func (c *Config) Validate() error {
	c.Artifact = strings.TrimSpace(c.Artifact)
	if c.Artifact == "" {
		return errors.New("config: artifact is required")
	}
	if c.Detector.QuietPeriod <= 0 {
		c.Detector.QuietPeriod = detector.DefaultQuietPeriod
	}
	if c.Detector.PollInterval <= 0 {
		c.Detector.PollInterval = detector.DefaultPollInterval
	}
	if c.Detector.PollInterval > c.Detector.QuietPeriod {
		return fmt.Errorf("config: detector.poll_interval (%v) must not exceed detector.quiet_period (%v)",
			c.Detector.PollInterval, c.Detector.QuietPeriod)
	}
	if c.Events.SendBuffer <= 0 {
		c.Events.SendBuffer = 64
	}
	for i, arg := range c.Build.Command {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("config: build.command[%d] is empty", i)
		}
	}
	if c.RebuildEnabled() && len(c.Build.Sources) == 0 {
		return errors.New("config: build.sources is required when build.command is set")
	}
	if c.Build.Dir != "" {
		c.Artifact = resolve(c.Build.Dir, c.Artifact)
		for i, src := range c.Build.Sources {
			c.Build.Sources[i] = resolve(c.Build.Dir, src)
		}
	}
	return nil
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
