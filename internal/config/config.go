// Package config loads the coordination core's tunables from a single
// YAML file: watchdog thresholds, the mail-check debounce window, and
// custom broadcast groups. The mail auto-nudge policy is fixed in
// internal/mail and is not configurable here. Unlike the session and mail
// records, which live in the embedded store, configuration is a small,
// rarely changed file an operator edits by hand.
package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v2"

	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/watchdog"
)

// Config is the top-level coordination-core configuration.
type Config struct {
	Watchdog WatchdogConfig      `yaml:"watchdog"`
	Mail     MailConfig          `yaml:"mail"`
	Groups   map[string][]string `yaml:"groups"`
}

// WatchdogConfig maps directly onto watchdog.Thresholds plus the tick
// interval, which the thresholds type itself doesn't carry.
type WatchdogConfig struct {
	IntervalMs      int64 `yaml:"intervalMs"`
	StaleMs         int64 `yaml:"staleMs"`
	ZombieMs        int64 `yaml:"zombieMs"`
	NudgeIntervalMs int64 `yaml:"nudgeIntervalMs"`
	TriageEnabled   bool  `yaml:"triageEnabled"`
}

// MailConfig controls the mail-check debounce window.
type MailConfig struct {
	DebounceWindowMs int64 `yaml:"debounceWindowMs"`
}

// Default returns the configuration a fresh deployment uses absent a
// config file on disk.
func Default() *Config {
	th := watchdog.DefaultThresholds()
	return &Config{
		Watchdog: WatchdogConfig{
			IntervalMs:      30_000,
			StaleMs:         th.StaleMs,
			ZombieMs:        th.ZombieMs,
			NudgeIntervalMs: th.NudgeIntervalMs,
			TriageEnabled:   false,
		},
		Mail: MailConfig{DebounceWindowMs: 60_000},
	}
}

// Load reads and parses the YAML config at path. A missing file is not an
// error: Load returns Default() so a fresh deployment works with zero
// configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants the watchdog and mail store rely on.
func (c *Config) Validate() error {
	if c.Watchdog.ZombieMs <= c.Watchdog.StaleMs {
		return fmt.Errorf("config: watchdog.zombieMs (%d) must be greater than watchdog.staleMs (%d)",
			c.Watchdog.ZombieMs, c.Watchdog.StaleMs)
	}
	if c.Watchdog.StaleMs <= 0 {
		return fmt.Errorf("config: watchdog.staleMs must be positive")
	}
	if c.Watchdog.NudgeIntervalMs <= 0 {
		return fmt.Errorf("config: watchdog.nudgeIntervalMs must be positive")
	}
	if c.Watchdog.IntervalMs <= 0 {
		return fmt.Errorf("config: watchdog.intervalMs must be positive")
	}
	return nil
}

// Thresholds projects the watchdog section onto watchdog.Thresholds.
func (c *Config) Thresholds() watchdog.Thresholds {
	return watchdog.Thresholds{
		StaleMs:         c.Watchdog.StaleMs,
		ZombieMs:        c.Watchdog.ZombieMs,
		NudgeIntervalMs: c.Watchdog.NudgeIntervalMs,
	}
}

// staticGroupResolver adapts the configured groups map to
// mail.GroupResolver, letting an operator define custom broadcast groups
// (beyond the built-in "@workers"/"@all") without a code change.
type staticGroupResolver struct {
	fallback mail.GroupResolver
	groups   map[string][]string
}

// GroupResolver builds a mail.GroupResolver that checks the configured
// custom groups first, falling back to the default "@workers"/"@all"
// resolution for anything not explicitly configured.
func (c *Config) GroupResolver() mail.GroupResolver {
	return staticGroupResolver{
		fallback: mail.NewDefaultGroupResolver(),
		groups:   c.Groups,
	}
}

// Resolve implements mail.GroupResolver.
func (r staticGroupResolver) Resolve(group string, active []mail.ActiveAgent, from string) []string {
	if members, ok := r.groups[group]; ok {
		out := make([]string, 0, len(members))
		for _, m := range members {
			if m != from {
				out = append(out, m)
			}
		}
		return out
	}
	return r.fallback.Resolve(group, active, from)
}
