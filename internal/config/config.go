// Package config loads duet settings from DUET_* environment variables.
// CLI flags default to these values and override them.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/duet/internal/compiler"
	"github.com/roach88/duet/internal/store"
)

// Config is the process configuration.
type Config struct {
	// StoreDriver selects the KV backend: sqlite, bolt, remote or memory.
	StoreDriver string `env:"DUET_STORE_DRIVER" envDefault:"sqlite"`
	// StorePath is the database file for sqlite and bolt.
	StorePath string `env:"DUET_STORE_PATH" envDefault:"duet.db"`

	// RelayAddr is the listen address of `duet relay`.
	RelayAddr string `env:"DUET_RELAY_ADDR" envDefault:":8787"`
	// RelayURL is the base URL clients use to reach a relay. The websocket
	// endpoint and the remote store are derived from it.
	RelayURL string `env:"DUET_RELAY_URL" envDefault:"http://localhost:8787"`

	Debounce time.Duration `env:"DUET_PRESENCE_DEBOUNCE" envDefault:"200ms"`
	LogLevel string        `env:"DUET_LOG_LEVEL" envDefault:"info"`

	Syntax SyntaxConfig
}

// SyntaxConfig overrides script markers. Empty values keep the defaults.
type SyntaxConfig struct {
	Scene       string `env:"DUET_SYNTAX_SCENE"`
	Ending      string `env:"DUET_SYNTAX_ENDING"`
	Choice      string `env:"DUET_SYNTAX_CHOICE"`
	EndingTitle string `env:"DUET_SYNTAX_ENDING_TITLE"`
	Title       string `env:"DUET_SYNTAX_TITLE"`
	Start       string `env:"DUET_SYNTAX_START"`
}

// Compiler converts the overrides to compiler markers.
func (s SyntaxConfig) Compiler() compiler.Syntax {
	return compiler.Syntax{
		Scene:       s.Scene,
		Ending:      s.Ending,
		Choice:      s.Choice,
		EndingTitle: s.EndingTitle,
		Title:       s.Title,
		Start:       s.Start,
	}
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch strings.ToLower(c.StoreDriver) {
	case store.DriverSQLite, store.DriverBolt:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("DUET_STORE_PATH is required for driver %q", c.StoreDriver)
		}
	case store.DriverRemote:
		if strings.TrimSpace(c.RelayURL) == "" {
			return fmt.Errorf("DUET_RELAY_URL is required for driver %q", c.StoreDriver)
		}
	case store.DriverMemory:
	default:
		return fmt.Errorf("unknown DUET_STORE_DRIVER %q", c.StoreDriver)
	}
	if c.Debounce < 0 {
		return fmt.Errorf("DUET_PRESENCE_DEBOUNCE must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// StoreTarget is the OpenBackend target for the configured driver.
func (c Config) StoreTarget() string {
	if strings.ToLower(c.StoreDriver) == store.DriverRemote {
		return c.RelayURL
	}
	return c.StorePath
}

// WebsocketURL derives the relay websocket endpoint from RelayURL.
func (c Config) WebsocketURL() string {
	u := strings.TrimRight(c.RelayURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("invalid DUET_LOG_LEVEL %q: %w", name, err)
	}
	return level, nil
}
