// Package config loads the seqbrowse server configuration: built-in
// defaults, then an optional YAML file, then SEQBROWSE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/seqbrowse/browser"
	"github.com/hazyhaar/seqbrowse/mirror"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SEQBROWSE_"

// Config is the top-level server configuration.
type Config struct {
	Addr           string `yaml:"addr" env:"ADDR"`
	DBPath         string `yaml:"db_path" env:"DB_PATH"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"` // debug | info | warn | error
	MaxConnections int    `yaml:"max_connections" env:"MAX_CONNECTIONS"`
	// APITokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	APITokenHash string `yaml:"api_token_hash" env:"API_TOKEN_HASH"`
	MaxSessions  int    `yaml:"max_sessions" env:"MAX_SESSIONS"`
	// RateLimit caps HTTP requests per client IP per minute. Zero disables.
	RateLimit int `yaml:"rate_limit" env:"RATE_LIMIT"`
	// TrustProxy reads client IPs from forwarding headers.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY"`
	// MCPStdio serves the MCP tools on stdin/stdout; logs move to stderr.
	MCPStdio bool `yaml:"mcp_stdio" env:"MCP_STDIO"`

	Playback PlaybackConfig `yaml:"playback" envPrefix:"PLAYBACK_"`
	Mirror   MirrorConfig   `yaml:"mirror" envPrefix:"MIRROR_"`
	Journal  JournalConfig  `yaml:"journal" envPrefix:"JOURNAL_"`
}

// PlaybackConfig holds defaults for new sessions and the clock.
type PlaybackConfig struct {
	RateFPS      float64       `yaml:"rate_fps" env:"RATE_FPS"`
	Looped       bool          `yaml:"looped" env:"LOOPED"`
	ItemSkipping bool          `yaml:"item_skipping" env:"ITEM_SKIPPING"`
	Resolution   time.Duration `yaml:"resolution" env:"RESOLUTION"`
}

// MirrorConfig configures the shared synchronizer.
type MirrorConfig struct {
	ClearOnDeselect    bool   `yaml:"clear_on_deselect" env:"CLEAR_ON_DESELECT"`
	RenameMode         string `yaml:"rename_mode" env:"RENAME_MODE"` // replace_event | clear_then_set
	OverwriteProxyName bool   `yaml:"overwrite_proxy_name" env:"OVERWRITE_PROXY_NAME"`
}

// JournalConfig tunes the sync journal writer.
type JournalConfig struct {
	BufferSize    int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:           ":8420",
		DBPath:         "var/seqbrowse.db",
		LogLevel:       "info",
		MaxConnections: 256,
		MaxSessions:    64,
		Playback: PlaybackConfig{
			RateFPS:      10,
			Looped:       true,
			ItemSkipping: true,
			Resolution:   10 * time.Millisecond,
		},
		Mirror: MirrorConfig{RenameMode: "replace_event"},
		Journal: JournalConfig{
			BufferSize:    1000,
			FlushInterval: time.Second,
		},
	}
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := mirror.ParseRenameMode(c.Mirror.RenameMode); err != nil {
		errs = append(errs, err)
	}
	if !(c.Playback.RateFPS > 0) || c.Playback.RateFPS > browser.MaxRateFPS {
		errs = append(errs, fmt.Errorf("config: playback.rate_fps must be in (0, %d], got %v", browser.MaxRateFPS, c.Playback.RateFPS))
	}
	if c.MaxSessions <= 0 {
		errs = append(errs, fmt.Errorf("config: max_sessions must be positive, got %d", c.MaxSessions))
	}
	if c.Addr == "" {
		errs = append(errs, errors.New("config: addr is required"))
	}
	return errors.Join(errs...)
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("config: unknown log_level %q", c.LogLevel)
}

// MirrorOptions converts the mirror section.
func (c *Config) MirrorOptions(logger *slog.Logger) mirror.Options {
	mode, _ := mirror.ParseRenameMode(c.Mirror.RenameMode)
	return mirror.Options{
		Logger:             logger,
		RenameMode:         mode,
		ClearOnDeselect:    c.Mirror.ClearOnDeselect,
		OverwriteProxyName: c.Mirror.OverwriteProxyName,
	}
}
