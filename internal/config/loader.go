package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read by Load.
const (
	EnvPrefix     = "RACEFEED_"
	EnvConfigPath = "RACEFEED_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if RACEFEED_CONFIG is set
//  3. env (prefix RACEFEED_)
func Load(ctx context.Context) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfigPath))
}

// LoadFile is Load with an explicit file path. An empty path skips the file layer.
func LoadFile(ctx context.Context, path string) (*Config, error) {
	base := New(ctx)

	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// RACEFEED_POLL_ACTIVE_SECONDS -> poll_active_seconds (flat keys).
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate(_ context.Context) error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Timezone, err)
	}
	positive := []struct {
		name string
		v    int
	}{
		{"fetch_timeout_ms", c.FetchTimeoutMS},
		{"poll_active_seconds", c.PollActiveSeconds},
		{"poll_recent_seconds", c.PollRecentSeconds},
		{"poll_dormant_seconds", c.PollDormantSeconds},
		{"poll_default_seconds", c.PollDefaultSeconds},
		{"active_window_hours", c.ActiveWindowHours},
		{"recent_window_hours", c.RecentWindowHours},
		{"batch_window_ms", c.BatchWindowMS},
		{"subscriber_buffer", c.SubscriberBuffer},
		{"error_log_dedupe_size", c.ErrorLogDedupeSize},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, p.name, p.v)
		}
	}
	if c.MaxPageBytes <= 0 {
		return fmt.Errorf("%w: max_page_bytes must be positive, got %d", ErrInvalidConfig, c.MaxPageBytes)
	}
	if c.ReplayHistory < 0 {
		return fmt.Errorf("%w: replay_history must not be negative", ErrInvalidConfig)
	}
	if c.RecentWindowHours < c.ActiveWindowHours {
		return fmt.Errorf("%w: recent_window_hours must not be below active_window_hours", ErrInvalidConfig)
	}

	seen := make(map[string]struct{}, len(c.Events))
	for i, e := range c.Events {
		if e.ID == "" {
			return fmt.Errorf("%w: events[%d]: id must not be empty", ErrInvalidConfig, i)
		}
		if e.URL == "" {
			return fmt.Errorf("%w: events[%d] %s: url must not be empty", ErrInvalidConfig, i, e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate event id %s", ErrInvalidConfig, e.ID)
		}
		seen[e.ID] = struct{}{}
	}
	return nil
}
