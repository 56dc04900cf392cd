// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - All functions accept context.Context as the first parameter.
// - External errors are wrapped with this package's sentinel kinds.
package config

import (
	"context"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
)

// EventConfig names one results page to follow.
type EventConfig struct {
	ID   string `koanf:"id"`
	Name string `koanf:"name"`
	URL  string `koanf:"url"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// Timezone is the IANA location used to interpret row timestamps.
	Timezone string `koanf:"timezone"`

	// UserAgent is sent with every results page request.
	UserAgent string `koanf:"user_agent"`

	// FetchTimeoutMS bounds a single page fetch.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// MaxPageBytes caps how much of a results page is read.
	MaxPageBytes int64 `koanf:"max_page_bytes"`

	// Poll delays by data age.
	PollActiveSeconds  int `koanf:"poll_active_seconds"`
	PollRecentSeconds  int `koanf:"poll_recent_seconds"`
	PollDormantSeconds int `koanf:"poll_dormant_seconds"`
	PollDefaultSeconds int `koanf:"poll_default_seconds"`

	// Age thresholds separating the active, recent and dormant tiers.
	ActiveWindowHours int `koanf:"active_window_hours"`
	RecentWindowHours int `koanf:"recent_window_hours"`

	// BatchWindowMS is the fan-out coalescing window.
	BatchWindowMS int `koanf:"batch_window_ms"`

	// SubscriberBuffer bounds each subscription's pending events.
	SubscriberBuffer int `koanf:"subscriber_buffer"`

	// ReplayHistory is how many recent change events new subscribers may replay.
	ReplayHistory int `koanf:"replay_history"`

	// ErrorLogDedupeSize bounds the set of malformed rows already logged.
	ErrorLogDedupeSize int `koanf:"error_log_dedupe_size"`

	// MetricsEnabled turns Prometheus recording on or off. /metrics is
	// served either way.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// WatchConfig reloads the event list when the config file changes.
	WatchConfig bool `koanf:"watch_config"`

	// Events lists the results pages to follow.
	Events []EventConfig `koanf:"events"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		Timezone:           "UTC",
		UserAgent:          "racefeed/1.0",
		FetchTimeoutMS:     10_000,
		MaxPageBytes:       8 << 20,
		PollActiveSeconds:  15,
		PollRecentSeconds:  3600,
		PollDormantSeconds: 86400,
		PollDefaultSeconds: 3600,
		ActiveWindowHours:  48,
		RecentWindowHours:  14 * 24,
		BatchWindowMS:      1000,
		SubscriberBuffer:   1024,
		ReplayHistory:      512,
		ErrorLogDedupeSize: 10_000,
		MetricsEnabled:     true,
		WatchConfig:        true,
	}
}

// EventRefs converts the configured events to domain references.
func (c *Config) EventRefs() []model.EventRef {
	refs := make([]model.EventRef, 0, len(c.Events))
	for _, e := range c.Events {
		refs = append(refs, model.EventRef{ID: e.ID, Name: e.Name, URL: e.URL})
	}
	return refs
}

// Location resolves Timezone. Validate guarantees it succeeds for loaded configs.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// BatchWindow returns BatchWindowMS as a duration.
func (c *Config) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMS) * time.Millisecond
}

// PollDelays returns the active, recent, dormant and default poll delays.
func (c *Config) PollDelays() (active, recent, dormant, unknown time.Duration) {
	return seconds(c.PollActiveSeconds), seconds(c.PollRecentSeconds),
		seconds(c.PollDormantSeconds), seconds(c.PollDefaultSeconds)
}

// AgeWindows returns the active and recent age thresholds.
func (c *Config) AgeWindows() (active, recent time.Duration) {
	return time.Duration(c.ActiveWindowHours) * time.Hour, time.Duration(c.RecentWindowHours) * time.Hour
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
