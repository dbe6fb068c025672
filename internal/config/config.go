package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/sessions"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the follow-up queue service.
type Config struct {
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	Sessions  SessionsConfig  `json:"sessions" yaml:"sessions"`
	Dispatch  DispatchConfig  `json:"dispatch" yaml:"dispatch"`
	Database  DatabaseConfig  `json:"database,omitempty" yaml:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty" yaml:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// QueueConfig controls follow-up queueing while an agent is busy.
type QueueConfig struct {
	Mode             string                   `json:"mode,omitempty" yaml:"mode,omitempty"`                           // "collect" (default) or "individual"
	DebounceMs       int                      `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`             // quiet window before draining (default 1000, -1 = disabled)
	Cap              int                      `json:"cap,omitempty" yaml:"cap,omitempty"`                             // max queued turns per session (default 20, 0 = unbounded)
	DropPolicy       string                   `json:"drop_policy,omitempty" yaml:"drop_policy,omitempty"`             // "summarize" (default), "old", "new"
	RoutableChannels FlexibleStringSlice      `json:"routable_channels,omitempty" yaml:"routable_channels,omitempty"` // channels replies can be routed back to
	ByChannel        map[string]QueueOverride `json:"by_channel,omitempty" yaml:"by_channel,omitempty"`               // per-channel overrides
}

// QueueOverride overrides QueueConfig for one channel. Zero values inherit.
type QueueOverride struct {
	Mode       string `json:"mode,omitempty" yaml:"mode,omitempty"`
	DebounceMs int    `json:"debounce_ms,omitempty" yaml:"debounce_ms,omitempty"`
	Cap        int    `json:"cap,omitempty" yaml:"cap,omitempty"`
	DropPolicy string `json:"drop_policy,omitempty" yaml:"drop_policy,omitempty"`
}

// SessionsConfig controls how messages are bucketed into sessions.
type SessionsConfig struct {
	Scope   string `json:"scope,omitempty" yaml:"scope,omitempty"`       // "per-sender" (default), "global"
	MainKey string `json:"main_key,omitempty" yaml:"main_key,omitempty"` // shared DM bucket name (default "main")
}

// DispatchConfig controls how drained turns are handed to the agent.
type DispatchConfig struct {
	RatePerSecond float64 `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"` // per-channel dispatch rate (0 = unlimited)
	Burst         int     `json:"burst,omitempty" yaml:"burst,omitempty"`
}

// DatabaseConfig configures the dispatch ledger.
// PostgresDSN is never read from the config file; it comes from FOLLOWUP_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver      string `json:"driver,omitempty" yaml:"driver,omitempty"` // "sqlite" (default) or "postgres"
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`     // sqlite file (default ~/.followup/ledger.db)
	PostgresDSN string `json:"-" yaml:"-"`
}

// TelemetryConfig configures OpenTelemetry export for dispatch spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`           // enable OTLP export (default false)
	Endpoint    string            `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`         // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`         // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty" yaml:"insecure,omitempty"`         // plaintext transport for local dev
	ServiceName string            `json:"service_name,omitempty" yaml:"service_name,omitempty"` // default "followup"
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// QueueSettings resolves the follow-up settings for a channel, applying
// per-channel overrides on top of the queue defaults.
func (c *Config) QueueSettings(channel string) followup.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := c.Queue
	if o, ok := c.Queue.ByChannel[strings.ToLower(strings.TrimSpace(channel))]; ok {
		if o.Mode != "" {
			q.Mode = o.Mode
		}
		if o.DebounceMs != 0 {
			q.DebounceMs = o.DebounceMs
		}
		if o.Cap != 0 {
			q.Cap = o.Cap
		}
		if o.DropPolicy != "" {
			q.DropPolicy = o.DropPolicy
		}
	}

	return followup.Settings{
		Mode:       followup.ParseMode(q.Mode),
		DropPolicy: followup.ParseDropPolicy(q.DropPolicy),
		Cap:        max(0, q.Cap),
		Debounce:   time.Duration(max(0, q.DebounceMs)) * time.Millisecond,
	}
}

// Routable returns the configured routable channel set.
func (c *Config) Routable() followup.ChannelSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.Queue.RoutableChannels) == 0 {
		return followup.DefaultRoutable
	}
	return followup.NewChannelSet(c.Queue.RoutableChannels...)
}

// SessionScope returns the parsed session scope and main key.
func (c *Config) SessionScope() (sessions.Scope, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sessions.ParseScope(c.Sessions.Scope), c.Sessions.MainKey
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queue = src.Queue
	c.Sessions = src.Sessions
	c.Dispatch = src.Dispatch
	c.Database = src.Database
	c.Telemetry = src.Telemetry
}
