package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Mode:       "collect",
			DebounceMs: 1000,
			Cap:        20,
			DropPolicy: "summarize",
		},
		Sessions: SessionsConfig{
			Scope:   "per-sender",
			MainKey: "main",
		},
		Dispatch: DispatchConfig{
			Burst: 1,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.followup/ledger.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "followup",
		},
	}
}

// Load reads config from a JSON5, JSONC or YAML file (by extension), then overlays env vars.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".jsonc":
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	default:
		return json5.Unmarshal(data, cfg)
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	// Queue
	envStr("FOLLOWUP_QUEUE_MODE", &c.Queue.Mode)
	envInt("FOLLOWUP_QUEUE_DEBOUNCE_MS", &c.Queue.DebounceMs)
	envInt("FOLLOWUP_QUEUE_CAP", &c.Queue.Cap)
	envStr("FOLLOWUP_QUEUE_DROP_POLICY", &c.Queue.DropPolicy)
	if v := os.Getenv("FOLLOWUP_ROUTABLE_CHANNELS"); v != "" {
		c.Queue.RoutableChannels = strings.Split(v, ",")
	}

	// Sessions
	envStr("FOLLOWUP_SESSION_SCOPE", &c.Sessions.Scope)
	envStr("FOLLOWUP_MAIN_KEY", &c.Sessions.MainKey)

	// Dispatch
	if v := os.Getenv("FOLLOWUP_DISPATCH_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			c.Dispatch.RatePerSecond = r
		}
	}
	envInt("FOLLOWUP_DISPATCH_BURST", &c.Dispatch.Burst)

	// Database
	envStr("FOLLOWUP_DB_DRIVER", &c.Database.Driver)
	envStr("FOLLOWUP_DB_PATH", &c.Database.Path)
	envStr("FOLLOWUP_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" && os.Getenv("FOLLOWUP_DB_DRIVER") == "" {
		c.Database.Driver = "postgres"
	}

	// Telemetry
	envStr("FOLLOWUP_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FOLLOWUP_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FOLLOWUP_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("FOLLOWUP_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FOLLOWUP_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config, used to skip no-op reloads.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// LedgerPath returns the expanded sqlite ledger path.
func (c *Config) LedgerPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.Path)
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
