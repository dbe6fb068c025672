package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/followup/internal/followup"
	"github.com/nextlevelbuilder/followup/internal/sessions"
)

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.QueueSettings("telegram")
	want := followup.Settings{Mode: followup.ModeCollect, DropPolicy: followup.DropSummarize, Cap: 20, Debounce: time.Second}
	if s != want {
		t.Errorf("QueueSettings() = %+v, want %+v", s, want)
	}
	if scope, main := cfg.SessionScope(); scope != sessions.ScopePerSender || main != "main" {
		t.Errorf("SessionScope() = (%q, %q)", scope, main)
	}
}

func TestLoad_JSON5WithChannelOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{
		// comments and trailing commas are fine
		queue: {
			mode: "individual",
			cap: 5,
			routable_channels: ["telegram", "Matrix"],
			by_channel: {
				discord: { mode: "collect", debounce_ms: -1, drop_policy: "new" },
			},
		},
		sessions: { scope: "global" },
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	tg := cfg.QueueSettings("telegram")
	if tg.Mode != followup.ModeIndividual || tg.Cap != 5 || tg.Debounce != time.Second {
		t.Errorf("telegram settings = %+v", tg)
	}
	dc := cfg.QueueSettings(" Discord ")
	if dc.Mode != followup.ModeCollect || dc.Debounce != 0 || dc.DropPolicy != followup.DropNew || dc.Cap != 5 {
		t.Errorf("discord settings = %+v", dc)
	}
	r := cfg.Routable()
	if !r.Routable("matrix") || r.Routable("discord") {
		t.Errorf("Routable() = %v", r)
	}
	if scope, _ := cfg.SessionScope(); scope != sessions.ScopeGlobal {
		t.Errorf("scope = %q, want global", scope)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "queue:\n  cap: 3\n  drop_policy: old\nsessions:\n  main_key: inbox\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := cfg.QueueSettings("")
	if s.Cap != 3 || s.DropPolicy != followup.DropOld || s.Mode != followup.ModeCollect {
		t.Errorf("settings = %+v", s)
	}
	if _, main := cfg.SessionScope(); main != "inbox" {
		t.Errorf("main key = %q, want inbox", main)
	}
}

func TestLoad_JSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	writeFile(t, path, `{
		/* block comment */
		"queue": {"cap": 4, "mode": "individual",}, // trailing comma
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s := cfg.QueueSettings(""); s.Cap != 4 || s.Mode != followup.ModeIndividual {
		t.Errorf("settings = %+v", s)
	}
}

func TestLoad_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, "{queue: ")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FOLLOWUP_QUEUE_CAP", "7")
	t.Setenv("FOLLOWUP_QUEUE_MODE", "individual")
	t.Setenv("FOLLOWUP_POSTGRES_DSN", "postgres://localhost/followup")
	t.Setenv("FOLLOWUP_TELEMETRY_ENABLED", "1")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	if s := cfg.QueueSettings(""); s.Cap != 7 || s.Mode != followup.ModeIndividual {
		t.Errorf("settings = %+v", s)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres when a DSN is set", cfg.Database.Driver)
	}
	if !cfg.Telemetry.Enabled {
		t.Error("expected telemetry enabled")
	}
}

func TestSave_RoundTripKeepsSecretsOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "config.json")
	cfg := Default()
	cfg.Database.PostgresDSN = "postgres://secret"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "" || strings.Contains(string(data), "secret") {
		t.Errorf("saved config leaks DSN: %s", data)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Hash() != Default().Hash() {
		t.Error("round-tripped config differs from defaults")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{queue: {cap: 1}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan int, 4)
	if err := Watch(ctx, path, cfg, func(c *Config) { reloaded <- c.QueueSettings("").Cap }); err != nil {
		t.Fatal(err)
	}

	writeFile(t, path, `{queue: {cap: 9}}`)
	select {
	case got := <-reloaded:
		if got != 9 {
			t.Errorf("reloaded cap = %d, want 9", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}
