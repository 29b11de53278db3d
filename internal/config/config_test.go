package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(DefaultPath, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if *cfg.Server.ClientIDParam != "deviceId" || *cfg.Server.ClientIDHeader != "X-Device-ID" {
		t.Fatalf("unexpected client id transport defaults: %q %q", *cfg.Server.ClientIDParam, *cfg.Server.ClientIDHeader)
	}
	if cfg.Reconnect.BaseBackoff != time.Second || cfg.Reconnect.MaxBackoff != 30*time.Second {
		t.Fatalf("unexpected backoff defaults: %s %s", cfg.Reconnect.BaseBackoff, cfg.Reconnect.MaxBackoff)
	}
	if cfg.Playback.Backend != BackendChromecast {
		t.Fatalf("expected chromecast backend, got %q", cfg.Playback.Backend)
	}
	if cfg.Metrics.Namespace != "beam_remote" {
		t.Fatalf("unexpected namespace %q", cfg.Metrics.Namespace)
	}
}

func TestLoadRequiredFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	if _, err := Load("nope.yaml", true); err == nil {
		t.Fatal("expected error for missing required config")
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "beam-remote.yaml", `
server:
  url: https://control.example.com/sse/events
  client_id: X4K7N9P2QR
  client_id_param: ""
  headers:
    Authorization: Bearer abc
reconnect:
  base_backoff: 250ms
  max_backoff: 10s
playback:
  backend: log
  device: Living Room TV
logging:
  level: debug
`)

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.URL != "https://control.example.com/sse/events" || cfg.Server.ClientID != "X4K7N9P2QR" {
		t.Fatalf("unexpected server config: %+v", cfg.Server)
	}
	if *cfg.Server.ClientIDParam != "" {
		t.Fatalf("expected query transport disabled, got %q", *cfg.Server.ClientIDParam)
	}
	if *cfg.Server.ClientIDHeader != "X-Device-ID" {
		t.Fatalf("expected default header, got %q", *cfg.Server.ClientIDHeader)
	}
	if cfg.Server.Headers["Authorization"] != "Bearer abc" {
		t.Fatalf("unexpected headers: %v", cfg.Server.Headers)
	}
	if cfg.Reconnect.BaseBackoff != 250*time.Millisecond || cfg.Reconnect.MaxBackoff != 10*time.Second {
		t.Fatalf("unexpected backoff: %s %s", cfg.Reconnect.BaseBackoff, cfg.Reconnect.MaxBackoff)
	}
	if cfg.Playback.Backend != BackendLog || cfg.Playback.Device != "Living Room TV" {
		t.Fatalf("unexpected playback config: %+v", cfg.Playback)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := writeFile(t, dir, "beam-remote.yaml", "server:\n  url: http://file.example.com\n  client_id: FROMFILE\n")
	t.Setenv("BEAM_REMOTE_CLIENT_ID", "FROMENV")
	t.Setenv("BEAM_REMOTE_LOG_LEVEL", "warn")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ClientID != "FROMENV" {
		t.Fatalf("expected env override, got %q", cfg.Server.ClientID)
	}
	if cfg.Server.URL != "http://file.example.com" {
		t.Fatalf("expected file url to survive, got %q", cfg.Server.URL)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("expected env log level, got %q", cfg.Logging.Level)
	}
}

func TestDotEnvFileIsLoaded(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, dir, ".env", "BEAM_REMOTE_URL=http://dotenv.example.com/sse\n")
	t.Cleanup(func() {
		os.Unsetenv("BEAM_REMOTE_URL")
	})

	cfg, err := Load(DefaultPath, false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.URL != "http://dotenv.example.com/sse" {
		t.Fatalf("expected url from .env, got %q", cfg.Server.URL)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{Server: ServerConfig{URL: "http://example.com/sse", ClientID: "ID"}}
		cfg.applyDefaults()
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := map[string]func(*Config){
		"server.url is required":       func(c *Config) { c.Server.URL = "" },
		"absolute http or https":       func(c *Config) { c.Server.URL = "ws://example.com" },
		"server.client_id is required": func(c *Config) { c.Server.ClientID = "  " },
		"is below base_backoff":        func(c *Config) { c.Reconnect.MaxBackoff = time.Millisecond },
		"playback.backend must be":     func(c *Config) { c.Playback.Backend = "vlc" },
	}
	for want, mutate := range cases {
		cfg := valid()
		mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error containing %q, got %v", want, err)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Level
		ok   bool
	}{
		{"", slog.LevelInfo, true},
		{"DEBUG", slog.LevelDebug, true},
		{"warning", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tc := range cases {
		got, ok := ParseLogLevel(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLogLevel(%q) = %s, %t; want %s, %t", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}
