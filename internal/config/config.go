// Package config loads beam-remote settings from a YAML file, optional .env
// files and BEAM_REMOTE_* environment variables, in that order of precedence
// from lowest to highest.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "beam-remote.yaml"

	BackendChromecast = "chromecast"
	BackendLog        = "log"

	envPrefix = "BEAM_REMOTE_"
)

var envFiles = []string{".env", ".env.local"}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type ServerConfig struct {
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	// Nil selects the default name; an empty string disables that transport.
	ClientIDParam  *string           `yaml:"client_id_param"`
	ClientIDHeader *string           `yaml:"client_id_header"`
	Headers        map[string]string `yaml:"headers"`
}

type ReconnectConfig struct {
	BaseBackoff           time.Duration `yaml:"base_backoff"`
	MaxBackoff            time.Duration `yaml:"max_backoff"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
}

type DispatchConfig struct {
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type PlaybackConfig struct {
	Backend          string        `yaml:"backend"`
	Device           string        `yaml:"device"`
	Address          string        `yaml:"address"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	RetryAttempts    int           `yaml:"retry_attempts"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// Load reads path, then layers .env files and the environment on top. A
// missing file is an error only when required is set.
func Load(path string, required bool) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse yaml %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func loadEnvFiles() error {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"URL", &c.Server.URL},
		{"CLIENT_ID", &c.Server.ClientID},
		{"LOG_LEVEL", &c.Logging.Level},
		{"DEVICE", &c.Playback.Device},
		{"ADDRESS", &c.Playback.Address},
		{"BACKEND", &c.Playback.Backend},
		{"METRICS_LISTEN", &c.Metrics.Listen},
	}
	for _, o := range overrides {
		if value := strings.TrimSpace(os.Getenv(envPrefix + o.key)); value != "" {
			*o.dst = value
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.ClientIDParam == nil {
		c.Server.ClientIDParam = stringPtr("deviceId")
	}
	if c.Server.ClientIDHeader == nil {
		c.Server.ClientIDHeader = stringPtr("X-Device-ID")
	}
	if c.Reconnect.BaseBackoff <= 0 {
		c.Reconnect.BaseBackoff = time.Second
	}
	if c.Reconnect.MaxBackoff <= 0 {
		c.Reconnect.MaxBackoff = 30 * time.Second
	}
	if c.Reconnect.ResponseHeaderTimeout <= 0 {
		c.Reconnect.ResponseHeaderTimeout = 30 * time.Second
	}
	if c.Dispatch.CommandTimeout <= 0 {
		c.Dispatch.CommandTimeout = 30 * time.Second
	}
	if c.Playback.Backend == "" {
		c.Playback.Backend = BackendChromecast
	}
	if c.Playback.DiscoveryTimeout <= 0 {
		c.Playback.DiscoveryTimeout = 5 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "beam_remote"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.URL == "" {
		errs = append(errs, errors.New("server.url is required"))
	} else if parsed, err := url.Parse(c.Server.URL); err != nil {
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	} else if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("server.url must be an absolute http or https url, got %q", c.Server.URL))
	}
	if strings.TrimSpace(c.Server.ClientID) == "" {
		errs = append(errs, errors.New("server.client_id is required"))
	}
	if c.Reconnect.MaxBackoff < c.Reconnect.BaseBackoff {
		errs = append(errs, fmt.Errorf("reconnect.max_backoff %s is below base_backoff %s", c.Reconnect.MaxBackoff, c.Reconnect.BaseBackoff))
	}
	switch c.Playback.Backend {
	case BackendChromecast, BackendLog:
	default:
		errs = append(errs, fmt.Errorf("playback.backend must be %q or %q, got %q", BackendChromecast, BackendLog, c.Playback.Backend))
	}
	return errors.Join(errs...)
}

// ParseLogLevel maps a level name to slog. Unknown names yield info and false.
func ParseLogLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, true
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func stringPtr(s string) *string {
	return &s
}
