// Package config handles configuration loading and validation for docsync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/docsync/docsync/pkg/bytesize"
)

// BackendConfig points the engine at the console backend.
type BackendConfig struct {
	URL       string `yaml:"url"`        // Base URL, e.g. "http://127.0.0.1:8000"
	AuthToken string `yaml:"auth_token"` // Bearer token sent on every request (optional)
	Timeout   string `yaml:"timeout"`    // Per-request timeout (default: "30s")
}

// LibraryConfig describes the local document library. First-level
// subdirectories of Root are buckets; their files are the documents.
type LibraryConfig struct {
	Root       string   `yaml:"root"`       // Library directory (default: ~/.docsync/library)
	Watch      *bool    `yaml:"watch"`      // Watch for changes and refresh (default: true)
	Extensions []string `yaml:"extensions"` // File extensions treated as documents (default: [".pdf"])
}

// WatchEnabled reports whether the library watcher should run. Unset means
// enabled.
func (c LibraryConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}

// ReconnectConfig bounds the live channel retry loop.
type ReconnectConfig struct {
	Base       string `yaml:"base"`        // First retry delay (default: "2s")
	Cap        string `yaml:"cap"`         // Delay ceiling (default: "30s")
	MaxRetries int    `yaml:"max_retries"` // Attempts before the channel is declared lost (default: 10)
}

// LiveConfig configures the live event channel.
type LiveConfig struct {
	Transport        string          `yaml:"transport"`         // "sse" or "websocket" (default: "sse")
	Path             string          `yaml:"path"`              // Stream path (default: "/events/processing-updates")
	SnapshotContexts []string        `yaml:"snapshot_contexts"` // Accepted index-update contexts (default: ["file_management"])
	SnapshotDebounce string          `yaml:"snapshot_debounce"` // Index-update coalescing window (default: "300ms")
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

// UploadConfig configures the upload queue.
type UploadConfig struct {
	Timeout     string        `yaml:"timeout"`       // Per-file upload timeout (default: "10m")
	MaxFileSize bytesize.Size `yaml:"max_file_size"` // Largest document accepted, e.g. "512MB" (0 = no limit)
}

// StateConfig configures the in-memory document state store.
type StateConfig struct {
	GracePeriod     string `yaml:"grace_period"`     // Terminal record retention (default: "30s")
	SweepInterval   string `yaml:"sweep_interval"`   // Sweep cadence (default: "10s")
	RefreshInterval string `yaml:"refresh_interval"` // Periodic full refresh, "0" disables (default: "0")
}

// MetricsConfig exposes Prometheus metrics over HTTP.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"` // default "127.0.0.1:9474"
}

// LogConfig tunes log output.
type LogConfig struct {
	Level      string            `yaml:"level"`       // zerolog level (default: "info")
	LokiURL    string            `yaml:"loki_url"`    // Grafana Loki push URL (optional)
	LokiLabels map[string]string `yaml:"loki_labels"` // Extra static labels for Loki entries
}

// Config is the root docsync configuration.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Library LibraryConfig `yaml:"library"`
	Live    LiveConfig    `yaml:"live"`
	Upload  UploadConfig  `yaml:"upload"`
	State   StateConfig   `yaml:"state"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "docsync.yaml"
	}
	return filepath.Join(home, ".docsync", "config.yaml")
}

// Default returns a configuration with every default applied and no backend
// URL set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "30s"
	}
	if c.Library.Root == "" {
		c.Library.Root = "~/.docsync/library"
	}
	c.Library.Root = expandHome(c.Library.Root)
	if len(c.Library.Extensions) == 0 {
		c.Library.Extensions = []string{".pdf"}
	}
	if c.Live.Transport == "" {
		c.Live.Transport = "sse"
	}
	if c.Live.Path == "" {
		c.Live.Path = "/events/processing-updates"
	}
	if c.Live.SnapshotContexts == nil {
		c.Live.SnapshotContexts = []string{"file_management"}
	}
	if c.Live.SnapshotDebounce == "" {
		c.Live.SnapshotDebounce = "300ms"
	}
	if c.Live.Reconnect.Base == "" {
		c.Live.Reconnect.Base = "2s"
	}
	if c.Live.Reconnect.Cap == "" {
		c.Live.Reconnect.Cap = "30s"
	}
	if c.Live.Reconnect.MaxRetries == 0 {
		c.Live.Reconnect.MaxRetries = 10
	}
	if c.Upload.Timeout == "" {
		c.Upload.Timeout = "10m"
	}
	if c.State.GracePeriod == "" {
		c.State.GracePeriod = "30s"
	}
	if c.State.SweepInterval == "" {
		c.State.SweepInterval = "10s"
	}
	if c.State.RefreshInterval == "" {
		c.State.RefreshInterval = "0"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9474"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url must be an absolute URL")
	}
	switch c.Live.Transport {
	case "sse", "websocket", "ws":
	default:
		return fmt.Errorf("live.transport must be \"sse\" or \"websocket\"")
	}
	if c.Live.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("live.reconnect.max_retries must not be negative")
	}
	for name, v := range map[string]string{
		"backend.timeout":        c.Backend.Timeout,
		"live.snapshot_debounce": c.Live.SnapshotDebounce,
		"live.reconnect.base":    c.Live.Reconnect.Base,
		"live.reconnect.cap":     c.Live.Reconnect.Cap,
		"upload.timeout":         c.Upload.Timeout,
		"state.grace_period":     c.State.GracePeriod,
		"state.sweep_interval":   c.State.SweepInterval,
		"state.refresh_interval": c.State.RefreshInterval,
	} {
		if _, err := time.ParseDuration(v); err != nil && v != "0" {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	return nil
}

// Duration parses a config duration string, falling back when it is empty
// or malformed. Validate catches malformed values at load time; the
// fallback keeps callers total.
func Duration(s string, fallback time.Duration) time.Duration {
	if s == "" || s == "0" {
		if s == "0" {
			return 0
		}
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, path[2:])
		}
	}
	return path
}
