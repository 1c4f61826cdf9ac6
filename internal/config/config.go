// Package config loads the player daemon's local configuration: the CMS
// URL and server key used for the first register() call, where the
// identity file and content store live on disk, and the daemon's own
// listen ports. This is distinct from the CMS-driven runtime settings
// snapshot (§4.1 "settings") that register() returns and that flows
// through internal/identity.ApplySettings instead.
//
// Loading follows cartographus's internal/config layering
// (internal/config/koanf.go): defaults, then an optional YAML file, then
// environment variables, each layer overriding the last via
// github.com/knadh/koanf/v2.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// priority order. The first one found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/playerd/config.yaml",
	"/etc/playerd/config.yml",
}

// ConfigPathEnvVar overrides the search above with an explicit path.
const ConfigPathEnvVar = "PLAYERD_CONFIG_PATH"

// Config is the player daemon's local configuration.
type Config struct {
	CMS      CMSConfig      `koanf:"cms"`
	Store    StoreConfig    `koanf:"store"`
	Sync     SyncConfig     `koanf:"sync"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Download DownloadConfig `koanf:"download"`
}

// CMSConfig holds the credentials needed for the first register() call
// (§4.1, §6). HardwareKey is omitted here: once generated it lives in
// the identity file, not the config file, so it survives a config
// rewrite.
type CMSConfig struct {
	URL        string `koanf:"url"`
	ServerKey  string `koanf:"server_key"`
	AuthMode   string `koanf:"auth_mode"` // "v1" (shared key) or "v2" (bearer token)
	ClientType string `koanf:"client_type"`
}

// StoreConfig locates the on-disk identity file and content store.
type StoreConfig struct {
	IdentityFile string `koanf:"identity_file"`
	DataDir      string `koanf:"data_dir"`
	QuotaBytes   int64  `koanf:"quota_bytes"`
}

// SyncConfig holds the multi-display sync coordinator's local listen
// address (§9); GroupID/Peers arrive later from register()'s SyncConfig.
type SyncConfig struct {
	Enabled    bool   `koanf:"enabled"`
	ListenAddr string `koanf:"listen_addr"`
}

// ServerConfig holds the daemon's own HTTP surfaces: health/metrics.
type ServerConfig struct {
	MetricsAddr string `koanf:"metrics_addr"`
}

// LoggingConfig controls the local log sink; the CMS-driven remote
// level (§6) overrides the effective level at runtime via
// internal/logging.SetRemoteLevel.
type LoggingConfig struct {
	Level string `koanf:"level"`
}

// DownloadConfig seeds internal/downloader.Config.
type DownloadConfig struct {
	Concurrency    int           `koanf:"concurrency"`
	ChunkThreshold int64         `koanf:"chunk_threshold"`
	ChunkSize      int64         `koanf:"chunk_size"`
	ChunksPerFile  int           `koanf:"chunks_per_file"`
	Progressive    bool          `koanf:"progressive"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		CMS: CMSConfig{
			AuthMode:   "v1",
			ClientType: "linux",
		},
		Store: StoreConfig{
			IdentityFile: "/var/lib/playerd/identity.json",
			DataDir:      "/var/lib/playerd/store",
			QuotaBytes:   10 << 30,
		},
		Sync: SyncConfig{
			Enabled:    false,
			ListenAddr: "0.0.0.0:9590",
		},
		Server: ServerConfig{
			MetricsAddr: "0.0.0.0:9591",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Download: DownloadConfig{
			Concurrency:    4,
			ChunkThreshold: 10 << 20,
			ChunkSize:      2 << 20,
			ChunksPerFile:  4,
			Progressive:    true,
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file, then
// environment variables, in that order of increasing precedence
// (cartographus's LoadWithKoanf).
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("PLAYERD_", ".", envTransform)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envTransform maps PLAYERD_CMS_URL -> cms.url, PLAYERD_DOWNLOAD_CHUNK_SIZE
// -> download.chunk_size, following the same convention cartographus uses
// for its own PLAYERD_-equivalent prefix.
func envTransform(s string) string {
	s = strings.TrimPrefix(s, "PLAYERD_")
	s = strings.ToLower(s)
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return s
	}
	return parts[0] + "." + parts[1]
}

// Validate checks that the configuration is usable before the daemon
// starts talking to a CMS.
func (c *Config) Validate() error {
	if c.CMS.URL == "" {
		return fmt.Errorf("cms.url is required")
	}
	if c.CMS.AuthMode != "v1" && c.CMS.AuthMode != "v2" {
		return fmt.Errorf("cms.auth_mode must be \"v1\" or \"v2\", got %q", c.CMS.AuthMode)
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Download.Concurrency <= 0 {
		return fmt.Errorf("download.concurrency must be positive")
	}
	if c.Download.ChunkSize <= 0 {
		return fmt.Errorf("download.chunk_size must be positive")
	}
	return nil
}
