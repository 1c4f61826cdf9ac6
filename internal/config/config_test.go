package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValues(t *testing.T) {
	cfg := defaultConfig()
	if cfg.CMS.AuthMode != "v1" {
		t.Errorf("CMS.AuthMode = %q, want v1", cfg.CMS.AuthMode)
	}
	if cfg.Download.Concurrency != 4 {
		t.Errorf("Download.Concurrency = %d, want 4", cfg.Download.Concurrency)
	}
	if cfg.Store.QuotaBytes != 10<<30 {
		t.Errorf("Store.QuotaBytes = %d, want 10GB", cfg.Store.QuotaBytes)
	}
}

func TestEnvTransform(t *testing.T) {
	cases := map[string]string{
		"PLAYERD_CMS_URL":             "cms.url",
		"PLAYERD_CMS_SERVER_KEY":      "cms.server_key",
		"PLAYERD_DOWNLOAD_CHUNK_SIZE": "download.chunk_size",
		"PLAYERD_STORE_DATA_DIR":      "store.data_dir",
	}
	for in, want := range cases {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateRequiresCMSURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.DataDir = "/tmp/x"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error when cms.url is empty")
	}
	cfg.CMS.URL = "https://cms.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error once cms.url is set: %v", err)
	}
}

func TestValidateRejectsUnknownAuthMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.CMS.URL = "https://cms.example.com"
	cfg.CMS.AuthMode = "v3"
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an unrecognised auth_mode")
	}
}

func TestLoadReadsYAMLFileOverridingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "cms:\n  url: https://cms.example.com\n  server_key: abc123\ndownload:\n  concurrency: 8\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CMS.URL != "https://cms.example.com" {
		t.Errorf("CMS.URL = %q", cfg.CMS.URL)
	}
	if cfg.Download.Concurrency != 8 {
		t.Errorf("Download.Concurrency = %d, want 8 (from file, overriding default 4)", cfg.Download.Concurrency)
	}
	if cfg.Download.ChunkSize != defaultConfig().Download.ChunkSize {
		t.Errorf("ChunkSize should still be the default when unset in file, got %d", cfg.Download.ChunkSize)
	}
}

func TestLoadEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "cms:\n  url: https://cms.example.com\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PLAYERD_CMS_URL", "https://override.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CMS.URL != "https://override.example.com" {
		t.Errorf("CMS.URL = %q, want environment override to win", cfg.CMS.URL)
	}
}
