package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies that DefaultConfig returns sensible defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		getValue func(*Config) string
		want     string
	}{
		{"host", func(c *Config) string { return c.Stack.Host }, "https://api.contentstack.io"},
		{"api version", func(c *Config) string { return c.Stack.Version }, "v3"},
		{"user agent", func(c *Config) string { return c.Stack.UserAgent }, "stacksync/0.1.0"},
		{"content dir", func(c *Config) string { return c.Storage.ContentDir }, "./_content"},
		{"backup format", func(c *Config) string { return c.Storage.BackupFormat }, "dir"},
		{"history db", func(c *Config) string { return c.History.DBPath }, ""},
		{"default language", func(c *Config) string { return c.Languages[0].Code }, "en-us"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.getValue(cfg)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}

	if cfg.Dispatch.EntryConcurrency != 5 {
		t.Errorf("EntryConcurrency = %d, want 5", cfg.Dispatch.EntryConcurrency)
	}
	if cfg.Dispatch.AssetConcurrency != 10 {
		t.Errorf("AssetConcurrency = %d, want 10", cfg.Dispatch.AssetConcurrency)
	}
	if cfg.Transport.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Transport.MaxAttempts)
	}
	if cfg.Transport.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 100ms", cfg.Transport.BaseDelay)
	}
	if cfg.Run.Timeout != 30*time.Minute {
		t.Errorf("Run.Timeout = %v, want 30m", cfg.Run.Timeout)
	}
}

// TestLoad tests loading a valid config file
func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "stacksync.yaml")

	configContent := `
stack:
  host: "https://eu-api.contentstack.com"
  api_key: "blt123"
  access_token: "cs456"
languages:
  - code: "en-us"
    relative_url_prefix: "/"
  - code: "fr-fr"
    relative_url_prefix: "/fr/"
transport:
  max_attempts: 3
  base_delay: 250ms
dispatch:
  entry_concurrency: 2
  asset_concurrency: 4
  page_size: 50
run:
  timeout: 5m
history:
  db_path: "/tmp/stacksync.db"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Stack.Host != "https://eu-api.contentstack.com" {
		t.Errorf("Stack.Host = %q", cfg.Stack.Host)
	}
	if cfg.Stack.Version != "v3" {
		t.Errorf("Stack.Version = %q, want default v3", cfg.Stack.Version)
	}
	if len(cfg.Languages) != 2 || cfg.Languages[1].Code != "fr-fr" {
		t.Errorf("Languages = %+v", cfg.Languages)
	}
	if cfg.Transport.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Transport.MaxAttempts)
	}
	if cfg.Transport.BaseDelay != 250*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 250ms", cfg.Transport.BaseDelay)
	}
	if cfg.Transport.RequestTimeout != 60*time.Second {
		t.Errorf("RequestTimeout = %v, want default 60s", cfg.Transport.RequestTimeout)
	}
	if cfg.Dispatch.EntryConcurrency != 2 || cfg.Dispatch.AssetConcurrency != 4 {
		t.Errorf("Dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.SyncPageSize != 50 {
		t.Errorf("SyncPageSize = %d, want default 50", cfg.Dispatch.SyncPageSize)
	}
	if cfg.Run.Timeout != 5*time.Minute {
		t.Errorf("Run.Timeout = %v, want 5m", cfg.Run.Timeout)
	}
	if cfg.History.DBPath != "/tmp/stacksync.db" {
		t.Errorf("History.DBPath = %q", cfg.History.DBPath)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

// TestLoadInvalidYAML tests that malformed YAML is rejected
func TestLoadInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("stack: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Fatal("expected parse error, got nil")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFindConfigFileFound(t *testing.T) {
	tempDir := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })

	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	if err := os.WriteFile("stacksync.yaml", []byte("stack: {}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	path, err := FindConfigFile()
	if err != nil {
		t.Fatalf("FindConfigFile() error = %v", err)
	}
	if path != "stacksync.yaml" {
		t.Errorf("FindConfigFile() = %q, want stacksync.yaml", path)
	}
}

func TestApplyEnv(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	content := EnvAPIKey + "=blt-from-dotenv\n" + EnvAccessToken + "=token-from-dotenv\n"
	if err := os.WriteFile(dotenv, []byte(content), 0600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	// godotenv never overrides variables that are already set.
	t.Setenv(EnvAPIKey, "")
	t.Setenv(EnvAccessToken, "")
	os.Unsetenv(EnvAPIKey)
	os.Unsetenv(EnvAccessToken)
	t.Setenv(EnvHost, "http://127.0.0.1:9999")

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(dotenv); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}

	if cfg.Stack.APIKey != "blt-from-dotenv" {
		t.Errorf("APIKey = %q", cfg.Stack.APIKey)
	}
	if cfg.Stack.AccessToken != "token-from-dotenv" {
		t.Errorf("AccessToken = %q", cfg.Stack.AccessToken)
	}
	if cfg.Stack.Host != "http://127.0.0.1:9999" {
		t.Errorf("Host = %q", cfg.Stack.Host)
	}
}

func TestApplyEnvMissingDotenv(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing dotenv should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing credentials", func(c *Config) { c.Stack.AccessToken = "" }, "access_token"},
		{"no languages", func(c *Config) { c.Languages = nil }, "Languages"},
		{"zero concurrency", func(c *Config) { c.Dispatch.EntryConcurrency = 0 }, "EntryConcurrency"},
		{"bad host", func(c *Config) { c.Stack.Host = "not a url" }, "Host"},
		{"empty language code", func(c *Config) { c.Languages = []Language{{Code: ""}} }, "Code"},
		{"compressed backups", func(c *Config) { c.Storage.BackupFormat = "tar.zst" }, ""},
		{"unknown backup format", func(c *Config) { c.Storage.BackupFormat = "zip" }, "BackupFormat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Stack.APIKey = "blt123"
			cfg.Stack.AccessToken = "cs456"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLanguageLookup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Languages = append(cfg.Languages, Language{Code: "fr-fr", RelativeURLPrefix: "/fr/"})

	if _, ok := cfg.Language("de-de"); ok {
		t.Error("did not expect de-de to be configured")
	}
	lang, ok := cfg.Language("fr-fr")
	if !ok || lang.RelativeURLPrefix != "/fr/" {
		t.Errorf("Language(fr-fr) = %+v, %v", lang, ok)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stack.APIKey = "blt0123456789"
	cfg.Stack.AccessToken = "abc"

	red := cfg.Redacted()
	if red.Stack.APIKey != "blt0****" {
		t.Errorf("APIKey = %q", red.Stack.APIKey)
	}
	if red.Stack.AccessToken != "****" {
		t.Errorf("AccessToken = %q", red.Stack.AccessToken)
	}
	if cfg.Stack.APIKey != "blt0123456789" {
		t.Error("Redacted must not modify the original config")
	}
}
