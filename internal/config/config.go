package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override credentials and host from the file.
const (
	EnvHost        = "STACKSYNC_HOST"
	EnvAPIKey      = "STACKSYNC_API_KEY"
	EnvAccessToken = "STACKSYNC_ACCESS_TOKEN"
)

// Config is the top-level configuration
type Config struct {
	Stack     StackConfig     `yaml:"stack"`
	Languages []Language      `yaml:"languages" validate:"required,min=1,dive"`
	Transport TransportConfig `yaml:"transport"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Run       RunConfig       `yaml:"run"`
	Storage   StorageConfig   `yaml:"storage"`
	History   HistoryConfig   `yaml:"history"`
}

// StackConfig identifies the remote stack and how to reach it
type StackConfig struct {
	Host        string `yaml:"host" validate:"required,url"`
	Version     string `yaml:"version" validate:"required"`
	APIKey      string `yaml:"api_key"`
	AccessToken string `yaml:"access_token"`
	UserAgent   string `yaml:"user_agent"`
}

// Language is one locale the local application serves
type Language struct {
	Code              string `yaml:"code" validate:"required"`
	RelativeURLPrefix string `yaml:"relative_url_prefix"`
}

// TransportConfig tunes the HTTP retry policy
type TransportConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" validate:"min=1,max=20"`
	BaseDelay      time.Duration `yaml:"base_delay" validate:"min=0"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" validate:"min=1024"`
}

// DispatchConfig holds the rate-limit tunables for bulk operations
type DispatchConfig struct {
	EntryConcurrency int `yaml:"entry_concurrency" validate:"min=1,max=100"`
	AssetConcurrency int `yaml:"asset_concurrency" validate:"min=1,max=100"`
	PageSize         int `yaml:"page_size" validate:"min=1,max=1000"`
	SyncPageSize     int `yaml:"sync_page_size" validate:"min=1,max=1000"`
	PageConcurrency  int `yaml:"page_concurrency" validate:"min=1,max=32"`
}

// RunConfig bounds a whole command invocation
type RunConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// StorageConfig locates local content for backups
type StorageConfig struct {
	ContentDir string `yaml:"content_dir"`
	// BackupFormat is "dir" (plain copy) or "tar.zst"
	BackupFormat string `yaml:"backup_format" validate:"omitempty,oneof=dir tar.zst"`
}

// HistoryConfig enables the run journal. An empty DBPath disables it.
type HistoryConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Stack: StackConfig{
			Host:      "https://api.contentstack.io",
			Version:   "v3",
			UserAgent: "stacksync/0.1.0",
		},
		Languages: []Language{
			{Code: "en-us", RelativeURLPrefix: "/"},
		},
		Transport: TransportConfig{
			MaxAttempts:    5,
			BaseDelay:      100 * time.Millisecond,
			RequestTimeout: 60 * time.Second,
			MaxBodyBytes:   64 << 20,
		},
		Dispatch: DispatchConfig{
			EntryConcurrency: 5,
			AssetConcurrency: 10,
			PageSize:         100,
			SyncPageSize:     50,
			PageConcurrency:  4,
		},
		Run: RunConfig{
			Timeout: 30 * time.Minute,
		},
		Storage: StorageConfig{
			ContentDir:   "./_content",
			BackupFormat: "dir",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"stacksync.yaml",
		"/etc/stacksync/stacksync.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "stacksync", "stacksync.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// ApplyEnv loads an optional dotenv file and lets the process environment
// override the stack host and credentials. A missing dotenv file is not an error.
func (c *Config) ApplyEnv(dotenvPath string) error {
	if dotenvPath != "" {
		if err := godotenv.Load(dotenvPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", dotenvPath, err)
		}
	}

	if v := os.Getenv(EnvHost); v != "" {
		c.Stack.Host = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Stack.APIKey = v
	}
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.Stack.AccessToken = v
	}
	return nil
}

// Validate checks struct constraints and that credentials are present
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Stack.APIKey == "" || c.Stack.AccessToken == "" {
		return fmt.Errorf("invalid config: stack.api_key and stack.access_token are required (or set %s and %s)", EnvAPIKey, EnvAccessToken)
	}
	return nil
}

// Language returns the configured language with the given code
func (c *Config) Language(code string) (Language, bool) {
	for _, l := range c.Languages {
		if l.Code == code {
			return l, true
		}
	}
	return Language{}, false
}

// Redacted returns a copy safe for printing
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Languages = append([]Language(nil), c.Languages...)
	if cp.Stack.APIKey != "" {
		cp.Stack.APIKey = redact(cp.Stack.APIKey)
	}
	if cp.Stack.AccessToken != "" {
		cp.Stack.AccessToken = redact(cp.Stack.AccessToken)
	}
	return &cp
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
