// Package config provides configuration management for the Clipify desktop agent.
// It handles loading and parsing the YAML configuration file, applies environment
// overrides, and exposes structured access to backend endpoints, OAuth settings,
// token storage, deep-link delivery, and clipboard monitoring.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvironmentProduction selects the hosted backend.
	EnvironmentProduction = "production"
	// EnvironmentDevelopment selects a locally running backend.
	EnvironmentDevelopment = "development"

	DefaultProductionAPIBaseURL  = "https://clipify0.el.r.appspot.com"
	DefaultDevelopmentAPIBaseURL = "http://localhost:8080"
	DefaultDeepLinkScheme        = "clipify"
	DefaultClientID              = "clipify-desktop"

	DefaultConnectTimeout  = 30
	DefaultBridgeHost      = "127.0.0.1"
	DefaultBridgePort      = 54545
	DefaultHistorySize     = 10
	DefaultPollIntervalMS  = 500
	DefaultRefreshInterval = 60
	DefaultRefreshBuffer   = 300

	oauthLoginPath = "/api/v1/auth/google/login"
)

// Supported token store backends.
const (
	StoreFile     = "file"
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreObject   = "object"
	StoreGit      = "git"
)

// Config represents the agent configuration, loaded from a YAML file.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Environment is either "production" or "development" and selects default URLs.
	Environment string `yaml:"environment" json:"environment"`

	// APIBaseURL is the backend root all endpoint paths are resolved against.
	APIBaseURL string `yaml:"api-base-url" json:"api-base-url"`

	// DataDir holds the sealed token store, logs, the deep-link inbox and clipboard history.
	DataDir string `yaml:"data-dir" json:"data-dir"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file under DataDir/logs instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the log directory size. 0 disables the cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	OAuth       OAuthConfig       `yaml:"oauth" json:"oauth"`
	Endpoints   EndpointConfig    `yaml:"endpoints" json:"endpoints"`
	Store       StoreConfig       `yaml:"store" json:"store"`
	DeepLink    DeepLinkConfig    `yaml:"deep-link" json:"deep-link"`
	Bridge      BridgeConfig      `yaml:"bridge" json:"bridge"`
	AutoRefresh AutoRefreshConfig `yaml:"auto-refresh" json:"auto-refresh"`
	Clipboard   ClipboardConfig   `yaml:"clipboard" json:"clipboard"`
}

// OAuthConfig describes the authorization request sent to the browser.
type OAuthConfig struct {
	// AuthorizeURL is the backend page that starts the provider login.
	AuthorizeURL string `yaml:"authorize-url" json:"authorize-url"`
	// ClientID identifies the desktop client to the backend.
	ClientID string `yaml:"client-id" json:"client-id"`
	// RedirectURI is the deep link the backend redirects to. Defaults to <scheme>://auth/callback.
	RedirectURI string `yaml:"redirect-uri" json:"redirect-uri"`
	// Scopes requested from the provider.
	Scopes []string `yaml:"scopes" json:"scopes"`
}

// EndpointConfig lists backend paths relative to APIBaseURL.
type EndpointConfig struct {
	Exchange string `yaml:"exchange" json:"exchange"`
	Refresh  string `yaml:"refresh" json:"refresh"`
	Validate string `yaml:"validate" json:"validate"`
	Profile  string `yaml:"profile" json:"profile"`
	Health   string `yaml:"health" json:"health"`
}

// StoreConfig selects and configures the sealed token store backend.
type StoreConfig struct {
	// Type is one of file, memory, sqlite, postgres, object, git.
	Type string `yaml:"type" json:"type"`
	// Passphrase, when set, derives the sealing key with Argon2id instead of using a random key file.
	Passphrase string `yaml:"passphrase" json:"-"`

	SQLite   SQLiteStoreConfig   `yaml:"sqlite" json:"sqlite"`
	Postgres PostgresStoreConfig `yaml:"postgres" json:"postgres"`
	Object   ObjectStoreConfig   `yaml:"object" json:"object"`
	Git      GitStoreConfig      `yaml:"git" json:"git"`
}

// SQLiteStoreConfig configures the embedded SQLite backend.
type SQLiteStoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PostgresStoreConfig configures the PostgreSQL backend.
type PostgresStoreConfig struct {
	DSN    string `yaml:"dsn" json:"-"`
	Schema string `yaml:"schema" json:"schema"`
	Table  string `yaml:"table" json:"table"`
}

// ObjectStoreConfig configures an S3-compatible bucket backend.
type ObjectStoreConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access-key" json:"-"`
	SecretKey string `yaml:"secret-key" json:"-"`
	Region    string `yaml:"region" json:"region"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
}

// GitStoreConfig configures the git-backed store.
type GitStoreConfig struct {
	RemoteURL string `yaml:"remote-url" json:"remote-url"`
	Username  string `yaml:"username" json:"username"`
	Token     string `yaml:"token" json:"-"`
	Branch    string `yaml:"branch" json:"branch"`
	Path      string `yaml:"path" json:"path"`
}

// DeepLinkConfig controls how deep links reach the running agent.
type DeepLinkConfig struct {
	// Scheme is the registered custom URI scheme, without "://".
	Scheme string `yaml:"scheme" json:"scheme"`
	// InboxDir is where `clipify open-url` drops links for the running agent.
	InboxDir string `yaml:"inbox-dir" json:"inbox-dir"`
}

// BridgeConfig configures the loopback HTTP bridge used when the OS cannot deliver deep links.
type BridgeConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Host    string `yaml:"host" json:"host"`
	Port    int    `yaml:"port" json:"port"`
}

// AutoRefreshConfig tunes the background token refresh loop.
type AutoRefreshConfig struct {
	// IntervalSeconds between checks. Defaults to 60.
	IntervalSeconds int `yaml:"interval-seconds" json:"interval-seconds"`
	// BufferSeconds before expiry at which a refresh is attempted. Defaults to 300.
	BufferSeconds int `yaml:"buffer-seconds" json:"buffer-seconds"`
}

// ClipboardConfig configures clipboard monitoring and history.
type ClipboardConfig struct {
	Enabled        bool `yaml:"enabled" json:"enabled"`
	HistorySize    int  `yaml:"history-size" json:"history-size"`
	PollIntervalMS int  `yaml:"poll-interval-ms" json:"poll-interval-ms"`
}

// Default returns a configuration populated with production defaults.
func Default() *Config {
	cfg := &Config{Environment: EnvironmentProduction}
	cfg.Clipboard.Enabled = true
	cfg.SanitizeAndDefault()
	return cfg
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies environment overrides and defaults.
//
// Parameters:
//   - configFile: The path to the YAML configuration file
//
// Returns:
//   - *Config: The loaded configuration
//   - error: An error if the configuration could not be loaded
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing or empty, it returns defaults instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	cfg := &Config{}
	cfg.Clipboard.Enabled = true

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !optional || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		data = nil
	}

	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.ApplyEnvironment(os.LookupEnv)
	cfg.SanitizeAndDefault()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig writes cfg to configFile as YAML, creating parent directories as needed.
func SaveConfig(configFile string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(configFile, data, 0o600)
}

// ApplyEnvironment overlays environment variables onto cfg.
// Both CLIPIFY_* names and the legacy NODE_ENV / VITE_* names are honoured.
func (cfg *Config) ApplyEnvironment(lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(keys ...string) string {
		for _, key := range keys {
			if value, ok := lookup(key); ok {
				if trimmed := strings.TrimSpace(value); trimmed != "" {
					return trimmed
				}
			}
		}
		return ""
	}

	if env := get("CLIPIFY_ENV", "NODE_ENV"); env != "" {
		cfg.Environment = env
	}
	profile := "PROD"
	if normalizeEnvironment(cfg.Environment) == EnvironmentDevelopment {
		profile = "DEV"
	}
	if v := get("CLIPIFY_API_BASE_URL", "VITE_"+profile+"_API_BASE_URL"); v != "" {
		cfg.APIBaseURL = v
	}
	if v := get("CLIPIFY_OAUTH_URL", "VITE_"+profile+"_OAUTH_BASE_URL"); v != "" {
		cfg.OAuth.AuthorizeURL = v
	}
	if v := get("CLIPIFY_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := get("CLIPIFY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := get("CLIPIFY_PROXY_URL"); v != "" {
		cfg.ProxyURL = v
	}
	if v := get("CLIPIFY_STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := get("CLIPIFY_STORE_PASSPHRASE"); v != "" {
		cfg.Store.Passphrase = v
	}
	if v := get("CLIPIFY_PGSTORE_DSN", "PGSTORE_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := get("CLIPIFY_OBJECTSTORE_ACCESS_KEY", "OBJECTSTORE_ACCESS_KEY"); v != "" {
		cfg.Store.Object.AccessKey = v
	}
	if v := get("CLIPIFY_OBJECTSTORE_SECRET_KEY", "OBJECTSTORE_SECRET_KEY"); v != "" {
		cfg.Store.Object.SecretKey = v
	}
	if v := get("CLIPIFY_GITSTORE_TOKEN", "GITSTORE_GIT_TOKEN"); v != "" {
		cfg.Store.Git.Token = v
	}
}

// SanitizeAndDefault normalizes values and fills in defaults for anything left unset.
func (cfg *Config) SanitizeAndDefault() {
	if cfg == nil {
		return
	}
	cfg.Environment = normalizeEnvironment(cfg.Environment)

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		if cfg.Environment == EnvironmentDevelopment {
			cfg.APIBaseURL = DefaultDevelopmentAPIBaseURL
		} else {
			cfg.APIBaseURL = DefaultProductionAPIBaseURL
		}
	}

	cfg.DeepLink.Scheme = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(cfg.DeepLink.Scheme), "://"))
	if cfg.DeepLink.Scheme == "" {
		cfg.DeepLink.Scheme = DefaultDeepLinkScheme
	}

	if strings.TrimSpace(cfg.OAuth.AuthorizeURL) == "" {
		cfg.OAuth.AuthorizeURL = cfg.APIBaseURL + oauthLoginPath
	}
	if strings.TrimSpace(cfg.OAuth.ClientID) == "" {
		cfg.OAuth.ClientID = DefaultClientID
	}
	if strings.TrimSpace(cfg.OAuth.RedirectURI) == "" {
		cfg.OAuth.RedirectURI = cfg.DeepLink.Scheme + "://auth/callback"
	}
	if len(cfg.OAuth.Scopes) == 0 {
		cfg.OAuth.Scopes = []string{"openid", "email", "profile"}
	}

	defaultPath(&cfg.Endpoints.Exchange, "/api/v1/auth/desktop/exchange")
	defaultPath(&cfg.Endpoints.Refresh, "/api/v1/auth/desktop/refresh")
	defaultPath(&cfg.Endpoints.Validate, "/api/v1/auth/validate")
	defaultPath(&cfg.Endpoints.Profile, "/api/v1/auth/me")
	defaultPath(&cfg.Endpoints.Health, "/health")

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	cfg.Store.Type = strings.ToLower(strings.TrimSpace(cfg.Store.Type))
	if cfg.Store.Type == "" {
		cfg.Store.Type = StoreFile
	}
	if cfg.Store.Git.Branch == "" {
		cfg.Store.Git.Branch = "main"
	}
	if cfg.Store.Postgres.Table == "" {
		cfg.Store.Postgres.Table = "clipify_secrets"
	}
	if cfg.Store.Object.Prefix == "" {
		cfg.Store.Object.Prefix = "clipify"
	}

	if cfg.Bridge.Host == "" {
		cfg.Bridge.Host = DefaultBridgeHost
	}
	if cfg.Bridge.Port <= 0 {
		cfg.Bridge.Port = DefaultBridgePort
	}
	if cfg.AutoRefresh.IntervalSeconds <= 0 {
		cfg.AutoRefresh.IntervalSeconds = DefaultRefreshInterval
	}
	if cfg.AutoRefresh.BufferSeconds <= 0 {
		cfg.AutoRefresh.BufferSeconds = DefaultRefreshBuffer
	}
	if cfg.Clipboard.HistorySize <= 0 {
		cfg.Clipboard.HistorySize = DefaultHistorySize
	}
	if cfg.Clipboard.PollIntervalMS <= 0 {
		cfg.Clipboard.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}
}

// Validate reports configuration errors that defaults cannot repair.
func (cfg *Config) Validate() error {
	switch cfg.Store.Type {
	case StoreFile, StoreMemory, StoreSQLite:
	case StorePostgres:
		if strings.TrimSpace(cfg.Store.Postgres.DSN) == "" {
			return fmt.Errorf("config: store.postgres.dsn is required for the postgres store")
		}
	case StoreObject:
		if cfg.Store.Object.Endpoint == "" || cfg.Store.Object.Bucket == "" {
			return fmt.Errorf("config: store.object.endpoint and store.object.bucket are required for the object store")
		}
	case StoreGit:
		if strings.TrimSpace(cfg.Store.Git.RemoteURL) == "" {
			return fmt.Errorf("config: store.git.remote-url is required for the git store")
		}
	default:
		return fmt.Errorf("config: unknown store type %q", cfg.Store.Type)
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return fmt.Errorf("config: invalid api-base-url: %w", err)
	}
	return nil
}

// EndpointURL resolves a configured endpoint path against APIBaseURL.
func (cfg *Config) EndpointURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return cfg.APIBaseURL + "/" + strings.TrimLeft(path, "/")
}

// Timeout returns the per-call backend timeout.
func (cfg *Config) Timeout() time.Duration {
	if cfg.ConnectTimeout <= 0 {
		return DefaultConnectTimeout * time.Second
	}
	return time.Duration(cfg.ConnectTimeout) * time.Second
}

// RefreshInterval returns how often the session checks whether a refresh is due.
func (cfg *Config) RefreshInterval() time.Duration {
	return time.Duration(cfg.AutoRefresh.IntervalSeconds) * time.Second
}

// RefreshBuffer returns how long before expiry a refresh is attempted.
func (cfg *Config) RefreshBuffer() time.Duration {
	return time.Duration(cfg.AutoRefresh.BufferSeconds) * time.Second
}

// PollInterval returns the clipboard polling period.
func (cfg *Config) PollInterval() time.Duration {
	return time.Duration(cfg.Clipboard.PollIntervalMS) * time.Millisecond
}

// IsProduction reports whether the production profile is active.
func (cfg *Config) IsProduction() bool {
	return cfg.Environment == EnvironmentProduction
}

// ResolveDataDir returns the absolute data directory, creating it when missing.
// An empty DataDir resolves to <user config dir>/Clipify.
func (cfg *Config) ResolveDataDir() (string, error) {
	dir := strings.TrimSpace(cfg.DataDir)
	if dir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve user config dir: %w", err)
		}
		dir = filepath.Join(base, "Clipify")
	} else if strings.HasPrefix(dir, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: resolve data dir: %w", err)
		}
		dir = filepath.Join(home, strings.TrimLeft(strings.TrimPrefix(dir, "~"), "/\\"))
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("config: create data dir: %w", err)
	}
	return dir, nil
}

// InboxDir returns the deep-link inbox directory under the data dir unless overridden.
func (cfg *Config) InboxDir(dataDir string) string {
	if strings.TrimSpace(cfg.DeepLink.InboxDir) != "" {
		return filepath.Clean(cfg.DeepLink.InboxDir)
	}
	return filepath.Join(dataDir, "deeplinks")
}

func normalizeEnvironment(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local":
		return EnvironmentDevelopment
	default:
		return EnvironmentProduction
	}
}

func defaultPath(target *string, fallback string) {
	if strings.TrimSpace(*target) == "" {
		*target = fallback
	}
}
