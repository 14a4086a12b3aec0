// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for vidpub. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Every section is optional; missing sections keep their defaults.
type Config struct {
	Auth     AuthConfig     `toml:"auth"`
	Upload   UploadConfig   `toml:"upload"`
	Platform PlatformConfig `toml:"platform"`
	Server   ServerConfig   `toml:"server"`
	Metadata MetadataConfig `toml:"metadata"`
	Logging  LoggingConfig  `toml:"logging"`
}

// AuthConfig holds the OAuth2 client registration and token lifecycle knobs.
// auth_url and token_url override the Google endpoints (used by tests and
// self-hosted gateways).
type AuthConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	RedirectURL  string   `toml:"redirect_url"`
	Scopes       []string `toml:"scopes"`
	AuthURL      string   `toml:"auth_url"`
	TokenURL     string   `toml:"token_url"`
	TokenFile    string   `toml:"token_file"`
	SafetyMargin string   `toml:"safety_margin"`
	LoginTimeout string   `toml:"login_timeout"`
	PollInterval string   `toml:"poll_interval"`
}

// UploadConfig controls validation limits and the chunk pipeline.
// chunk_size must be a multiple of 256 KiB per the resumable upload protocol.
type UploadConfig struct {
	MaxFileSize      string   `toml:"max_file_size"`
	ChunkSize        string   `toml:"chunk_size"`
	MaxChunkAttempts int      `toml:"max_chunk_attempts"`
	RetryBaseBackoff string   `toml:"retry_base_backoff"`
	RequestTimeout   string   `toml:"request_timeout"`
	BandwidthLimit   string   `toml:"bandwidth_limit"`
	DefaultPrivacy   string   `toml:"default_privacy"`
	DefaultCategory  string   `toml:"default_category"`
	AllowedTypes     []string `toml:"allowed_types"`
}

// PlatformConfig points the platform client at the upload and data API hosts.
type PlatformConfig struct {
	UploadURL string `toml:"upload_url"`
	APIURL    string `toml:"api_url"`
	UserAgent string `toml:"user_agent"`
}

// ServerConfig controls the HTTP API started by "vidpub serve".
type ServerConfig struct {
	Listen          string `toml:"listen"`
	PublicURL       string `toml:"public_url"`
	SessionKey      string `toml:"session_key"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
	HistoryDB       string `toml:"history_db"`
	ProgressTTL     string `toml:"progress_ttl"`
}

// MetadataConfig points at the external metadata generator. An empty
// endpoint disables generation.
type MetadataConfig struct {
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
	Timeout  string `toml:"timeout"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	TokenFile  *string // --token-file flag
	Listen     *string // --listen flag
	ChunkSize  *string // --chunk-size flag
}

// Resolved is a validated Config with every size and duration parsed and
// every path expanded. Components consume Resolved, never raw strings.
type Resolved struct {
	Config

	Path string // config file the values came from, possibly nonexistent

	TokenPath   string
	HistoryPath string

	SafetyMargin time.Duration
	LoginTimeout time.Duration
	PollInterval time.Duration

	MaxFileSize      int64
	ChunkSize        int64
	BandwidthLimit   int64
	RetryBaseBackoff time.Duration
	RequestTimeout   time.Duration

	ShutdownTimeout time.Duration
	ProgressTTL     time.Duration
	MetadataTimeout time.Duration
}
