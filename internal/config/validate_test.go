package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	invalidSizeStr     = "not-a-size"
	invalidDurationStr = "soon"
)

func validConfig() *Config {
	return DefaultConfig()
}

func TestValidate_ValidDefaults(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"safety margin", func(c *Config) { c.Auth.SafetyMargin = invalidDurationStr }, "auth.safety_margin"},
		{"negative margin", func(c *Config) { c.Auth.SafetyMargin = "-1s" }, "auth.safety_margin"},
		{"login timeout too short", func(c *Config) { c.Auth.LoginTimeout = "1s" }, "auth.login_timeout"},
		{"poll interval too short", func(c *Config) { c.Auth.PollInterval = "1ms" }, "auth.poll_interval"},
		{"no scopes", func(c *Config) { c.Auth.Scopes = nil }, "auth.scopes"},
		{"bad redirect", func(c *Config) { c.Auth.RedirectURL = "ftp://x" }, "auth.redirect_url"},
		{"max size", func(c *Config) { c.Upload.MaxFileSize = invalidSizeStr }, "upload.max_file_size"},
		{"zero max size", func(c *Config) { c.Upload.MaxFileSize = "0" }, "upload.max_file_size"},
		{"chunk size", func(c *Config) { c.Upload.ChunkSize = invalidSizeStr }, "upload.chunk_size"},
		{"attempts", func(c *Config) { c.Upload.MaxChunkAttempts = 0 }, "upload.max_chunk_attempts"},
		{"backoff", func(c *Config) { c.Upload.RetryBaseBackoff = invalidDurationStr }, "upload.retry_base_backoff"},
		{"request timeout too short", func(c *Config) { c.Upload.RequestTimeout = "100ms" }, "upload.request_timeout"},
		{"bandwidth", func(c *Config) { c.Upload.BandwidthLimit = "fast" }, "upload.bandwidth_limit"},
		{"privacy", func(c *Config) { c.Upload.DefaultPrivacy = "friends" }, "upload.default_privacy"},
		{"category", func(c *Config) { c.Upload.DefaultCategory = "" }, "upload.default_category"},
		{"allowed types", func(c *Config) { c.Upload.AllowedTypes = nil }, "upload.allowed_types"},
		{"upload url", func(c *Config) { c.Platform.UploadURL = "" }, "platform.upload_url"},
		{"api url scheme", func(c *Config) { c.Platform.APIURL = "gopher://x" }, "platform.api_url"},
		{"listen", func(c *Config) { c.Server.Listen = "" }, "server.listen"},
		{"session key", func(c *Config) { c.Server.SessionKey = "short" }, "server.session_key"},
		{"shutdown", func(c *Config) { c.Server.ShutdownTimeout = "10ms" }, "server.shutdown_timeout"},
		{"metadata endpoint", func(c *Config) { c.Metadata.Endpoint = "not a url" }, "metadata.endpoint"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "verbose" }, "logging.log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "logging.log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidate_ChunkSize_Alignment(t *testing.T) {
	cfg := validConfig()
	cfg.Upload.ChunkSize = "1MB"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple of 256 KiB")
}

func TestValidate_ChunkSize_Bounds(t *testing.T) {
	for _, size := range []string{"128KiB", "512MiB"} {
		t.Run(size, func(t *testing.T) {
			cfg := validConfig()
			cfg.Upload.ChunkSize = size

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "must be between")
		})
	}
}

func TestValidate_ChunkSize_Aligned(t *testing.T) {
	for _, size := range []string{"256KiB", "1MiB", "8MiB", "64MiB"} {
		t.Run(size, func(t *testing.T) {
			cfg := validConfig()
			cfg.Upload.ChunkSize = size
			assert.NoError(t, Validate(cfg))
		})
	}
}

func TestValidate_AccumulatesAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Upload.DefaultPrivacy = "friends"
	cfg.Logging.LogLevel = "verbose"
	cfg.Server.Listen = ""

	err := Validate(cfg)
	require.Error(t, err)

	lines := strings.Split(err.Error(), "\n")
	assert.Len(t, lines, 3)
}
