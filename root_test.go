package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/vidpub/internal/config"
	"github.com/tonimelisma/vidpub/internal/upload"
)

// isolateEnv keeps the developer's own config and credentials out of tests.
func isolateEnv(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvClientID, "")
	t.Setenv(config.EnvClientSecret, "")
	t.Setenv(config.EnvTokenFile, "")
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

// --- buildLogger tests ---

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		cfgLevel string
		flags    CLIFlags
		minLevel slog.Level
	}{
		{name: "default", minLevel: slog.LevelInfo},
		{name: "config debug", cfgLevel: "debug", minLevel: slog.LevelDebug},
		{name: "config warn", cfgLevel: "warn", minLevel: slog.LevelWarn},
		{name: "verbose overrides", cfgLevel: "error", flags: CLIFlags{Verbose: true}, minLevel: slog.LevelDebug},
		{name: "quiet overrides", cfgLevel: "debug", flags: CLIFlags{Quiet: true}, minLevel: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg *config.Resolved
			if tt.cfgLevel != "" {
				cfg = &config.Resolved{Config: config.Config{
					Logging: config.LoggingConfig{LogLevel: tt.cfgLevel, LogFormat: "text"},
				}}
			}

			h := buildLogger(&bytes.Buffer{}, cfg, &tt.flags).Handler()
			ctx := context.Background()

			assert.True(t, h.Enabled(ctx, tt.minLevel))
			assert.False(t, h.Enabled(ctx, tt.minLevel-1))
		})
	}
}

func TestBuildLogger_Format(t *testing.T) {
	var buf bytes.Buffer

	// A buffer is not a terminal, so "auto" selects JSON.
	buildLogger(&buf, nil, &CLIFlags{}).Info("hello", slog.String("k", "v"))
	assert.Contains(t, buf.String(), `"msg":"hello"`)

	buf.Reset()

	cfg := &config.Resolved{Config: config.Config{Logging: config.LoggingConfig{LogLevel: "info", LogFormat: "text"}}}
	buildLogger(&buf, cfg, &CLIFlags{}).Info("hello", slog.String("k", "v"))
	assert.Contains(t, buf.String(), "msg=hello k=v")
}

// --- root command tests ---

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	for _, want := range []string{
		"login", "logout", "status", "whoami", "categories",
		"validate", "publish", "history", "serve", "config",
	} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestNewRootCmd_PersistentFlags(t *testing.T) {
	cmd := newRootCmd()

	for _, name := range []string{"config", "token-file", "json", "verbose", "quiet"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing flag %q", name)
	}
}

func TestNewRootCmd_MutualExclusivity(t *testing.T) {
	isolateEnv(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--verbose", "--quiet", "config", "path"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "none of the others can be")
}

func TestNewRootCmd_InvalidConfig(t *testing.T) {
	dir := isolateEnv(t)
	path := writeConfig(t, dir, "[upload]\nchunk_sise = \"8MiB\"\n")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "config", "show"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
}

func TestNewRootCmd_SkipConfigAnnotation(t *testing.T) {
	dir := isolateEnv(t)
	path := writeConfig(t, dir, "not = [valid toml")

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", path, "--quiet", "config", "path"})

	assert.NoError(t, cmd.Execute())
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	dir := isolateEnv(t)
	path := writeConfig(t, dir, "[server]\nlisten = \"127.0.0.1:7000\"\n")

	cmd := newRootCmd()

	var got *config.Resolved

	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	serve.RunE = func(c *cobra.Command, _ []string) error {
		got = mustCLIContext(c.Context()).Cfg
		return nil
	}

	cmd.SetArgs([]string{"--config", path, "--token-file", filepath.Join(dir, "tok.json"), "serve", "--listen", "127.0.0.1:9000"})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.Equal(t, "127.0.0.1:9000", got.Server.Listen)
	assert.Equal(t, filepath.Join(dir, "tok.json"), got.TokenPath)
	assert.Equal(t, path, got.Path)
}

// --- validate command tests ---

func TestValidateCmd(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeConfig(t, dir, "[upload]\nmax_file_size = \"1KiB\"\n")

	small := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(small, []byte("0123456789"), 0o600))

	big := filepath.Join(dir, "big.mp4")
	require.NoError(t, os.WriteFile(big, bytes.Repeat([]byte("x"), 2048), 0o600))

	empty := filepath.Join(dir, "empty.mov")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	text := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(text, []byte("hi"), 0o600))

	tests := []struct {
		name string
		args []string
		kind error
	}{
		{name: "valid", args: []string{small, "--title", "Demo"}},
		{name: "too large", args: []string{big}, kind: upload.ErrTooLarge},
		{name: "empty", args: []string{empty}, kind: upload.ErrEmptyFile},
		{name: "unsupported", args: []string{text}, kind: upload.ErrUnsupportedType},
		{name: "bad privacy", args: []string{small, "--privacy", "friends"}, kind: upload.ErrInvalidPrivacy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append([]string{"--config", cfgPath, "--quiet", "validate"}, tt.args...))

			err := cmd.Execute()
			if tt.kind == nil {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, errInvalidVideo)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestPublishCmd_RequiresClient(t *testing.T) {
	dir := isolateEnv(t)
	cfgPath := writeConfig(t, dir, "")

	file := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(file, []byte("0123456789"), 0o600))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", cfgPath, "publish", file})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no OAuth client configured")
}

// --- helpers ---

func TestShowProgress(t *testing.T) {
	events := make(chan upload.ProgressEvent, 3)
	events <- upload.ProgressEvent{Sent: 512, Total: 2048, Percent: 25}
	events <- upload.ProgressEvent{Sent: 2048, Total: 2048, Percent: 100}
	close(events)

	var buf bytes.Buffer
	showProgress(&buf, events, true)

	out := buf.String()
	assert.Contains(t, out, "\rUploading:  25.0%  512 B / 2.0 KB")
	assert.Contains(t, out, "\rUploading: 100.0%  2.0 KB / 2.0 KB\n")

	quiet := make(chan upload.ProgressEvent, 1)
	quiet <- upload.ProgressEvent{Sent: 1, Total: 1, Percent: 100}
	close(quiet)

	buf.Reset()
	showProgress(&buf, quiet, false)
	assert.Empty(t, buf.String())
}

func TestDescribePublishError(t *testing.T) {
	cause := &upload.PublishError{Kind: upload.ErrTransferFailed, Offset: 3 << 20, Err: errors.New("boom")}

	err := describePublishError("u1", cause)
	assert.ErrorIs(t, err, upload.ErrTransferFailed)
	assert.Contains(t, err.Error(), "publish u1 failed after 3.0 MB")

	err = describePublishError("u2", &upload.PublishError{Kind: upload.ErrNotAuthenticated})
	assert.Contains(t, err.Error(), "publish u2 failed:")
}

func TestRedactSecrets(t *testing.T) {
	r := config.Resolved{}
	r.Auth.ClientID = "id"
	r.Auth.ClientSecret = "s3cret"
	r.Metadata.APIKey = "key"

	out := redactSecrets(r)
	assert.Equal(t, "id", out.Auth.ClientID)
	assert.Equal(t, "(set)", out.Auth.ClientSecret)
	assert.Equal(t, "(set)", out.Metadata.APIKey)
	assert.Empty(t, out.Server.SessionKey)
	assert.Equal(t, "s3cret", r.Auth.ClientSecret)
}

func TestDefaultHTTPClient_HasTimeout(t *testing.T) {
	assert.Equal(t, httpClientTimeout, defaultHTTPClient().Timeout)
}
