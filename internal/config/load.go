package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are treated as fatal errors with "did you
// mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the four-layer override chain:
// defaults -> config file -> environment variables -> CLI flags.
// It returns a fully parsed and validated Resolved ready for use.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	// 1. Resolve config path: CLI > env > default
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// 2. Load config file (returns defaults if no file exists)
	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	// 3. Apply env overrides
	if env.ClientID != "" {
		cfg.Auth.ClientID = env.ClientID
	}

	if env.ClientSecret != "" {
		cfg.Auth.ClientSecret = env.ClientSecret
	}

	if env.TokenFile != "" {
		cfg.Auth.TokenFile = env.TokenFile
	}

	// 4. Apply CLI overrides (pointer fields: nil = not specified)
	if cli.TokenFile != nil {
		cfg.Auth.TokenFile = *cli.TokenFile
	}

	if cli.Listen != nil {
		cfg.Server.Listen = *cli.Listen
	}

	if cli.ChunkSize != nil {
		cfg.Upload.ChunkSize = *cli.ChunkSize
	}

	// 5. Validate the merged result; env and flags can introduce bad values.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolveValues(cfg, cfgPath)
}

// resolveValues parses every size and duration of a validated Config.
func resolveValues(cfg *Config, path string) (*Resolved, error) {
	r := &Resolved{Config: *cfg, Path: path}

	r.TokenPath = expandTilde(cfg.Auth.TokenFile)
	if r.TokenPath == "" {
		r.TokenPath = DefaultTokenPath()
	}

	r.HistoryPath = expandTilde(cfg.Server.HistoryDB)
	if r.HistoryPath == "" {
		r.HistoryPath = DefaultHistoryPath()
	}

	var errs []error

	duration := func(field, value string, dst *time.Duration) {
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}

		*dst = d
	}

	size := func(field, value string, parse func(string) (int64, error), dst *int64) {
		n, err := parse(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}

		*dst = n
	}

	duration("auth.safety_margin", cfg.Auth.SafetyMargin, &r.SafetyMargin)
	duration("auth.login_timeout", cfg.Auth.LoginTimeout, &r.LoginTimeout)
	duration("auth.poll_interval", cfg.Auth.PollInterval, &r.PollInterval)
	duration("upload.retry_base_backoff", cfg.Upload.RetryBaseBackoff, &r.RetryBaseBackoff)
	duration("upload.request_timeout", cfg.Upload.RequestTimeout, &r.RequestTimeout)
	duration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, &r.ShutdownTimeout)
	duration("server.progress_ttl", cfg.Server.ProgressTTL, &r.ProgressTTL)
	duration("metadata.timeout", cfg.Metadata.Timeout, &r.MetadataTimeout)

	size("upload.max_file_size", cfg.Upload.MaxFileSize, ParseSize, &r.MaxFileSize)
	size("upload.chunk_size", cfg.Upload.ChunkSize, ParseSize, &r.ChunkSize)
	size("upload.bandwidth_limit", cfg.Upload.BandwidthLimit, ParseRate, &r.BandwidthLimit)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return r, nil
}
