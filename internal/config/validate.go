package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	chunkAlignBytes     = 262_144 // 256 KiB alignment for resumable upload chunks
	minChunkBytes       = chunkAlignBytes
	maxChunkBytes       = 256 * mebibyte
	minMaxChunkAttempts = 1
	maxMaxChunkAttempts = 10
	minPollInterval     = 100 * time.Millisecond
	minLoginTimeout     = 10 * time.Second
	minRequestTimeout   = time.Second
	minShutdownTimeout  = 1 * time.Second
	minSessionKeyLength = 32
)

var validPrivacy = []string{"private", "unlisted", "public"}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validatePlatform(&cfg.Platform)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateMetadata(&cfg.Metadata)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	errs = append(errs, validateDurationNonNeg("auth.safety_margin", a.SafetyMargin)...)
	errs = append(errs, validateDurationMin("auth.login_timeout", a.LoginTimeout, minLoginTimeout)...)
	errs = append(errs, validateDurationMin("auth.poll_interval", a.PollInterval, minPollInterval)...)

	if len(a.Scopes) == 0 {
		errs = append(errs, errors.New("auth.scopes: must not be empty"))
	}

	for _, field := range []struct{ name, value string }{
		{"auth.redirect_url", a.RedirectURL},
		{"auth.auth_url", a.AuthURL},
		{"auth.token_url", a.TokenURL},
	} {
		errs = append(errs, validateOptionalURL(field.name, field.value)...)
	}

	return errs
}

func validateUpload(u *UploadConfig) []error {
	var errs []error

	maxSize, err := ParseSize(u.MaxFileSize)
	if err != nil {
		errs = append(errs, fmt.Errorf("upload.max_file_size: %w", err))
	} else if maxSize <= 0 {
		errs = append(errs, errors.New("upload.max_file_size: must be greater than zero"))
	}

	errs = append(errs, validateChunkSize(u.ChunkSize)...)

	if u.MaxChunkAttempts < minMaxChunkAttempts || u.MaxChunkAttempts > maxMaxChunkAttempts {
		errs = append(errs, fmt.Errorf("upload.max_chunk_attempts: must be between %d and %d, got %d",
			minMaxChunkAttempts, maxMaxChunkAttempts, u.MaxChunkAttempts))
	}

	errs = append(errs, validateDurationNonNeg("upload.retry_base_backoff", u.RetryBaseBackoff)...)
	errs = append(errs, validateDurationMin("upload.request_timeout", u.RequestTimeout, minRequestTimeout)...)

	if _, err := ParseRate(u.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("upload.bandwidth_limit: %w", err))
	}

	if !slices.Contains(validPrivacy, u.DefaultPrivacy) {
		errs = append(errs, fmt.Errorf("upload.default_privacy: must be one of %s; got %q",
			strings.Join(validPrivacy, ", "), u.DefaultPrivacy))
	}

	if u.DefaultCategory == "" {
		errs = append(errs, errors.New("upload.default_category: must not be empty"))
	}

	if len(u.AllowedTypes) == 0 {
		errs = append(errs, errors.New("upload.allowed_types: must not be empty"))
	}

	return errs
}

func validateChunkSize(s string) []error {
	bytes, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("upload.chunk_size: %w", err)}
	}

	if bytes < minChunkBytes || bytes > maxChunkBytes {
		return []error{fmt.Errorf("upload.chunk_size: must be between 256KiB and 256MiB, got %s", s)}
	}

	if bytes%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"upload.chunk_size: must be a multiple of 256 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, bytes)}
	}

	return nil
}

func validatePlatform(p *PlatformConfig) []error {
	var errs []error

	if p.UploadURL == "" {
		errs = append(errs, errors.New("platform.upload_url: must not be empty"))
	}

	if p.APIURL == "" {
		errs = append(errs, errors.New("platform.api_url: must not be empty"))
	}

	errs = append(errs, validateOptionalURL("platform.upload_url", p.UploadURL)...)
	errs = append(errs, validateOptionalURL("platform.api_url", p.APIURL)...)

	return errs
}

func validateServer(s *ServerConfig) []error {
	var errs []error

	if s.Listen == "" {
		errs = append(errs, errors.New("server.listen: must not be empty"))
	}

	if s.SessionKey != "" && len(s.SessionKey) < minSessionKeyLength {
		errs = append(errs, fmt.Errorf("server.session_key: must be at least %d characters", minSessionKeyLength))
	}

	errs = append(errs, validateOptionalURL("server.public_url", s.PublicURL)...)
	errs = append(errs, validateDurationMin("server.shutdown_timeout", s.ShutdownTimeout, minShutdownTimeout)...)
	errs = append(errs, validateDurationNonNeg("server.progress_ttl", s.ProgressTTL)...)

	return errs
}

func validateMetadata(m *MetadataConfig) []error {
	var errs []error

	errs = append(errs, validateOptionalURL("metadata.endpoint", m.Endpoint)...)
	errs = append(errs, validateDurationNonNeg("metadata.timeout", m.Timeout)...)

	return errs
}

func validateOptionalURL(field, value string) []error {
	if value == "" {
		return nil
	}

	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return []error{fmt.Errorf("%s: must be an http or https URL, got %q", field, value)}
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
