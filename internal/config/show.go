package config

import (
	"fmt"
	"io"
	"strings"
)

// redacted replaces secret values in rendered output.
const redacted = "(set)"

// RenderEffective writes the resolved configuration as a human-readable
// annotated summary to w. This powers the "config show" command. Secrets are
// reported as set or unset, never printed.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.Path)

	renderAuthSection(ew, r)
	renderUploadSection(ew, &r.Upload)
	renderPlatformSection(ew, &r.Platform)
	renderServerSection(ew, r)
	renderMetadataSection(ew, &r.Metadata)
	renderLoggingSection(ew, &r.Logging)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAuthSection(ew *errWriter, r *Resolved) {
	a := &r.Auth

	ew.printf("[auth]\n")
	ew.printf("  client_id     = %q\n", a.ClientID)
	ew.printf("  client_secret = %q\n", secret(a.ClientSecret))

	if a.RedirectURL != "" {
		ew.printf("  redirect_url  = %q\n", a.RedirectURL)
	}

	ew.printf("  scopes        = [%s]\n", joinQuoted(a.Scopes))
	ew.printf("  token_file    = %q\n", r.TokenPath)
	ew.printf("  safety_margin = %q\n", a.SafetyMargin)
	ew.printf("  login_timeout = %q\n", a.LoginTimeout)
	ew.printf("  poll_interval = %q\n", a.PollInterval)
	ew.printf("\n")
}

func renderUploadSection(ew *errWriter, u *UploadConfig) {
	ew.printf("[upload]\n")
	ew.printf("  max_file_size      = %q\n", u.MaxFileSize)
	ew.printf("  chunk_size         = %q\n", u.ChunkSize)
	ew.printf("  max_chunk_attempts = %d\n", u.MaxChunkAttempts)
	ew.printf("  retry_base_backoff = %q\n", u.RetryBaseBackoff)
	ew.printf("  request_timeout    = %q\n", u.RequestTimeout)
	ew.printf("  bandwidth_limit    = %q\n", u.BandwidthLimit)
	ew.printf("  default_privacy    = %q\n", u.DefaultPrivacy)
	ew.printf("  default_category   = %q\n", u.DefaultCategory)
	ew.printf("  allowed_types      = [%s]\n", joinQuoted(u.AllowedTypes))
	ew.printf("\n")
}

func renderPlatformSection(ew *errWriter, p *PlatformConfig) {
	ew.printf("[platform]\n")
	ew.printf("  upload_url = %q\n", p.UploadURL)
	ew.printf("  api_url    = %q\n", p.APIURL)

	if p.UserAgent != "" {
		ew.printf("  user_agent = %q\n", p.UserAgent)
	}

	ew.printf("\n")
}

func renderServerSection(ew *errWriter, r *Resolved) {
	s := &r.Server

	ew.printf("[server]\n")
	ew.printf("  listen           = %q\n", s.Listen)

	if s.PublicURL != "" {
		ew.printf("  public_url       = %q\n", s.PublicURL)
	}

	ew.printf("  session_key      = %q\n", secret(s.SessionKey))
	ew.printf("  shutdown_timeout = %q\n", s.ShutdownTimeout)
	ew.printf("  history_db       = %q\n", r.HistoryPath)
	ew.printf("  progress_ttl     = %q\n", s.ProgressTTL)
	ew.printf("\n")
}

func renderMetadataSection(ew *errWriter, m *MetadataConfig) {
	ew.printf("[metadata]\n")
	ew.printf("  endpoint = %q\n", m.Endpoint)
	ew.printf("  api_key  = %q\n", secret(m.APIKey))
	ew.printf("  timeout  = %q\n", m.Timeout)
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, l *LoggingConfig) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", l.LogLevel)
	ew.printf("  log_format = %q\n", l.LogFormat)
}

func secret(s string) string {
	if s == "" {
		return ""
	}

	return redacted
}

// joinQuoted formats a string slice as comma-separated quoted values.
func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
