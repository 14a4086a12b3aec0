// Package metadata talks to the external text-generation service that
// drafts titles, descriptions and tags. Its output is passed through
// untouched; quality is not judged here.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/vidpub/internal/upload"
)

// Input defaults.
const (
	DefaultAudience = "general"
	DefaultStyle    = "informative"

	errBodyLimit = 4096
)

var (
	// ErrEmptyInput means neither text nor topic was supplied.
	ErrEmptyInput = errors.New("metadata: text or topic is required")
	// ErrNotConfigured means no generator endpoint is set.
	ErrNotConfigured = errors.New("metadata: no generator endpoint configured")
	// ErrGenerator wraps any failed generator call.
	ErrGenerator = errors.New("metadata: generator request failed")
)

// Input is the raw material for generation.
type Input struct {
	Text     string `json:"text,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Audience string `json:"audience"`
	Style    string `json:"style"`
}

// Metadata is the generator's suggestion.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	CategoryID  string   `json:"category_id"`
}

// Client calls the generator endpoint.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a generator client. timeout bounds a whole call; zero
// leaves it to the caller's context.
func NewClient(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != ""
}

// Generate asks the service for metadata.
func (c *Client) Generate(ctx context.Context, in Input) (*Metadata, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	in.Text = strings.TrimSpace(in.Text)
	in.Topic = strings.TrimSpace(in.Topic)

	if in.Text == "" && in.Topic == "" {
		return nil, ErrEmptyInput
	}

	if in.Audience == "" {
		in.Audience = DefaultAudience
	}

	if in.Style == "" {
		in.Style = DefaultStyle
	}

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("metadata: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("metadata: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("requesting generated metadata",
		slog.Int("text_len", len(in.Text)),
		slog.String("topic", in.Topic),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit)) //nolint:errcheck // best-effort read for error message

		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrGenerator, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var md Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrGenerator, err)
	}

	return &md, nil
}

// Merge fills the blank metadata fields of req from md. Fields the user
// set are kept.
func Merge(req *upload.Request, md *Metadata) {
	if md == nil {
		return
	}

	if strings.TrimSpace(req.Title) == "" {
		req.Title = md.Title
	}

	if strings.TrimSpace(req.Description) == "" {
		req.Description = md.Description
	}

	if len(upload.NormalizeTags(req.Tags)) == 0 {
		req.Tags = append([]string(nil), md.Tags...)
	}

	if strings.TrimSpace(req.CategoryID) == "" {
		req.CategoryID = md.CategoryID
	}
}
