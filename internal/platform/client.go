package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"google.golang.org/api/youtube/v3"
)

// DefaultUploadURL is the resumable upload endpoint for videos.
const DefaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"

// statusResumeIncomplete is the resumable protocol's "keep sending" reply.
const statusResumeIncomplete = http.StatusPermanentRedirect

// uploadParts are the video resource parts sent with the initiation request.
const uploadParts = "snippet,status"

// errBodyLimit caps how much of an error body is kept for messages.
const errBodyLimit = 4096

// Session is an open resumable upload. URI is the opaque session locator
// returned by initiation; Total is the declared content length.
type Session struct {
	URI   string
	Total int64
}

// ChunkResult reports what the platform holds after a chunk or status query.
// Acknowledged is the count of contiguous bytes persisted from offset zero.
// When Complete is true the upload finished and Video is the created resource.
type ChunkResult struct {
	Acknowledged int64
	Complete     bool
	Video        *youtube.Video
}

// Client issues resumable upload requests. Safe for concurrent use.
type Client struct {
	uploadURL  string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a platform client. uploadURL is typically
// DefaultUploadURL. Redirect following is disabled on the supplied client
// because the protocol uses 308 for partial progress.
func NewClient(uploadURL string, httpClient *http.Client, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	hc := *httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		uploadURL:  uploadURL,
		httpClient: &hc,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// Initiate opens a resumable upload session for a video of size bytes and
// returns its locator. No content is sent.
func (c *Client) Initiate(
	ctx context.Context, token string, video *youtube.Video, size int64, contentType string,
) (*Session, error) {
	c.logger.Info("initiating upload session",
		slog.Int64("size", size),
		slog.String("content_type", contentType),
	)

	body, err := json.Marshal(video)
	if err != nil {
		return nil, fmt.Errorf("platform: encoding video resource: %w", err)
	}

	u, err := url.Parse(c.uploadURL)
	if err != nil {
		return nil, fmt.Errorf("platform: parsing upload URL: %w", err)
	}

	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("part", uploadParts)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("platform: creating initiate request: %w", err)
	}

	c.setHeaders(req, token)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	req.Header.Set("X-Upload-Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: initiate: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, apiError(resp, false)
	}

	drain(resp.Body)

	location := resp.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: initiate response has no Location header", ErrProtocol)
	}

	c.logger.Debug("upload session created")

	return &Session{URI: location, Total: size}, nil
}

// SendChunk uploads length bytes of chunk starting at offset. The result
// carries the platform's own acknowledged offset, which may be less than
// offset+length.
func (c *Client) SendChunk(
	ctx context.Context, token string, s *Session, offset int64, chunk io.Reader, length int64,
) (*ChunkResult, error) {
	c.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", s.Total),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.URI, chunk)
	if err != nil {
		return nil, fmt.Errorf("platform: creating chunk request: %w", err)
	}

	c.setHeaders(req, token)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, s.Total))
	req.ContentLength = length

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk at offset %d: %w", ErrNetwork, offset, err)
	}
	defer resp.Body.Close()

	return c.handleChunkResponse(resp)
}

// QueryProgress asks how many bytes the platform holds for s.
func (c *Client) QueryProgress(ctx context.Context, token string, s *Session) (*ChunkResult, error) {
	c.logger.Info("querying upload session status")

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.URI, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("platform: creating status request: %w", err)
	}

	c.setHeaders(req, token)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", s.Total))
	req.ContentLength = 0

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: status query: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	return c.handleChunkResponse(resp)
}

// Finalize confirms that s holds every byte and returns the created video.
// The platform completes the upload on the final chunk, so this is a status
// query that insists on completion.
func (c *Client) Finalize(ctx context.Context, token string, s *Session) (*youtube.Video, error) {
	res, err := c.QueryProgress(ctx, token, s)
	if err != nil {
		return nil, err
	}

	if !res.Complete {
		return nil, fmt.Errorf("%w: %d of %d bytes acknowledged", ErrIncomplete, res.Acknowledged, s.Total)
	}

	return res.Video, nil
}

// handleChunkResponse processes a chunk or status reply. 308 means more
// bytes are expected; 200/201 means the upload is complete.
func (c *Client) handleChunkResponse(resp *http.Response) (*ChunkResult, error) {
	switch resp.StatusCode {
	case statusResumeIncomplete:
		drain(resp.Body)

		acked, err := parseRangeHeader(resp.Header.Get("Range"))
		if err != nil {
			return nil, err
		}

		c.logger.Debug("chunk accepted", slog.Int64("acknowledged", acked))

		return &ChunkResult{Acknowledged: acked}, nil

	case http.StatusOK, http.StatusCreated:
		var video youtube.Video
		if err := json.NewDecoder(resp.Body).Decode(&video); err != nil {
			return nil, fmt.Errorf("%w: decoding final response: %w", ErrProtocol, err)
		}

		if video.Id == "" {
			return nil, fmt.Errorf("%w: final response has no video id", ErrProtocol)
		}

		c.logger.Debug("upload complete", slog.String("video_id", video.Id))

		return &ChunkResult{Complete: true, Video: &video}, nil

	default:
		return nil, apiError(resp, true)
	}
}

// parseRangeHeader converts "bytes=0-N" to the N+1 acknowledged bytes.
// An absent header means nothing was persisted.
func parseRangeHeader(h string) (int64, error) {
	if h == "" {
		return 0, nil
	}

	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok {
		return 0, fmt.Errorf("%w: malformed Range header %q", ErrProtocol, h)
	}

	start, end, ok := strings.Cut(spec, "-")
	if !ok || start != "0" {
		return 0, fmt.Errorf("%w: malformed Range header %q", ErrProtocol, h)
	}

	last, err := strconv.ParseInt(end, 10, 64)
	if err != nil || last < 0 {
		return 0, fmt.Errorf("%w: malformed Range header %q", ErrProtocol, h)
	}

	return last + 1, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)

	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
}

func apiError(resp *http.Response, session bool) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit)) //nolint:errcheck // best-effort read for error message

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header),
		Err:        classifyStatus(resp.StatusCode, session),
	}
}

// drain reads the body to EOF so the connection can be reused.
func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
