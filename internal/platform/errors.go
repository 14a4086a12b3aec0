// Package platform speaks the video platform's resumable upload protocol and
// the parts of its data API vidpub needs. It is stateless: callers pass the
// access token and session on every call and own all retry decisions.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, platform.ErrUnauthorized) to check.
var (
	ErrBadRequest     = errors.New("platform: bad request")
	ErrUnauthorized   = errors.New("platform: unauthorized")
	ErrForbidden      = errors.New("platform: forbidden")
	ErrNotFound       = errors.New("platform: not found")
	ErrSessionExpired = errors.New("platform: upload session expired")
	ErrTooLarge       = errors.New("platform: request entity too large")
	ErrThrottled      = errors.New("platform: throttled")
	ErrServerError    = errors.New("platform: server error")
	ErrNetwork        = errors.New("platform: network error")
	ErrIncomplete     = errors.New("platform: upload incomplete")
	ErrProtocol       = errors.New("platform: unexpected response")
)

// APIError wraps a sentinel error with the HTTP status code and the
// response body for debugging.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // zero when the server gave no hint
	Err        error         // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error. session
// selects the resumable-session meaning of 404 and 410.
func classifyStatus(code int, session bool) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound, http.StatusGone:
		if session {
			return ErrSessionExpired
		}

		return ErrNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrTooLarge
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrProtocol
	}
}

// isRetryableStatus reports whether the given HTTP status code should be retried.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Retryable reports whether err is transient: a network failure, a timeout
// or a retryable HTTP status. Cancellation is never retryable. A deadline is
// retryable here; callers whose own ctx has ended stop regardless.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}

	return errors.Is(err, ErrNetwork)
}

// RetryAfter returns the server's backoff hint carried by err, or zero.
func RetryAfter(err error) time.Duration {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}

	return 0
}

// parseRetryAfter reads a delay-seconds Retry-After header.
func parseRetryAfter(h http.Header) time.Duration {
	ra := h.Get("Retry-After")
	if ra == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	return 0
}
