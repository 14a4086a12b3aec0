package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/vidpub/internal/auth"
)

// OAuth cookie: holds the CSRF state and PKCE verifier between /login and
// /callback.
const (
	oauthCookieName = "vidpub_oauth"
	oauthCookieTTL  = 10 * time.Minute

	keyState    = "state"
	keyVerifier = "verifier"
	keyRedirect = "redirect"
)

type loginResponse struct {
	AuthURL string `json:"auth_url"`
	State   string `json:"state"`
}

type statusResponse struct {
	Authenticated bool       `json:"authenticated"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	c, err := auth.NewChallenge(s.redirectURL(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	sess, _ := s.cookies.New(r, oauthCookieName) //nolint:errcheck // a tampered cookie yields a fresh session
	sess.Values[keyState] = c.State
	sess.Values[keyVerifier] = c.Verifier
	sess.Values[keyRedirect] = c.RedirectURL

	if err := sess.Save(r, w); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("saving session: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{AuthURL: s.deps.Auth.AuthCodeURL(c), State: c.State})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		auth.WriteCallbackPage(w, fmt.Errorf("%w: malformed callback: %w", auth.ErrExchangeFailed, err))
		return
	}

	sess, _ := s.cookies.Get(r, oauthCookieName) //nolint:errcheck // missing cookie fails the state check below

	c := auth.Challenge{
		State:       sessionString(sess.Values[keyState]),
		Verifier:    sessionString(sess.Values[keyVerifier]),
		RedirectURL: sessionString(sess.Values[keyRedirect]),
	}

	// One-shot: the state is consumed whatever the outcome.
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		s.logger.Warn("clearing oauth session failed", slog.String("error", err.Error()))
	}

	if c.State == "" {
		auth.WriteCallbackPage(w, fmt.Errorf("%w: no login in progress", auth.ErrStateMismatch))
		return
	}

	if _, err := s.deps.Auth.HandleCallback(r.Context(), r.Form, c); err != nil {
		s.logger.Warn("oauth callback failed", slog.String("error", err.Error()))
		auth.WriteCallbackPage(w, err)

		return
	}

	s.logger.Info("login completed via callback")
	auth.WriteCallbackPage(w, nil)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st, err := s.deps.Auth.State()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if err := s.deps.Auth.Logout(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleWait long-polls until authentication completes or ?timeout passes.
func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	if s.deps.Waiter == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "login polling is not enabled")
		return
	}

	timeout := s.opts.MaxWait
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid timeout %q", raw))
			return
		}

		timeout = min(d, s.opts.MaxWait)
	}

	s.deps.Waiter.AwaitLogin(r.Context(), timeout)

	st, err := s.deps.Auth.State()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toStatusResponse(st))
}

// redirectURL picks the OAuth redirect: explicit config, then the public
// URL, then the request's own host.
func (s *Server) redirectURL(r *http.Request) string {
	if s.opts.RedirectURL != "" {
		return s.opts.RedirectURL
	}

	if s.opts.PublicURL != "" {
		return strings.TrimSuffix(s.opts.PublicURL, "/") + callbackPath
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	return scheme + "://" + r.Host + callbackPath
}

func toStatusResponse(st auth.State) statusResponse {
	resp := statusResponse{Authenticated: st.Authenticated}
	if st.Authenticated && !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt
		resp.ExpiresAt = &exp
	}

	return resp
}

func sessionString(v any) string {
	s, _ := v.(string)
	return s
}
