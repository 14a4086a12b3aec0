// Package auth owns the OAuth2 session: authorization URLs, code exchange,
// refresh before expiry, logout, and waiting for a login to complete. The
// token set itself lives in a credstore.Store.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/vidpub/internal/credstore"
)

// DefaultSafetyMargin is how long before expiry an access token is treated
// as expired.
const DefaultSafetyMargin = 60 * time.Second

// fallbackLifetime applies when the token endpoint omits expires_in.
const fallbackLifetime = time.Hour

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// refreshKey is the single singleflight key: there is one credential.
const refreshKey = "refresh"

// refreshTimeout bounds a shared refresh. It is detached from the caller that
// started it, so it needs a deadline of its own.
const refreshTimeout = 30 * time.Second

// Options configures a Manager. Zero Endpoint selects Google.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	SafetyMargin time.Duration

	// HTTPClient is used for token endpoint calls. Nil uses http.DefaultClient.
	HTTPClient *http.Client

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// State is the derived authentication state. It is computed from the stored
// token set on every call and never cached.
type State struct {
	// Authenticated is true while the stored access token has not expired.
	Authenticated bool
	// Stored is true when any token set is present, expired or not.
	Stored    bool
	ExpiresAt time.Time
}

// Challenge is one authorization attempt: the CSRF state, the PKCE verifier
// and the redirect URI the code will be delivered to.
type Challenge struct {
	State       string
	Verifier    string
	RedirectURL string // empty uses Options.RedirectURL
}

// NewChallenge generates a random state and PKCE verifier.
func NewChallenge(redirectURL string) (Challenge, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return Challenge{}, fmt.Errorf("auth: generating state token: %w", err)
	}

	return Challenge{
		State:       hex.EncodeToString(b),
		Verifier:    oauth2.GenerateVerifier(),
		RedirectURL: redirectURL,
	}, nil
}

// Manager issues valid access tokens and moves the session between
// Unauthenticated and Authenticated. Safe for concurrent use; concurrent
// refreshes collapse into a single token endpoint call.
type Manager struct {
	oauth  *oauth2.Config
	store  credstore.Store
	margin time.Duration
	client *http.Client
	now    func() time.Time
	logger *slog.Logger

	refreshes singleflight.Group
}

// NewManager creates a Manager over store.
func NewManager(opts Options, store credstore.Store, logger *slog.Logger) *Manager {
	endpoint := opts.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	margin := opts.SafetyMargin
	if margin <= 0 {
		margin = DefaultSafetyMargin
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Manager{
		oauth: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Scopes:       opts.Scopes,
			Endpoint:     endpoint,
		},
		store:  store,
		margin: margin,
		client: opts.HTTPClient,
		now:    now,
		logger: logger,
	}
}

// AuthCodeURL builds the authorization URL for c: offline access, forced
// consent so a refresh token is always issued, and an S256 PKCE challenge.
func (m *Manager) AuthCodeURL(c Challenge) string {
	opts := []oauth2.AuthCodeOption{
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(c.Verifier),
	}

	if c.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", c.RedirectURL))
	}

	return m.oauth.AuthCodeURL(c.State, opts...)
}

// ExchangeCode trades an authorization code for a token set and persists it.
// On any failure nothing is persisted and the error wraps ErrExchangeFailed.
func (m *Manager) ExchangeCode(ctx context.Context, code string, c Challenge) (*credstore.TokenSet, error) {
	m.logger.Info("exchanging authorization code for token")

	opts := []oauth2.AuthCodeOption{oauth2.VerifierOption(c.Verifier)}
	if c.RedirectURL != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", c.RedirectURL))
	}

	tok, err := m.oauth.Exchange(m.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token issued", ErrExchangeFailed)
	}

	ts := m.tokenSet(tok, "")

	if err := m.store.Save(ts); err != nil {
		return nil, fmt.Errorf("%w: saving token: %w", ErrExchangeFailed, err)
	}

	m.logger.Info("login successful", slog.Time("expiry", ts.ExpiresAt))

	return ts, nil
}

// ValidToken returns an access token that stays valid for at least the
// safety margin, refreshing first when needed. Fails with ErrUnauthenticated
// when no token set is stored and ErrRefreshFailed when the refresh fails.
func (m *Manager) ValidToken(ctx context.Context) (string, error) {
	ts, err := m.store.Load()
	if err != nil {
		return "", fmt.Errorf("auth: loading token: %w", err)
	}

	if ts == nil {
		return "", ErrUnauthenticated
	}

	if m.fresh(ts) {
		return ts.AccessToken, nil
	}

	m.logger.Debug("access token inside safety margin, refreshing",
		slog.Time("expiry", ts.ExpiresAt),
	)

	return m.refresh(ctx, ts.AccessToken)
}

// ForceRefresh refreshes after the platform rejected the access token
// rejected. When the stored token already differs from rejected, another
// caller refreshed in the meantime and the stored token is returned as is.
func (m *Manager) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	return m.refresh(ctx, rejected)
}

// Logout discards the stored token set. Logging out while already logged
// out succeeds.
func (m *Manager) Logout() error {
	if err := m.store.Clear(); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}

	m.logger.Info("logged out")

	return nil
}

// State compares the stored expiry with the clock. It never contacts the
// token endpoint, so an expired access token reports unauthenticated even
// when its refresh token could still renew it; Stored tells the two apart.
func (m *Manager) State() (State, error) {
	ts, err := m.store.Load()
	if err != nil {
		return State{}, fmt.Errorf("auth: loading token: %w", err)
	}

	if ts == nil {
		return State{}, nil
	}

	return State{
		Authenticated: ts.ExpiresAt.After(m.now()),
		Stored:        true,
		ExpiresAt:     ts.ExpiresAt,
	}, nil
}

// TokenSource adapts the Manager to oauth2.TokenSource for API clients.
// Every Token call goes through ValidToken, so refreshes are persisted.
func (m *Manager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &managerSource{ctx: ctx, m: m}
}

type managerSource struct {
	ctx context.Context //nolint:containedctx // oauth2.TokenSource has no context parameter
	m   *Manager
}

func (s *managerSource) Token() (*oauth2.Token, error) {
	access, err := s.m.ValidToken(s.ctx)
	if err != nil {
		return nil, err
	}

	return &oauth2.Token{AccessToken: access, TokenType: "Bearer"}, nil
}

func (m *Manager) fresh(ts *credstore.TokenSet) bool {
	return ts.ExpiresAt.Sub(m.now()) > m.margin
}

// refresh runs at most one token endpoint call at a time; concurrent
// callers share its outcome. The call outlives the caller that started it:
// each caller stops waiting when its own ctx ends.
func (m *Manager) refresh(ctx context.Context, stale string) (string, error) {
	ch := m.refreshes.DoChan(refreshKey, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		return m.doRefresh(rctx, stale)
	})

	var res singleflight.Result

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("auth: waiting for token refresh: %w", ctx.Err())
	case res = <-ch:
	}

	if res.Err != nil {
		return "", res.Err
	}

	if res.Shared {
		m.logger.Debug("joined in-flight token refresh")
	}

	access, ok := res.Val.(string)
	if !ok {
		return "", fmt.Errorf("auth: unexpected refresh result %T", res.Val)
	}

	return access, nil
}

func (m *Manager) doRefresh(ctx context.Context, stale string) (string, error) {
	current, err := m.store.Load()
	if err != nil {
		return "", fmt.Errorf("auth: loading token: %w", err)
	}

	if current == nil {
		return "", ErrUnauthenticated
	}

	if current.AccessToken != stale && m.fresh(current) {
		return current.AccessToken, nil
	}

	// A token carrying only the refresh token is never Valid, so the
	// source goes straight to the token endpoint.
	src := m.oauth.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: current.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		return "", m.refreshFailed(err)
	}

	ts := m.tokenSet(tok, current.RefreshToken)

	if err := m.store.Save(ts); err != nil {
		return "", fmt.Errorf("auth: saving refreshed token: %w", err)
	}

	m.logger.Info("access token refreshed", slog.Time("expiry", ts.ExpiresAt))

	return ts.AccessToken, nil
}

// refreshFailed classifies a refresh error. A 4xx from the token endpoint
// or an invalid_grant/unauthorized_client code means the grant was rejected
// and the stored set is discarded. Transport errors and 5xx leave it in
// place for a later attempt.
func (m *Manager) refreshFailed(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || !grantRejected(re) {
		m.logger.Warn("token refresh failed", slog.String("error", err.Error()))

		return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	m.logger.Warn("refresh token rejected, clearing credentials",
		slog.Int("status", statusOf(re)),
		slog.String("error_code", re.ErrorCode),
	)

	if clearErr := m.store.Clear(); clearErr != nil {
		m.logger.Error("clearing rejected credentials", slog.String("error", clearErr.Error()))
	}

	return fmt.Errorf("%w: %w", ErrRefreshFailed, err)
}

func grantRejected(re *oauth2.RetrieveError) bool {
	switch re.ErrorCode {
	case "invalid_grant", "unauthorized_client":
		return true
	}

	status := statusOf(re)

	return status >= http.StatusBadRequest && status < http.StatusInternalServerError
}

func statusOf(re *oauth2.RetrieveError) int {
	if re.Response == nil {
		return 0
	}

	return re.Response.StatusCode
}

// tokenSet converts an oauth2 token, keeping prevRefresh when the endpoint
// did not rotate the refresh token.
func (m *Manager) tokenSet(tok *oauth2.Token, prevRefresh string) *credstore.TokenSet {
	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = prevRefresh
	}

	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(fallbackLifetime)
	}

	return &credstore.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		ExpiresAt:    expiry,
	}
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.client == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, m.client)
}
