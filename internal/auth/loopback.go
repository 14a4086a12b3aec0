package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tonimelisma/vidpub/internal/credstore"
)

// callbackPath is the HTTP path the OAuth2 redirect hits on the local server.
const callbackPath = "/"

// callbackShutdownTimeout is how long to wait for the callback server to drain.
const callbackShutdownTimeout = 5 * time.Second

// callbackResult carries the exchanged token set or error from the handler.
type callbackResult struct {
	ts  *credstore.TokenSet
	err error
}

// LoginWithBrowser performs the authorization code + PKCE flow against a
// loopback redirect:
//  1. Binds a 127.0.0.1 HTTP server on a random port
//  2. Calls openURL with the authorization URL
//  3. Receives the callback, validates state, and exchanges the code
//  4. Returns the persisted token set
//
// If openURL fails, fallback is called with the URL so the user can open it
// by hand.
func (m *Manager) LoginWithBrowser(
	ctx context.Context,
	openURL func(string) error,
	fallback func(string),
) (*credstore.TokenSet, error) {
	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, m.logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, m.logger)

	challenge, err := NewChallenge(fmt.Sprintf("http://127.0.0.1:%d%s", port, callbackPath))
	if err != nil {
		return nil, err
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		ts, cbErr := m.HandleCallback(r.Context(), r.URL.Query(), challenge)
		WriteCallbackPage(w, cbErr)
		deliver(resultCh, callbackResult{ts: ts, err: cbErr})
	})

	authURL := m.AuthCodeURL(challenge)

	m.logger.Info("opening browser for authorization", slog.Int("port", port))

	if openErr := openURL(authURL); openErr != nil {
		m.logger.Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)

		fallback(authURL)
	}

	select {
	case result := <-resultCh:
		return result.ts, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("auth: browser login canceled: %w", ctx.Err())
	}
}

// CallbackParams is the subset of url.Values the callback reads.
type CallbackParams interface {
	Get(key string) string
}

// HandleCallback validates an authorization redirect against c and
// exchanges its code. Shared by the loopback server and the HTTP API.
func (m *Manager) HandleCallback(ctx context.Context, q CallbackParams, c Challenge) (*credstore.TokenSet, error) {
	if q.Get("state") == "" || q.Get("state") != c.State {
		return nil, fmt.Errorf("%w (possible CSRF)", ErrStateMismatch)
	}

	if errParam := q.Get("error"); errParam != "" {
		return nil, fmt.Errorf("%w: authorization denied: %s: %s",
			ErrExchangeFailed, errParam, q.Get("error_description"))
	}

	code := q.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback missing authorization code", ErrExchangeFailed)
	}

	return m.ExchangeCode(ctx, code, c)
}

// WriteCallbackPage renders the page the browser lands on after the redirect.
func WriteCallbackPage(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, "<html><body><h1>Authentication failed</h1><p>%s</p></body></html>",
			html.EscapeString(err.Error()))

		return
	}

	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to vidpub.</p></body></html>")
}

// deliver sends without blocking; only the first callback counts.
func deliver(ch chan<- callbackResult, r callbackResult) {
	select {
	case ch <- r:
	default:
	}
}

// startCallbackServer binds to 127.0.0.1:0 and starts an HTTP server with the
// given mux. Returns the server, the port, and any error.
func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("auth: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("auth: listener address is not TCP")
	}

	port := tcpAddr.Port
	logger.Info("callback server listening", slog.Int("port", port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: callbackShutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			deliver(resultCh, callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)})
		}
	}()

	return srv, port, nil
}

// shutdownCallbackServer gracefully shuts down the callback HTTP server.
func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), callbackShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}
