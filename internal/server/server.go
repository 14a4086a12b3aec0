// Package server exposes the authentication and upload flows over HTTP
// under /api, with progress streaming and Prometheus metrics.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/vidpub/internal/auth"
	"github.com/tonimelisma/vidpub/internal/credstore"
	"github.com/tonimelisma/vidpub/internal/ledger"
	"github.com/tonimelisma/vidpub/internal/metadata"
	"github.com/tonimelisma/vidpub/internal/upload"
)

// Defaults for Options.
const (
	DefaultShutdownTimeout = 30 * time.Second
	DefaultProgressTTL     = time.Hour
	DefaultMaxWait         = 5 * time.Minute

	progressCacheSize = 256
	sessionKeyBytes   = 32
	callbackPath      = "/api/auth/callback"
)

// Authenticator is the token manager surface used by the auth routes.
type Authenticator interface {
	AuthCodeURL(c auth.Challenge) string
	HandleCallback(ctx context.Context, q auth.CallbackParams, c auth.Challenge) (*credstore.TokenSet, error)
	State() (auth.State, error)
	Logout() error
}

// LoginWaiter blocks until the session is authenticated or timeout passes.
type LoginWaiter interface {
	AwaitLogin(ctx context.Context, timeout time.Duration) bool
}

// Publisher validates and runs uploads.
type Publisher interface {
	Validate(req upload.Request) (upload.Request, error)
	StartWithID(ctx context.Context, id string, req upload.Request) *upload.Publication
}

// History reads past publish records.
type History interface {
	Get(ctx context.Context, id string) (*ledger.Record, error)
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
}

// Generator drafts metadata.
type Generator interface {
	Generate(ctx context.Context, in metadata.Input) (*metadata.Metadata, error)
}

// Deps are the collaborators behind the routes. History, Generator and
// Waiter may be nil; their routes then answer 503.
type Deps struct {
	Auth      Authenticator
	Waiter    LoginWaiter
	Publisher Publisher
	History   History
	Generator Generator
}

// Options configure the listener and route behavior.
type Options struct {
	Listen          string
	PublicURL       string // external base URL, used for the OAuth redirect
	RedirectURL     string // explicit OAuth redirect; overrides PublicURL
	SessionKey      []byte // cookie signing key; random when empty
	ShutdownTimeout time.Duration
	ProgressTTL     time.Duration
	MaxUploadSize   int64
	MaxWait         time.Duration
}

// Server is the HTTP API.
type Server struct {
	deps     Deps
	opts     Options
	cookies  *sessions.CookieStore
	progress *progressRegistry
	router   chi.Router
	logger   *slog.Logger
}

// New builds the server and its routes.
func New(deps Deps, opts Options, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}

	if opts.ProgressTTL <= 0 {
		opts.ProgressTTL = DefaultProgressTTL
	}

	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = upload.DefaultMaxSize
	}

	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}

	key := opts.SessionKey
	if len(key) == 0 {
		key = make([]byte, sessionKeyBytes)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("server: generating session key: %w", err)
		}

		logger.Debug("no session key configured, using an ephemeral one")
	}

	cookies := sessions.NewCookieStore(key)
	cookies.Options = &sessions.Options{
		Path:     "/api/auth",
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(opts.PublicURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	}

	s := &Server{
		deps:     deps,
		opts:     opts,
		cookies:  cookies,
		progress: newProgressRegistry(progressCacheSize, opts.ProgressTTL),
		logger:   logger,
	}

	s.router = s.routes()

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger), metricsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/login", s.handleLogin)
			r.Get("/callback", s.handleCallback)
			r.Post("/callback", s.handleCallback)
			r.Get("/status", s.handleStatus)
			r.Post("/logout", s.handleLogout)
			r.Get("/wait", s.handleWait)
		})

		r.Route("/upload", func(r chi.Router) {
			r.Post("/validate", s.handleValidate)
			r.Post("/video", s.handleUpload)
			r.Get("/progress/{id}", s.handleProgress)
			r.Get("/progress/{id}/ws", s.handleProgressStream)
			r.Get("/history", s.handleHistory)
		})

		r.Post("/metadata/generate", s.handleGenerate)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on Options.Listen and serves until ctx is canceled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", s.opts.Listen, err)
	}

	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP server started", slog.String("addr", ln.Addr().String()))

		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: serving: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()

		s.logger.Info("shutting down HTTP server")

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info("HTTP server stopped")

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
