package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/vidpub/internal/auth"
	"github.com/tonimelisma/vidpub/internal/config"
	"github.com/tonimelisma/vidpub/internal/credstore"
	"github.com/tonimelisma/vidpub/internal/ledger"
	"github.com/tonimelisma/vidpub/internal/metadata"
	"github.com/tonimelisma/vidpub/internal/platform"
	"github.com/tonimelisma/vidpub/internal/upload"
)

// httpClientTimeout bounds API and token calls. Uploads use a client without
// a timeout; the orchestrator puts upload.request_timeout on each request.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// userAgent identifies vidpub to the platform unless config overrides it.
func userAgent(cfg *config.Resolved) string {
	if cfg.Platform.UserAgent != "" {
		return cfg.Platform.UserAgent
	}

	return "vidpub/" + version
}

// newTokenStore opens the credential file named by config.
func newTokenStore(cfg *config.Resolved) *credstore.FileStore {
	return credstore.NewFileStore(cfg.TokenPath)
}

// newAuthManager builds the token manager from the auth config section.
func newAuthManager(cc *CLIContext) (*auth.Manager, *credstore.FileStore) {
	cfg := cc.Cfg
	store := newTokenStore(cfg)

	opts := auth.Options{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       cfg.Auth.Scopes,
		SafetyMargin: cfg.SafetyMargin,
		HTTPClient:   defaultHTTPClient(),
	}

	if cfg.Auth.TokenURL != "" {
		opts.Endpoint = oauth2.Endpoint{
			AuthURL:   cfg.Auth.AuthURL,
			TokenURL:  cfg.Auth.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	return auth.NewManager(opts, store, cc.Logger), store
}

// requireClient fails early when no OAuth client is configured.
func requireClient(cfg *config.Resolved) error {
	if cfg.Auth.ClientID == "" {
		return fmt.Errorf("no OAuth client configured: set auth.client_id in %s or %s",
			cfg.Path, config.EnvClientID)
	}

	return nil
}

// newDataAPI builds the YouTube Data API client over the manager's tokens.
func newDataAPI(ctx context.Context, cc *CLIContext, mgr *auth.Manager) (*platform.API, error) {
	return platform.NewAPI(ctx, mgr.TokenSource(ctx), cc.Cfg.Platform.APIURL, userAgent(cc.Cfg), nil, cc.Logger)
}

// orchestratorDeps are the optional collaborators of an orchestrator.
type orchestratorDeps struct {
	playlists upload.PlaylistAdder
	recorder  upload.Recorder
}

// newOrchestrator wires the upload pipeline from config.
func newOrchestrator(cc *CLIContext, mgr *auth.Manager, deps orchestratorDeps) *upload.Orchestrator {
	cfg := cc.Cfg

	transport := platform.NewClient(cfg.Platform.UploadURL, &http.Client{}, cc.Logger, userAgent(cfg))

	return upload.NewOrchestrator(mgr, transport, upload.Options{
		ChunkSize:      cfg.ChunkSize,
		MaxAttempts:    cfg.Upload.MaxChunkAttempts,
		BaseBackoff:    cfg.RetryBaseBackoff,
		RequestTimeout: cfg.RequestTimeout,
		Rules:          uploadRules(cfg),
		Limiter:        upload.NewBandwidthLimiter(cfg.BandwidthLimit, cc.Logger),
		Playlists:      deps.playlists,
		Recorder:       deps.recorder,
	}, cc.Logger)
}

// openHistory opens the publish ledger.
func openHistory(ctx context.Context, cc *CLIContext) (*ledger.Store, error) {
	return ledger.Open(ctx, cc.Cfg.HistoryPath, cc.Logger)
}

// newGenerator returns the metadata client, or nil when no endpoint is set.
func newGenerator(cc *CLIContext) *metadata.Client {
	md := cc.Cfg.Metadata
	if md.Endpoint == "" {
		return nil
	}

	return metadata.NewClient(md.Endpoint, md.APIKey, cc.Cfg.MetadataTimeout, cc.Logger)
}
