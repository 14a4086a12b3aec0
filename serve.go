package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/auth"
	"github.com/tonimelisma/vidpub/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the authentication and upload API under /api and Prometheus
metrics at /metrics. Stops gracefully on SIGINT or SIGTERM; a second signal
forces exit.`,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (default from server.listen)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger
	cfg := cc.Cfg

	if err := requireClient(cfg); err != nil {
		return err
	}

	release, err := writePIDFile(servePIDPath(cfg.HistoryPath))
	if err != nil {
		return err
	}
	defer release()

	ctx := shutdownContext(cmd.Context(), logger)

	mgr, _ := newAuthManager(cc)

	api, err := newDataAPI(ctx, cc, mgr)
	if err != nil {
		return err
	}

	history, err := openHistory(ctx, cc)
	if err != nil {
		return fmt.Errorf("opening publish history: %w", err)
	}
	defer history.Close()

	deps := server.Deps{
		Auth:      mgr,
		Waiter:    auth.NewPoller(mgr, cfg.PollInterval, logger),
		Publisher: newOrchestrator(cc, mgr, orchestratorDeps{playlists: api, recorder: history}),
		History:   history,
	}

	// Leave the interface nil, not a typed nil, when generation is off.
	if gen := newGenerator(cc); gen != nil {
		deps.Generator = gen
	}

	srv, err := server.New(deps, server.Options{
		Listen:          cfg.Server.Listen,
		PublicURL:       cfg.Server.PublicURL,
		RedirectURL:     cfg.Auth.RedirectURL,
		SessionKey:      []byte(cfg.Server.SessionKey),
		ShutdownTimeout: cfg.ShutdownTimeout,
		ProgressTTL:     cfg.ProgressTTL,
		MaxUploadSize:   cfg.MaxFileSize,
		MaxWait:         cfg.LoginTimeout,
	}, logger)
	if err != nil {
		return err
	}

	logger.Info("serving API",
		slog.String("listen", cfg.Server.Listen),
		slog.String("history", cfg.HistoryPath),
		slog.Bool("metadata", deps.Generator != nil),
	)

	return srv.Run(ctx)
}
