package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExitCode is used when a second signal arrives before shutdown ends.
const forceExitCode = 130

// shutdownContext derives a context canceled by the first SIGINT or SIGTERM.
// Canceling it aborts the in-flight upload request at once and drains the
// API server. A second signal exits immediately.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	return notifyShutdown(parent, logger, func() { os.Exit(forceExitCode) })
}

func notifyShutdown(parent context.Context, logger *slog.Logger, forceExit func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, forcing exit", slog.String("signal", sig.String()))
			forceExit()
		case <-parent.Done():
		}
	}()

	return ctx
}
