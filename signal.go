package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit is swapped out in tests.
var forceExit = func() { os.Exit(1) }

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// A second signal exits immediately, for a login wait or watch loop that
// does not return promptly.
func shutdownContext(parent context.Context, logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go watchSignals(parent, ctx, cancel, sigCh, logger)

	return ctx
}

func watchSignals(
	parent, ctx context.Context, cancel context.CancelFunc, sigCh chan os.Signal, logger *slog.Logger,
) {
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("interrupted, shutting down", slog.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
		return
	}

	select {
	case sig := <-sigCh:
		logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
		forceExit()
	case <-parent.Done():
	}
}
