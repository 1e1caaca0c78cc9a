package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/pkg/browser"
)

// BrowserNavigator opens the target in the user's default browser. When no
// browser can be launched, the address is printed so the user can open it
// by hand.
type BrowserNavigator struct {
	Out    io.Writer
	Logger *slog.Logger

	// open is swapped out in tests.
	open func(string) error
}

// NewBrowserNavigator returns a navigator that falls back to printing on out.
func NewBrowserNavigator(out io.Writer, logger *slog.Logger) *BrowserNavigator {
	if logger == nil {
		logger = slog.Default()
	}

	// Keep the launched browser's own chatter off our terminal.
	browser.Stdout = io.Discard
	browser.Stderr = io.Discard

	return &BrowserNavigator{Out: out, Logger: logger, open: browser.OpenURL}
}

// Navigate implements Navigator.
func (n *BrowserNavigator) Navigate(_ context.Context, target string) error {
	if err := n.open(target); err != nil {
		n.Logger.Debug("could not open browser", slog.String("error", err.Error()))

		if _, werr := fmt.Fprintf(n.Out, "Open this URL in your browser to sign in:\n\n  %s\n\n", target); werr != nil {
			return fmt.Errorf("provider: printing handshake URL: %w", werr)
		}
	}

	return nil
}
