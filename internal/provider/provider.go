// Package provider implements the two identity/storage provider sessions:
// a token provider (GitHub) whose credential is only ever validated, and a
// refresh-token provider (Google) whose access token can be rotated through
// the OAuth proxy. Both start a new authorization by navigating to the proxy,
// which redirects back to a local return address carrying the credential.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// DefaultProxyURL is the OAuth proxy that performs the provider handshakes.
const DefaultProxyURL = "https://keyviewer-oauth.rudghrnt.workers.dev"

// defaultReturnPort is sent when the return address carries no port.
const defaultReturnPort = "8000"

var (
	// ErrInvalidCredential means the provider rejected the credential, or it
	// could not be checked at all.
	ErrInvalidCredential = errors.New("provider: invalid credential")

	// ErrRefreshFailed means the refresh exchange did not yield a new access
	// token.
	ErrRefreshFailed = errors.New("provider: refresh failed")

	// ErrWrongKind means a credential of another provider was passed in.
	ErrWrongKind = errors.New("provider: credential kind mismatch")
)

// Session is one provider's authentication capability set.
type Session interface {
	Kind() credential.Kind
	// Validate returns nil when the provider accepts cred. Every other outcome,
	// network failures included, wraps ErrInvalidCredential.
	Validate(ctx context.Context, cred credential.Credential) error
	// BeginHandshake sends the user to the provider's authorization flow.
	// Control comes back only through the callback handler.
	BeginHandshake(ctx context.Context) error
}

// Refresher is implemented by sessions whose credential can be renewed
// without user interaction.
type Refresher interface {
	Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error)
}

// Navigator performs a full navigation to an external address.
type Navigator interface {
	Navigate(ctx context.Context, target string) error
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string) error

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(ctx context.Context, target string) error {
	return f(ctx, target)
}

// Config is shared by both provider sessions.
type Config struct {
	// ProxyURL is the OAuth proxy base, without a trailing slash.
	ProxyURL string
	// ReturnURL is the address the proxy redirects back to.
	ReturnURL string
	Navigator Navigator
	// HTTPClient carries the network timeout. Nil means http.DefaultClient.
	HTTPClient *http.Client
	UserAgent  string
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ProxyURL == "" {
		c.ProxyURL = DefaultProxyURL
	}

	c.ProxyURL = strings.TrimRight(c.ProxyURL, "/")

	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// HandshakeURL builds {proxy}/auth/{kind}?port=&path= for the given return
// address. The port falls back to 8000 when the address has none.
func HandshakeURL(proxyURL string, kind credential.Kind, returnURL string) (string, error) {
	if kind != credential.KindToken && kind != credential.KindRefresh {
		return "", fmt.Errorf("provider: no handshake for %s", kind)
	}

	ret, err := url.Parse(returnURL)
	if err != nil {
		return "", fmt.Errorf("provider: parsing return URL %q: %w", returnURL, err)
	}

	port := ret.Port()
	if port == "" {
		port = defaultReturnPort
	}

	path := ret.Path
	if path == "" {
		path = "/"
	}

	// Escaped so a path holding & or # reaches the proxy whole.
	return fmt.Sprintf("%s/auth/%s?port=%s&path=%s",
		strings.TrimRight(proxyURL, "/"), kind, url.QueryEscape(port), url.QueryEscape(path)), nil
}

func beginHandshake(ctx context.Context, cfg Config, kind credential.Kind) error {
	if cfg.Navigator == nil {
		return fmt.Errorf("provider: no navigator configured for %s handshake", kind)
	}

	target, err := HandshakeURL(cfg.ProxyURL, kind, cfg.ReturnURL)
	if err != nil {
		return err
	}

	cfg.Logger.Info("starting provider handshake",
		slog.String("provider", kind.String()),
		slog.String("return_url", cfg.ReturnURL),
	)

	if err := cfg.Navigator.Navigate(ctx, target); err != nil {
		return fmt.Errorf("provider: navigating to %s handshake: %w", kind, err)
	}

	return nil
}
