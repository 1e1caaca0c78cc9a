package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// TokenProvider is the GitHub session. Its credential is a long-lived token
// that can only be validated, never refreshed.
type TokenProvider struct {
	cfg    Config
	apiURL string
}

// NewTokenProvider creates the GitHub session. apiURL overrides the GitHub
// REST endpoint; empty means api.github.com.
func NewTokenProvider(cfg Config, apiURL string) *TokenProvider {
	return &TokenProvider{cfg: cfg.withDefaults(), apiURL: apiURL}
}

// Kind implements Session.
func (p *TokenProvider) Kind() credential.Kind { return credential.KindToken }

// Client returns a go-github client authenticated with token.
func (p *TokenProvider) Client(ctx context.Context, token string) (*github.Client, error) {
	return NewGitHubClient(ctx, p.cfg, p.apiURL, token)
}

// Validate confirms the token with GET /user.
func (p *TokenProvider) Validate(ctx context.Context, cred credential.Credential) error {
	tc, ok := cred.(credential.TokenCredential)
	if !ok {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, ErrWrongKind)
	}

	client, err := p.Client(ctx, tc.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		p.cfg.Logger.Warn("github token rejected", slog.String("error", err.Error()))

		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	p.cfg.Logger.Debug("github token valid", slog.String("login", user.GetLogin()))

	return nil
}

// BeginHandshake implements Session.
func (p *TokenProvider) BeginHandshake(ctx context.Context) error {
	return beginHandshake(ctx, p.cfg, credential.KindToken)
}

// NewGitHubClient builds a go-github client whose transport adds token as an
// OAuth2 bearer. A non-empty apiURL replaces the public endpoint.
func NewGitHubClient(ctx context.Context, cfg Config, apiURL, token string) (*github.Client, error) {
	cfg = cfg.withDefaults()

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient), ts)
	tc.Timeout = cfg.HTTPClient.Timeout

	client := github.NewClient(tc)
	if cfg.UserAgent != "" {
		client.UserAgent = cfg.UserAgent
	}

	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}

		u, err := client.BaseURL.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("provider: parsing GitHub API URL %q: %w", apiURL, err)
		}

		client.BaseURL = u
	}

	return client, nil
}
