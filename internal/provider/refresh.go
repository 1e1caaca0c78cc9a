package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/drive"
)

// maxRefreshResponse caps how much of a proxy response is read.
const maxRefreshResponse = 1 << 20

// RefreshProvider is the Google session. Its access token is short-lived and
// is rotated through the proxy's refresh endpoint.
type RefreshProvider struct {
	cfg      Config
	driveURL string
}

// NewRefreshProvider creates the Google session. driveURL overrides the
// Drive v3 endpoint used for validation.
func NewRefreshProvider(cfg Config, driveURL string) *RefreshProvider {
	return &RefreshProvider{cfg: cfg.withDefaults(), driveURL: driveURL}
}

// Kind implements Session.
func (p *RefreshProvider) Kind() credential.Kind { return credential.KindRefresh }

// Validate confirms the access token with Drive's about endpoint.
func (p *RefreshProvider) Validate(ctx context.Context, cred credential.Credential) error {
	rc, ok := cred.(credential.RefreshCredential)
	if !ok {
		return fmt.Errorf("%w: %w", ErrInvalidCredential, ErrWrongKind)
	}

	client := drive.NewClient(p.driveURL, "", p.cfg.HTTPClient,
		drive.StaticToken(rc.AccessToken), p.cfg.Logger, p.cfg.UserAgent)

	user, err := client.About(ctx)
	if err != nil {
		p.cfg.Logger.Warn("google access token rejected", slog.String("error", err.Error()))

		return fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	p.cfg.Logger.Debug("google access token valid", slog.String("email", user.EmailAddress))

	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// Refresh exchanges the refresh token for a new access token. The returned
// credential keeps the original refresh token. Nothing is persisted here.
func (p *RefreshProvider) Refresh(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	rc, ok := cred.(credential.RefreshCredential)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, ErrWrongKind)
	}

	if rc.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token stored", ErrRefreshFailed)
	}

	access, err := p.exchange(ctx, rc.RefreshToken)
	if err != nil {
		p.cfg.Logger.Warn("google token refresh failed", slog.String("error", err.Error()))

		return nil, fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	p.cfg.Logger.Info("google access token refreshed")

	return credential.RefreshCredential{AccessToken: access, RefreshToken: rc.RefreshToken}, nil
}

func (p *RefreshProvider) exchange(ctx context.Context, refreshToken string) (string, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return "", fmt.Errorf("marshaling refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.ProxyURL+"/refresh/google", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating refresh request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshResponse))
	if err != nil {
		return "", fmt.Errorf("reading refresh response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("refresh endpoint returned HTTP %d", resp.StatusCode)
	}

	var rr refreshResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}

	if rr.AccessToken == "" {
		return "", fmt.Errorf("refresh response carries no access_token")
	}

	return rr.AccessToken, nil
}

// BeginHandshake implements Session.
func (p *RefreshProvider) BeginHandshake(ctx context.Context) error {
	return beginHandshake(ctx, p.cfg, credential.KindRefresh)
}
