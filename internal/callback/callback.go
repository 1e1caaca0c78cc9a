// Package callback turns the provider redirect back to this machine into a
// stored credential. The proxy appends either github_token (raw secret) or
// google_token (base64 JSON) to the return address; Consume decodes it,
// persists it, and strips it from the visible address so a reload does not
// replay it.
package callback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// Query parameter names set by the proxy.
const (
	ParamGitHubToken = "github_token"
	ParamGoogleToken = "google_token"
)

// ErrCallbackDecode means a callback parameter was present but unusable.
var ErrCallbackDecode = errors.New("callback: cannot decode credential parameter")

// Store is the subset of the credential store Consume writes to.
type Store interface {
	Set(ctx context.Context, cred credential.Credential) error
}

// Location is the mutable "visible address" a callback arrives on.
type Location struct {
	mu sync.Mutex
	u  url.URL
}

// NewLocation parses raw into a Location.
func NewLocation(raw string) (*Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("callback: parsing location %q: %w", raw, err)
	}

	return &Location{u: *u}, nil
}

// URL returns a copy of the current address.
func (l *Location) URL() *url.URL {
	l.mu.Lock()
	defer l.mu.Unlock()

	u := l.u

	return &u
}

// Query returns the parsed query of the current address.
func (l *Location) Query() url.Values {
	return l.URL().Query()
}

func (l *Location) String() string {
	return l.URL().String()
}

// ReplaceState swaps the address in place, without any navigation.
func (l *Location) ReplaceState(u *url.URL) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.u = *u
}

// Handler consumes callback parameters.
type Handler struct {
	store  Store
	logger *slog.Logger

	// mu serializes Consume so two concurrent calls on one address commit once.
	mu sync.Mutex
}

// NewHandler creates a Handler that writes to store.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{store: store, logger: logger}
}

// Consume inspects loc for a provider credential. On success the credential
// is stored, the recognized parameters are removed from loc, and the
// provider kind is returned. Otherwise loc is left untouched and KindNone is
// returned; decode and store failures are logged, not surfaced.
func (h *Handler) Consume(ctx context.Context, loc *Location) credential.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()

	q := loc.Query()

	cred, err := decodeParams(q)
	if err != nil {
		h.logger.Warn("ignoring callback parameters", slog.String("error", err.Error()))

		return credential.KindNone
	}

	if cred == nil {
		return credential.KindNone
	}

	if err := h.store.Set(ctx, cred); err != nil {
		h.logger.Error("storing callback credential",
			slog.String("provider", cred.Kind().String()),
			slog.String("error", err.Error()),
		)

		return credential.KindNone
	}

	u := loc.URL()
	q.Del(ParamGitHubToken)
	q.Del(ParamGoogleToken)
	u.RawQuery = q.Encode()
	loc.ReplaceState(u)

	h.logger.Info("stored credential from callback", slog.String("provider", cred.Kind().String()))

	return cred.Kind()
}

// decodeParams returns nil, nil when no recognized parameter is present.
// github_token wins when both are.
func decodeParams(q url.Values) (credential.Credential, error) {
	if tok := q.Get(ParamGitHubToken); tok != "" {
		cred, err := credential.Decode(credential.KindToken, []byte(tok))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCallbackDecode, ParamGitHubToken, err)
		}

		return cred, nil
	}

	if enc := q.Get(ParamGoogleToken); enc != "" {
		raw, err := decodeBase64(enc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCallbackDecode, ParamGoogleToken, err)
		}

		cred, err := credential.Decode(credential.KindRefresh, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCallbackDecode, ParamGoogleToken, err)
		}

		return cred, nil
	}

	return nil, nil
}

// decodeBase64 accepts padded and unpadded standard base64. A '+' that
// arrived unescaped in a query string decodes as a space and is restored.
func decodeBase64(s string) ([]byte, error) {
	s = strings.ReplaceAll(s, " ", "+")

	raw, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return raw, nil
	}

	if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return raw, nil
	}

	return nil, err
}
