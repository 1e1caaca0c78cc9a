// Package credential defines the two provider credential shapes, their blob
// encoding, and a Store that persists them in a durable local backend with a
// retention deadline per entry.
package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies which provider a credential belongs to.
type Kind int

const (
	// KindNone means no provider is active.
	KindNone Kind = iota
	// KindToken is the token-provider (GitHub): a single long-lived secret.
	KindToken
	// KindRefresh is the refresh-token-provider (Google): a short-lived access
	// secret plus a long-lived refresh secret.
	KindRefresh
)

// Kinds lists the provider kinds in priority order. When credentials for
// both exist, the token provider wins.
var Kinds = []Kind{KindToken, KindRefresh}

// String returns the storage key / CLI name of the kind.
func (k Kind) String() string {
	switch k {
	case KindToken:
		return "github"
	case KindRefresh:
		return "google"
	default:
		return "none"
	}
}

// ParseKind maps a provider name back to its Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "github", "token":
		return KindToken, nil
	case "google", "refresh":
		return KindRefresh, nil
	default:
		return KindNone, fmt.Errorf("credential: unknown provider %q (want github or google)", s)
	}
}

// Credential is implemented by TokenCredential and RefreshCredential only.
type Credential interface {
	Kind() Kind
	isCredential()
}

// TokenCredential is the token-provider credential.
type TokenCredential struct {
	Token string
}

// Kind implements Credential.
func (TokenCredential) Kind() Kind { return KindToken }

func (TokenCredential) isCredential() {}

// RefreshCredential is the refresh-token-provider credential. Refreshing
// rotates AccessToken and keeps RefreshToken.
type RefreshCredential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Kind implements Credential.
func (RefreshCredential) Kind() Kind { return KindRefresh }

func (RefreshCredential) isCredential() {}

// ErrMalformed is returned by Decode when a blob cannot be turned back into
// a credential.
var ErrMalformed = errors.New("credential: malformed blob")

// Encode serializes a credential into its stored blob. Token credentials are
// stored as the raw secret; refresh credentials as the same JSON object the
// authorization callback delivers.
func Encode(c Credential) ([]byte, error) {
	switch v := c.(type) {
	case TokenCredential:
		if blankToken(v.Token) {
			return nil, fmt.Errorf("credential: empty token")
		}

		return []byte(v.Token), nil
	case RefreshCredential:
		if v.AccessToken == "" {
			return nil, fmt.Errorf("credential: empty access token")
		}

		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("credential: encoding refresh credential: %w", err)
		}

		return data, nil
	default:
		return nil, fmt.Errorf("credential: unsupported credential type %T", c)
	}
}

// blankToken reports whether a token secret carries no usable characters.
// Encode and Decode share it so every encodable token decodes.
func blankToken(tok string) bool {
	return strings.TrimSpace(tok) == ""
}

// Decode parses a stored blob for the given kind.
func Decode(kind Kind, blob []byte) (Credential, error) {
	switch kind {
	case KindToken:
		tok := string(blob)
		if blankToken(tok) {
			return nil, fmt.Errorf("%w: empty token", ErrMalformed)
		}

		return TokenCredential{Token: tok}, nil
	case KindRefresh:
		var rc RefreshCredential
		if err := json.Unmarshal(blob, &rc); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}

		if rc.AccessToken == "" {
			return nil, fmt.Errorf("%w: missing access_token", ErrMalformed)
		}

		return rc, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, kind)
	}
}
