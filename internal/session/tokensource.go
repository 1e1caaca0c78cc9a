package session

import (
	"context"
	"fmt"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// StoredAccessToken reads the refresh-provider access token from the
// credential store on every call, so a refresh is picked up by clients
// built before it. It satisfies drive.TokenSource.
type StoredAccessToken struct {
	Store CredentialStore
}

// Token implements drive.TokenSource.
func (s StoredAccessToken) Token() (string, error) {
	cred, ok := s.Store.Get(context.Background(), credential.KindRefresh)
	if !ok {
		return "", ErrNotSignedIn
	}

	rc, ok := cred.(credential.RefreshCredential)
	if !ok || rc.AccessToken == "" {
		return "", fmt.Errorf("session: stored %s credential has no access token", credential.KindRefresh)
	}

	return rc.AccessToken, nil
}

// StoredToken returns the token-provider secret.
func StoredToken(ctx context.Context, store CredentialStore) (string, error) {
	cred, ok := store.Get(ctx, credential.KindToken)
	if !ok {
		return "", ErrNotSignedIn
	}

	tc, ok := cred.(credential.TokenCredential)
	if !ok {
		return "", fmt.Errorf("session: stored %s credential is malformed", credential.KindToken)
	}

	return tc.Token, nil
}
