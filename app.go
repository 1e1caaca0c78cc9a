package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/keyviewer-cloud/internal/callback"
	"github.com/tonimelisma/keyviewer-cloud/internal/config"
	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/docstore"
	"github.com/tonimelisma/keyviewer-cloud/internal/drive"
	"github.com/tonimelisma/keyviewer-cloud/internal/gist"
	"github.com/tonimelisma/keyviewer-cloud/internal/provider"
	"github.com/tonimelisma/keyviewer-cloud/internal/session"
)

// errLoginRequired is what non-login commands report instead of navigating.
var errLoginRequired = errors.New("not signed in; run 'keyviewer-cloud login'")

// refuseNavigator stands in for a browser outside `login`.
var refuseNavigator = provider.NavigatorFunc(func(context.Context, string) error {
	return errLoginRequired
})

// App is the wired session for one command invocation.
type App struct {
	Store      *credential.Store
	Callback   *callback.Handler
	Manager    *session.Manager
	Sessions   map[credential.Kind]provider.Session
	HTTPClient *http.Client
}

// Close releases the credential backend.
func (a *App) Close() error {
	return a.Store.Close()
}

// openStore opens the configured credential backend.
func openStore(ctx context.Context, cc *CLIContext) (*credential.Store, error) {
	backend, err := credential.OpenBackend(ctx, cc.Cfg.Auth.CredentialBackend, cc.Cfg.DataDir, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening credential store: %w", err)
	}

	return credential.NewStore(backend, cc.Cfg.Retention, cc.Logger), nil
}

// newApp wires the provider sessions around store. returnURL is where
// handshakes come back to; nav performs them. loc is a pasted callback
// address for Initialize to consume, or nil.
func newApp(
	cc *CLIContext, store *credential.Store, handler *callback.Handler, nav provider.Navigator, returnURL string,
	loc *callback.Location,
) *App {
	cfg := cc.Cfg
	logger := cc.Logger
	httpClient := &http.Client{Timeout: cfg.Timeout}

	pcfg := provider.Config{
		ProxyURL:   cfg.Auth.ProxyURL,
		ReturnURL:  returnURL,
		Navigator:  nav,
		HTTPClient: httpClient,
		UserAgent:  cfg.Network.UserAgent,
		Logger:     logger,
	}

	sessions := map[credential.Kind]provider.Session{
		credential.KindToken:   provider.NewTokenProvider(pcfg, cfg.Storage.GitHubAPIURL),
		credential.KindRefresh: provider.NewRefreshProvider(pcfg, cfg.Storage.DriveAPIURL),
	}

	factories := map[credential.Kind]session.DocumentsFactory{
		credential.KindToken: func(ctx context.Context) (docstore.Documents, error) {
			token, err := session.StoredToken(ctx, store)
			if err != nil {
				return nil, err
			}

			client, err := provider.NewGitHubClient(ctx, pcfg, cfg.Storage.GitHubAPIURL, token)
			if err != nil {
				return nil, err
			}

			return gist.New(client, cfg.Storage.GistDescription, logger), nil
		},
		credential.KindRefresh: func(context.Context) (docstore.Documents, error) {
			client := drive.NewClient(
				cfg.Storage.DriveAPIURL, cfg.Storage.DriveUploadURL, httpClient,
				session.StoredAccessToken{Store: store}, logger, cfg.Network.UserAgent,
			)
			client.SetMaxRetries(cfg.Network.MaxRetries)

			return docstore.New(client, cfg.Storage.FolderName, logger), nil
		},
	}

	if loc == nil && cfg.CallbackURL != "" {
		logger.Warn(config.EnvCallbackURL + " is only read by login; ignoring it")
	}

	mgr := session.New(session.Options{
		Store:          store,
		Callback:       handler,
		Location:       loc,
		Sessions:       sessions,
		Documents:      factories,
		ConfigDocument: cfg.Storage.ConfigDocument,
		Logger:         logger,
	})

	return &App{
		Store:      store,
		Callback:   handler,
		Manager:    mgr,
		Sessions:   sessions,
		HTTPClient: httpClient,
	}
}

// openDocuments initializes the session and returns the active provider's
// document store.
func openDocuments(ctx context.Context, cc *CLIContext) (*App, docstore.Documents, error) {
	store, err := openStore(ctx, cc)
	if err != nil {
		return nil, nil, err
	}

	app := newApp(cc, store, callback.NewHandler(store, cc.Logger), refuseNavigator, "", nil)

	kind := app.Manager.Initialize(ctx)
	if kind == credential.KindNone {
		app.Close()
		return nil, nil, errLoginRequired
	}

	// Revalidate so a stale access token is refreshed before first use. A
	// credential that cannot be renewed falls through to the refusing
	// navigator.
	if _, err := app.Manager.EnsureActive(ctx, kind); err != nil {
		app.Close()

		if errors.Is(err, errLoginRequired) {
			return nil, nil, errLoginRequired
		}

		return nil, nil, err
	}

	docs, err := app.Manager.Documents(ctx)
	if err != nil {
		app.Close()
		return nil, nil, err
	}

	return app, docs, nil
}
