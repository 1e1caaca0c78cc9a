package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/keyviewer-cloud/internal/callback"
	"github.com/tonimelisma/keyviewer-cloud/internal/config"
	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/provider"
	"github.com/tonimelisma/keyviewer-cloud/internal/session"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login [github|google]",
		Short: "Sign in with GitHub or Google",
		Long: `Sign in through the OAuth proxy. A stored credential that still works is
reused; an expired Google access token is refreshed. Otherwise a browser
window opens and the command waits for the proxy to redirect back.

Signing in to one provider removes the other provider's stored credential.

On a machine without a browser, open the printed URL elsewhere, then run
'keyviewer-cloud login' with KEYVIEWER_CLOUD_CALLBACK_URL set to the
address the browser was redirected to. Other commands ignore it.`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"github", "google"},
		RunE:      runLogin,
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove all stored credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active provider and whether its credential works",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

// loginKind picks the provider from the argument, falling back to
// --provider and KEYVIEWER_CLOUD_PROVIDER.
func loginKind(args []string, cfgProvider string) (credential.Kind, error) {
	name := cfgProvider
	if len(args) > 0 {
		name = args[0]
	}

	if name == "" {
		return credential.KindNone, errors.New("choose a provider: keyviewer-cloud login github|google")
	}

	return credential.ParseKind(name)
}

func runLogin(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	ctx := shutdownContext(cmd.Context(), logger)

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := callback.NewHandler(store, logger)

	if cc.Cfg.CallbackURL != "" {
		return loginFromPastedURL(ctx, cc, store, handler)
	}

	kind, err := loginKind(args, cc.Cfg.Provider)
	if err != nil {
		return err
	}

	listener, err := callback.Listen(ctx, handler, cc.Cfg.Auth.CallbackPort, cc.Cfg.Auth.CallbackPath, logger)
	if err != nil {
		return err
	}
	defer listener.Close()

	var nav provider.Navigator = provider.NewBrowserNavigator(cmd.ErrOrStderr(), logger)
	if !cc.Cfg.Auth.OpenBrowser {
		nav = printNavigator(cc)
	}

	app := newApp(cc, store, handler, nav, listener.URL(), nil)
	app.Manager.Initialize(ctx)

	outcome, err := app.Manager.EnsureActive(ctx, kind)
	if err != nil {
		return err
	}

	if outcome == session.OutcomeActive {
		logger.Info("login reused stored credential", slog.String("provider", kind.String()))
		cc.Statusf("Already signed in with %s.\n", kind)

		return keepOnly(ctx, cc, store, kind)
	}

	cc.Statusf("Waiting for sign-in to complete in your browser (Ctrl-C to cancel)...\n")

	got, err := listener.Wait(ctx)
	if err != nil {
		return err
	}

	logger.Info("login successful", slog.String("provider", got.String()))
	cc.Statusf("Signed in with %s.\n", got)

	return keepOnly(ctx, cc, store, got)
}

// loginFromPastedURL completes a headless login from the address the
// browser was redirected to. The provider comes from the address itself.
func loginFromPastedURL(ctx context.Context, cc *CLIContext, store *credential.Store, handler *callback.Handler) error {
	loc, err := callback.NewLocation(cc.Cfg.CallbackURL)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", config.EnvCallbackURL, err)
	}

	app := newApp(cc, store, handler, refuseNavigator, "", loc)

	before := loc.String()
	kind := app.Manager.Initialize(ctx)

	// Consume strips the address only when it committed a credential.
	if loc.String() == before {
		return fmt.Errorf("%s carries no usable github_token or google_token", config.EnvCallbackURL)
	}

	cc.Logger.Info("login from pasted callback", slog.String("provider", kind.String()))
	cc.Statusf("Signed in with %s. Unset %s now; later commands ignore it.\n", kind, config.EnvCallbackURL)

	return keepOnly(ctx, cc, store, kind)
}

// keepOnly removes every other provider's stored credential so that kind,
// just chosen explicitly, is the one later commands use.
func keepOnly(ctx context.Context, cc *CLIContext, store *credential.Store, kind credential.Kind) error {
	for _, other := range credential.Kinds {
		if other == kind {
			continue
		}

		if _, ok := store.Get(ctx, other); !ok {
			continue
		}

		if err := store.Clear(ctx, other); err != nil {
			return fmt.Errorf("removing %s credential: %w", other, err)
		}

		cc.Logger.Info("removed credential of other provider", slog.String("provider", other.String()))
		cc.Statusf("Removed the stored %s credential.\n", other)
	}

	return nil
}

// printNavigator prints the handshake address without launching a browser.
// The address must be visible even with --quiet.
func printNavigator(cc *CLIContext) provider.Navigator {
	return provider.NavigatorFunc(func(_ context.Context, target string) error {
		_, err := fmt.Fprintf(cc.Out, "Open this URL in your browser to sign in:\n\n  %s\n\n", target)

		return err
	})
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	app := newApp(cc, store, callback.NewHandler(store, cc.Logger), refuseNavigator, "", nil)

	if err := app.Manager.SignOut(ctx); err != nil {
		return err
	}

	cc.Statusf("Signed out.\n")

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Provider string `json:"provider"`
	SignedIn bool   `json:"signed_in"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
	Backend  string `json:"credential_backend"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	store, err := openStore(ctx, cc)
	if err != nil {
		return err
	}
	defer store.Close()

	app := newApp(cc, store, callback.NewHandler(store, cc.Logger), refuseNavigator, "", nil)

	out := statusOutput{Provider: credential.KindNone.String(), Backend: cc.Cfg.Auth.CredentialBackend}

	if kind := app.Manager.Initialize(ctx); kind != credential.KindNone {
		out.Provider = kind.String()
		out.SignedIn = true

		cred, _ := store.Get(ctx, kind)
		sess, _ := app.Manager.Session(kind)

		if verr := sess.Validate(ctx, cred); verr != nil {
			out.Error = verr.Error()
		} else {
			out.Valid = true
		}
	}

	if cc.Flags.JSON {
		enc := json.NewEncoder(cc.Out)
		enc.SetIndent("", "  ")

		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	printStatusText(cc, out)

	return nil
}

func printStatusText(cc *CLIContext, out statusOutput) {
	if !out.SignedIn {
		fmt.Fprintln(cc.Out, "Not signed in.")
		return
	}

	state := "valid"
	if !out.Valid {
		state = "not accepted (" + out.Error + ")"
	}

	fmt.Fprintf(cc.Out, "Provider:   %s\n", out.Provider)
	fmt.Fprintf(cc.Out, "Credential: %s\n", state)
	fmt.Fprintf(cc.Out, "Backend:    %s\n", out.Backend)
}
