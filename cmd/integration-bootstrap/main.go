// Seeds the credential store with provider credentials taken from the
// environment, so live e2e runs start signed in without a browser.
//
// Usage:
//
//	KEYVIEWER_E2E_GITHUB_TOKEN=... go run ./cmd/integration-bootstrap
//	KEYVIEWER_E2E_GOOGLE_ACCESS_TOKEN=... KEYVIEWER_E2E_GOOGLE_REFRESH_TOKEN=... \
//	    go run ./cmd/integration-bootstrap --provider google
//
// A stale Google access token is fine: the first command refreshes it.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/tonimelisma/keyviewer-cloud/internal/config"
	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// Environment variables holding the seed credentials.
const (
	envGitHubToken        = "KEYVIEWER_E2E_GITHUB_TOKEN"
	envGoogleAccessToken  = "KEYVIEWER_E2E_GOOGLE_ACCESS_TOKEN"
	envGoogleRefreshToken = "KEYVIEWER_E2E_GOOGLE_REFRESH_TOKEN"
)

func main() {
	providerName := flag.String("provider", "github", "provider to seed (github or google)")
	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	if err := run(context.Background(), *providerName, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, providerName, configPath string) error {
	logger := slog.Default()

	kind, err := credential.ParseKind(providerName)
	if err != nil {
		return err
	}

	cred, err := credentialFromEnv(kind)
	if err != nil {
		return err
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: configPath})
	if err != nil {
		return err
	}

	backend, err := credential.OpenBackend(ctx, cfg.Auth.CredentialBackend, cfg.DataDir, logger)
	if err != nil {
		return err
	}

	store := credential.NewStore(backend, cfg.Retention, logger)
	defer store.Close()

	if err := store.Set(ctx, cred); err != nil {
		return err
	}

	fmt.Printf("Seeded %s credential into the %s backend.\n", kind, cfg.Auth.CredentialBackend)

	return nil
}

func credentialFromEnv(kind credential.Kind) (credential.Credential, error) {
	switch kind {
	case credential.KindToken:
		token := os.Getenv(envGitHubToken)
		if token == "" {
			return nil, fmt.Errorf("%s not set", envGitHubToken)
		}

		return credential.TokenCredential{Token: token}, nil
	default:
		access := os.Getenv(envGoogleAccessToken)
		refresh := os.Getenv(envGoogleRefreshToken)

		var missing []string
		if access == "" {
			missing = append(missing, envGoogleAccessToken)
		}

		if refresh == "" {
			missing = append(missing, envGoogleRefreshToken)
		}

		if len(missing) > 0 {
			return nil, fmt.Errorf("%s not set", strings.Join(missing, " and "))
		}

		return credential.RefreshCredential{AccessToken: access, RefreshToken: refresh}, nil
	}
}
