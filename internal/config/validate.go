package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// Validation range constants.
const (
	maxCallbackPort   = 65535
	minRetention      = time.Hour
	minTimeout        = time.Second
	maxRetries        = 10
	minWatchDebounce  = 10 * time.Millisecond
	maxDocumentLength = 255
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// ValidateResolved checks constraints that only make sense after env and
// CLI overrides are applied.
func ValidateResolved(r *Resolved) error {
	var errs []error

	if r.Provider != "" {
		if _, err := credential.ParseKind(r.Provider); err != nil {
			errs = append(errs, fmt.Errorf("provider: %w", err))
		}
	}

	if r.CallbackURL != "" {
		if _, err := url.Parse(r.CallbackURL); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvCallbackURL, err))
		}
	}

	return errors.Join(errs...)
}

var validBackends = map[string]bool{
	credential.BackendFile:   true,
	credential.BackendSQLite: true,
	credential.BackendBolt:   true,
	credential.BackendMemory: true,
}

func validateAuth(a *AuthConfig) []error {
	var errs []error

	errs = append(errs, validateHTTPURL("proxy_url", a.ProxyURL)...)

	if a.CallbackPort < 0 || a.CallbackPort > maxCallbackPort {
		errs = append(errs, fmt.Errorf("callback_port: must be between 0 and %d, got %d",
			maxCallbackPort, a.CallbackPort))
	}

	if !strings.HasPrefix(a.CallbackPath, "/") {
		errs = append(errs, fmt.Errorf("callback_path: must start with /, got %q", a.CallbackPath))
	}

	if !validBackends[a.CredentialBackend] {
		errs = append(errs, fmt.Errorf(
			"credential_backend: must be one of file, sqlite, bolt, memory; got %q", a.CredentialBackend))
	}

	errs = append(errs, validateDurationMin("credential_retention", a.CredentialRetention, minRetention)...)

	return errs
}

func validateStorage(s *StorageConfig) []error {
	var errs []error

	if strings.TrimSpace(s.FolderName) == "" {
		errs = append(errs, errors.New("folder_name: must not be empty"))
	}

	if strings.ContainsAny(s.FolderName, "/'") {
		errs = append(errs, fmt.Errorf("folder_name: must not contain / or ', got %q", s.FolderName))
	}

	if strings.TrimSpace(s.ConfigDocument) == "" {
		errs = append(errs, errors.New("config_document: must not be empty"))
	} else if len(s.ConfigDocument) > maxDocumentLength {
		errs = append(errs, fmt.Errorf("config_document: must be at most %d bytes", maxDocumentLength))
	}

	if strings.TrimSpace(s.GistDescription) == "" {
		errs = append(errs, errors.New("gist_description: must not be empty"))
	}

	errs = append(errs, validateHTTPURL("drive_api_url", s.DriveAPIURL)...)
	errs = append(errs, validateHTTPURL("drive_upload_url", s.DriveUploadURL)...)
	errs = append(errs, validateHTTPURL("github_api_url", s.GitHubAPIURL)...)

	return errs
}

func validateSync(s *SyncConfig) []error {
	return validateDurationMin("watch_debounce", s.WatchDebounce, minWatchDebounce)
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("timeout", n.Timeout, minTimeout)...)

	if n.MaxRetries < 0 || n.MaxRetries > maxRetries {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d", maxRetries, n.MaxRetries))
	}

	if strings.TrimSpace(n.UserAgent) == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateHTTPURL(field, value string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("%s: must be an absolute http(s) URL, got %q", field, value)}
	}

	return nil
}

// validateDurationMin checks that a duration string is valid and meets a minimum.
func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}
