package config

import (
	"path/filepath"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
	"github.com/tonimelisma/keyviewer-cloud/internal/docstore"
	"github.com/tonimelisma/keyviewer-cloud/internal/drive"
	"github.com/tonimelisma/keyviewer-cloud/internal/gist"
	"github.com/tonimelisma/keyviewer-cloud/internal/provider"
	"github.com/tonimelisma/keyviewer-cloud/internal/session"
)

// Default values for configuration options.
const (
	defaultCallbackPath        = "/callback"
	defaultCredentialRetention = "8760h"
	defaultGitHubAPIURL        = "https://api.github.com"
	defaultWatchDebounce       = "500ms"
	defaultLogLevel            = "info"
	defaultLogFormat           = "auto"
	defaultTimeout             = "30s"
	defaultUserAgent           = "keyviewer-cloud/dev"
	defaultLocalConfigName     = "config.json"
)

// DefaultConfig returns a Config populated with all default values.
// Used as the base when a config file is missing or only sets some keys.
func DefaultConfig() *Config {
	return &Config{
		Auth:    defaultAuthConfig(),
		Storage: defaultStorageConfig(),
		Sync:    defaultSyncConfig(),
		Logging: defaultLoggingConfig(),
		Network: defaultNetworkConfig(),
	}
}

func defaultAuthConfig() AuthConfig {
	return AuthConfig{
		ProxyURL:            provider.DefaultProxyURL,
		CallbackPort:        0,
		CallbackPath:        defaultCallbackPath,
		CredentialBackend:   credential.BackendFile,
		CredentialRetention: defaultCredentialRetention,
		OpenBrowser:         true,
	}
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		FolderName:      docstore.DefaultFolderName,
		ConfigDocument:  session.DefaultConfigDocument,
		GistDescription: gist.DefaultDescription,
		DriveAPIURL:     drive.DefaultBaseURL,
		DriveUploadURL:  drive.DefaultUploadURL,
		GitHubAPIURL:    defaultGitHubAPIURL,
	}
}

func defaultSyncConfig() SyncConfig {
	local := ""
	if dir := DefaultConfigDir(); dir != "" {
		local = filepath.Join(dir, defaultLocalConfigName)
	}

	return SyncConfig{
		LocalConfig:   local,
		WatchDebounce: defaultWatchDebounce,
	}
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
	}
}

func defaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Timeout:    defaultTimeout,
		MaxRetries: 0,
		UserAgent:  defaultUserAgent,
	}
}
