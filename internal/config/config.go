// Package config loads the keyviewer-cloud TOML configuration.
//
// The file is optional. Values are resolved in four layers: built-in
// defaults, the config file, environment variables, then CLI flags.
package config

import (
	"time"
)

// Config is the parsed config file.
type Config struct {
	Auth    AuthConfig    `toml:"auth"`
	Storage StorageConfig `toml:"storage"`
	Sync    SyncConfig    `toml:"sync"`
	Logging LoggingConfig `toml:"logging"`
	Network NetworkConfig `toml:"network"`
}

// AuthConfig controls the provider handshake and credential persistence.
type AuthConfig struct {
	ProxyURL            string `toml:"proxy_url"`
	CallbackPort        int    `toml:"callback_port"`
	CallbackPath        string `toml:"callback_path"`
	CredentialBackend   string `toml:"credential_backend"`
	CredentialRetention string `toml:"credential_retention"`
	OpenBrowser         bool   `toml:"open_browser"`
}

// StorageConfig names where documents live on each provider.
type StorageConfig struct {
	FolderName      string `toml:"folder_name"`
	ConfigDocument  string `toml:"config_document"`
	GistDescription string `toml:"gist_description"`
	DriveAPIURL     string `toml:"drive_api_url"`
	DriveUploadURL  string `toml:"drive_upload_url"`
	GitHubAPIURL    string `toml:"github_api_url"`
}

// SyncConfig controls push and pull of the local config document.
type SyncConfig struct {
	LocalConfig   string `toml:"local_config"`
	WatchDebounce string `toml:"watch_debounce"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// NetworkConfig controls HTTP behavior.
type NetworkConfig struct {
	Timeout    string `toml:"timeout"`
	MaxRetries int    `toml:"max_retries"`
	UserAgent  string `toml:"user_agent"`
}

// CLIOverrides holds values from command-line flags. Empty strings and nil
// pointers mean "not specified".
type CLIOverrides struct {
	ConfigPath string
	Provider   string
	Ephemeral  *bool
}

// Resolved is the fully merged configuration handed to commands.
type Resolved struct {
	Config

	ConfigPath string
	DataDir    string
	Provider   string

	// CallbackURL is a redirect URL pasted by the user, consumed at start.
	CallbackURL string

	Retention     time.Duration
	Timeout       time.Duration
	WatchDebounce time.Duration
}
