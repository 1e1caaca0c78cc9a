package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/tonimelisma/keyviewer-cloud/internal/credential"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	provider := env.Provider
	if cli.Provider != "" {
		provider = cli.Provider
	}

	if cli.Ephemeral != nil && *cli.Ephemeral {
		cfg.Auth.CredentialBackend = credential.BackendMemory
	}

	cfg.Sync.LocalConfig = expandTilde(cfg.Sync.LocalConfig)
	cfg.Logging.LogFile = expandTilde(cfg.Logging.LogFile)

	resolved := &Resolved{
		Config:      *cfg,
		ConfigPath:  cfgPath,
		DataDir:     DefaultDataDir(),
		Provider:    strings.ToLower(provider),
		CallbackURL: env.CallbackURL,
	}

	if resolved.Retention, err = time.ParseDuration(cfg.Auth.CredentialRetention); err != nil {
		return nil, fmt.Errorf("config: credential_retention: %w", err)
	}

	if resolved.Timeout, err = time.ParseDuration(cfg.Network.Timeout); err != nil {
		return nil, fmt.Errorf("config: timeout: %w", err)
	}

	if resolved.WatchDebounce, err = time.ParseDuration(cfg.Sync.WatchDebounce); err != nil {
		return nil, fmt.Errorf("config: watch_debounce: %w", err)
	}

	if err := ValidateResolved(resolved); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return resolved, nil
}

// expandTilde replaces a leading "~/" with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
