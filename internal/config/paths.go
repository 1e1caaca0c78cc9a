package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const platformDarwin = "darwin"

const (
	appName        = "keyviewer-cloud"
	configFileName = "config.toml"
)

// DefaultConfigDir returns the directory holding config.toml.
// XDG_CONFIG_HOME is honored on Linux; macOS uses Application Support.
func DefaultConfigDir() string {
	return appDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the directory holding credential stores.
// XDG_DATA_HOME is honored on Linux; macOS collapses config and data into
// Application Support.
func DefaultDataDir() string {
	return appDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// DefaultConfigPath returns the config file used when neither
// KEYVIEWER_CLOUD_CONFIG nor --config is given.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

func appDir(xdgVar, homeRel string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	if runtime.GOOS == platformDarwin {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	return xdgDir(home, xdgVar, homeRel)
}

// xdgDir resolves an XDG base directory, falling back to home/homeRel.
func xdgDir(home, xdgVar, homeRel string) string {
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(home, homeRel, appName)
}
