package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "KEYVIEWER_CLOUD_CONFIG"
	EnvProvider    = "KEYVIEWER_CLOUD_PROVIDER"
	EnvCallbackURL = "KEYVIEWER_CLOUD_CALLBACK_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath  string // KEYVIEWER_CLOUD_CONFIG: override config file path
	Provider    string // KEYVIEWER_CLOUD_PROVIDER: preferred provider for login
	CallbackURL string // KEYVIEWER_CLOUD_CALLBACK_URL: redirect URL from a headless login
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		Provider:    os.Getenv(EnvProvider),
		CallbackURL: os.Getenv(EnvCallbackURL),
	}
}
