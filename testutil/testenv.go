// Package testutil provides shared test environment helpers for E2E and
// integration tests. It depends only on stdlib.
package testutil

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// RequireEnv returns the value of key, skipping the test when it is unset.
// Live tests need real credentials; a developer machine without them
// should see skips rather than failures.
func RequireEnv(tb testing.TB, key string) string {
	tb.Helper()

	v := os.Getenv(key)
	if v == "" {
		tb.Skipf("%s not set", key)
	}

	return v
}

// IsolateHome points HOME and the XDG base directories at a fresh temp
// directory so a run never touches the developer's real config or
// credentials. Returns the directory.
func IsolateHome(tb testing.TB) string {
	tb.Helper()

	dir := tb.TempDir()
	tb.Setenv("HOME", dir)
	tb.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	tb.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	return dir
}
