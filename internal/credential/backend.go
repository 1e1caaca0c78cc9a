package credential

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
)

// Backend names accepted by OpenBackend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// OpenBackend constructs the named backend with its files under dataDir.
func OpenBackend(ctx context.Context, name, dataDir string, logger *slog.Logger) (Backend, error) {
	switch name {
	case BackendFile, "":
		return NewFileBackend(filepath.Join(dataDir, "credentials")), nil
	case BackendSQLite:
		return OpenSQLite(ctx, filepath.Join(dataDir, "credentials.db"), logger)
	case BackendBolt:
		return OpenBolt(filepath.Join(dataDir, "credentials.bolt"))
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("credential: unknown backend %q", name)
	}
}
