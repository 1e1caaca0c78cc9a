package credential

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteBackend stores credentials in a single-table SQLite database.
type SQLiteBackend struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at dbPath and applies
// pending migrations. Use ":memory:" for tests.
func OpenSQLite(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("opening credential database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("credential: open sqlite: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA synchronous = FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential: set pragma: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteBackend{db: db, logger: logger}, nil
}

// runMigrations applies all pending schema migrations using the goose v3
// Provider API.
func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credential: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credential: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credential: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Read implements Backend.
func (b *SQLiteBackend) Read(ctx context.Context, key string) (Entry, error) {
	var (
		blob             []byte
		saved, expiresAt int64
	)

	err := b.db.QueryRowContext(ctx,
		"SELECT blob, saved_at, expires_at FROM credentials WHERE provider = ?", key,
	).Scan(&blob, &saved, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}

	if err != nil {
		return Entry{}, fmt.Errorf("credential: reading %s: %w", key, err)
	}

	e := Entry{Blob: blob, SavedAt: time.Unix(0, saved).UTC()}
	if expiresAt != 0 {
		e.ExpiresAt = time.Unix(0, expiresAt).UTC()
	}

	return e, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, key string, e Entry) error {
	var expiresAt int64
	if !e.ExpiresAt.IsZero() {
		expiresAt = e.ExpiresAt.UnixNano()
	}

	_, err := b.db.ExecContext(ctx,
		`INSERT INTO credentials (provider, blob, saved_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(provider) DO UPDATE SET
		   blob = excluded.blob, saved_at = excluded.saved_at, expires_at = excluded.expires_at`,
		key, e.Blob, e.SavedAt.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("credential: writing %s: %w", key, err)
	}

	return nil
}

// Delete implements Backend.
func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM credentials WHERE provider = ?", key); err != nil {
		return fmt.Errorf("credential: deleting %s: %w", key, err)
	}

	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
