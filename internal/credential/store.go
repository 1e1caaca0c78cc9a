package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetention is how long a stored credential survives without being
// rewritten.
const DefaultRetention = 365 * 24 * time.Hour

// ErrNotFound is returned by a Backend when no entry exists for a key.
var ErrNotFound = errors.New("credential: not found")

// Entry is one stored credential blob with its bookkeeping timestamps.
type Entry struct {
	Blob      []byte
	SavedAt   time.Time
	ExpiresAt time.Time
}

// Backend is a durable key/value medium for credential blobs. Keys are the
// provider names ("github", "google"). Delete must be idempotent.
type Backend interface {
	Read(ctx context.Context, key string) (Entry, error)
	Write(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store persists provider credentials. It owns encoding and retention; the
// backend only moves bytes.
type Store struct {
	backend   Backend
	retention time.Duration
	logger    *slog.Logger

	// nowFunc is overridden in tests.
	nowFunc func() time.Time
}

// NewStore wraps a backend. A non-positive retention uses DefaultRetention.
func NewStore(backend Backend, retention time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Store{
		backend:   backend,
		retention: retention,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// Get returns the stored credential for kind. It never fails: a missing,
// expired, unreadable, or malformed entry is reported as absent.
func (s *Store) Get(ctx context.Context, kind Kind) (Credential, bool) {
	key := kind.String()

	e, err := s.backend.Read(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, false
	}

	if err != nil {
		s.logger.Warn("reading stored credential failed",
			slog.String("provider", key),
			slog.String("error", err.Error()),
		)

		return nil, false
	}

	if !e.ExpiresAt.IsZero() && !s.nowFunc().Before(e.ExpiresAt) {
		s.logger.Info("stored credential past retention, discarding",
			slog.String("provider", key),
			slog.Time("expired_at", e.ExpiresAt),
		)

		if delErr := s.backend.Delete(ctx, key); delErr != nil {
			s.logger.Warn("removing expired credential failed",
				slog.String("provider", key),
				slog.String("error", delErr.Error()),
			)
		}

		return nil, false
	}

	cred, err := Decode(kind, e.Blob)
	if err != nil {
		s.logger.Warn("stored credential is malformed, ignoring",
			slog.String("provider", key),
			slog.String("error", err.Error()),
		)

		return nil, false
	}

	return cred, true
}

// Set overwrites the stored credential for cred.Kind() and restarts its
// retention window.
func (s *Store) Set(ctx context.Context, cred Credential) error {
	blob, err := Encode(cred)
	if err != nil {
		return err
	}

	now := s.nowFunc().UTC()
	key := cred.Kind().String()

	if err := s.backend.Write(ctx, key, Entry{
		Blob:      blob,
		SavedAt:   now,
		ExpiresAt: now.Add(s.retention),
	}); err != nil {
		return fmt.Errorf("credential: storing %s: %w", key, err)
	}

	s.logger.Debug("stored credential",
		slog.String("provider", key),
		slog.Duration("retention", s.retention),
	)

	return nil
}

// Clear removes the credential for kind. Clearing an absent credential is
// not an error.
func (s *Store) Clear(ctx context.Context, kind Kind) error {
	if err := s.backend.Delete(ctx, kind.String()); err != nil {
		return fmt.Errorf("credential: clearing %s: %w", kind, err)
	}

	return nil
}

// ClearAll removes every provider's credential.
func (s *Store) ClearAll(ctx context.Context) error {
	var errs []error

	for _, k := range Kinds {
		if err := s.Clear(ctx, k); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
