package credential

import (
	"context"
	"path/filepath"

	"github.com/tonimelisma/keyviewer-cloud/internal/tokenfile"
)

// FileBackend stores one token file per provider under a directory.
type FileBackend struct {
	dir string
}

// NewFileBackend returns a backend rooted at dir. The directory is created on
// first write.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the token file path for a provider key.
func (b *FileBackend) Path(key string) string {
	return filepath.Join(b.dir, key+".json")
}

// Read implements Backend.
func (b *FileBackend) Read(_ context.Context, key string) (Entry, error) {
	tf, err := tokenfile.Load(b.Path(key))
	if err != nil {
		return Entry{}, err
	}

	if tf == nil {
		return Entry{}, ErrNotFound
	}

	return Entry{Blob: tf.Blob, SavedAt: tf.SavedAt, ExpiresAt: tf.ExpiresAt}, nil
}

// Write implements Backend.
func (b *FileBackend) Write(_ context.Context, key string, e Entry) error {
	return tokenfile.Save(b.Path(key), &tokenfile.File{
		Provider:  key,
		Blob:      e.Blob,
		SavedAt:   e.SavedAt,
		ExpiresAt: e.ExpiresAt,
	})
}

// Delete implements Backend.
func (b *FileBackend) Delete(_ context.Context, key string) error {
	return tokenfile.Remove(b.Path(key))
}

// Close implements Backend.
func (b *FileBackend) Close() error { return nil }
