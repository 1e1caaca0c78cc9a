package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var credentialsBucket = []byte("credentials")

// boltLockTimeout bounds how long Open waits for another process holding the
// database file lock.
const boltLockTimeout = 2 * time.Second

// BoltBackend stores JSON-encoded entries in a bbolt bucket.
type BoltBackend struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the bbolt database at path.
func OpenBolt(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("credential: creating directory for %s: %w", path, err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: boltLockTimeout})
	if err != nil {
		return nil, fmt.Errorf("credential: opening bolt database %s: %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, berr := tx.CreateBucketIfNotExists(credentialsBucket)
		return berr
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("credential: creating bucket: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

type boltEntry struct {
	Blob      []byte    `json:"blob"`
	SavedAt   time.Time `json:"saved_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Read implements Backend.
func (b *BoltBackend) Read(_ context.Context, key string) (Entry, error) {
	var raw []byte

	if err := b.db.View(func(tx *bolt.Tx) error {
		// Bytes from Get are only valid inside the transaction.
		if v := tx.Bucket(credentialsBucket).Get([]byte(key)); v != nil {
			raw = append([]byte(nil), v...)
		}

		return nil
	}); err != nil {
		return Entry{}, fmt.Errorf("credential: reading %s: %w", key, err)
	}

	if raw == nil {
		return Entry{}, ErrNotFound
	}

	var be boltEntry
	if err := json.Unmarshal(raw, &be); err != nil {
		return Entry{}, fmt.Errorf("credential: decoding %s: %w", key, err)
	}

	return Entry(be), nil
}

// Write implements Backend.
func (b *BoltBackend) Write(_ context.Context, key string, e Entry) error {
	raw, err := json.Marshal(boltEntry(e))
	if err != nil {
		return fmt.Errorf("credential: encoding %s: %w", key, err)
	}

	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Put([]byte(key), raw)
	})
}

// Delete implements Backend.
func (b *BoltBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(credentialsBucket).Delete([]byte(key))
	})
}

// Close implements Backend.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
