// Package docstore keeps named JSON documents in a single remote folder.
//
// The protocol is the same for every operation: resolve the folder (once per
// Store), look the file up by name (every time), then create, update,
// download or delete it. Nothing is retried here and concurrent writers of
// the same document race; the last write wins.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/keyviewer-cloud/internal/drive"
)

// DefaultFolderName is the remote folder documents live in.
const DefaultFolderName = "KeyViewer"

var (
	// ErrRemoteWriteFailed wraps any failure to create, update or delete.
	ErrRemoteWriteFailed = errors.New("docstore: remote write failed")

	// ErrRemoteDataCorrupt means a document exists but is not valid JSON.
	ErrRemoteDataCorrupt = errors.New("docstore: remote data corrupt")

	// ErrRemoteReadFailed wraps lookup and download failures.
	ErrRemoteReadFailed = errors.New("docstore: remote read failed")

	// ErrEmptyName is returned for a blank document name.
	ErrEmptyName = errors.New("docstore: empty document name")
)

// Entry describes one stored document.
type Entry struct {
	Name       string    `json:"name"`
	ID         string    `json:"id"`
	ModifiedAt time.Time `json:"modifiedAt,omitzero"`
}

// Documents is the provider-agnostic document API.
type Documents interface {
	Save(ctx context.Context, name string, doc any) (Entry, error)
	// Load returns found=false, with no error, when the document is absent.
	Load(ctx context.Context, name string) (doc json.RawMessage, found bool, err error)
	Delete(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]Entry, error)
}

// Remote is the storage surface the protocol runs on. *drive.Client
// satisfies it.
type Remote interface {
	Query(ctx context.Context, q drive.Query) ([]drive.File, error)
	CreateFolder(ctx context.Context, name, parent string) (*drive.File, error)
	Create(ctx context.Context, meta drive.Metadata, content []byte) (*drive.File, error)
	Update(ctx context.Context, id string, meta drive.Metadata, content []byte) (*drive.File, error)
	Delete(ctx context.Context, id string) error
	Download(ctx context.Context, id string, w io.Writer) (int64, error)
}

// Folder is the resolved remote folder.
type Folder struct {
	ID string
}

// Store implements Documents over a Remote.
type Store struct {
	remote     Remote
	folderName string
	logger     *slog.Logger

	mu     sync.Mutex
	folder *Folder
	group  singleflight.Group
}

// New creates a Store keeping documents in the folder named folderName.
func New(remote Remote, folderName string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	if folderName == "" {
		folderName = DefaultFolderName
	}

	return &Store{remote: remote, folderName: NormalizeName(folderName), logger: logger}
}

// NormalizeName returns the NFC form of name, so that visually identical
// names address the same remote file.
func NormalizeName(name string) string {
	return norm.NFC.String(name)
}

// ResolveFolder finds the document folder under the root, creating it when
// missing. The first success is cached for the life of the Store; concurrent
// first calls share one lookup.
func (s *Store) ResolveFolder(ctx context.Context) (Folder, error) {
	s.mu.Lock()
	cached := s.folder
	s.mu.Unlock()

	if cached != nil {
		return *cached, nil
	}

	v, err, _ := s.group.Do("folder", func() (any, error) {
		s.mu.Lock()
		if s.folder != nil {
			f := *s.folder
			s.mu.Unlock()

			return f, nil
		}
		s.mu.Unlock()

		f, err := s.lookupOrCreateFolder(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.folder = &f
		s.mu.Unlock()

		return f, nil
	})
	if err != nil {
		return Folder{}, err
	}

	return v.(Folder), nil
}

func (s *Store) lookupOrCreateFolder(ctx context.Context) (Folder, error) {
	files, err := s.remote.Query(ctx, drive.Query{Name: s.folderName, FoldersOnly: true, Parent: drive.RootID})
	if err != nil {
		return Folder{}, fmt.Errorf("docstore: looking up folder %q: %w", s.folderName, err)
	}

	if len(files) > 0 {
		if len(files) > 1 {
			s.logger.Warn("multiple document folders found, using the first",
				slog.String("folder", s.folderName),
				slog.Int("count", len(files)),
			)
		}

		s.logger.Debug("resolved document folder", slog.String("folder_id", files[0].ID))

		return Folder{ID: files[0].ID}, nil
	}

	created, err := s.remote.CreateFolder(ctx, s.folderName, drive.RootID)
	if err != nil {
		return Folder{}, fmt.Errorf("docstore: creating folder %q: %w", s.folderName, err)
	}

	s.logger.Info("created document folder",
		slog.String("folder", s.folderName),
		slog.String("folder_id", created.ID),
	)

	return Folder{ID: created.ID}, nil
}

// FindFile returns the first file named name in folder, or nil when there is
// none. Duplicates are not an error.
func (s *Store) FindFile(ctx context.Context, folder Folder, name string) (*drive.File, error) {
	files, err := s.remote.Query(ctx, drive.Query{Name: name, Parent: folder.ID})
	if err != nil {
		return nil, fmt.Errorf("docstore: looking up %q: %w", name, err)
	}

	if len(files) == 0 {
		return nil, nil
	}

	if len(files) > 1 {
		s.logger.Warn("duplicate documents found, using the first",
			slog.String("name", name),
			slog.Int("count", len(files)),
		)
	}

	f := files[0]

	return &f, nil
}

// locate resolves the folder and looks name up in it.
func (s *Store) locate(ctx context.Context, name string) (Folder, *drive.File, error) {
	folder, err := s.ResolveFolder(ctx)
	if err != nil {
		return Folder{}, nil, err
	}

	f, err := s.FindFile(ctx, folder, name)
	if err != nil {
		return Folder{}, nil, err
	}

	return folder, f, nil
}

// Save writes doc as indented JSON, creating the file on first save and
// replacing its content afterwards.
func (s *Store) Save(ctx context.Context, name string, doc any) (Entry, error) {
	name = NormalizeName(name)
	if name == "" {
		return Entry{}, ErrEmptyName
	}

	content, err := EncodeDocument(doc)
	if err != nil {
		return Entry{}, err
	}

	folder, existing, err := s.locate(ctx, name)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}

	meta := drive.Metadata{Name: name, MimeType: drive.JSONMimeType}

	var saved *drive.File
	if existing == nil {
		meta.Parents = []string{folder.ID}
		saved, err = s.remote.Create(ctx, meta, content)
	} else {
		saved, err = s.remote.Update(ctx, existing.ID, meta, content)
	}

	if err != nil {
		return Entry{}, fmt.Errorf("%w: saving %q: %w", ErrRemoteWriteFailed, name, err)
	}

	s.logger.Info("saved document",
		slog.String("name", name),
		slog.String("file_id", saved.ID),
		slog.Bool("created", existing == nil),
	)

	return Entry{Name: saved.Name, ID: saved.ID, ModifiedAt: saved.ModifiedAt}, nil
}

// Load downloads and validates the named document.
func (s *Store) Load(ctx context.Context, name string) (json.RawMessage, bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return nil, false, ErrEmptyName
	}

	_, f, err := s.locate(ctx, name)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrRemoteReadFailed, err)
	}

	if f == nil {
		return nil, false, nil
	}

	var buf bytes.Buffer
	if _, err := s.remote.Download(ctx, f.ID, &buf); err != nil {
		return nil, false, fmt.Errorf("%w: downloading %q: %w", ErrRemoteReadFailed, name, err)
	}

	doc, err := DecodeDocument(buf.Bytes())
	if err != nil {
		return nil, false, fmt.Errorf("%q: %w", name, err)
	}

	return doc, true, nil
}

// Delete removes the named document. It reports false when there was none.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	name = NormalizeName(name)
	if name == "" {
		return false, ErrEmptyName
	}

	_, f, err := s.locate(ctx, name)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrRemoteWriteFailed, err)
	}

	if f == nil {
		return false, nil
	}

	if err := s.remote.Delete(ctx, f.ID); err != nil {
		return false, fmt.Errorf("%w: deleting %q: %w", ErrRemoteWriteFailed, name, err)
	}

	s.logger.Info("deleted document", slog.String("name", name), slog.String("file_id", f.ID))

	return true, nil
}

// List returns the documents in the folder. Only the first result page is
// read.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	folder, err := s.ResolveFolder(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoteReadFailed, err)
	}

	files, err := s.remote.Query(ctx, drive.Query{Parent: folder.ID})
	if err != nil {
		return nil, fmt.Errorf("%w: listing folder: %w", ErrRemoteReadFailed, err)
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entries = append(entries, Entry{Name: f.Name, ID: f.ID, ModifiedAt: f.ModifiedAt})
	}

	return entries, nil
}

// EncodeDocument renders doc as JSON indented by two spaces.
func EncodeDocument(doc any) ([]byte, error) {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("docstore: encoding document: %w", err)
	}

	return content, nil
}

// DecodeDocument validates raw as a JSON document.
func DecodeDocument(raw []byte) (json.RawMessage, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: not valid JSON", ErrRemoteDataCorrupt)
	}

	return json.RawMessage(raw), nil
}
