// Package gist stores named JSON documents as files of one private GitHub
// gist, identified by its description.
package gist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/go-github/v57/github"
	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/keyviewer-cloud/internal/docstore"
)

// DefaultDescription marks the gist that holds the documents.
const DefaultDescription = "KeyViewer"

const listPageSize = 100

// Store implements docstore.Documents on a private gist.
type Store struct {
	client      *github.Client
	description string
	logger      *slog.Logger

	mu     sync.Mutex
	gistID string
	group  singleflight.Group
}

// New creates a gist-backed document store.
func New(client *github.Client, description string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	if description == "" {
		description = DefaultDescription
	}

	return &Store{client: client, description: description, logger: logger}
}

var _ docstore.Documents = (*Store)(nil)

// findGist returns the id of the document gist, or "" when the user has
// none. A found id is cached.
func (s *Store) findGist(ctx context.Context) (string, error) {
	s.mu.Lock()
	id := s.gistID
	s.mu.Unlock()

	if id != "" {
		return id, nil
	}

	v, err, _ := s.group.Do("gist", func() (any, error) {
		opts := &github.GistListOptions{ListOptions: github.ListOptions{PerPage: listPageSize}}

		for {
			gists, resp, err := s.client.Gists.List(ctx, "", opts)
			if err != nil {
				return "", fmt.Errorf("gist: listing gists: %w", err)
			}

			for _, g := range gists {
				if g.GetDescription() == s.description {
					s.setGistID(g.GetID())
					s.logger.Debug("resolved document gist", slog.String("gist_id", g.GetID()))

					return g.GetID(), nil
				}
			}

			if resp.NextPage == 0 {
				return "", nil
			}

			opts.Page = resp.NextPage
		}
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

func (s *Store) setGistID(id string) {
	s.mu.Lock()
	s.gistID = id
	s.mu.Unlock()
}

// fetch loads the document gist. It returns nil when there is none, and
// forgets a cached id whose gist has been deleted.
func (s *Store) fetch(ctx context.Context) (*github.Gist, error) {
	id, err := s.findGist(ctx)
	if err != nil || id == "" {
		return nil, err
	}

	g, _, err := s.client.Gists.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			s.logger.Warn("document gist disappeared", slog.String("gist_id", id))
			s.setGistID("")

			return nil, nil
		}

		return nil, fmt.Errorf("gist: fetching %s: %w", id, err)
	}

	return g, nil
}

// Save writes doc into the gist, creating a private gist on first use.
func (s *Store) Save(ctx context.Context, name string, doc any) (docstore.Entry, error) {
	name = docstore.NormalizeName(name)
	if name == "" {
		return docstore.Entry{}, docstore.ErrEmptyName
	}

	content, err := docstore.EncodeDocument(doc)
	if err != nil {
		return docstore.Entry{}, err
	}

	id, err := s.findGist(ctx)
	if err != nil {
		return docstore.Entry{}, fmt.Errorf("%w: %w", docstore.ErrRemoteWriteFailed, err)
	}

	files := map[github.GistFilename]github.GistFile{
		github.GistFilename(name): {Content: github.String(string(content))},
	}

	var saved *github.Gist
	if id == "" {
		saved, _, err = s.client.Gists.Create(ctx, &github.Gist{
			Description: github.String(s.description),
			Public:      github.Bool(false),
			Files:       files,
		})
		if err == nil {
			s.setGistID(saved.GetID())
		}
	} else {
		saved, _, err = s.client.Gists.Edit(ctx, id, &github.Gist{Files: files})
	}

	if err != nil {
		return docstore.Entry{}, fmt.Errorf("%w: saving %q: %w", docstore.ErrRemoteWriteFailed, name, err)
	}

	s.logger.Info("saved document",
		slog.String("name", name),
		slog.String("gist_id", saved.GetID()),
		slog.Bool("created", id == ""),
	)

	return docstore.Entry{Name: name, ID: saved.GetID(), ModifiedAt: saved.GetUpdatedAt().Time}, nil
}

// Load returns the named file's content.
func (s *Store) Load(ctx context.Context, name string) (json.RawMessage, bool, error) {
	name = docstore.NormalizeName(name)
	if name == "" {
		return nil, false, docstore.ErrEmptyName
	}

	g, err := s.fetch(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", docstore.ErrRemoteReadFailed, err)
	}

	if g == nil {
		return nil, false, nil
	}

	f, ok := g.Files[github.GistFilename(name)]
	if !ok {
		return nil, false, nil
	}

	doc, err := docstore.DecodeDocument([]byte(f.GetContent()))
	if err != nil {
		return nil, false, fmt.Errorf("%q: %w", name, err)
	}

	return doc, true, nil
}

// Delete removes the named file from the gist.
func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	name = docstore.NormalizeName(name)
	if name == "" {
		return false, docstore.ErrEmptyName
	}

	g, err := s.fetch(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %w", docstore.ErrRemoteWriteFailed, err)
	}

	if g == nil {
		return false, nil
	}

	if _, ok := g.Files[github.GistFilename(name)]; !ok {
		return false, nil
	}

	// GitHub rejects a gist without files, so the last document takes the
	// gist with it. The next Save creates a fresh one.
	if len(g.Files) == 1 {
		if _, err := s.client.Gists.Delete(ctx, g.GetID()); err != nil {
			return false, fmt.Errorf("%w: deleting gist %s: %w", docstore.ErrRemoteWriteFailed, g.GetID(), err)
		}

		s.setGistID("")
		s.logger.Info("deleted document and its gist", slog.String("name", name), slog.String("gist_id", g.GetID()))

		return true, nil
	}

	// A typed GistFile cannot express the null that removes a file.
	body := map[string]any{"files": map[string]any{name: nil}}

	req, err := s.client.NewRequest(http.MethodPatch, "gists/"+g.GetID(), body)
	if err != nil {
		return false, fmt.Errorf("%w: %w", docstore.ErrRemoteWriteFailed, err)
	}

	if _, err := s.client.Do(ctx, req, nil); err != nil {
		return false, fmt.Errorf("%w: deleting %q: %w", docstore.ErrRemoteWriteFailed, name, err)
	}

	s.logger.Info("deleted document", slog.String("name", name), slog.String("gist_id", g.GetID()))

	return true, nil
}

// List returns the gist's files sorted by name.
func (s *Store) List(ctx context.Context) ([]docstore.Entry, error) {
	g, err := s.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", docstore.ErrRemoteReadFailed, err)
	}

	if g == nil {
		return []docstore.Entry{}, nil
	}

	entries := make([]docstore.Entry, 0, len(g.Files))
	for name := range g.Files {
		entries = append(entries, docstore.Entry{
			Name:       string(name),
			ID:         g.GetID(),
			ModifiedAt: g.GetUpdatedAt().Time,
		})
	}

	slices.SortFunc(entries, func(a, b docstore.Entry) int {
		return strings.Compare(a.Name, b.Name)
	})

	return entries, nil
}

// isNotFound reports whether err is a GitHub 404.
func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse

	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
