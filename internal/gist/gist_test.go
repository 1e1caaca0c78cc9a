package gist

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/keyviewer-cloud/internal/docstore"
)

type fakeGist struct {
	ID          string                       `json:"id"`
	Description string                       `json:"description"`
	Public      bool                         `json:"public"`
	UpdatedAt   time.Time                    `json:"updated_at"`
	Files       map[string]map[string]string `json:"files"`
}

// fakeGitHub serves the handful of gist endpoints the store uses.
type fakeGitHub struct {
	mu       sync.Mutex
	gists    map[string]*fakeGist
	order    []string
	requests []string
	nextID   int
	now      time.Time
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{gists: map[string]*fakeGist{}, now: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
}

type gistPatch struct {
	Description *string                       `json:"description"`
	Public      *bool                         `json:"public"`
	Files       map[string]*map[string]string `json:"files"`
}

func (f *fakeGitHub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /gists", func(w http.ResponseWriter, _ *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, "GET /gists")

		out := make([]*fakeGist, 0, len(f.order))
		for _, id := range f.order {
			out = append(out, f.gists[id])
		}

		_ = json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("POST /gists", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, "POST /gists")

		var p gistPatch
		_ = json.NewDecoder(r.Body).Decode(&p)

		f.nextID++
		g := &fakeGist{
			ID:          "g" + string(rune('0'+f.nextID)),
			Description: *p.Description,
			Public:      *p.Public,
			UpdatedAt:   f.now,
			Files:       map[string]map[string]string{},
		}

		for name, file := range p.Files {
			g.Files[name] = map[string]string{"filename": name, "content": (*file)["content"]}
		}

		f.gists[g.ID] = g
		f.order = append(f.order, g.ID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(g)
	})

	mux.HandleFunc("GET /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, "GET /gists/"+r.PathValue("id"))

		g, ok := f.gists[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"Not Found"}`))

			return
		}

		_ = json.NewEncoder(w).Encode(g)
	})

	mux.HandleFunc("PATCH /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, "PATCH /gists/"+r.PathValue("id"))

		g, ok := f.gists[r.PathValue("id")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var p gistPatch
		_ = json.NewDecoder(r.Body).Decode(&p)

		files := make(map[string]map[string]string, len(g.Files))
		for name, file := range g.Files {
			files[name] = file
		}

		for name, file := range p.Files {
			if file == nil {
				delete(files, name)
				continue
			}

			files[name] = map[string]string{"filename": name, "content": (*file)["content"]}
		}

		if len(files) == 0 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Validation Failed","errors":[{"resource":"Gist","code":"missing_field","field":"files"}]}`))

			return
		}

		g.Files = files

		f.now = f.now.Add(time.Minute)
		g.UpdatedAt = f.now

		_ = json.NewEncoder(w).Encode(g)
	})

	mux.HandleFunc("DELETE /gists/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		f.requests = append(f.requests, "DELETE /gists/"+r.PathValue("id"))

		if _, ok := f.gists[r.PathValue("id")]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		delete(f.gists, r.PathValue("id"))
		f.order = slices.DeleteFunc(f.order, func(id string) bool { return id == r.PathValue("id") })

		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func newTestStore(t *testing.T, f *fakeGitHub) *Store {
	t.Helper()

	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)

	client := github.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	client.BaseURL = base

	return New(client, "", slog.Default())
}

func TestSaveLoad_CreatesPrivateGistThenEdits(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestStore(t, f)

	_, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, found)

	entry, err := s.Save(ctx, "config.json", map[string]string{"theme": "dark"})
	require.NoError(t, err)
	assert.Equal(t, "config.json", entry.Name)
	assert.Equal(t, "g1", entry.ID)

	require.Len(t, f.gists, 1)
	assert.False(t, f.gists["g1"].Public)
	assert.Equal(t, DefaultDescription, f.gists["g1"].Description)
	assert.Equal(t, "{\n  \"theme\": \"dark\"\n}", f.gists["g1"].Files["config.json"]["content"])

	_, err = s.Save(ctx, "config.json", map[string]string{"theme": "light"})
	require.NoError(t, err)
	assert.Len(t, f.gists, 1, "second save edits the same gist")

	doc, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"theme":"light"}`, string(doc))
}

func TestFindGist_MatchesDescription(t *testing.T) {
	f := newFakeGitHub()
	f.gists["other"] = &fakeGist{ID: "other", Description: "notes", Files: map[string]map[string]string{}}
	f.gists["kv"] = &fakeGist{ID: "kv", Description: "KeyViewer", Files: map[string]map[string]string{
		"preset.json": {"filename": "preset.json", "content": `[1,2]`},
	}}
	f.order = []string{"other", "kv"}

	s := newTestStore(t, f)

	doc, found, err := s.Load(context.Background(), "preset.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `[1,2]`, string(doc))

	// The id is cached: a second load does not list again.
	_, _, err = s.Load(context.Background(), "preset.json")
	require.NoError(t, err)

	lists := 0

	for _, r := range f.requests {
		if r == "GET /gists" {
			lists++
		}
	}

	assert.Equal(t, 1, lists)
}

func TestLoad_Corrupt(t *testing.T) {
	f := newFakeGitHub()
	f.gists["kv"] = &fakeGist{ID: "kv", Description: "KeyViewer", Files: map[string]map[string]string{
		"config.json": {"filename": "config.json", "content": "{oops"},
	}}
	f.order = []string{"kv"}

	_, found, err := newTestStore(t, f).Load(context.Background(), "config.json")
	assert.False(t, found)
	assert.ErrorIs(t, err, docstore.ErrRemoteDataCorrupt)
}

func TestDelete_NullsTheFile(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestStore(t, f)

	deleted, err := s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, deleted, "no gist yet")

	_, err = s.Save(ctx, "config.json", 1)
	require.NoError(t, err)
	_, err = s.Save(ctx, "keep.json", 2)
	require.NoError(t, err)

	deleted, err = s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, ok := f.gists["g1"].Files["keep.json"]
	assert.True(t, ok)
}

func TestList_SortedWithUpdatedAt(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestStore(t, f)

	entries, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = s.Save(ctx, "b.json", 1)
	require.NoError(t, err)
	_, err = s.Save(ctx, "a.json", 2)
	require.NoError(t, err)

	entries, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.json", entries[0].Name)
	assert.Equal(t, "b.json", entries[1].Name)
	assert.True(t, entries[0].ModifiedAt.Equal(f.gists["g1"].UpdatedAt))
}

func TestFetch_ForgetsDeletedGist(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestStore(t, f)

	_, err := s.Save(ctx, "config.json", 1)
	require.NoError(t, err)

	f.mu.Lock()
	delete(f.gists, "g1")
	f.order = nil
	f.mu.Unlock()

	_, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, found)

	// The next save creates a fresh gist.
	entry, err := s.Save(ctx, "config.json", 2)
	require.NoError(t, err)
	assert.Equal(t, "g2", entry.ID)
}

func TestDelete_LastFileRemovesGist(t *testing.T) {
	ctx := context.Background()
	f := newFakeGitHub()
	s := newTestStore(t, f)

	_, err := s.Save(ctx, "config.json", 1)
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.Empty(t, f.gists)
	assert.Contains(t, f.requests, "DELETE /gists/g1")
	assert.NotContains(t, f.requests, "PATCH /gists/g1")

	_, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, found)

	entry, err := s.Save(ctx, "config.json", 2)
	require.NoError(t, err)
	assert.Equal(t, "g2", entry.ID)
}
