package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/keyviewer-cloud/internal/drive"
)

type fakeFile struct {
	drive.File
	parent  string
	content []byte
}

// fakeRemote is an in-memory Remote that records calls.
type fakeRemote struct {
	mu      sync.Mutex
	files   []*fakeFile
	nextID  int
	calls   []string
	queries atomic.Int32

	queryErr    error
	createErr   error
	downloadErr error
	deleteErr   error
	queryDelay  time.Duration
}

func (r *fakeRemote) record(call string) {
	r.calls = append(r.calls, call)
}

func (r *fakeRemote) Query(_ context.Context, q drive.Query) ([]drive.File, error) {
	r.queries.Add(1)

	if r.queryDelay > 0 {
		time.Sleep(r.queryDelay)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("query " + q.String())

	if r.queryErr != nil {
		return nil, r.queryErr
	}

	var out []drive.File

	for _, f := range r.files {
		if q.Name != "" && f.Name != q.Name {
			continue
		}

		if q.FoldersOnly && !f.IsFolder() {
			continue
		}

		if q.Parent != "" && f.parent != q.Parent {
			continue
		}

		out = append(out, f.File)
	}

	return out, nil
}

func (r *fakeRemote) add(name, mime, parent string, content []byte) *fakeFile {
	r.nextID++
	f := &fakeFile{
		File:    drive.File{ID: fmt.Sprintf("id%d", r.nextID), Name: name, MimeType: mime, ModifiedAt: time.Unix(int64(r.nextID), 0).UTC()},
		parent:  parent,
		content: content,
	}
	r.files = append(r.files, f)

	return f
}

func (r *fakeRemote) CreateFolder(_ context.Context, name, parent string) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("createFolder " + name)

	f := r.add(name, drive.FolderMimeType, parent, nil)

	return &f.File, nil
}

func (r *fakeRemote) Create(_ context.Context, meta drive.Metadata, content []byte) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("create " + meta.Name)

	if r.createErr != nil {
		return nil, r.createErr
	}

	if len(meta.Parents) != 1 {
		return nil, errors.New("create needs exactly one parent")
	}

	f := r.add(meta.Name, meta.MimeType, meta.Parents[0], content)

	return &f.File, nil
}

func (r *fakeRemote) Update(_ context.Context, id string, meta drive.Metadata, content []byte) (*drive.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("update " + id)

	if len(meta.Parents) != 0 {
		return nil, errors.New("update must not carry parents")
	}

	for _, f := range r.files {
		if f.ID == id {
			f.content = content
			return &f.File, nil
		}
	}

	return nil, drive.ErrNotFound
}

func (r *fakeRemote) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("delete " + id)

	if r.deleteErr != nil {
		return r.deleteErr
	}

	for i, f := range r.files {
		if f.ID == id {
			r.files = append(r.files[:i], r.files[i+1:]...)
			return nil
		}
	}

	return drive.ErrNotFound
}

func (r *fakeRemote) Download(_ context.Context, id string, w io.Writer) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.record("download " + id)

	if r.downloadErr != nil {
		return 0, r.downloadErr
	}

	for _, f := range r.files {
		if f.ID == id {
			n, err := w.Write(f.content)
			return int64(n), err
		}
	}

	return 0, drive.ErrNotFound
}

func (r *fakeRemote) count(prefix string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0

	for _, c := range r.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}

	return n
}

func newStore(r *fakeRemote) *Store {
	return New(r, "", slog.Default())
}

func TestSaveLoad_CreateThenUpdate(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	first := map[string]any{"theme": "dark", "size": 14.0}

	entry, err := s.Save(ctx, "config.json", first)
	require.NoError(t, err)
	assert.Equal(t, "config.json", entry.Name)
	assert.NotEmpty(t, entry.ID)

	got, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	require.True(t, found)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, first, decoded)

	second := map[string]any{"theme": "light"}

	entry2, err := s.Save(ctx, "config.json", second)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, entry2.ID, "update keeps the file")

	got, found, err = s.Load(ctx, "config.json")
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"theme":"light"}`, string(got))

	assert.Equal(t, 1, r.count("create "))
	assert.Equal(t, 1, r.count("update "))
}

func TestSave_ContentIsIndented(t *testing.T) {
	r := &fakeRemote{}
	s := newStore(r)

	_, err := s.Save(context.Background(), "a.json", map[string]int{"x": 1})
	require.NoError(t, err)

	var content []byte
	for _, f := range r.files {
		if f.Name == "a.json" {
			content = f.content
		}
	}

	assert.Equal(t, "{\n  \"x\": 1\n}", string(content))
}

func TestLoad_Absent(t *testing.T) {
	s := newStore(&fakeRemote{})

	got, found, err := s.Load(context.Background(), "missing.json")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestLoad_Corrupt(t *testing.T) {
	r := &fakeRemote{}
	folder := r.add(DefaultFolderName, drive.FolderMimeType, drive.RootID, nil)
	r.add("config.json", drive.JSONMimeType, folder.ID, []byte("{truncated"))

	_, found, err := newStore(r).Load(context.Background(), "config.json")
	assert.False(t, found)
	assert.ErrorIs(t, err, ErrRemoteDataCorrupt)
	assert.NotErrorIs(t, err, ErrRemoteReadFailed)
}

func TestLoad_ReadFailures(t *testing.T) {
	r := &fakeRemote{queryErr: errors.New("network down")}

	_, _, err := newStore(r).Load(context.Background(), "config.json")
	assert.ErrorIs(t, err, ErrRemoteReadFailed)

	r = &fakeRemote{}
	folder := r.add(DefaultFolderName, drive.FolderMimeType, drive.RootID, nil)
	r.add("config.json", drive.JSONMimeType, folder.ID, []byte("{}"))
	r.downloadErr = errors.New("reset by peer")

	_, _, err = newStore(r).Load(context.Background(), "config.json")
	assert.ErrorIs(t, err, ErrRemoteReadFailed)
}

func TestSave_WriteFailure(t *testing.T) {
	r := &fakeRemote{createErr: &drive.APIError{StatusCode: 403, Message: "quota", Err: drive.ErrForbidden}}

	_, err := newStore(r).Save(context.Background(), "config.json", map[string]any{})
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.ErrorIs(t, err, drive.ErrForbidden)
	assert.Equal(t, 1, r.count("create "), "no retry")
}

func TestSave_UnencodableDocument(t *testing.T) {
	r := &fakeRemote{}

	_, err := newStore(r).Save(context.Background(), "x.json", map[string]any{"f": func() {}})
	require.Error(t, err)
	assert.Zero(t, r.queries.Load(), "nothing is sent")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	deleted, err := s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Save(ctx, "config.json", map[string]any{"a": 1})
	require.NoError(t, err)

	deleted, err = s.Delete(ctx, "config.json")
	require.NoError(t, err)
	assert.True(t, deleted)

	_, found, err := s.Load(ctx, "config.json")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDelete_Failure(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	_, err := s.Save(ctx, "config.json", map[string]any{})
	require.NoError(t, err)

	r.deleteErr = errors.New("boom")

	_, err = s.Delete(ctx, "config.json")
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	_, err := s.Save(ctx, "a.json", 1)
	require.NoError(t, err)
	_, err = s.Save(ctx, "b.json", 2)
	require.NoError(t, err)

	// A file outside the folder is not listed.
	r.add("c.json", drive.JSONMimeType, drive.RootID, []byte("3"))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a.json", entries[0].Name)
	assert.Equal(t, "b.json", entries[1].Name)
	assert.False(t, entries[0].ModifiedAt.IsZero())
}

func TestResolveFolder_ReusesExisting(t *testing.T) {
	r := &fakeRemote{}
	existing := r.add(DefaultFolderName, drive.FolderMimeType, drive.RootID, nil)
	s := newStore(r)

	f, err := s.ResolveFolder(context.Background())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, f.ID)
	assert.Zero(t, r.count("createFolder "))
}

func TestResolveFolder_CachedForever(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	f1, err := s.ResolveFolder(ctx)
	require.NoError(t, err)

	f2, err := s.ResolveFolder(ctx)
	require.NoError(t, err)

	assert.Equal(t, f1, f2)
	assert.Equal(t, int32(1), r.queries.Load())
	assert.Equal(t, 1, r.count("createFolder "))
}

func TestResolveFolder_ConcurrentFirstCallsCoalesce(t *testing.T) {
	r := &fakeRemote{queryDelay: 20 * time.Millisecond}
	s := newStore(r)

	var wg sync.WaitGroup

	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)

		go func() {
			defer wg.Done()

			f, err := s.ResolveFolder(context.Background())
			assert.NoError(t, err)
			ids[i] = f.ID
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, r.count("createFolder "))

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestResolveFolder_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{queryErr: errors.New("offline")}
	s := newStore(r)

	_, err := s.ResolveFolder(ctx)
	require.Error(t, err)

	r.queryErr = nil

	_, err = s.ResolveFolder(ctx)
	require.NoError(t, err)
}

func TestFindFile_FirstOfDuplicates(t *testing.T) {
	r := &fakeRemote{}
	folder := r.add(DefaultFolderName, drive.FolderMimeType, drive.RootID, nil)
	first := r.add("dup.json", drive.JSONMimeType, folder.ID, []byte("1"))
	r.add("dup.json", drive.JSONMimeType, folder.ID, []byte("2"))

	s := newStore(r)

	f, err := s.FindFile(context.Background(), Folder{ID: folder.ID}, "dup.json")
	require.NoError(t, err)
	assert.Equal(t, first.ID, f.ID)
}

func TestNormalizeName_NFC(t *testing.T) {
	ctx := context.Background()
	r := &fakeRemote{}
	s := newStore(r)

	decomposed := "cafe\u0301.json"
	composed := "caf\u00e9.json"

	_, err := s.Save(ctx, decomposed, 1)
	require.NoError(t, err)

	_, found, err := s.Load(ctx, composed)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, r.count("create "))
}

func TestEmptyName(t *testing.T) {
	s := newStore(&fakeRemote{})

	_, err := s.Save(context.Background(), "", 1)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, _, err = s.Load(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = s.Delete(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyName)
}
