package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_String(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{
			name: "folder under root",
			q:    Query{Name: "KeyViewer", FoldersOnly: true, Parent: RootID},
			want: "name='KeyViewer' and mimeType='application/vnd.google-apps.folder' and 'root' in parents and trashed=false",
		},
		{
			name: "file in folder",
			q:    Query{Name: "config.json", Parent: "F1"},
			want: "name='config.json' and 'F1' in parents and trashed=false",
		},
		{
			name: "listing",
			q:    Query{Parent: "F1"},
			want: "'F1' in parents and trashed=false",
		},
		{
			name: "escaping",
			q:    Query{Name: `it's a\b`, IncludeTrashed: true},
			want: `name='it\'s a\\b'`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.q.String())
		})
	}
}

func TestBuildMultipart_ExactFraming(t *testing.T) {
	body, err := BuildMultipart(Metadata{Name: "config.json", MimeType: JSONMimeType, Parents: []string{"F1"}},
		[]byte(`{"a":1}`))
	require.NoError(t, err)

	want := "---------KeyViewerBoundary\r\n" +
		"Content-Type: application/json; charset=UTF-8\r\n\r\n" +
		`{"name":"config.json","mimeType":"application/json","parents":["F1"]}` +
		"\r\n---------KeyViewerBoundary\r\n" +
		"Content-Type: application/json\r\n\r\n" +
		`{"a":1}` +
		"\r\n---------KeyViewerBoundary--"

	assert.Equal(t, want, string(body))
}

func TestBuildMultipart_OmitsEmptyParents(t *testing.T) {
	body, err := BuildMultipart(Metadata{Name: "n", MimeType: JSONMimeType}, nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), `{"name":"n","mimeType":"application/json"}`)
	assert.NotContains(t, string(body), "parents")
}

func TestQuery_DecodesFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "'F1' in parents and trashed=false", r.URL.Query().Get("q"))
		assert.Equal(t, "files(id,name,mimeType,modifiedTime)", r.URL.Query().Get("fields"))

		_, _ = w.Write([]byte(`{"files":[
			{"id":"a","name":"config.json","mimeType":"application/json","modifiedTime":"2026-05-01T10:00:00.000Z"},
			{"id":"b","name":"other.json","mimeType":"application/json","modifiedTime":"garbage"}
		]}`))
	}))
	defer srv.Close()

	files, err := newTestClient(t, srv.URL).Query(context.Background(), Query{Parent: "F1"})
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "a", files[0].ID)
	assert.Equal(t, "config.json", files[0].Name)
	assert.True(t, files[0].ModifiedAt.Equal(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, files[1].ModifiedAt.IsZero())
}

func TestCreateFolder_SendsParent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/files", r.URL.Path)

		var meta Metadata
		require.NoError(t, json.NewDecoder(r.Body).Decode(&meta))
		assert.Equal(t, Metadata{Name: "KeyViewer", MimeType: FolderMimeType, Parents: []string{RootID}}, meta)

		_, _ = w.Write([]byte(`{"id":"F1","name":"KeyViewer","mimeType":"application/vnd.google-apps.folder"}`))
	}))
	defer srv.Close()

	f, err := newTestClient(t, srv.URL).CreateFolder(context.Background(), "KeyViewer", RootID)
	require.NoError(t, err)
	assert.Equal(t, "F1", f.ID)
	assert.True(t, f.IsFolder())
}

func TestCreateAndUpdate_UseUploadEndpoint(t *testing.T) {
	var seen []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))
		assert.Equal(t, MultipartContentType, r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		if r.Method == http.MethodPatch {
			assert.NotContains(t, string(body), "parents")
		} else {
			assert.Contains(t, string(body), `"parents":["F1"]`)
		}

		_, _ = w.Write([]byte(`{"id":"D1","name":"config.json","mimeType":"application/json"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	meta := Metadata{Name: "config.json", MimeType: JSONMimeType, Parents: []string{"F1"}}

	f, err := c.Create(context.Background(), meta, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "D1", f.ID)

	_, err = c.Update(context.Background(), "D1", meta, []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"POST /upload/files", "PATCH /upload/files/D1"}, seen)
}

func TestDownload_AltMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/D1", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		_, _ = w.Write([]byte(`{"theme":"dark"}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := newTestClient(t, srv.URL).Download(context.Background(), "D1", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.JSONEq(t, `{"theme":"dark"}`, buf.String())
}

func TestDelete_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Delete(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAbout_ReturnsUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("fields"))
		_, _ = w.Write([]byte(`{"user":{"displayName":"Ada","emailAddress":"ada@example.com"}}`))
	}))
	defer srv.Close()

	u, err := newTestClient(t, srv.URL).About(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.EmailAddress)
}
