package drive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Drive MIME types.
const (
	FolderMimeType = "application/vnd.google-apps.folder"
	JSONMimeType   = "application/json"
)

// RootID is the alias Drive accepts for the user's top-level folder.
const RootID = "root"

// Field masks requested from the API.
const (
	fileFields     = "id,name,mimeType,modifiedTime"
	fileListFields = "files(" + fileFields + ")"
)

// File is a normalized Drive file or folder descriptor.
type File struct {
	ID         string
	Name       string
	MimeType   string
	ModifiedAt time.Time
}

// IsFolder reports whether the file is a Drive folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// Metadata is the JSON metadata part of a create or update request. Field
// order is the wire order: name, mimeType, parents. Parents is omitted on
// update.
type Metadata struct {
	Name     string   `json:"name"`
	MimeType string   `json:"mimeType"`
	Parents  []string `json:"parents,omitempty"`
}

// User is the identity returned by the about endpoint.
type User struct {
	DisplayName  string `json:"displayName"`
	EmailAddress string `json:"emailAddress"`
}

// Query selects files. Zero fields add no clause, except that trashed files
// are excluded unless IncludeTrashed is set.
type Query struct {
	Name           string
	FoldersOnly    bool
	Parent         string
	IncludeTrashed bool
}

// String renders q in Drive's search syntax.
func (q Query) String() string {
	var clauses []string

	if q.Name != "" {
		clauses = append(clauses, "name='"+escapeQueryValue(q.Name)+"'")
	}

	if q.FoldersOnly {
		clauses = append(clauses, "mimeType='"+FolderMimeType+"'")
	}

	if q.Parent != "" {
		clauses = append(clauses, "'"+escapeQueryValue(q.Parent)+"' in parents")
	}

	if !q.IncludeTrashed {
		clauses = append(clauses, "trashed=false")
	}

	return strings.Join(clauses, " and ")
}

// escapeQueryValue escapes backslashes and single quotes inside a quoted
// query literal.
func escapeQueryValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)

	return strings.ReplaceAll(s, `'`, `\'`)
}

type fileResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mimeType"`
	ModifiedTime string `json:"modifiedTime"`
}

type fileListResponse struct {
	Files []fileResponse `json:"files"`
}

type aboutResponse struct {
	User User `json:"user"`
}

func (r *fileResponse) toFile(logger *slog.Logger) File {
	return File{
		ID:         r.ID,
		Name:       r.Name,
		MimeType:   r.MimeType,
		ModifiedAt: parseTimestamp(r.ModifiedTime, r.ID, logger),
	}
}

// parseTimestamp parses an RFC3339 timestamp. Drive omits modifiedTime on
// some responses; an empty or invalid value yields the zero time.
func parseTimestamp(raw, fileID string, logger *slog.Logger) time.Time {
	if raw == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		logger.Warn("invalid modifiedTime",
			slog.String("file_id", fileID),
			slog.String("raw", raw),
			slog.String("error", err.Error()),
		)

		return time.Time{}
	}

	return t.UTC()
}

// Query lists files matching q. Only the first page is returned.
func (c *Client) Query(ctx context.Context, q Query) ([]File, error) {
	v := url.Values{}
	v.Set("q", q.String())
	v.Set("fields", fileListFields)

	c.logger.Debug("querying files", slog.String("q", q.String()))

	resp, err := c.Do(ctx, http.MethodGet, "/files?"+v.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lr fileListResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("drive: decoding file list: %w", err)
	}

	files := make([]File, 0, len(lr.Files))
	for i := range lr.Files {
		files = append(files, lr.Files[i].toFile(c.logger))
	}

	return files, nil
}

// CreateFolder creates a folder named name under parent.
func (c *Client) CreateFolder(ctx context.Context, name, parent string) (*File, error) {
	body, err := json.Marshal(Metadata{Name: name, MimeType: FolderMimeType, Parents: []string{parent}})
	if err != nil {
		return nil, fmt.Errorf("drive: marshaling folder metadata: %w", err)
	}

	c.logger.Info("creating folder", slog.String("name", name), slog.String("parent", parent))

	resp, err := c.Do(ctx, http.MethodPost, "/files?fields="+url.QueryEscape(fileFields), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeFile(resp.Body)
}

// Create uploads a new file with metadata and content in one multipart
// request.
func (c *Client) Create(ctx context.Context, meta Metadata, content []byte) (*File, error) {
	return c.upload(ctx, http.MethodPost, "/files", meta, content)
}

// Update replaces the content of an existing file. meta.Parents must be
// empty; Drive rejects parents on update.
func (c *Client) Update(ctx context.Context, id string, meta Metadata, content []byte) (*File, error) {
	meta.Parents = nil

	return c.upload(ctx, http.MethodPatch, "/files/"+url.PathEscape(id), meta, content)
}

func (c *Client) upload(ctx context.Context, method, path string, meta Metadata, content []byte) (*File, error) {
	body, err := BuildMultipart(meta, content)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("uploading file",
		slog.String("method", method),
		slog.String("name", meta.Name),
		slog.Int("size", len(content)),
	)

	resp, err := c.doUpload(ctx, method, path+"?uploadType=multipart&fields="+url.QueryEscape(fileFields),
		MultipartContentType, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.decodeFile(resp.Body)
}

// Download streams the content of file id into w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/files/"+url.PathEscape(id)+"?alt=media", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("drive: downloading %s: %w", id, err)
	}

	return n, nil
}

// Delete permanently removes file id.
func (c *Client) Delete(ctx context.Context, id string) error {
	c.logger.Info("deleting file", slog.String("file_id", id))

	resp, err := c.Do(ctx, http.MethodDelete, "/files/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

// About returns the authenticated user. It doubles as a credential probe.
func (c *Client) About(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, http.MethodGet, "/about?fields=user", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ar aboutResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, fmt.Errorf("drive: decoding about response: %w", err)
	}

	return &ar.User, nil
}

func (c *Client) decodeFile(r io.Reader) (*File, error) {
	var fr fileResponse
	if err := json.NewDecoder(r).Decode(&fr); err != nil {
		return nil, fmt.Errorf("drive: decoding file response: %w", err)
	}

	f := fr.toFile(c.logger)

	return &f, nil
}
