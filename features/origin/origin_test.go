package origin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragbridge/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New("ftp", Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNew_UploadIsNotBrowsable(t *testing.T) {
	_, err := New(TypeUpload, Config{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFilesystem_ListSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "bravo")
	writeFile(t, dir, "a.md", "alpha")
	writeFile(t, dir, "c.json", `{"k":"v"}`)
	writeFile(t, dir, "ignore.bin", "nope")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	src := NewFilesystemSource(dir)
	docs, err := src.ListDocuments(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "a.md", docs[0].OriginID)
	assert.Equal(t, "b.txt", docs[1].OriginID)
	assert.Equal(t, "c.json", docs[2].OriginID)
	assert.Equal(t, TypeFilesystem, docs[0].SourceType)
	assert.Equal(t, "alpha", docs[0].Content)
}

func TestFilesystem_Pagination(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "1")
	writeFile(t, dir, "b.txt", "2")
	writeFile(t, dir, "c.txt", "3")

	src := NewFilesystemSource(dir)

	docs, err := src.ListDocuments(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "b.txt", docs[0].OriginID)

	docs, err = src.ListDocuments(context.Background(), 10, 5)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFilesystem_GetDocument(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "hello world")

	src := NewFilesystemSource(dir)
	doc, err := src.GetDocument(context.Background(), "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "hello world", doc.Content)
	assert.Equal(t, "notes.md", doc.FileName)

	_, err = src.GetDocument(context.Background(), "missing.md")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilesystem_RejectsTraversal(t *testing.T) {
	src := NewFilesystemSource(t.TempDir())
	_, err := src.GetDocument(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFilesystem_Test(t *testing.T) {
	src := NewFilesystemSource(t.TempDir())
	assert.Equal(t, "connected", src.Test(context.Background()).Status)

	src = NewFilesystemSource("/no/such/dir")
	assert.Equal(t, "error", src.Test(context.Background()).Status)
}

func TestPreview_Truncates(t *testing.T) {
	long := strings.Repeat("x", 300)
	p := preview(long)
	assert.Len(t, p, 203)
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, "short", preview("short"))
}

func TestQdrantSource_ListAndGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == "POST" && r.URL.Path == "/collections/docs/points/scroll":
			w.Write([]byte(`{"result":{"points":[
				{"id":1,"payload":{"content":"first point"}},
				{"id":2,"payload":{"text":"second point"}},
				{"id":3,"payload":{"title":"no body"}}
			]}}`))
		case r.Method == "GET" && r.URL.Path == "/collections/docs/points/2":
			w.Write([]byte(`{"result":{"id":2,"payload":{"text":"second point"}}}`))
		case r.Method == "GET" && strings.HasPrefix(r.URL.Path, "/collections/docs/points/"):
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	src := NewQdrantSource(server.URL, "", "docs")

	docs, err := src.ListDocuments(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "2", docs[0].OriginID)
	assert.Equal(t, "second point", docs[0].Content)
	// Payload without a content field falls back to JSON
	assert.Contains(t, docs[1].Content, "no body")

	doc, err := src.GetDocument(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "second point", doc.Content)
	assert.Equal(t, "docs_2", doc.FileName)

	_, err = src.GetDocument(context.Background(), "99")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQdrantSource_Unreachable(t *testing.T) {
	src := NewQdrantSource("http://127.0.0.1:1", "", "docs")
	_, err := src.ListDocuments(context.Background(), 10, 0)
	assert.ErrorIs(t, err, domain.ErrAdapterUnavailable)
	assert.Equal(t, "error", src.Test(context.Background()).Status)
}
