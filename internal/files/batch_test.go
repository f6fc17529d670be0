package files

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	operation string
	items     int
	failures  int
}

func (r *countingRecorder) RecordBatch(operation string, items, failures int) {
	r.operation = operation
	r.items = items
	r.failures = failures
}

func TestDeleteFiles_PartialFailure(t *testing.T) {
	ctx := context.Background()
	e, store := setupEngineTest(t)
	recorder := &countingRecorder{}
	e.SetBatchRecorder(recorder)

	writeString(t, e, "c", "a.txt", "a")
	writeString(t, e, "c", "c.txt", "c")

	results := e.DeleteFiles(ctx, "c", []string{"a.txt", "missing.txt", "c.txt"})
	require.Len(t, results, 3)

	assert.Equal(t, "a.txt", results[0].Path)
	assert.Nil(t, results[0].Error)

	assert.Equal(t, "missing.txt", results[1].Path)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, http.StatusNotFound, results[1].Error.Code)

	assert.Equal(t, "c.txt", results[2].Path)
	assert.Nil(t, results[2].Error)

	assert.False(t, store.BlobExists(ctx, "c", "a.txt"))
	assert.False(t, store.BlobExists(ctx, "c", "c.txt"))

	assert.Equal(t, "delete_files", recorder.operation)
	assert.Equal(t, 3, recorder.items)
	assert.Equal(t, 1, recorder.failures)
}

func TestDeleteFolders(t *testing.T) {
	ctx := context.Background()
	e, _ := setupEngineTest(t)

	_, err := e.CreateFolder(ctx, "c", "empty", nil, false)
	require.NoError(t, err)
	_, err = e.CreateFolder(ctx, "c", "full", nil, false)
	require.NoError(t, err)
	writeString(t, e, "c", "full/f.txt", "f")

	results := e.DeleteFolders(ctx, "c", []string{"empty", "full"}, false)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, http.StatusBadRequest, results[1].Error.Code)
	assert.Equal(t, TypeFolder, results[1].Type)
}

func TestCreateEntries(t *testing.T) {
	ctx := context.Background()
	e, store := setupEngineTest(t)

	_, err := e.CreateFolder(ctx, "c", "base", nil, false)
	require.NoError(t, err)
	writeString(t, e, "c", "source.txt", "copied")

	entries := []Entry{
		{Name: "docs", Type: TypeFolder, Properties: map[string]interface{}{"owner": "ops"}},
		{Name: "docs/readme.md", Content: []byte("# hi")},
		{Name: "copy.txt", SourcePath: "source.txt"},
		{Path: "elsewhere/", Type: ""},
		{Name: "bad", Type: "link"},
		{Name: "docs/readme.md", Content: []byte("again")},
	}
	results := e.CreateEntries(ctx, "c", "base", entries, true)
	require.Len(t, results, 6)

	assert.Equal(t, "base/docs/", results[0].Path)
	assert.Equal(t, TypeFolder, results[0].Type)
	assert.Nil(t, results[0].Error)

	assert.Equal(t, "base/docs/readme.md", results[1].Path)
	assert.Equal(t, TypeFile, results[1].Type)
	assert.Nil(t, results[1].Error)

	assert.Nil(t, results[2].Error)
	data, err := e.GetFileContent(ctx, "c", "base/copy.txt")
	require.NoError(t, err)
	assert.Equal(t, "copied", string(data))

	assert.Equal(t, "elsewhere/", results[3].Path)
	assert.Equal(t, TypeFolder, results[3].Type)
	assert.Nil(t, results[3].Error)

	require.NotNil(t, results[4].Error)
	assert.Equal(t, http.StatusBadRequest, results[4].Error.Code)

	require.NotNil(t, results[5].Error, "checkExist rejects the duplicate")
	assert.Equal(t, http.StatusBadRequest, results[5].Error.Code)

	assert.True(t, store.BlobExists(ctx, "c", "elsewhere/"))
	node, err := e.GetFolder(ctx, "c", "base/docs", ListOptions{IncludeProperties: true})
	require.NoError(t, err)
	assert.Equal(t, "ops", node.Properties["owner"])
}

func TestDeleteEntries(t *testing.T) {
	ctx := context.Background()
	e, store := setupEngineTest(t)

	_, err := e.CreateFolder(ctx, "c", "base/sub", nil, false)
	require.NoError(t, err)
	writeString(t, e, "c", "base/a.txt", "a")

	results := e.DeleteEntries(ctx, "c", "base", []Entry{
		{Name: "a.txt"},
		{Name: "sub", Type: TypeFolder},
		{Name: "gone.txt"},
		{},
	}, false)
	require.Len(t, results, 4)
	assert.Nil(t, results[0].Error)
	assert.Nil(t, results[1].Error)
	require.NotNil(t, results[2].Error)
	assert.Equal(t, http.StatusNotFound, results[2].Error.Code)
	require.NotNil(t, results[3].Error)
	assert.Equal(t, http.StatusBadRequest, results[3].Error.Code)

	assert.False(t, store.BlobExists(ctx, "c", "base/a.txt"))
	assert.False(t, store.BlobExists(ctx, "c", "base/sub/"))
	assert.True(t, store.BlobExists(ctx, "c", "base/"))
}

func TestResolveEntry(t *testing.T) {
	path, kind, err := resolveEntry("/base", Entry{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, "base/x", path)
	assert.Equal(t, TypeFile, kind)

	path, kind, err = resolveEntry("base", Entry{Path: "/abs/dir", Type: TypeFolder})
	require.NoError(t, err)
	assert.Equal(t, "abs/dir/", path)
	assert.Equal(t, TypeFolder, kind)

	path, kind, err = resolveEntry("", Entry{Name: "top/"})
	require.NoError(t, err)
	assert.Equal(t, "top/", path)
	assert.Equal(t, TypeFolder, kind)
}
