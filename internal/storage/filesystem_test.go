package storage

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestBackend(t *testing.T) (*FilesystemBackend, string) {
	tmpDir := t.TempDir()

	backend, err := NewFilesystemBackend(Config{Name: "test", Root: tmpDir})
	require.NoError(t, err)
	require.NotNil(t, backend)
	t.Cleanup(func() { backend.Close() })

	return backend, tmpDir
}

// storeFactories lists every backend the shared behaviour tests run against
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryBackend()
		},
		"filesystem": func(t *testing.T) Store {
			backend, _ := createTestBackend(t)
			return backend
		},
	}
}

func TestNewFilesystemBackend(t *testing.T) {
	t.Run("Create backend creates root directory", func(t *testing.T) {
		rootPath := filepath.Join(t.TempDir(), "new-storage-root")

		backend, err := NewFilesystemBackend(Config{Root: rootPath})
		require.NoError(t, err)
		defer backend.Close()

		info, err := os.Stat(rootPath)
		assert.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, rootPath, backend.RootPath())
	})

	t.Run("Empty root is rejected", func(t *testing.T) {
		_, err := NewFilesystemBackend(Config{Name: "broken"})
		assert.True(t, IsBadRequest(err))
	})
}

func TestStore_Containers(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			exists, err := store.ContainerExists(ctx, "photos")
			require.NoError(t, err)
			assert.False(t, exists)

			info, err := store.CreateContainer(ctx, "photos", map[string]string{"owner": "alice"})
			require.NoError(t, err)
			assert.Equal(t, "photos", info.Name)

			_, err = store.CreateContainer(ctx, "photos", nil)
			assert.Equal(t, KindBlobService, KindOf(err))

			_, err = store.CreateContainer(ctx, "docs", nil)
			require.NoError(t, err)

			list, err := store.ListContainers(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "docs", list[0].Name)
			assert.Equal(t, "photos", list[1].Name)

			got, err := store.GetContainer(ctx, "photos")
			require.NoError(t, err)
			assert.Equal(t, "alice", got.Metadata["owner"])

			require.NoError(t, store.UpdateContainer(ctx, "photos", map[string]string{"owner": "bob"}))
			got, err = store.GetContainer(ctx, "photos")
			require.NoError(t, err)
			assert.Equal(t, "bob", got.Metadata["owner"])

			_, err = store.GetContainer(ctx, "missing")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStore_DeleteContainer(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			assert.NoError(t, store.DeleteContainer(ctx, "absent", false))

			_, err := store.CreateContainer(ctx, "full", nil)
			require.NoError(t, err)
			require.NoError(t, PutBlobData(ctx, store, "full", "a.txt", []byte("a"), "text/plain"))

			err = store.DeleteContainer(ctx, "full", false)
			assert.True(t, IsBadRequest(err))

			require.NoError(t, store.DeleteContainer(ctx, "full", true))
			exists, err := store.ContainerExists(ctx, "full")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStore_BlobLifecycle(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			_, err := store.CreateContainer(ctx, "c", nil)
			require.NoError(t, err)

			err = PutBlobData(ctx, store, "missing", "a.txt", []byte("x"), "")
			assert.True(t, IsNotFound(err))

			require.NoError(t, PutBlobData(ctx, store, "c", "dir/a.txt", []byte("hello"), "text/plain"))
			assert.True(t, store.BlobExists(ctx, "c", "dir/a.txt"))
			assert.False(t, store.BlobExists(ctx, "c", "dir/"))
			assert.False(t, store.BlobExists(ctx, "missing", "dir/a.txt"))

			data, err := GetBlobData(ctx, store, "c", "dir/a.txt")
			require.NoError(t, err)
			assert.Equal(t, "hello", string(data))

			props, err := store.GetBlobProperties(ctx, "c", "dir/a.txt")
			require.NoError(t, err)
			assert.Equal(t, "text/plain", props.ContentType)
			assert.Equal(t, int64(5), props.ContentLength)
			assert.NotEmpty(t, props.ETag)

			require.NoError(t, PutBlobData(ctx, store, "c", "dir/a.txt", []byte("bye"), "text/plain"))
			data, err = GetBlobData(ctx, store, "c", "dir/a.txt")
			require.NoError(t, err)
			assert.Equal(t, "bye", string(data))

			require.NoError(t, store.SetBlobMetadata(ctx, "c", "dir/a.txt", map[string]string{"tag": "v"}))
			props, err = store.GetBlobProperties(ctx, "c", "dir/a.txt")
			require.NoError(t, err)
			assert.Equal(t, "v", props.Metadata["tag"])

			require.NoError(t, store.CopyBlob(ctx, "c", "copy.txt", "c", "dir/a.txt"))
			data, err = GetBlobData(ctx, store, "c", "copy.txt")
			require.NoError(t, err)
			assert.Equal(t, "bye", string(data))

			err = store.CopyBlob(ctx, "c", "other.txt", "c", "nope.txt")
			assert.True(t, IsNotFound(err))

			require.NoError(t, store.DeleteBlob(ctx, "c", "dir/a.txt"))
			require.NoError(t, store.DeleteBlob(ctx, "c", "dir/a.txt"))
			assert.False(t, store.BlobExists(ctx, "c", "dir/a.txt"))

			_, _, err = store.GetBlob(ctx, "c", "dir/a.txt")
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStore_Markers(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			_, err := store.CreateContainer(ctx, "c", nil)
			require.NoError(t, err)

			require.NoError(t, PutBlobData(ctx, store, "c", "docs/", []byte(`{"color":"red"}`), ""))
			assert.True(t, store.BlobExists(ctx, "c", "docs/"))

			data, err := GetBlobData(ctx, store, "c", "docs/")
			require.NoError(t, err)
			assert.JSONEq(t, `{"color":"red"}`, string(data))

			require.NoError(t, PutBlobData(ctx, store, "c", "docs/readme.md", []byte("# hi"), ""))

			// deleting the marker leaves the children in place
			require.NoError(t, store.DeleteBlob(ctx, "c", "docs/"))
			assert.False(t, store.BlobExists(ctx, "c", "docs/"))
			assert.True(t, store.BlobExists(ctx, "c", "docs/readme.md"))
		})
	}
}

func TestStore_ListBlobs(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			_, err := store.CreateContainer(ctx, "c", nil)
			require.NoError(t, err)

			for _, key := range []string{"a/", "a/x.txt", "a/b/y.txt", "a/b/", "top.txt"} {
				require.NoError(t, PutBlobData(ctx, store, "c", key, []byte(key), ""))
			}

			delimited, err := store.ListBlobs(ctx, "c", "a/", Delimiter)
			require.NoError(t, err)
			names := blobNames(delimited)
			assert.Equal(t, []string{"a/", "a/b/", "a/x.txt"}, names)
			for _, entry := range delimited {
				if entry.Name == "a/b/" {
					assert.True(t, entry.IsPrefix)
				}
			}

			flat, err := store.ListBlobs(ctx, "c", "a/", "")
			require.NoError(t, err)
			assert.Equal(t, []string{"a/", "a/b/", "a/b/y.txt", "a/x.txt"}, blobNames(flat))

			root, err := store.ListBlobs(ctx, "c", "", Delimiter)
			require.NoError(t, err)
			assert.Equal(t, []string{"a/", "top.txt"}, blobNames(root))

			_, err = store.ListBlobs(ctx, "missing", "", Delimiter)
			assert.True(t, IsNotFound(err))
		})
	}
}

func TestStore_InvalidKeys(t *testing.T) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			_, err := store.CreateContainer(ctx, "c", nil)
			require.NoError(t, err)

			for _, key := range []string{"", "/abs", "a/../b", "a//b", "./a"} {
				err := PutBlobData(ctx, store, "c", key, []byte("x"), "")
				assert.True(t, IsBadRequest(err), "key %q", key)
			}
		})
	}
}

func TestFilesystemBackend_Layout(t *testing.T) {
	backend, root := createTestBackend(t)
	ctx := context.Background()
	_, err := backend.CreateContainer(ctx, "c", nil)
	require.NoError(t, err)

	t.Run("Marker lives inside the folder directory", func(t *testing.T) {
		require.NoError(t, PutBlobData(ctx, backend, "c", "f/", []byte("{}"), ""))
		_, err := os.Stat(filepath.Join(root, "c", "f", folderMarkerFile))
		assert.NoError(t, err)
	})

	t.Run("File writes create no implicit markers", func(t *testing.T) {
		require.NoError(t, PutBlobData(ctx, backend, "c", "deep/er/file.txt", []byte("x"), ""))
		assert.False(t, backend.BlobExists(ctx, "c", "deep/"))
		assert.False(t, backend.BlobExists(ctx, "c", "deep/er/"))
	})

	t.Run("Empty directories are pruned on delete", func(t *testing.T) {
		require.NoError(t, backend.DeleteBlob(ctx, "c", "deep/er/file.txt"))
		_, err := os.Stat(filepath.Join(root, "c", "deep"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("File and folder names conflict", func(t *testing.T) {
		require.NoError(t, PutBlobData(ctx, backend, "c", "plain", []byte("x"), ""))
		err := PutBlobData(ctx, backend, "c", "plain/child.txt", []byte("x"), "")
		assert.True(t, IsBadRequest(err))

		err = PutBlobData(ctx, backend, "c", "f", []byte("x"), "")
		assert.True(t, IsBadRequest(err))
	})

	t.Run("Reserved names are rejected", func(t *testing.T) {
		err := PutBlobData(ctx, backend, "c", "x/"+folderMarkerFile, []byte("x"), "")
		assert.True(t, IsBadRequest(err))

		_, err = backend.CreateContainer(ctx, ".hidden", nil)
		assert.True(t, IsBadRequest(err))
	})

	t.Run("Metadata store is not listed as a container", func(t *testing.T) {
		list, err := backend.ListContainers(ctx)
		require.NoError(t, err)
		for _, c := range list {
			assert.False(t, strings.HasPrefix(c.Name, "."))
		}
	})

	t.Run("Content type is detected from extension", func(t *testing.T) {
		require.NoError(t, PutBlobData(ctx, backend, "c", "page.html", []byte("<p/>"), ""))
		props, err := backend.GetBlobProperties(ctx, "c", "page.html")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(props.ContentType, "text/html"))
	})
}

func TestFilesystemBackend_MetadataSurvivesReopen(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	backend, err := NewFilesystemBackend(Config{Root: root})
	require.NoError(t, err)
	_, err = backend.CreateContainer(ctx, "c", map[string]string{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, backend.PutBlob(ctx, "c", "a.bin", bytes.NewReader([]byte{1, 2}), 2, "application/x-test"))
	require.NoError(t, backend.Close())

	reopened, err := NewFilesystemBackend(Config{Root: root})
	require.NoError(t, err)
	defer reopened.Close()

	info, err := reopened.GetContainer(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "v", info.Metadata["k"])

	rc, props, err := reopened.GetBlob(ctx, "c", "a.bin")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "application/x-test", props.ContentType)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestBlobFileHelpers(t *testing.T) {
	store := NewMemoryBackend()
	ctx := context.Background()
	_, err := store.CreateContainer(ctx, "c", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	require.NoError(t, os.WriteFile(src, []byte("from disk"), 0644))

	require.NoError(t, PutBlobFromFile(ctx, store, "c", "f.txt", src, "text/plain"))

	dst := filepath.Join(dir, "nested", "dst.txt")
	require.NoError(t, GetBlobAsFile(ctx, store, "c", "f.txt", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "from disk", string(data))

	err = PutBlobFromFile(ctx, store, "c", "g.txt", filepath.Join(dir, "nope"), "")
	assert.Equal(t, KindBlobService, KindOf(err))
}

func blobNames(entries []BlobInfo) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names
}
