package container

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobgate/blobgate/internal/storage"
)

func setupManagerTest(t *testing.T, opts Options) (Manager, *storage.MemoryBackend) {
	store := storage.NewMemoryBackend()
	if opts.Service == "" {
		opts.Service = "files"
	}
	return NewManager(store, opts), store
}

func TestCreateContainer(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManagerTest(t, Options{})

	t.Run("Create with properties", func(t *testing.T) {
		c, err := m.CreateContainer(ctx, "photos", map[string]string{"team": "web"}, true)
		require.NoError(t, err)
		assert.Equal(t, "photos", c.Name)
		assert.Equal(t, "photos/", c.Path)
		assert.Equal(t, "web", c.Properties["team"])
		assert.NotNil(t, c.LastModified)
	})

	t.Run("Existing container with check fails", func(t *testing.T) {
		_, err := m.CreateContainer(ctx, "photos", nil, true)
		assert.True(t, storage.IsBadRequest(err))
	})

	t.Run("Existing container without check is a no-op", func(t *testing.T) {
		c, err := m.CreateContainer(ctx, "photos", map[string]string{"team": "other"}, false)
		require.NoError(t, err)
		assert.Equal(t, "web", c.Properties["team"])
	})

	t.Run("Empty name", func(t *testing.T) {
		_, err := m.CreateContainer(ctx, "", nil, false)
		assert.True(t, storage.IsBadRequest(err))
	})
}

func TestCreateContainers_PartialFailure(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManagerTest(t, Options{})

	_, err := m.CreateContainer(ctx, "taken", nil, false)
	require.NoError(t, err)

	results := m.CreateContainers(ctx, []CreateRequest{
		{Name: "one"},
		{Name: "taken"},
		{Name: ""},
		{Name: "two"},
	}, true)

	require.Len(t, results, 4)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, http.StatusBadRequest, results[1].Error.Code)
	require.NotNil(t, results[2].Error)
	assert.Nil(t, results[3].Error)
	assert.Equal(t, "two/", results[3].Path)

	exists, err := m.ContainerExists(ctx, "two")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestListContainers(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManagerTest(t, Options{})

	_, err := m.CreateContainer(ctx, "b", map[string]string{"k": "v"}, false)
	require.NoError(t, err)
	_, err = m.CreateContainer(ctx, "a", nil, false)
	require.NoError(t, err)

	list, err := m.ListContainers(ctx, false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Nil(t, list[1].Properties)

	list, err = m.ListContainers(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, "v", list[1].Properties["k"])
}

func TestUpdateContainerProperties(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManagerTest(t, Options{})

	err := m.UpdateContainerProperties(ctx, "missing", map[string]string{"k": "v"})
	assert.True(t, storage.IsNotFound(err))

	_, err = m.CreateContainer(ctx, "c", nil, false)
	require.NoError(t, err)
	require.NoError(t, m.UpdateContainerProperties(ctx, "c", map[string]string{"k": "v"}))

	c, err := m.GetContainer(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "v", c.Properties["k"])
}

func TestDeleteContainer(t *testing.T) {
	ctx := context.Background()
	m, store := setupManagerTest(t, Options{})

	t.Run("Missing container", func(t *testing.T) {
		err := m.DeleteContainer(ctx, "missing", false)
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("Non-empty container needs force", func(t *testing.T) {
		_, err := m.CreateContainer(ctx, "full", nil, false)
		require.NoError(t, err)
		require.NoError(t, storage.PutBlobData(ctx, store, "full", "dir/a.txt", []byte("a"), ""))

		err = m.DeleteContainer(ctx, "full", false)
		assert.True(t, storage.IsBadRequest(err))

		require.NoError(t, m.DeleteContainer(ctx, "full", true))
		exists, err := m.ContainerExists(ctx, "full")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Batch delete keeps going", func(t *testing.T) {
		_, err := m.CreateContainer(ctx, "x", nil, false)
		require.NoError(t, err)

		results := m.DeleteContainers(ctx, []string{"nope", "x"}, false)
		require.Len(t, results, 2)
		require.NotNil(t, results[0].Error)
		assert.Equal(t, http.StatusNotFound, results[0].Error.Code)
		assert.Nil(t, results[1].Error)
	})
}

func TestCheckContainerForWrite(t *testing.T) {
	ctx := context.Background()

	t.Run("Auto-create enabled", func(t *testing.T) {
		m, _ := setupManagerTest(t, Options{AutoCreate: true})
		require.NoError(t, m.CheckContainerForWrite(ctx, "fresh"))
		exists, err := m.ContainerExists(ctx, "fresh")
		require.NoError(t, err)
		assert.True(t, exists)

		assert.NoError(t, m.CheckContainerForWrite(ctx, "fresh"))
	})

	t.Run("Auto-create disabled", func(t *testing.T) {
		m, _ := setupManagerTest(t, Options{AutoCreate: false})
		err := m.CheckContainerForWrite(ctx, "fresh")
		assert.True(t, storage.IsNotFound(err))
	})

	t.Run("Invalid name is rejected before creation", func(t *testing.T) {
		m, _ := setupManagerTest(t, Options{AutoCreate: true})
		err := m.CheckContainerForWrite(ctx, "_system")
		assert.True(t, storage.IsBadRequest(err))
	})
}

func TestS3Naming(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManagerTest(t, Options{S3Naming: true})

	_, err := m.CreateContainer(ctx, "UpperCase", nil, false)
	assert.True(t, storage.IsBadRequest(err))

	_, err = m.CreateContainer(ctx, "lower-case", nil, false)
	assert.NoError(t, err)
}
