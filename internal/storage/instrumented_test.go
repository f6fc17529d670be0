package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type observation struct {
	service   string
	operation string
	success   bool
}

type recordingRecorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recordingRecorder) RecordStorageOperation(service, operation string, success bool, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{service, operation, success})
}

func TestInstrumented(t *testing.T) {
	ctx := context.Background()
	recorder := &recordingRecorder{}
	store := NewInstrumented(NewMemoryBackend(), "files", recorder)

	_, err := store.CreateContainer(ctx, "c", nil)
	require.NoError(t, err)
	require.NoError(t, PutBlobData(ctx, store, "c", "a.txt", []byte("a"), ""))
	_, err = store.GetBlobProperties(ctx, "c", "missing.txt")
	require.Error(t, err)

	assert.Equal(t, []observation{
		{"files", "create_container", true},
		{"files", "put_blob", true},
		{"files", "get_blob_properties", false},
	}, recorder.seen)

	unwrapped, ok := store.(*Instrumented)
	require.True(t, ok)
	assert.IsType(t, &MemoryBackend{}, unwrapped.Unwrap())
}

func TestNewInstrumented_NilRecorder(t *testing.T) {
	backend := NewMemoryBackend()
	assert.Same(t, backend, NewInstrumented(backend, "files", nil))
}
