package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct {
	sent bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, "partial"), nil
	}
	return 0, errors.New("backend went away")
}

type brokenStreamStore struct {
	*MemoryBackend
}

func (s brokenStreamStore) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	_, info, err := s.MemoryBackend.GetBlob(ctx, container, key)
	if err != nil {
		return nil, nil, err
	}
	return io.NopCloser(&failingReader{}), info, nil
}

func TestStreamBlob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	_, err := store.CreateContainer(ctx, "c", nil)
	require.NoError(t, err)
	require.NoError(t, PutBlobData(ctx, store, "c", "docs/report.pdf", []byte("%PDF-1.4"), "application/pdf"))

	t.Run("Inline stream writes headers then bytes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := StreamBlob(ctx, store, "c", "docs/report.pdf", rec, Disposition{})
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "8", rec.Header().Get("Content-Length"))
		assert.Equal(t, "inline; filename=report.pdf", rec.Header().Get("Content-Disposition"))
		assert.NotEmpty(t, rec.Header().Get("Last-Modified"))
		assert.Equal(t, "%PDF-1.4", rec.Body.String())
	})

	t.Run("Download uses attachment disposition", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := StreamBlob(ctx, store, "c", "docs/report.pdf", rec, Disposition{Attachment: true, Filename: "q3 report.pdf"})
		require.NoError(t, err)
		assert.Equal(t, `attachment; filename="q3 report.pdf"`, rec.Header().Get("Content-Disposition"))
	})

	t.Run("Missing blob writes nothing", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := StreamBlob(ctx, store, "c", "docs/missing.pdf", rec, Disposition{})
		assert.True(t, IsNotFound(err))
		assert.Empty(t, rec.Header())
		assert.Zero(t, rec.Body.Len())
		assert.False(t, rec.Flushed)
	})

	t.Run("Failure after headers is reported, not rewritten", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := StreamBlob(ctx, brokenStreamStore{store}, "c", "docs/report.pdf", rec, Disposition{})
		assert.ErrorIs(t, err, ErrStreamInterrupted)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "partial", rec.Body.String())
	})
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/json", DetectContentType("a/b.json"))
	assert.Equal(t, DefaultContentType, DetectContentType("noext"))
}
