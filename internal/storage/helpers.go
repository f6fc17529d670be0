package storage

import (
	"bytes"
	"context"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
)

// DefaultContentType is used when neither the caller nor the extension gives one
const DefaultContentType = "application/octet-stream"

// DetectContentType guesses a MIME type from the key extension
func DetectContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// PutBlobData writes an in-memory payload
func PutBlobData(ctx context.Context, s Store, container, key string, data []byte, contentType string) error {
	return s.PutBlob(ctx, container, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutBlobFromFile streams a local file into the store
func PutBlobFromFile(ctx context.Context, s Store, container, key, localPath, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return ServiceError(err, "Failed to open local file '%s'", localPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ServiceError(err, "Failed to stat local file '%s'", localPath)
	}

	return s.PutBlob(ctx, container, key, f, info.Size(), contentType)
}

// GetBlobData reads a whole blob into memory
func GetBlobData(ctx context.Context, s Store, container, key string) ([]byte, error) {
	rc, _, err := s.GetBlob(ctx, container, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, ServiceError(err, "Failed to read blob '%s/%s'", container, key)
	}
	return data, nil
}

// GetBlobAsFile streams a blob to a local file
func GetBlobAsFile(ctx context.Context, s Store, container, key, localPath string) error {
	rc, _, err := s.GetBlob(ctx, container, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return ServiceError(err, "Failed to create directory for '%s'", localPath)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return ServiceError(err, "Failed to create local file '%s'", localPath)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return ServiceError(err, "Failed to write local file '%s'", localPath)
	}

	return f.Close()
}
