package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/blobgate/blobgate/internal/config"
)

// Store defines the capability every storage backend exposes.
// Keys are '/'-delimited; a key ending in '/' is a folder marker.
type Store interface {
	// Containers
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	GetContainer(ctx context.Context, name string) (*ContainerInfo, error)
	CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error)
	UpdateContainer(ctx context.Context, name string, metadata map[string]string) error
	// DeleteContainer is a no-op when the container does not exist
	DeleteContainer(ctx context.Context, name string, force bool) error

	// Blobs
	BlobExists(ctx context.Context, container, key string) bool
	PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error
	CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error
	GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error)
	GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error)
	SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error
	// ListBlobs drains pagination. With a non-empty delimiter the result mixes
	// objects and common prefixes (IsPrefix set, name only).
	ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error)
	// DeleteBlob is a no-op when the blob does not exist
	DeleteBlob(ctx context.Context, container, key string) error

	// Lifecycle
	Close() error
}

// ContainerInfo describes a top-level container (bucket)
type ContainerInfo struct {
	Name         string            `json:"name"`
	LastModified time.Time         `json:"last_modified,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// BlobInfo describes a stored object or a common prefix of a delimited listing
type BlobInfo struct {
	Name          string            `json:"name"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length"`
	LastModified  time.Time         `json:"last_modified,omitempty"`
	ETag          string            `json:"etag,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	IsPrefix      bool              `json:"-"`
}

// IsFolder reports whether the entry names a folder marker or a common prefix
func (b BlobInfo) IsFolder() bool {
	return b.IsPrefix || isMarkerKey(b.Name)
}

// NewBackend creates a storage backend for a configured service
func NewBackend(cfg Config) (Store, error) {
	switch cfg.Type {
	case config.ServiceTypeLocal, "":
		return NewFilesystemBackend(cfg)
	case config.ServiceTypeS3:
		return NewS3Backend(cfg)
	case config.ServiceTypeAzure, config.ServiceTypeSwift, config.ServiceTypeGoogle:
		return NewStowBackend(cfg)
	case config.ServiceTypeMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Type)
	}
}
