package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"sync"
	"time"
)

type memoryBlob struct {
	data        []byte
	contentType string
	modified    time.Time
	etag        string
	metadata    map[string]string
}

type memoryContainer struct {
	created  time.Time
	metadata map[string]string
	blobs    map[string]*memoryBlob
}

// MemoryBackend keeps every container in process memory
type MemoryBackend struct {
	mu         sync.RWMutex
	containers map[string]*memoryContainer
	now        func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		containers: make(map[string]*memoryContainer),
		now:        time.Now,
	}
}

func (m *MemoryBackend) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ContainerInfo, 0, len(m.containers))
	for name, c := range m.containers {
		result = append(result, ContainerInfo{Name: name, LastModified: c.created, Metadata: copyMetadata(c.metadata)})
	}
	sortContainers(result)
	return result, nil
}

func (m *MemoryBackend) ContainerExists(ctx context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.containers[name]
	return ok, nil
}

func (m *MemoryBackend) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[name]
	if !ok {
		return nil, NotFound("Container '%s' does not exist", name)
	}
	return &ContainerInfo{Name: name, LastModified: c.created, Metadata: copyMetadata(c.metadata)}, nil
}

func (m *MemoryBackend) CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error) {
	if name == "" {
		return nil, ErrInvalidContainer
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[name]; ok {
		return nil, ServiceError(nil, "Container '%s' already exists", name)
	}
	c := &memoryContainer{
		created:  m.now(),
		metadata: copyMetadata(metadata),
		blobs:    make(map[string]*memoryBlob),
	}
	m.containers[name] = c
	return &ContainerInfo{Name: name, LastModified: c.created, Metadata: copyMetadata(c.metadata)}, nil
}

func (m *MemoryBackend) UpdateContainer(ctx context.Context, name string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[name]
	if !ok {
		return NotFound("Container '%s' does not exist", name)
	}
	c.metadata = copyMetadata(metadata)
	return nil
}

func (m *MemoryBackend) DeleteContainer(ctx context.Context, name string, force bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[name]
	if !ok {
		return nil
	}
	if len(c.blobs) > 0 && !force {
		return BadRequest("Container '%s' is not empty", name)
	}
	delete(m.containers, name)
	return nil
}

func (m *MemoryBackend) BlobExists(ctx context.Context, container, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[container]
	if !ok {
		return false
	}
	_, ok = c.blobs[key]
	return ok
}

func (m *MemoryBackend) PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	content, err := io.ReadAll(data)
	if err != nil {
		return ServiceError(err, "Failed to read data for '%s/%s'", container, key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.containers[container]
	if !ok {
		return NotFound("Container '%s' does not exist", container)
	}
	c.blobs[key] = m.newBlob(content, contentType, nil)
	return nil
}

func (m *MemoryBackend) newBlob(content []byte, contentType string, metadata map[string]string) *memoryBlob {
	sum := md5.Sum(content)
	return &memoryBlob{
		data:        content,
		contentType: contentType,
		modified:    m.now(),
		etag:        hex.EncodeToString(sum[:]),
		metadata:    copyMetadata(metadata),
	}
}

func (m *MemoryBackend) CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.containers[srcContainer]
	if !ok {
		return NotFound("Container '%s' does not exist", srcContainer)
	}
	blob, ok := src.blobs[srcKey]
	if !ok {
		return NotFound("Blob '%s/%s' does not exist", srcContainer, srcKey)
	}
	dst, ok := m.containers[container]
	if !ok {
		return NotFound("Container '%s' does not exist", container)
	}

	data := append([]byte(nil), blob.data...)
	dst.blobs[key] = m.newBlob(data, blob.contentType, blob.metadata)
	return nil
}

func (m *MemoryBackend) lookup(container, key string) (*memoryBlob, error) {
	c, ok := m.containers[container]
	if !ok {
		return nil, NotFound("Container '%s' does not exist", container)
	}
	blob, ok := c.blobs[key]
	if !ok {
		return nil, NotFound("Blob '%s/%s' does not exist", container, key)
	}
	return blob, nil
}

func (m *MemoryBackend) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, err := m.lookup(container, key)
	if err != nil {
		return nil, nil, err
	}
	info := blob.info(key)
	return io.NopCloser(bytes.NewReader(blob.data)), &info, nil
}

func (m *MemoryBackend) GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, err := m.lookup(container, key)
	if err != nil {
		return nil, err
	}
	info := blob.info(key)
	return &info, nil
}

func (m *MemoryBackend) SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob, err := m.lookup(container, key)
	if err != nil {
		return err
	}
	blob.metadata = copyMetadata(metadata)
	blob.modified = m.now()
	return nil
}

func (m *MemoryBackend) ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.containers[container]
	if !ok {
		return nil, NotFound("Container '%s' does not exist", container)
	}

	entries := make([]BlobInfo, 0)
	for key, blob := range c.blobs {
		if strings.HasPrefix(key, prefix) {
			entries = append(entries, blob.info(key))
		}
	}
	return applyDelimiter(entries, prefix, delimiter), nil
}

func (m *MemoryBackend) DeleteBlob(ctx context.Context, container, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.containers[container]; ok {
		delete(c.blobs, key)
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

func (b *memoryBlob) info(key string) BlobInfo {
	return BlobInfo{
		Name:          key,
		ContentType:   b.contentType,
		ContentLength: int64(len(b.data)),
		LastModified:  b.modified,
		ETag:          b.etag,
		Metadata:      copyMetadata(b.metadata),
	}
}

func copyMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
