package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/graymeta/stow"
	"github.com/graymeta/stow/azure"
	"github.com/graymeta/stow/google"
	"github.com/graymeta/stow/swift"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/config"
)

const (
	stowPageSize = 1000
	// stow has no first-class content type, so it rides along as metadata
	stowContentTypeKey = "contenttype"
)

// StowBackend serves Azure Blob Storage, OpenStack Swift and Google Cloud
// Storage through one stow location. None of them list with a delimiter
// here, so common prefixes are folded client side.
type StowBackend struct {
	kind     string
	location stow.Location

	mu         sync.RWMutex
	containers map[string]stow.Container
}

// NewStowBackend dials the location for an azure, swift or google service
func NewStowBackend(cfg Config) (*StowBackend, error) {
	kind, stowCfg, err := stowConfig(cfg)
	if err != nil {
		return nil, err
	}

	location, err := stow.Dial(kind, stowCfg)
	if err != nil {
		return nil, ServiceError(err, "Failed to connect to %s service '%s'", kind, cfg.Name)
	}

	logrus.WithFields(logrus.Fields{
		"service": cfg.Name,
		"kind":    kind,
	}).Info("Stow backend initialized")

	return newStowBackend(kind, location), nil
}

func newStowBackend(kind string, location stow.Location) *StowBackend {
	return &StowBackend{
		kind:       kind,
		location:   location,
		containers: make(map[string]stow.Container),
	}
}

func stowConfig(cfg Config) (string, stow.ConfigMap, error) {
	switch cfg.Type {
	case config.ServiceTypeAzure:
		return azure.Kind, stow.ConfigMap{
			azure.ConfigAccount: cfg.Account,
			azure.ConfigKey:     cfg.AccountKey,
		}, nil
	case config.ServiceTypeSwift:
		return swift.Kind, stow.ConfigMap{
			swift.ConfigUsername:      cfg.Username,
			swift.ConfigKey:           cfg.APIKey,
			swift.ConfigTenantName:    cfg.TenantName,
			swift.ConfigTenantAuthURL: cfg.AuthURL,
		}, nil
	case config.ServiceTypeGoogle:
		return google.Kind, stow.ConfigMap{
			google.ConfigJSON:      cfg.CredentialsJSON,
			google.ConfigProjectId: cfg.ProjectID,
		}, nil
	default:
		return "", nil, fmt.Errorf("unsupported stow backend: %s", cfg.Type)
	}
}

// container resolves a container handle, caching successful lookups
func (b *StowBackend) container(name string) (stow.Container, error) {
	b.mu.RLock()
	c, ok := b.containers[name]
	b.mu.RUnlock()
	if ok {
		return c, nil
	}

	c, err := b.location.Container(name)
	if err != nil {
		return nil, translateStowError(err, "Container '%s' does not exist", name)
	}

	b.mu.Lock()
	b.containers[name] = c
	b.mu.Unlock()
	return c, nil
}

func (b *StowBackend) forget(name string) {
	b.mu.Lock()
	delete(b.containers, name)
	b.mu.Unlock()
}

func (b *StowBackend) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	result := make([]ContainerInfo, 0)
	err := stow.WalkContainers(b.location, stow.NoPrefix, stowPageSize, func(c stow.Container, err error) error {
		if err != nil {
			return err
		}
		result = append(result, ContainerInfo{Name: c.Name()})
		return ctx.Err()
	})
	if err != nil {
		return nil, translateStowError(err, "Failed to list containers")
	}
	sortContainers(result)
	return result, nil
}

func (b *StowBackend) ContainerExists(ctx context.Context, name string) (bool, error) {
	_, err := b.container(name)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

func (b *StowBackend) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	c, err := b.container(name)
	if err != nil {
		return nil, err
	}
	return &ContainerInfo{Name: c.Name()}, nil
}

// CreateContainer creates the container; stow keeps no container metadata so
// properties passed here are dropped
func (b *StowBackend) CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error) {
	c, err := b.location.CreateContainer(name)
	if err != nil {
		return nil, ServiceError(err, "Failed to create container '%s'", name)
	}
	if len(metadata) > 0 {
		logrus.WithFields(logrus.Fields{
			"kind":      b.kind,
			"container": name,
		}).Warn("Container properties are not supported by this backend, ignoring")
	}

	b.mu.Lock()
	b.containers[name] = c
	b.mu.Unlock()
	return &ContainerInfo{Name: c.Name()}, nil
}

func (b *StowBackend) UpdateContainer(ctx context.Context, name string, metadata map[string]string) error {
	if _, err := b.container(name); err != nil {
		return err
	}
	return BadRequest("Container properties are not supported by the %s backend", b.kind)
}

func (b *StowBackend) DeleteContainer(ctx context.Context, name string, force bool) error {
	c, err := b.container(name)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}

	items, _, err := c.Items(stow.NoPrefix, stow.CursorStart, 1)
	if err != nil {
		return translateStowError(err, "Failed to list container '%s'", name)
	}
	if len(items) > 0 {
		if !force {
			return BadRequest("Container '%s' is not empty", name)
		}
		err := stow.Walk(c, stow.NoPrefix, stowPageSize, func(item stow.Item, err error) error {
			if err != nil {
				return err
			}
			return c.RemoveItem(item.ID())
		})
		if err != nil {
			return translateStowError(err, "Failed to empty container '%s'", name)
		}
	}

	b.forget(name)
	if err := b.location.RemoveContainer(name); err != nil {
		err = translateStowError(err, "Failed to delete container '%s'", name)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func (b *StowBackend) item(container, key string) (stow.Item, error) {
	c, err := b.container(container)
	if err != nil {
		return nil, err
	}
	item, err := c.Item(key)
	if err != nil {
		return nil, translateStowError(err, "Blob '%s/%s' does not exist", container, key)
	}
	return item, nil
}

// BlobExists never errors; failures are logged and reported as absent
func (b *StowBackend) BlobExists(ctx context.Context, container, key string) bool {
	_, err := b.item(container, key)
	if err == nil {
		return true
	}
	if !IsNotFound(err) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":      b.kind,
			"container": container,
			"key":       key,
		}).Warn("Failed to check item existence")
	}
	return false
}

func (b *StowBackend) PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error {
	return b.put(container, key, data, size, contentType, nil)
}

func (b *StowBackend) put(container, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	c, err := b.container(container)
	if err != nil {
		return err
	}

	// stow needs the length up front
	if size < 0 {
		content, err := io.ReadAll(data)
		if err != nil {
			return ServiceError(err, "Failed to read data for '%s/%s'", container, key)
		}
		data, size = bytes.NewReader(content), int64(len(content))
	}

	if _, err := c.Put(key, data, size, toStowMetadata(contentType, metadata)); err != nil {
		return translateStowError(err, "Failed to put '%s/%s'", container, key)
	}
	return nil
}

// CopyBlob streams the source item into a new put
func (b *StowBackend) CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error {
	rc, info, err := b.GetBlob(ctx, srcContainer, srcKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	return b.put(container, key, rc, info.ContentLength, info.ContentType, info.Metadata)
}

func (b *StowBackend) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	item, err := b.item(container, key)
	if err != nil {
		return nil, nil, err
	}

	info := stowBlobInfo(key, item)
	rc, err := item.Open()
	if err != nil {
		return nil, nil, translateStowError(err, "Failed to open '%s/%s'", container, key)
	}
	return rc, &info, nil
}

func (b *StowBackend) GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error) {
	item, err := b.item(container, key)
	if err != nil {
		return nil, err
	}
	info := stowBlobInfo(key, item)
	return &info, nil
}

// SetBlobMetadata re-puts the item with the new metadata
func (b *StowBackend) SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error {
	rc, info, err := b.GetBlob(ctx, container, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	return b.put(container, key, rc, info.ContentLength, info.ContentType, metadata)
}

func (b *StowBackend) ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error) {
	c, err := b.container(container)
	if err != nil {
		return nil, err
	}

	entries := make([]BlobInfo, 0)
	err = stow.Walk(c, prefix, stowPageSize, func(item stow.Item, err error) error {
		if err != nil {
			return err
		}
		entries = append(entries, stowBlobInfo(item.Name(), item))
		return ctx.Err()
	})
	if err != nil {
		return nil, translateStowError(err, "Failed to list '%s/%s'", container, prefix)
	}

	return applyDelimiter(entries, prefix, delimiter), nil
}

func (b *StowBackend) DeleteBlob(ctx context.Context, container, key string) error {
	c, err := b.container(container)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := c.RemoveItem(key); err != nil {
		err = translateStowError(err, "Failed to delete '%s/%s'", container, key)
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

func (b *StowBackend) Close() error {
	return b.location.Close()
}

func stowBlobInfo(key string, item stow.Item) BlobInfo {
	info := BlobInfo{Name: key}
	if size, err := item.Size(); err == nil {
		info.ContentLength = size
	}
	if mod, err := item.LastMod(); err == nil {
		info.LastModified = mod
	}
	if etag, err := item.ETag(); err == nil {
		info.ETag = strings.Trim(etag, `"`)
	}
	if md, err := item.Metadata(); err == nil {
		info.ContentType, info.Metadata = fromStowMetadata(md)
	}
	return info
}

func toStowMetadata(contentType string, metadata map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata)+1)
	for k, v := range metadata {
		out[strings.ToLower(k)] = v
	}
	if contentType != "" {
		out[stowContentTypeKey] = contentType
	}
	return out
}

func fromStowMetadata(md map[string]interface{}) (string, map[string]string) {
	var contentType string
	out := make(map[string]string, len(md))
	for k, v := range md {
		value := fmt.Sprint(v)
		if strings.EqualFold(k, stowContentTypeKey) {
			contentType = value
			continue
		}
		out[strings.ToLower(k)] = value
	}
	if len(out) == 0 {
		out = nil
	}
	return contentType, out
}

func translateStowError(err error, format string, args ...interface{}) error {
	if errors.Is(err, stow.ErrNotFound) {
		e := NotFound(format, args...)
		e.Cause = err
		return e
	}
	return ServiceError(err, format, args...)
}
