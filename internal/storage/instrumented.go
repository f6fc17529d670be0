package storage

import (
	"context"
	"io"
	"time"
)

// OperationRecorder receives one observation per storage call
type OperationRecorder interface {
	RecordStorageOperation(service, operation string, success bool, duration time.Duration)
}

// Instrumented wraps a Store and reports every call to a recorder
type Instrumented struct {
	next     Store
	service  string
	recorder OperationRecorder
}

// NewInstrumented decorates next; a nil recorder returns next unchanged
func NewInstrumented(next Store, service string, recorder OperationRecorder) Store {
	if recorder == nil {
		return next
	}
	return &Instrumented{next: next, service: service, recorder: recorder}
}

// Unwrap returns the decorated store
func (i *Instrumented) Unwrap() Store {
	return i.next
}

func (i *Instrumented) observe(operation string, start time.Time, err error) {
	i.recorder.RecordStorageOperation(i.service, operation, err == nil, time.Since(start))
}

func (i *Instrumented) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	start := time.Now()
	result, err := i.next.ListContainers(ctx)
	i.observe("list_containers", start, err)
	return result, err
}

func (i *Instrumented) ContainerExists(ctx context.Context, name string) (bool, error) {
	start := time.Now()
	exists, err := i.next.ContainerExists(ctx, name)
	i.observe("container_exists", start, err)
	return exists, err
}

func (i *Instrumented) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	start := time.Now()
	info, err := i.next.GetContainer(ctx, name)
	i.observe("get_container", start, err)
	return info, err
}

func (i *Instrumented) CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error) {
	start := time.Now()
	info, err := i.next.CreateContainer(ctx, name, metadata)
	i.observe("create_container", start, err)
	return info, err
}

func (i *Instrumented) UpdateContainer(ctx context.Context, name string, metadata map[string]string) error {
	start := time.Now()
	err := i.next.UpdateContainer(ctx, name, metadata)
	i.observe("update_container", start, err)
	return err
}

func (i *Instrumented) DeleteContainer(ctx context.Context, name string, force bool) error {
	start := time.Now()
	err := i.next.DeleteContainer(ctx, name, force)
	i.observe("delete_container", start, err)
	return err
}

func (i *Instrumented) BlobExists(ctx context.Context, container, key string) bool {
	start := time.Now()
	exists := i.next.BlobExists(ctx, container, key)
	i.observe("blob_exists", start, nil)
	return exists
}

func (i *Instrumented) PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := i.next.PutBlob(ctx, container, key, data, size, contentType)
	i.observe("put_blob", start, err)
	return err
}

func (i *Instrumented) CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error {
	start := time.Now()
	err := i.next.CopyBlob(ctx, container, key, srcContainer, srcKey)
	i.observe("copy_blob", start, err)
	return err
}

func (i *Instrumented) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	start := time.Now()
	rc, info, err := i.next.GetBlob(ctx, container, key)
	i.observe("get_blob", start, err)
	return rc, info, err
}

func (i *Instrumented) GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error) {
	start := time.Now()
	info, err := i.next.GetBlobProperties(ctx, container, key)
	i.observe("get_blob_properties", start, err)
	return info, err
}

func (i *Instrumented) SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error {
	start := time.Now()
	err := i.next.SetBlobMetadata(ctx, container, key, metadata)
	i.observe("set_blob_metadata", start, err)
	return err
}

func (i *Instrumented) ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error) {
	start := time.Now()
	result, err := i.next.ListBlobs(ctx, container, prefix, delimiter)
	i.observe("list_blobs", start, err)
	return result, err
}

func (i *Instrumented) DeleteBlob(ctx context.Context, container, key string) error {
	start := time.Now()
	err := i.next.DeleteBlob(ctx, container, key)
	i.observe("delete_blob", start, err)
	return err
}

func (i *Instrumented) Close() error {
	return i.next.Close()
}
