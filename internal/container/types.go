package container

import (
	"context"
	"time"

	"github.com/blobgate/blobgate/internal/storage"
)

// Container is the API view of a top-level storage namespace
type Container struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	LastModified *time.Time        `json:"last_modified,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// CreateRequest describes one container of a batch create
type CreateRequest struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Result is the per-item outcome of a batch operation
type Result struct {
	Name  string             `json:"name"`
	Path  string             `json:"path,omitempty"`
	Error *storage.ItemError `json:"error,omitempty"`
}

// Manager defines container lifecycle operations for one service
type Manager interface {
	ListContainers(ctx context.Context, includeProperties bool) ([]Container, error)
	GetContainer(ctx context.Context, name string) (*Container, error)
	ContainerExists(ctx context.Context, name string) (bool, error)
	CreateContainer(ctx context.Context, name string, properties map[string]string, checkExist bool) (*Container, error)
	CreateContainers(ctx context.Context, requests []CreateRequest, checkExist bool) []Result
	UpdateContainerProperties(ctx context.Context, name string, properties map[string]string) error
	DeleteContainer(ctx context.Context, name string, force bool) error
	DeleteContainers(ctx context.Context, names []string, force bool) []Result

	// CheckContainerForWrite makes sure a container can receive writes,
	// creating it when the service allows it
	CheckContainerForWrite(ctx context.Context, name string) error
}

// Options configures a manager
type Options struct {
	Service    string
	AutoCreate bool
	// S3Naming applies the S3 bucket naming rules on top of the generic ones
	S3Naming bool
}
