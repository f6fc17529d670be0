package container

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/storage"
)

type manager struct {
	store storage.Store
	opts  Options
}

// NewManager creates a container manager over a store
func NewManager(store storage.Store, opts Options) Manager {
	return &manager{store: store, opts: opts}
}

func (m *manager) validate(name string) error {
	if m.opts.S3Naming {
		return ValidateS3Name(name)
	}
	return ValidateName(name)
}

func (m *manager) logger(name string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"service":   m.opts.Service,
		"container": name,
	})
}

// ListContainers lists every container; properties are only read on request
func (m *manager) ListContainers(ctx context.Context, includeProperties bool) ([]Container, error) {
	infos, err := m.store.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Container, 0, len(infos))
	for _, info := range infos {
		c := toContainer(info)
		if includeProperties && c.Properties == nil {
			if full, err := m.store.GetContainer(ctx, info.Name); err == nil {
				c.Properties = full.Metadata
			}
		}
		if !includeProperties {
			c.Properties = nil
		}
		result = append(result, c)
	}
	return result, nil
}

// GetContainer returns a single container with its properties
func (m *manager) GetContainer(ctx context.Context, name string) (*Container, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	info, err := m.store.GetContainer(ctx, name)
	if err != nil {
		return nil, err
	}
	c := toContainer(*info)
	return &c, nil
}

func (m *manager) ContainerExists(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	return m.store.ContainerExists(ctx, name)
}

// CreateContainer creates a container. An existing container fails with
// checkExist and is returned as is otherwise.
func (m *manager) CreateContainer(ctx context.Context, name string, properties map[string]string, checkExist bool) (*Container, error) {
	if err := m.validate(name); err != nil {
		return nil, err
	}

	exists, err := m.store.ContainerExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		if checkExist {
			return nil, storage.BadRequest("Container '%s' already exists", name)
		}
		return m.GetContainer(ctx, name)
	}

	info, err := m.store.CreateContainer(ctx, name, properties)
	if err != nil {
		return nil, err
	}

	m.logger(name).Info("Container created")
	c := toContainer(*info)
	return &c, nil
}

// CreateContainers creates each container in order; failures are reported per item
func (m *manager) CreateContainers(ctx context.Context, requests []CreateRequest, checkExist bool) []Result {
	results := make([]Result, 0, len(requests))
	for _, req := range requests {
		result := Result{Name: req.Name, Path: req.Name + "/"}
		if _, err := m.CreateContainer(ctx, req.Name, req.Properties, checkExist); err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	return results
}

func (m *manager) UpdateContainerProperties(ctx context.Context, name string, properties map[string]string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := m.requireContainer(ctx, name); err != nil {
		return err
	}
	if err := m.store.UpdateContainer(ctx, name, properties); err != nil {
		return err
	}

	m.logger(name).Debug("Container properties updated")
	return nil
}

// DeleteContainer deletes a container. A non-empty container needs force.
func (m *manager) DeleteContainer(ctx context.Context, name string, force bool) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := m.requireContainer(ctx, name); err != nil {
		return err
	}

	if !force {
		blobs, err := m.store.ListBlobs(ctx, name, "", storage.Delimiter)
		if err != nil {
			return err
		}
		if len(blobs) > 0 {
			return storage.BadRequest("Container '%s' is not empty", name)
		}
	}

	if err := m.store.DeleteContainer(ctx, name, force); err != nil {
		return err
	}

	m.logger(name).WithField("force", force).Info("Container deleted")
	return nil
}

func (m *manager) DeleteContainers(ctx context.Context, names []string, force bool) []Result {
	results := make([]Result, 0, len(names))
	for _, name := range names {
		result := Result{Name: name, Path: name + "/"}
		if err := m.DeleteContainer(ctx, name, force); err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	return results
}

func (m *manager) CheckContainerForWrite(ctx context.Context, name string) error {
	exists, err := m.ContainerExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	if !m.opts.AutoCreate {
		return storage.NotFound("Container '%s' does not exist", name)
	}

	if _, err := m.CreateContainer(ctx, name, nil, false); err != nil {
		return err
	}
	m.logger(name).Info("Container auto-created for write")
	return nil
}

func (m *manager) requireContainer(ctx context.Context, name string) error {
	exists, err := m.store.ContainerExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound("Container '%s' does not exist", name)
	}
	return nil
}

func toContainer(info storage.ContainerInfo) Container {
	c := Container{
		Name:       info.Name,
		Path:       info.Name + "/",
		Properties: info.Metadata,
	}
	if !info.LastModified.IsZero() {
		modified := info.LastModified
		c.LastModified = &modified
	}
	return c
}
