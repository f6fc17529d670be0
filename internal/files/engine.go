package files

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/container"
	"github.com/blobgate/blobgate/internal/storage"
)

// Engine layers folders and files over a flat blob store. Folders exist only
// through their marker blobs; the root folder exists when its container does.
type Engine struct {
	service    string
	store      storage.Store
	containers container.Manager
	batches    BatchRecorder
}

// NewEngine creates an engine for one service
func NewEngine(service string, store storage.Store, containers container.Manager) *Engine {
	return &Engine{
		service:    service,
		store:      store,
		containers: containers,
	}
}

// SetBatchRecorder sets the recorder notified after each batch call
func (e *Engine) SetBatchRecorder(recorder BatchRecorder) {
	e.batches = recorder
}

// Store returns the underlying blob store
func (e *Engine) Store() storage.Store {
	return e.store
}

// Containers returns the container manager of the service
func (e *Engine) Containers() container.Manager {
	return e.containers
}

func (e *Engine) logger(containerName, path string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"service":   e.service,
		"container": containerName,
		"path":      path,
	})
}

func (e *Engine) requireContainer(ctx context.Context, containerName string) error {
	exists, err := e.containers.ContainerExists(ctx, containerName)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound("Container '%s' does not exist", containerName)
	}
	return nil
}

// readProperties decodes a marker body; empty or non-JSON bodies have no properties
func (e *Engine) readProperties(ctx context.Context, containerName, markerPath string) map[string]interface{} {
	data, err := storage.GetBlobData(ctx, e.store, containerName, markerPath)
	if err != nil || len(data) == 0 {
		return nil
	}

	var props map[string]interface{}
	if err := json.Unmarshal(data, &props); err != nil {
		e.logger(containerName, markerPath).WithError(err).Debug("Folder marker body is not a JSON object")
		return nil
	}
	return props
}

func encodeProperties(properties map[string]interface{}) ([]byte, error) {
	if len(properties) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return nil, storage.BadRequest("Invalid folder properties: %v", err)
	}
	return data, nil
}

func (e *Engine) recordBatch(operation string, results []Result) {
	if e.batches == nil {
		return
	}
	failures := 0
	for _, r := range results {
		if r.Error != nil {
			failures++
		}
	}
	e.batches.RecordBatch(operation, len(results), failures)
}
