package files

import (
	"context"
	"io"
	"os"

	"github.com/blobgate/blobgate/internal/storage"
)

// FileExists reports whether a file blob exists
func (e *Engine) FileExists(ctx context.Context, containerName, path string) (bool, error) {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return false, err
	}
	return e.store.BlobExists(ctx, containerName, path), nil
}

// GetFile returns a file's properties and, on request, its content
func (e *Engine) GetFile(ctx context.Context, containerName, path string, includeContent bool) (*FileNode, error) {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return nil, err
	}

	info, err := e.store.GetBlobProperties(ctx, containerName, path)
	if err != nil {
		return nil, err
	}
	node := fileNode(containerName, info)

	if includeContent {
		data, err := storage.GetBlobData(ctx, e.store, containerName, path)
		if err != nil {
			return nil, err
		}
		node.Content = data
	}
	return node, nil
}

// GetFileContent reads a whole file
func (e *Engine) GetFileContent(ctx context.Context, containerName, path string) ([]byte, error) {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	return storage.GetBlobData(ctx, e.store, containerName, path)
}

// checkFileWrite runs the write preconditions in order: the container, an
// existing file under checkExist, then the parent folder. A missing
// container is only created once every other check has passed.
func (e *Engine) checkFileWrite(ctx context.Context, containerName, path string, checkExist bool) error {
	exists, err := e.containers.ContainerExists(ctx, containerName)
	if err != nil {
		return err
	}

	parent := ParentPath(path)
	if !exists {
		if parent != "" {
			return storage.NotFound("Folder '%s' does not exist in container '%s'", parent, containerName)
		}
		return e.containers.CheckContainerForWrite(ctx, containerName)
	}

	if checkExist && e.store.BlobExists(ctx, containerName, path) {
		return storage.BadRequest("File '%s' already exists", path)
	}

	if parent != "" && !e.store.BlobExists(ctx, containerName, parent) {
		return storage.NotFound("Folder '%s' does not exist in container '%s'", parent, containerName)
	}
	return nil
}

// WriteFile stores content at path. The parent folder must exist.
func (e *Engine) WriteFile(ctx context.Context, containerName, path string, data io.Reader, size int64, contentType string, checkExist bool) (*FileNode, error) {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return nil, err
	}
	if err := e.checkFileWrite(ctx, containerName, path, checkExist); err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = storage.DetectContentType(path)
	}
	if err := e.store.PutBlob(ctx, containerName, path, data, size, contentType); err != nil {
		return nil, err
	}

	e.logger(containerName, path).WithField("size", size).Debug("File written")
	return e.GetFile(ctx, containerName, path, false)
}

// MoveFile uploads a local file to path with the same preconditions as WriteFile
func (e *Engine) MoveFile(ctx context.Context, containerName, path, localPath, contentType string, checkExist bool) (*FileNode, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, storage.ServiceError(err, "Failed to open local file '%s'", localPath)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, storage.ServiceError(err, "Failed to stat local file '%s'", localPath)
	}

	return e.WriteFile(ctx, containerName, path, f, stat.Size(), contentType, checkExist)
}

// CopyFile copies a file, possibly from another container
func (e *Engine) CopyFile(ctx context.Context, containerName, destPath, srcContainer, srcPath string, checkExist bool) (*FileNode, error) {
	destPath, err := NormalizeFilePath(destPath)
	if err != nil {
		return nil, err
	}
	srcPath, err = NormalizeFilePath(srcPath)
	if err != nil {
		return nil, err
	}
	if srcContainer == "" {
		srcContainer = containerName
	}

	if !e.store.BlobExists(ctx, srcContainer, srcPath) {
		return nil, storage.NotFound("Source file '%s' does not exist in container '%s'", srcPath, srcContainer)
	}
	if err := e.checkFileWrite(ctx, containerName, destPath, checkExist); err != nil {
		return nil, err
	}

	if err := e.store.CopyBlob(ctx, containerName, destPath, srcContainer, srcPath); err != nil {
		return nil, err
	}
	return e.GetFile(ctx, containerName, destPath, false)
}

// DeleteFile deletes an existing file
func (e *Engine) DeleteFile(ctx context.Context, containerName, path string) error {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return err
	}
	if err := e.requireContainer(ctx, containerName); err != nil {
		return err
	}
	if !e.store.BlobExists(ctx, containerName, path) {
		return storage.NotFound("File '%s' does not exist in container '%s'", path, containerName)
	}

	if err := e.store.DeleteBlob(ctx, containerName, path); err != nil {
		return err
	}
	e.logger(containerName, path).Debug("File deleted")
	return nil
}

// UpdateFileProperties replaces the file's metadata; the content is untouched
func (e *Engine) UpdateFileProperties(ctx context.Context, containerName, path string, properties map[string]string) error {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return err
	}
	return e.store.SetBlobMetadata(ctx, containerName, path, properties)
}

// StreamFile writes a file to sink, inline or as a download
func (e *Engine) StreamFile(ctx context.Context, containerName, path string, sink storage.ResponseSink, download bool) error {
	path, err := NormalizeFilePath(path)
	if err != nil {
		return err
	}
	return storage.StreamBlob(ctx, e.store, containerName, path, sink, storage.Disposition{Attachment: download})
}

func fileNode(containerName string, info *storage.BlobInfo) *FileNode {
	return &FileNode{
		Container:     containerName,
		Name:          BaseName(info.Name),
		Path:          info.Name,
		ContentType:   info.ContentType,
		ContentLength: info.ContentLength,
		LastModified:  timePtr(info.LastModified),
		ETag:          info.ETag,
		Properties:    info.Metadata,
	}
}
