package files

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/storage"
)

// FolderExists reports whether the container exists and, for a non-root
// path, whether the folder's marker blob exists
func (e *Engine) FolderExists(ctx context.Context, containerName, path string) (bool, error) {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return false, err
	}

	exists, err := e.containers.ContainerExists(ctx, containerName)
	if err != nil || !exists {
		return false, err
	}
	if path == "" {
		return true, nil
	}
	return e.store.BlobExists(ctx, containerName, path), nil
}

// GetFolder lists a folder. Without FullTree only direct children are
// returned, with sub-folders reported by their common prefix.
func (e *Engine) GetFolder(ctx context.Context, containerName, path string, opts ListOptions) (*FolderNode, error) {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return nil, err
	}

	node := &FolderNode{
		Container: containerName,
		Name:      BaseName(path),
		Path:      path,
	}

	exists, err := e.containers.ContainerExists(ctx, containerName)
	if err != nil {
		return nil, err
	}
	if !exists {
		if path != "" {
			return nil, storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName)
		}
		return node, nil
	}

	if path != "" {
		marker, err := e.store.GetBlobProperties(ctx, containerName, path)
		if err != nil {
			if storage.IsNotFound(err) {
				return nil, storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName)
			}
			return nil, err
		}
		node.LastModified = timePtr(marker.LastModified)
		if opts.IncludeProperties {
			node.Properties = e.readProperties(ctx, containerName, path)
		}
	}

	delimiter := storage.Delimiter
	if opts.FullTree {
		delimiter = ""
	}
	entries, err := e.store.ListBlobs(ctx, containerName, path, delimiter)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.Name == path {
			continue
		}
		rel := strings.TrimPrefix(entry.Name, path)

		if entry.IsFolder() {
			if !opts.IncludeFolders {
				continue
			}
			child := FolderNode{
				Name:         strings.TrimSuffix(rel, storage.Delimiter),
				Path:         entry.Name,
				LastModified: timePtr(entry.LastModified),
			}
			// delimited listings fold the child marker into its prefix
			if opts.IncludeProperties && (entry.IsPrefix || entry.ContentLength > 0) {
				child.Properties = e.readProperties(ctx, containerName, entry.Name)
			}
			node.Folder = append(node.Folder, child)
			continue
		}

		if !opts.IncludeFiles {
			continue
		}
		file := FileNode{
			Name:          rel,
			Path:          entry.Name,
			ContentType:   entry.ContentType,
			ContentLength: entry.ContentLength,
			LastModified:  timePtr(entry.LastModified),
			ETag:          entry.ETag,
		}
		if opts.IncludeProperties {
			file.Properties = entry.Metadata
		}
		node.File = append(node.File, file)
	}

	return node, nil
}

// CreateFolder writes the folder marker, creating missing parents unless
// checkExist is set. An existing folder fails with checkExist and is left
// untouched otherwise.
func (e *Engine) CreateFolder(ctx context.Context, containerName, path string, properties map[string]interface{}, checkExist bool) (*FolderNode, error) {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, storage.BadRequest("No folder path provided")
	}

	body, err := encodeProperties(properties)
	if err != nil {
		return nil, err
	}

	exists, err := e.FolderExists(ctx, containerName, path)
	if err != nil {
		return nil, err
	}
	if exists {
		if checkExist {
			return nil, storage.BadRequest("Folder '%s' already exists", path)
		}
		return &FolderNode{Container: containerName, Name: BaseName(path), Path: path}, nil
	}

	if parent := ParentPath(path); parent != "" {
		parentExists, err := e.FolderExists(ctx, containerName, parent)
		if err != nil {
			return nil, err
		}
		if !parentExists {
			if checkExist {
				return nil, storage.NotFound("Parent folder '%s' does not exist", parent)
			}
			if _, err := e.CreateFolder(ctx, containerName, parent, nil, false); err != nil {
				return nil, err
			}
		}
	}

	if err := e.containers.CheckContainerForWrite(ctx, containerName); err != nil {
		return nil, err
	}

	if err := storage.PutBlobData(ctx, e.store, containerName, path, body, FolderContentType); err != nil {
		return nil, err
	}

	e.logger(containerName, path).Debug("Folder created")
	return &FolderNode{
		Container:  containerName,
		Name:       BaseName(path),
		Path:       path,
		Properties: properties,
	}, nil
}

// CopyFolder copies a folder marker and everything below it. Nested children
// keep their path relative to the source folder.
func (e *Engine) CopyFolder(ctx context.Context, containerName, destPath, srcContainer, srcPath string, checkExist bool) (*FolderNode, error) {
	destPath, err := NormalizeFolderPath(destPath)
	if err != nil {
		return nil, err
	}
	if destPath == "" {
		return nil, storage.BadRequest("No destination folder path provided")
	}
	srcPath, err = NormalizeFolderPath(srcPath)
	if err != nil {
		return nil, err
	}
	if srcContainer == "" {
		srcContainer = containerName
	}
	if srcContainer == containerName && strings.HasPrefix(destPath, srcPath) {
		return nil, storage.BadRequest("Cannot copy folder '%s' into itself", srcPath)
	}

	srcExists, err := e.FolderExists(ctx, srcContainer, srcPath)
	if err != nil {
		return nil, err
	}
	if !srcExists {
		return nil, storage.NotFound("Source folder '%s' does not exist in container '%s'", srcPath, srcContainer)
	}

	if checkExist {
		destExists, err := e.FolderExists(ctx, containerName, destPath)
		if err != nil {
			return nil, err
		}
		if destExists {
			return nil, storage.BadRequest("Folder '%s' already exists", destPath)
		}
	}

	if parent := ParentPath(destPath); parent != "" {
		parentExists, err := e.FolderExists(ctx, containerName, parent)
		if err != nil {
			return nil, err
		}
		if !parentExists {
			return nil, storage.NotFound("Parent folder '%s' does not exist", parent)
		}
	}

	if err := e.containers.CheckContainerForWrite(ctx, containerName); err != nil {
		return nil, err
	}

	if srcPath == "" {
		err = storage.PutBlobData(ctx, e.store, containerName, destPath, nil, FolderContentType)
	} else {
		err = e.store.CopyBlob(ctx, containerName, destPath, srcContainer, srcPath)
	}
	if err != nil {
		return nil, err
	}

	entries, err := e.store.ListBlobs(ctx, srcContainer, srcPath, "")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Name == srcPath {
			continue
		}
		rel := strings.TrimPrefix(entry.Name, srcPath)
		if err := e.store.CopyBlob(ctx, containerName, destPath+rel, srcContainer, entry.Name); err != nil {
			return nil, err
		}
	}

	e.logger(containerName, destPath).WithFields(logrus.Fields{
		"source_container": srcContainer,
		"source_path":      srcPath,
		"blobs":            len(entries),
	}).Info("Folder copied")

	return &FolderNode{Container: containerName, Name: BaseName(destPath), Path: destPath}, nil
}

// DeleteFolder deletes a folder. Content other than the folder's own marker
// requires force; the root folder cannot be deleted.
func (e *Engine) DeleteFolder(ctx context.Context, containerName, path string, force bool) error {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return storage.BadRequest("The root folder of a container cannot be deleted")
	}
	if err := e.requireContainer(ctx, containerName); err != nil {
		return err
	}

	entries, err := e.store.ListBlobs(ctx, containerName, path, "")
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName)
	}

	if len(entries) == 1 && entries[0].Name == path {
		return e.store.DeleteBlob(ctx, containerName, path)
	}

	if !force {
		return storage.BadRequest("Folder '%s' contains other files or folders", path)
	}

	// deepest keys first so markers go after their content
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name > entries[j].Name
	})
	for _, entry := range entries {
		if entry.Name == path {
			continue
		}
		if err := e.store.DeleteBlob(ctx, containerName, entry.Name); err != nil {
			return err
		}
	}
	if err := e.store.DeleteBlob(ctx, containerName, path); err != nil {
		return err
	}

	e.logger(containerName, path).WithField("blobs", len(entries)).Info("Folder deleted")
	return nil
}

// UpdateFolderProperties rewrites the folder marker body
func (e *Engine) UpdateFolderProperties(ctx context.Context, containerName, path string, properties map[string]interface{}) error {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return err
	}
	if path == "" {
		return storage.BadRequest("No folder path provided")
	}

	exists, err := e.FolderExists(ctx, containerName, path)
	if err != nil {
		return err
	}
	if !exists {
		return storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName)
	}

	body, err := encodeProperties(properties)
	if err != nil {
		return err
	}
	return storage.PutBlobData(ctx, e.store, containerName, path, body, FolderContentType)
}

// ListTree returns every blob below a folder, flat and sorted
func (e *Engine) ListTree(ctx context.Context, containerName, path string) ([]storage.BlobInfo, error) {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return nil, err
	}
	return e.store.ListBlobs(ctx, containerName, path, "")
}

// ClearFolder deletes every blob below a folder except its own marker
func (e *Engine) ClearFolder(ctx context.Context, containerName, path string) error {
	path, err := NormalizeFolderPath(path)
	if err != nil {
		return err
	}

	entries, err := e.store.ListBlobs(ctx, containerName, path, "")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.Name == path {
			continue
		}
		if err := e.store.DeleteBlob(ctx, containerName, entry.Name); err != nil {
			return err
		}
	}
	return nil
}
