package files

import (
	"bytes"
	"context"
	"strings"

	"github.com/blobgate/blobgate/internal/storage"
)

// Batch operations process items in input order. An item's failure is
// attached to its result and never stops the batch.

// DeleteFolders deletes each folder path
func (e *Engine) DeleteFolders(ctx context.Context, containerName string, paths []string, force bool) []Result {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		result := Result{Name: BaseName(path), Path: path, Type: TypeFolder}
		if err := e.DeleteFolder(ctx, containerName, path, force); err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	e.recordBatch("delete_folders", results)
	return results
}

// DeleteFiles deletes each file path
func (e *Engine) DeleteFiles(ctx context.Context, containerName string, paths []string) []Result {
	results := make([]Result, 0, len(paths))
	for _, path := range paths {
		result := Result{Name: BaseName(path), Path: path, Type: TypeFile}
		if err := e.DeleteFile(ctx, containerName, path); err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	e.recordBatch("delete_files", results)
	return results
}

// CreateEntries creates or copies folders and files below basePath
func (e *Engine) CreateEntries(ctx context.Context, containerName, basePath string, entries []Entry, checkExist bool) []Result {
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		path, kind, err := resolveEntry(basePath, entry)
		result := Result{Name: BaseName(path), Path: path, Type: kind}
		if err == nil {
			err = e.createEntry(ctx, containerName, path, kind, entry, checkExist)
		}
		if err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	e.recordBatch("create_entries", results)
	return results
}

func (e *Engine) createEntry(ctx context.Context, containerName, path, kind string, entry Entry, checkExist bool) error {
	if kind == TypeFolder {
		if entry.SourcePath != "" {
			_, err := e.CopyFolder(ctx, containerName, path, entry.SourceContainer, entry.SourcePath, checkExist)
			return err
		}
		_, err := e.CreateFolder(ctx, containerName, path, entry.Properties, checkExist)
		return err
	}

	if entry.SourcePath != "" {
		_, err := e.CopyFile(ctx, containerName, path, entry.SourceContainer, entry.SourcePath, checkExist)
		return err
	}
	_, err := e.WriteFile(ctx, containerName, path, bytes.NewReader(entry.Content), int64(len(entry.Content)), entry.ContentType, checkExist)
	return err
}

// DeleteEntries deletes folders and files described by entries below basePath
func (e *Engine) DeleteEntries(ctx context.Context, containerName, basePath string, entries []Entry, force bool) []Result {
	results := make([]Result, 0, len(entries))
	for _, entry := range entries {
		path, kind, err := resolveEntry(basePath, entry)
		result := Result{Name: BaseName(path), Path: path, Type: kind}
		if err == nil {
			if kind == TypeFolder {
				err = e.DeleteFolder(ctx, containerName, path, force)
			} else {
				err = e.DeleteFile(ctx, containerName, path)
			}
		}
		if err != nil {
			result.Error = storage.NewItemError(err)
		}
		results = append(results, result)
	}
	e.recordBatch("delete_entries", results)
	return results
}

// resolveEntry works out the container-relative path and type of an entry.
// Without an explicit type a trailing '/' marks a folder.
func resolveEntry(basePath string, entry Entry) (string, string, error) {
	path := strings.TrimLeft(entry.Path, storage.Delimiter)
	if path == "" {
		if entry.Name == "" {
			return "", entry.Type, storage.BadRequest("No name or path provided for item")
		}
		base, err := NormalizeFolderPath(basePath)
		if err != nil {
			return "", entry.Type, err
		}
		path = base + strings.TrimLeft(entry.Name, storage.Delimiter)
	}

	kind := entry.Type
	switch kind {
	case "":
		kind = TypeFile
		if strings.HasSuffix(path, storage.Delimiter) {
			kind = TypeFolder
		}
	case TypeFolder, TypeFile:
	default:
		return path, kind, storage.BadRequest("Invalid item type '%s'", kind)
	}

	if kind == TypeFolder && !strings.HasSuffix(path, storage.Delimiter) {
		path += storage.Delimiter
	}
	return path, kind, nil
}
