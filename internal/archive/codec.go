package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/sirupsen/logrus"

	"github.com/blobgate/blobgate/internal/files"
	"github.com/blobgate/blobgate/internal/storage"
)

// Codec converts folders to zip archives and back
type Codec struct {
	engine  *files.Engine
	tempDir string
}

// NewCodec creates a codec; default archive files are created in tempDir
func NewCodec(engine *files.Engine, tempDir string) *Codec {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Codec{engine: engine, tempDir: tempDir}
}

// WriteFolder adds every blob below path to zw, named relative to path.
// Markers become directory entries; the folder's own marker is skipped.
// zw is owned by the caller and left open.
func (c *Codec) WriteFolder(ctx context.Context, zw *zip.Writer, containerName, path string) error {
	path, err := files.NormalizeFolderPath(path)
	if err != nil {
		return err
	}

	store := c.engine.Store()
	entries, err := store.ListBlobs(ctx, containerName, path, "")
	if err != nil {
		return err
	}
	if path != "" && len(entries) == 0 {
		return storage.NotFound("Folder '%s' does not exist in container '%s'", path, containerName)
	}

	for _, entry := range entries {
		rel := strings.TrimPrefix(entry.Name, path)
		if rel == "" {
			continue
		}

		header := &zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: entry.LastModified,
		}
		if entry.IsFolder() {
			header.Method = zip.Store
			header.SetMode(os.ModeDir | 0755)
			if _, err := zw.CreateHeader(header); err != nil {
				return storage.ServiceError(err, "Failed to add '%s' to archive", rel)
			}
			continue
		}

		w, err := zw.CreateHeader(header)
		if err != nil {
			return storage.ServiceError(err, "Failed to add '%s' to archive", rel)
		}
		if err := copyBlob(ctx, store, containerName, entry.Name, w); err != nil {
			return err
		}
	}
	return nil
}

func copyBlob(ctx context.Context, store storage.Store, containerName, key string, w io.Writer) error {
	reader, _, err := store.GetBlob(ctx, containerName, key)
	if err != nil {
		return err
	}
	defer reader.Close()

	if _, err := io.Copy(w, reader); err != nil {
		return storage.ServiceError(err, "Failed to archive '%s'", key)
	}
	return nil
}

// ExportFolder writes a folder to a zip file and returns its path. Without
// archivePath a unique name in the codec's temp dir is used.
func (c *Codec) ExportFolder(ctx context.Context, containerName, path, archivePath string, overwrite bool) (string, error) {
	exists, err := c.engine.Containers().ContainerExists(ctx, containerName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", storage.BadRequest("Container '%s' does not exist", containerName)
	}

	if archivePath == "" {
		name := files.BaseName(strings.TrimLeft(path, storage.Delimiter))
		if name == "" {
			name = containerName
		}
		archivePath = filepath.Join(c.tempDir, fmt.Sprintf("%s-%s.zip", name, uuid.New().String()))
	}

	if _, err := os.Stat(archivePath); err == nil && !overwrite {
		return "", storage.BadRequest("Archive '%s' already exists", archivePath)
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return "", storage.ServiceError(err, "Failed to create archive '%s'", archivePath)
	}

	zw := zip.NewWriter(f)
	err = c.WriteFolder(ctx, zw, containerName, path)
	if closeErr := zw.Close(); err == nil && closeErr != nil {
		err = storage.ServiceError(closeErr, "Failed to finish archive '%s'", archivePath)
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = storage.ServiceError(closeErr, "Failed to close archive '%s'", archivePath)
	}
	if err != nil {
		os.Remove(archivePath)
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"container": containerName,
		"path":      path,
		"archive":   archivePath,
	}).Info("Folder exported")
	return archivePath, nil
}

// Extract unpacks zr into path. With clean, everything below path except its
// marker is deleted first. dropPathPrefix is stripped from entry names.
func (c *Codec) Extract(ctx context.Context, containerName, path string, zr *zip.Reader, clean bool, dropPathPrefix string) (*files.FolderNode, error) {
	path, err := files.NormalizeFolderPath(path)
	if err != nil {
		return nil, err
	}
	dropPathPrefix = strings.TrimLeft(dropPathPrefix, storage.Delimiter)

	if path == "" {
		err = c.engine.Containers().CheckContainerForWrite(ctx, containerName)
	} else {
		_, err = c.engine.CreateFolder(ctx, containerName, path, nil, false)
	}
	if err != nil {
		return nil, err
	}

	if clean {
		if err := c.engine.ClearFolder(ctx, containerName, path); err != nil {
			return nil, err
		}
	}

	created := map[string]bool{path: true}
	ensureFolder := func(folder string) error {
		if folder == "" || created[folder] {
			return nil
		}
		if _, err := c.engine.CreateFolder(ctx, containerName, folder, nil, false); err != nil {
			return err
		}
		created[folder] = true
		return nil
	}

	for _, entry := range zr.File {
		rel := strings.TrimLeft(strings.TrimPrefix(entry.Name, dropPathPrefix), storage.Delimiter)
		if rel == "" {
			continue
		}
		target := path + rel

		if strings.HasSuffix(rel, storage.Delimiter) {
			target, err = files.NormalizeFolderPath(target)
			if err != nil {
				return nil, storage.BadRequest("Invalid archive entry '%s'", entry.Name)
			}
			if err := ensureFolder(target); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := files.NormalizeFilePath(target); err != nil {
			return nil, storage.BadRequest("Invalid archive entry '%s'", entry.Name)
		}
		if err := ensureFolder(files.ParentPath(target)); err != nil {
			return nil, err
		}
		if err := c.extractEntry(ctx, containerName, target, entry); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"container": containerName,
		"path":      path,
		"entries":   len(zr.File),
		"clean":     clean,
	}).Info("Archive extracted")

	return c.engine.GetFolder(ctx, containerName, path, files.DefaultListOptions())
}

func (c *Codec) extractEntry(ctx context.Context, containerName, target string, entry *zip.File) error {
	rc, err := entry.Open()
	if err != nil {
		return storage.BadRequest("Failed to read archive entry '%s': %v", entry.Name, err)
	}
	defer rc.Close()

	_, err = c.engine.WriteFile(ctx, containerName, target, rc, int64(entry.UncompressedSize64), "", false)
	return err
}

// ExtractFile extracts a zip file from local disk
func (c *Codec) ExtractFile(ctx context.Context, containerName, path, archivePath string, clean bool, dropPathPrefix string) (*files.FolderNode, error) {
	rc, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, storage.BadRequest("'%s' is not a valid zip archive: %v", filepath.Base(archivePath), err)
	}
	defer rc.Close()

	return c.Extract(ctx, containerName, path, &rc.Reader, clean, dropPathPrefix)
}

// ExtractReader extracts an archive held by r
func (c *Codec) ExtractReader(ctx context.Context, containerName, path string, r io.ReaderAt, size int64, clean bool, dropPathPrefix string) (*files.FolderNode, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, storage.BadRequest("Request body is not a valid zip archive: %v", err)
	}
	return c.Extract(ctx, containerName, path, zr, clean, dropPathPrefix)
}
