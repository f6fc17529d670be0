package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	metaDirName      = ".blobgate-meta"
	reservedPrefix   = ".blobgate"
	folderMarkerFile = ".blobgate-folder"
	tempFilePrefix   = ".blobgate-tmp-"
)

// FilesystemBackend stores containers as directories under a root path.
// Content types, etags and user metadata are kept in a badger database
// next to the containers.
type FilesystemBackend struct {
	rootPath string
	meta     *metaStore
}

// NewFilesystemBackend creates a new filesystem storage backend
func NewFilesystemBackend(cfg Config) (*FilesystemBackend, error) {
	if cfg.Root == "" {
		return nil, BadRequest("Local service '%s' has no root path", cfg.Name)
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, ServiceError(err, "Failed to create root directory")
	}

	meta, err := openMetaStore(filepath.Join(cfg.Root, metaDirName))
	if err != nil {
		return nil, ServiceError(err, "Failed to open metadata store")
	}

	logrus.WithFields(logrus.Fields{
		"service": cfg.Name,
		"root":    cfg.Root,
	}).Info("Filesystem backend initialized")

	return &FilesystemBackend{
		rootPath: cfg.Root,
		meta:     meta,
	}, nil
}

// RootPath returns the directory holding the containers
func (fs *FilesystemBackend) RootPath() string {
	return fs.rootPath
}

// ListContainers lists every container directory
func (fs *FilesystemBackend) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	entries, err := os.ReadDir(fs.rootPath)
	if err != nil {
		return nil, ServiceError(err, "Failed to read root directory")
	}

	result := make([]ContainerInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := fs.containerInfo(entry.Name())
		if err != nil {
			logrus.WithError(err).WithField("container", entry.Name()).Warn("Skipping unreadable container")
			continue
		}
		result = append(result, *info)
	}
	sortContainers(result)
	return result, nil
}

// ContainerExists checks for the container directory
func (fs *FilesystemBackend) ContainerExists(ctx context.Context, name string) (bool, error) {
	dir, err := fs.containerPath(name)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, ServiceError(err, "Failed to stat container '%s'", name)
	}
	return info.IsDir(), nil
}

// GetContainer returns container properties
func (fs *FilesystemBackend) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	if _, err := fs.containerPath(name); err != nil {
		return nil, err
	}
	return fs.containerInfo(name)
}

func (fs *FilesystemBackend) containerInfo(name string) (*ContainerInfo, error) {
	stat, err := os.Stat(filepath.Join(fs.rootPath, name))
	if os.IsNotExist(err) || (err == nil && !stat.IsDir()) {
		return nil, NotFound("Container '%s' does not exist", name)
	} else if err != nil {
		return nil, ServiceError(err, "Failed to stat container '%s'", name)
	}

	info := &ContainerInfo{Name: name, LastModified: stat.ModTime()}
	rec, err := fs.meta.getContainer(name)
	if err != nil {
		return nil, ServiceError(err, "Failed to read metadata of container '%s'", name)
	}
	if rec != nil {
		info.LastModified = rec.Created
		info.Metadata = copyMetadata(rec.Metadata)
	}
	return info, nil
}

// CreateContainer creates the container directory and its metadata record
func (fs *FilesystemBackend) CreateContainer(ctx context.Context, name string, metadata map[string]string) (*ContainerInfo, error) {
	dir, err := fs.containerPath(name)
	if err != nil {
		return nil, err
	}

	if err := os.Mkdir(dir, 0755); err != nil {
		if os.IsExist(err) {
			return nil, ServiceError(err, "Container '%s' already exists", name)
		}
		return nil, ServiceError(err, "Failed to create container '%s'", name)
	}

	rec := &containerRecord{Created: time.Now().UTC(), Metadata: copyMetadata(metadata)}
	if err := fs.meta.putContainer(name, rec); err != nil {
		return nil, ServiceError(err, "Failed to save metadata of container '%s'", name)
	}

	return &ContainerInfo{Name: name, LastModified: rec.Created, Metadata: copyMetadata(rec.Metadata)}, nil
}

// UpdateContainer replaces the container metadata
func (fs *FilesystemBackend) UpdateContainer(ctx context.Context, name string, metadata map[string]string) error {
	info, err := fs.GetContainer(ctx, name)
	if err != nil {
		return err
	}

	rec := &containerRecord{Created: info.LastModified, Metadata: copyMetadata(metadata)}
	if err := fs.meta.putContainer(name, rec); err != nil {
		return ServiceError(err, "Failed to save metadata of container '%s'", name)
	}
	return nil
}

// DeleteContainer removes the container directory; absent containers are a no-op
func (fs *FilesystemBackend) DeleteContainer(ctx context.Context, name string, force bool) error {
	dir, err := fs.containerPath(name)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return ServiceError(err, "Failed to read container '%s'", name)
	}

	if len(entries) > 0 && !force {
		return BadRequest("Container '%s' is not empty", name)
	}

	if err := os.RemoveAll(dir); err != nil {
		return ServiceError(err, "Failed to delete container '%s'", name)
	}
	if err := fs.meta.dropContainer(name); err != nil {
		logrus.WithError(err).WithField("container", name).Warn("Failed to drop container metadata")
	}
	return nil
}

// BlobExists never errors; failures are logged and reported as absent
func (fs *FilesystemBackend) BlobExists(ctx context.Context, container, key string) bool {
	target, err := fs.blobPath(container, key)
	if err != nil {
		return false
	}
	info, err := os.Stat(target)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithError(err).WithFields(logrus.Fields{
				"container": container,
				"key":       key,
			}).Warn("Failed to stat blob")
		}
		return false
	}
	return !info.IsDir()
}

// PutBlob writes data through a temporary file and renames it into place
func (fs *FilesystemBackend) PutBlob(ctx context.Context, container, key string, data io.Reader, size int64, contentType string) error {
	_, err := fs.writeBlob(container, key, data, contentType, nil)
	return err
}

func (fs *FilesystemBackend) writeBlob(container, key string, data io.Reader, contentType string, metadata map[string]string) (string, error) {
	target, err := fs.blobPath(container, key)
	if err != nil {
		return "", err
	}
	if err := fs.requireContainer(container); err != nil {
		return "", err
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return "", BadRequest("A folder named '%s' already exists", key)
	}

	dir := filepath.Dir(target)

	if err := fs.ensureDir(container, dir); err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(dir, tempFilePrefix)
	if err != nil {
		return "", ServiceError(err, "Failed to create temporary file")
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	hasher := md5.New()
	if _, err := io.Copy(io.MultiWriter(tempFile, hasher), data); err != nil {
		return "", ServiceError(err, "Failed to write data for '%s/%s'", container, key)
	}
	if err := tempFile.Close(); err != nil {
		return "", ServiceError(err, "Failed to flush data for '%s/%s'", container, key)
	}

	if err := os.Rename(tempFile.Name(), target); err != nil {
		return "", ServiceError(err, "Failed to move file to final location")
	}

	etag := hex.EncodeToString(hasher.Sum(nil))
	rec := &blobRecord{ContentType: contentType, ETag: etag, Metadata: copyMetadata(metadata)}
	if err := fs.meta.putBlob(container, key, rec); err != nil {
		return "", ServiceError(err, "Failed to save metadata for '%s/%s'", container, key)
	}
	return etag, nil
}

// CopyBlob reads the source and writes it under the destination key
func (fs *FilesystemBackend) CopyBlob(ctx context.Context, container, key, srcContainer, srcKey string) error {
	rc, info, err := fs.GetBlob(ctx, srcContainer, srcKey)
	if err != nil {
		return err
	}
	defer rc.Close()

	_, err = fs.writeBlob(container, key, rc, info.ContentType, info.Metadata)
	return err
}

// GetBlob opens a blob for reading
func (fs *FilesystemBackend) GetBlob(ctx context.Context, container, key string) (io.ReadCloser, *BlobInfo, error) {
	info, err := fs.GetBlobProperties(ctx, container, key)
	if err != nil {
		return nil, nil, err
	}

	target, _ := fs.blobPath(container, key)
	file, err := os.Open(target)
	if err != nil {
		return nil, nil, ServiceError(err, "Failed to open '%s/%s'", container, key)
	}
	return file, info, nil
}

// GetBlobProperties combines file stats with the stored metadata record
func (fs *FilesystemBackend) GetBlobProperties(ctx context.Context, container, key string) (*BlobInfo, error) {
	target, err := fs.blobPath(container, key)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(target)
	if os.IsNotExist(err) || (err == nil && stat.IsDir()) {
		return nil, NotFound("Blob '%s/%s' does not exist", container, key)
	} else if err != nil {
		return nil, ServiceError(err, "Failed to stat '%s/%s'", container, key)
	}

	info := fs.blobInfo(container, key, stat)
	return &info, nil
}

func (fs *FilesystemBackend) blobInfo(container, key string, stat os.FileInfo) BlobInfo {
	info := BlobInfo{
		Name:          key,
		ContentLength: stat.Size(),
		LastModified:  stat.ModTime(),
	}

	rec, err := fs.meta.getBlob(container, key)
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"container": container,
			"key":       key,
		}).Warn("Failed to read blob metadata")
	}
	if rec != nil {
		info.ContentType = rec.ContentType
		info.ETag = rec.ETag
		info.Metadata = copyMetadata(rec.Metadata)
	}
	if info.ContentType == "" && !isMarkerKey(key) {
		info.ContentType = DetectContentType(key)
	}
	return info
}

// SetBlobMetadata replaces the user metadata of a blob
func (fs *FilesystemBackend) SetBlobMetadata(ctx context.Context, container, key string, metadata map[string]string) error {
	info, err := fs.GetBlobProperties(ctx, container, key)
	if err != nil {
		return err
	}

	rec := &blobRecord{ContentType: info.ContentType, ETag: info.ETag, Metadata: copyMetadata(metadata)}
	if err := fs.meta.putBlob(container, key, rec); err != nil {
		return ServiceError(err, "Failed to save metadata for '%s/%s'", container, key)
	}
	return nil
}

// ListBlobs walks the container directory below the prefix
func (fs *FilesystemBackend) ListBlobs(ctx context.Context, container, prefix, delimiter string) ([]BlobInfo, error) {
	if err := fs.requireContainer(container); err != nil {
		return nil, err
	}

	root := fs.containerDir(container)
	start := root
	if idx := strings.LastIndex(prefix, Delimiter); idx >= 0 {
		start = filepath.Join(root, filepath.FromSlash(prefix[:idx]))
	}

	entries := make([]BlobInfo, 0)
	err := filepath.WalkDir(start, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), reservedPrefix) {
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)

		if d.IsDir() {
			key += Delimiter
			if !strings.HasPrefix(key, prefix) && !strings.HasPrefix(prefix, key) {
				return filepath.SkipDir
			}
			if !strings.HasPrefix(key, prefix) {
				return nil
			}
			stat, err := os.Stat(filepath.Join(path, folderMarkerFile))
			if err == nil {
				entries = append(entries, fs.blobInfo(container, key, stat))
			}
			return nil
		}

		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		stat, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, fs.blobInfo(container, key, stat))
		return nil
	})
	if err != nil {
		return nil, ServiceError(err, "Failed to list '%s/%s'", container, prefix)
	}

	return applyDelimiter(entries, prefix, delimiter), nil
}

// DeleteBlob removes a blob; absent blobs are a no-op
func (fs *FilesystemBackend) DeleteBlob(ctx context.Context, container, key string) error {
	target, err := fs.blobPath(container, key)
	if err != nil {
		return err
	}

	info, err := os.Stat(target)
	if os.IsNotExist(err) || (err == nil && info.IsDir()) {
		return nil
	} else if err != nil {
		return ServiceError(err, "Failed to stat '%s/%s'", container, key)
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return ServiceError(err, "Failed to delete '%s/%s'", container, key)
	}
	if err := fs.meta.deleteBlob(container, key); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"container": container,
			"key":       key,
		}).Warn("Failed to delete blob metadata")
	}

	fs.pruneEmptyDirs(container, filepath.Dir(target))
	return nil
}

// Close closes the metadata store
func (fs *FilesystemBackend) Close() error {
	return fs.meta.close()
}

// Helper methods

func (fs *FilesystemBackend) containerDir(name string) string {
	return filepath.Join(fs.rootPath, name)
}

// containerPath validates a container name and returns its directory
func (fs *FilesystemBackend) containerPath(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, "/\\:") {
		return "", ErrInvalidContainer
	}
	return fs.containerDir(name), nil
}

// blobPath maps a key to its file; a marker key maps to the marker file
// inside the folder directory.
func (fs *FilesystemBackend) blobPath(container, key string) (string, error) {
	dir, err := fs.containerPath(container)
	if err != nil {
		return "", err
	}
	if err := validateKey(key); err != nil {
		return "", err
	}
	for _, segment := range strings.Split(key, Delimiter) {
		if strings.HasPrefix(segment, reservedPrefix) || strings.ContainsRune(segment, '\\') {
			return "", ErrInvalidPath
		}
	}

	if isMarkerKey(key) {
		return filepath.Join(dir, filepath.FromSlash(strings.TrimSuffix(key, Delimiter)), folderMarkerFile), nil
	}
	return filepath.Join(dir, filepath.FromSlash(key)), nil
}

func (fs *FilesystemBackend) requireContainer(name string) error {
	exists, err := fs.ContainerExists(context.Background(), name)
	if err != nil {
		return err
	}
	if !exists {
		return NotFound("Container '%s' does not exist", name)
	}
	return nil
}
