package storage

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ensureDir creates dir inside a container. An existing file anywhere on the
// way is a conflict between a file and a folder of the same name.
func (fs *FilesystemBackend) ensureDir(container, dir string) error {
	root := fs.containerDir(container)
	for current := dir; current != root && current != filepath.Dir(current); current = filepath.Dir(current) {
		info, err := os.Stat(current)
		if err == nil && !info.IsDir() {
			rel, _ := filepath.Rel(root, current)
			return BadRequest("A file named '%s' already exists", filepath.ToSlash(rel))
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return ServiceError(err, "Failed to create directory")
	}
	return nil
}

// pruneEmptyDirs removes directories left empty by a delete, walking up until
// it meets a folder marker, a non-empty directory or the container itself.
// Directories never back a folder on their own, so dropping them changes
// nothing a listing can see.
func (fs *FilesystemBackend) pruneEmptyDirs(container, dir string) {
	root := fs.containerDir(container)
	for current := dir; current != root && current != filepath.Dir(current); current = filepath.Dir(current) {
		if _, err := os.Stat(filepath.Join(current, folderMarkerFile)); err == nil {
			return
		}
		if err := os.Remove(current); err != nil {
			if !os.IsNotExist(err) {
				logrus.WithField("path", current).Trace("Stopped pruning at non-empty directory")
				return
			}
		}
	}
}
