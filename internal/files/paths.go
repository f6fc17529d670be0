package files

import (
	"strings"

	"github.com/blobgate/blobgate/internal/storage"
)

// NormalizeFolderPath strips the leading '/' and ensures a trailing one.
// The root folder normalizes to "".
func NormalizeFolderPath(path string) (string, error) {
	path = strings.TrimLeft(path, storage.Delimiter)
	if path == "" {
		return "", nil
	}
	if !strings.HasSuffix(path, storage.Delimiter) {
		path += storage.Delimiter
	}
	if err := checkSegments(strings.TrimSuffix(path, storage.Delimiter)); err != nil {
		return "", err
	}
	return path, nil
}

// NormalizeFilePath strips the leading '/'; file paths never end with '/'
func NormalizeFilePath(path string) (string, error) {
	path = strings.TrimLeft(path, storage.Delimiter)
	if path == "" {
		return "", storage.BadRequest("No file path provided")
	}
	if strings.HasSuffix(path, storage.Delimiter) {
		return "", storage.BadRequest("File path '%s' cannot end with '/'", path)
	}
	if err := checkSegments(path); err != nil {
		return "", err
	}
	return path, nil
}

func checkSegments(path string) error {
	for _, segment := range strings.Split(path, storage.Delimiter) {
		if segment == "" || segment == "." || segment == ".." {
			return storage.BadRequest("Invalid path '%s'", path)
		}
	}
	return nil
}

// ParentPath returns the folder holding a folder or file path
func ParentPath(path string) string {
	trimmed := strings.TrimSuffix(path, storage.Delimiter)
	idx := strings.LastIndex(trimmed, storage.Delimiter)
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// BaseName returns the last segment of a folder or file path
func BaseName(path string) string {
	trimmed := strings.TrimSuffix(path, storage.Delimiter)
	return trimmed[strings.LastIndex(trimmed, storage.Delimiter)+1:]
}
