package storage

import (
	"sort"
	"strings"
)

// Delimiter separates path segments in keys
const Delimiter = "/"

func isMarkerKey(key string) bool {
	return strings.HasSuffix(key, Delimiter)
}

// validateKey rejects keys that cannot be mapped safely on every backend
func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, Delimiter) {
		return ErrInvalidPath
	}
	for _, segment := range strings.Split(strings.TrimSuffix(key, Delimiter), Delimiter) {
		if segment == "" || segment == "." || segment == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}

// applyDelimiter folds a flat listing into the dual shape of a delimited one:
// entries whose remainder after prefix contains the delimiter collapse into a
// single common-prefix entry. Output is sorted by name.
func applyDelimiter(entries []BlobInfo, prefix, delimiter string) []BlobInfo {
	if delimiter == "" {
		sortBlobs(entries)
		return entries
	}

	result := make([]BlobInfo, 0, len(entries))
	seen := make(map[string]bool)

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name, prefix) {
			continue
		}
		rest := entry.Name[len(prefix):]
		if idx := strings.Index(rest, delimiter); idx >= 0 {
			// a marker one level down is reported as its own prefix
			commonPrefix := prefix + rest[:idx+len(delimiter)]
			if !seen[commonPrefix] {
				seen[commonPrefix] = true
				result = append(result, BlobInfo{Name: commonPrefix, IsPrefix: true})
			}
			continue
		}
		result = append(result, entry)
	}

	sortBlobs(result)
	return result
}

func sortBlobs(entries []BlobInfo) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}

func sortContainers(containers []ContainerInfo) {
	sort.Slice(containers, func(i, j int) bool {
		return containers[i].Name < containers[j].Name
	})
}
