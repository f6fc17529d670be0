package files

import (
	"time"

	"github.com/blobgate/blobgate/internal/storage"
)

// Resource types of folder and file descriptors
const (
	TypeFolder = "folder"
	TypeFile   = "file"
)

// FolderContentType is stored on folder markers
const FolderContentType = "application/x-directory"

// FolderNode is a folder projected from the keys sharing its prefix.
// The root folder has an empty path; every other path ends with '/'.
type FolderNode struct {
	Container    string                 `json:"container,omitempty"`
	Name         string                 `json:"name"`
	Path         string                 `json:"path"`
	LastModified *time.Time             `json:"last_modified,omitempty"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
	Folder       []FolderNode           `json:"folder,omitempty"`
	File         []FileNode             `json:"file,omitempty"`
}

// FileNode describes a stored file
type FileNode struct {
	Container     string            `json:"container,omitempty"`
	Name          string            `json:"name"`
	Path          string            `json:"path"`
	ContentType   string            `json:"content_type,omitempty"`
	ContentLength int64             `json:"content_length"`
	LastModified  *time.Time        `json:"last_modified,omitempty"`
	ETag          string            `json:"etag,omitempty"`
	Properties    map[string]string `json:"properties,omitempty"`
	Content       []byte            `json:"-"`
}

// ListOptions selects what GetFolder returns
type ListOptions struct {
	IncludeFiles      bool
	IncludeFolders    bool
	FullTree          bool
	IncludeProperties bool
}

// DefaultListOptions lists direct children of both kinds
func DefaultListOptions() ListOptions {
	return ListOptions{IncludeFiles: true, IncludeFolders: true}
}

// Entry is one item of a batch create or delete. Path, when set, is relative
// to the container; otherwise Name is resolved against the batch folder.
type Entry struct {
	Name            string
	Path            string
	Type            string
	Content         []byte
	ContentType     string
	Properties      map[string]interface{}
	SourceContainer string
	SourcePath      string
}

// Result is the per-item outcome of a batch operation
type Result struct {
	Name  string             `json:"name"`
	Path  string             `json:"path"`
	Type  string             `json:"type"`
	Error *storage.ItemError `json:"error,omitempty"`
}

// BatchRecorder receives one observation per batch call
type BatchRecorder interface {
	RecordBatch(operation string, items, failures int)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
