package audit

import "context"

// Event types
const (
	EventTypeContainerCreated = "container_created"
	EventTypeContainerDeleted = "container_deleted"
	EventTypeContainerUpdated = "container_updated"
	EventTypeFolderCreated    = "folder_created"
	EventTypeFolderDeleted    = "folder_deleted"
	EventTypeFolderUpdated    = "folder_updated"
	EventTypeFileWritten      = "file_written"
	EventTypeFileDeleted      = "file_deleted"
	EventTypeFileUpdated      = "file_updated"
	EventTypeArchiveExtracted = "archive_extracted"
	EventTypeBatch            = "batch"
)

// Resource types
const (
	ResourceTypeContainer = "container"
	ResourceTypeFolder    = "folder"
	ResourceTypeFile      = "file"
)

// Actions
const (
	ActionCreate  = "create"
	ActionDelete  = "delete"
	ActionUpdate  = "update"
	ActionExtract = "extract"
)

// Status
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AuditEvent is a mutation to be recorded
type AuditEvent struct {
	Service      string                 // Configured service name
	Container    string                 // Container affected
	Path         string                 // Folder or file path inside the container
	EventType    string                 // See event type constants
	ResourceType string                 // container, folder or file
	Action       string                 // create, delete, update, extract
	Status       string                 // success or failed
	StatusCode   int                    // HTTP status returned to the caller
	RequestID    string                 // X-Request-ID of the call
	IPAddress    string                 // Client IP address
	UserAgent    string                 // Client user agent
	Details      map[string]interface{} // Stored as JSON
}

// AuditLog is a stored audit record
type AuditLog struct {
	ID           int64                  `json:"id"`
	Timestamp    int64                  `json:"timestamp"` // Unix seconds
	Service      string                 `json:"service"`
	Container    string                 `json:"container"`
	Path         string                 `json:"path"`
	EventType    string                 `json:"event_type"`
	ResourceType string                 `json:"resource_type"`
	Action       string                 `json:"action"`
	Status       string                 `json:"status"`
	StatusCode   int                    `json:"status_code"`
	RequestID    string                 `json:"request_id"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	Details      map[string]interface{} `json:"details"`
}

// AuditLogFilters for querying logs
type AuditLogFilters struct {
	Service      string
	Container    string
	EventType    string
	ResourceType string
	Action       string
	Status       string
	StartDate    int64 // Unix seconds
	EndDate      int64 // Unix seconds
	Page         int   // 1-based
	PageSize     int
}

// Store defines the interface for audit log storage
type Store interface {
	LogEvent(ctx context.Context, event *AuditEvent) error

	// GetLogs returns one page of matching logs, newest first, and the total match count
	GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error)

	GetLogByID(ctx context.Context, id int64) (*AuditLog, error)

	// PurgeLogs deletes logs older than the given number of days
	PurgeLogs(ctx context.Context, olderThanDays int) (int, error)

	Close() error
}
