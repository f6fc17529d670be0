package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func setupTestDB(t *testing.T) (*Manager, *SQLiteStore, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "audit-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	store, err := NewSQLiteStore(filepath.Join(tempDir, "audit_test.db"), logger)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	mgr := NewManager(store, logger)

	cleanup := func() {
		mgr.Close()
		os.RemoveAll(tempDir)
	}

	return mgr, store, cleanup
}

func logEvents(t *testing.T, mgr *Manager, events []*AuditEvent) {
	t.Helper()
	for _, event := range events {
		if err := mgr.LogEvent(context.Background(), event); err != nil {
			t.Fatalf("Failed to log event: %v", err)
		}
	}
}

func TestLogEvent(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	err := mgr.LogEvent(ctx, &AuditEvent{
		Service:      "files",
		Container:    "docs",
		Path:         "reports/q1.pdf",
		EventType:    EventTypeFileWritten,
		ResourceType: ResourceTypeFile,
		Action:       ActionCreate,
		StatusCode:   201,
		RequestID:    "req-1",
		IPAddress:    "192.168.1.1",
		UserAgent:    "curl/8.0",
		Details:      map[string]interface{}{"size": 1024},
	})
	if err != nil {
		t.Fatalf("Failed to log event: %v", err)
	}

	logs, total, err := mgr.GetLogs(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("Expected 1 log, got total=%d len=%d", total, len(logs))
	}

	log := logs[0]
	if log.Status != StatusSuccess {
		t.Errorf("Expected derived status %s, got %s", StatusSuccess, log.Status)
	}
	if log.Path != "reports/q1.pdf" || log.RequestID != "req-1" || log.StatusCode != 201 {
		t.Errorf("Unexpected log fields: %+v", log)
	}
	if log.Details["size"] != float64(1024) {
		t.Errorf("Expected details size 1024, got %v", log.Details["size"])
	}
}

func TestLogEvent_DerivesFailedStatus(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	logEvents(t, mgr, []*AuditEvent{
		{Service: "files", EventType: EventTypeFolderDeleted, Action: ActionDelete, StatusCode: 404},
	})

	logs, _, err := mgr.GetLogs(context.Background(), &AuditLogFilters{Status: StatusFailed})
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 failed log, got %d", len(logs))
	}
}

func TestLogEvent_DropsIncompleteEvents(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	for _, event := range []*AuditEvent{
		nil,
		{Service: "files", Action: ActionCreate},
		{Service: "files", EventType: EventTypeFileWritten},
	} {
		if err := mgr.LogEvent(ctx, event); err != nil {
			t.Fatalf("Incomplete event should be dropped silently: %v", err)
		}
	}

	_, total, err := mgr.GetLogs(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected no stored logs, got %d", total)
	}
}

func TestGetLogs_Filters(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	logEvents(t, mgr, []*AuditEvent{
		{Service: "files", Container: "a", EventType: EventTypeContainerCreated, ResourceType: ResourceTypeContainer, Action: ActionCreate, StatusCode: 201},
		{Service: "files", Container: "a", EventType: EventTypeFileWritten, ResourceType: ResourceTypeFile, Action: ActionCreate, StatusCode: 201},
		{Service: "files", Container: "b", EventType: EventTypeFileDeleted, ResourceType: ResourceTypeFile, Action: ActionDelete, StatusCode: 404},
		{Service: "s3", Container: "a", EventType: EventTypeFileWritten, ResourceType: ResourceTypeFile, Action: ActionCreate, StatusCode: 201},
	})

	tests := []struct {
		name    string
		filters AuditLogFilters
		want    int
	}{
		{"all", AuditLogFilters{}, 4},
		{"service", AuditLogFilters{Service: "files"}, 3},
		{"service and container", AuditLogFilters{Service: "files", Container: "a"}, 2},
		{"event type", AuditLogFilters{EventType: EventTypeFileWritten}, 2},
		{"resource type", AuditLogFilters{ResourceType: ResourceTypeContainer}, 1},
		{"action", AuditLogFilters{Action: ActionDelete}, 1},
		{"status", AuditLogFilters{Status: StatusFailed}, 1},
		{"no match", AuditLogFilters{Service: "nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filters := tt.filters
			logs, total, err := mgr.GetLogs(context.Background(), &filters)
			if err != nil {
				t.Fatalf("Failed to get logs: %v", err)
			}
			if total != tt.want || len(logs) != tt.want {
				t.Errorf("Expected %d logs, got total=%d len=%d", tt.want, total, len(logs))
			}
		})
	}
}

func TestGetLogs_DateRange(t *testing.T) {
	mgr, store, cleanup := setupTestDB(t)
	defer cleanup()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.AddDate(0, 0, i)
		store.now = func() time.Time { return at }
		logEvents(t, mgr, []*AuditEvent{{Service: "files", EventType: EventTypeFileWritten, Action: ActionCreate}})
	}

	logs, total, err := mgr.GetLogs(context.Background(), &AuditLogFilters{
		StartDate: base.AddDate(0, 0, 1).Unix(),
		EndDate:   base.AddDate(0, 0, 2).Unix(),
	})
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if total != 2 {
		t.Fatalf("Expected 2 logs in range, got %d", total)
	}
	if logs[0].Timestamp < logs[1].Timestamp {
		t.Errorf("Expected newest first")
	}
}

func TestGetLogs_Pagination(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	var events []*AuditEvent
	for i := 0; i < 25; i++ {
		events = append(events, &AuditEvent{Service: "files", EventType: EventTypeFileWritten, Action: ActionCreate})
	}
	logEvents(t, mgr, events)

	ctx := context.Background()
	seen := make(map[int64]bool)
	for page := 1; page <= 3; page++ {
		logs, total, err := mgr.GetLogs(ctx, &AuditLogFilters{Page: page, PageSize: 10})
		if err != nil {
			t.Fatalf("Failed to get page %d: %v", page, err)
		}
		if total != 25 {
			t.Errorf("Expected total 25, got %d", total)
		}
		for _, log := range logs {
			if seen[log.ID] {
				t.Errorf("Log %d returned twice", log.ID)
			}
			seen[log.ID] = true
		}
	}
	if len(seen) != 25 {
		t.Errorf("Expected 25 distinct logs across pages, got %d", len(seen))
	}

	filters := &AuditLogFilters{PageSize: 1000}
	if _, _, err := mgr.GetLogs(ctx, filters); err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if filters.PageSize != MaxPageSize {
		t.Errorf("Expected page size clamped to %d, got %d", MaxPageSize, filters.PageSize)
	}
}

func TestGetLogByID(t *testing.T) {
	mgr, _, cleanup := setupTestDB(t)
	defer cleanup()

	logEvents(t, mgr, []*AuditEvent{{Service: "files", Container: "c", EventType: EventTypeFolderCreated, Action: ActionCreate}})

	ctx := context.Background()
	logs, _, err := mgr.GetLogs(ctx, nil)
	if err != nil || len(logs) != 1 {
		t.Fatalf("Failed to get logs: %v", err)
	}

	log, err := mgr.GetLogByID(ctx, logs[0].ID)
	if err != nil {
		t.Fatalf("Failed to get log by ID: %v", err)
	}
	if log.Container != "c" || log.EventType != EventTypeFolderCreated {
		t.Errorf("Unexpected log: %+v", log)
	}

	if _, err := mgr.GetLogByID(ctx, 99999); err == nil {
		t.Error("Expected error for missing log")
	}
}

func TestPurgeLogs(t *testing.T) {
	mgr, store, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now()
	store.now = func() time.Time { return now.AddDate(0, 0, -10) }
	logEvents(t, mgr, []*AuditEvent{{Service: "files", EventType: EventTypeFileDeleted, Action: ActionDelete}})
	store.now = func() time.Time { return now }
	logEvents(t, mgr, []*AuditEvent{{Service: "files", EventType: EventTypeFileDeleted, Action: ActionDelete}})

	ctx := context.Background()
	if count, _ := mgr.PurgeLogs(ctx, 0); count != 0 {
		t.Errorf("Expected purge with 0 days to be a no-op, deleted %d", count)
	}

	deleted, err := mgr.PurgeLogs(ctx, 7)
	if err != nil {
		t.Fatalf("Failed to purge logs: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted log, got %d", deleted)
	}

	_, total, err := mgr.GetLogs(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to get logs: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 remaining log, got %d", total)
	}
}

func TestStartRetentionJob(t *testing.T) {
	mgr, store, cleanup := setupTestDB(t)
	defer cleanup()

	store.now = func() time.Time { return time.Now().AddDate(0, 0, -30) }
	logEvents(t, mgr, []*AuditEvent{{Service: "files", EventType: EventTypeFileDeleted, Action: ActionDelete}})
	store.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mgr.StartRetentionJob(ctx, 7)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_, total, err := mgr.GetLogs(context.Background(), nil)
		if err == nil && total == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Retention job did not purge the old log")
}
