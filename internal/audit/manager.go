package audit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Page size bounds for GetLogs
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Manager records mutations of the gateway and serves them back
type Manager struct {
	store  Store
	logger *logrus.Logger
}

// NewManager creates a new audit manager
func NewManager(store Store, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// LogEvent records an audit event. Events without a type or action are
// dropped with a warning; a missing status is derived from StatusCode.
func (m *Manager) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		m.logger.Warn("Attempted to log nil audit event")
		return nil
	}

	if event.EventType == "" {
		m.logger.Warn("Audit event missing required EventType field")
		return nil
	}

	if event.Action == "" {
		m.logger.Warn("Audit event missing required Action field")
		return nil
	}

	if event.Status == "" {
		event.Status = StatusSuccess
		if event.StatusCode >= 400 {
			event.Status = StatusFailed
		}
	}

	err := m.store.LogEvent(ctx, event)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"service":    event.Service,
			"container":  event.Container,
			"action":     event.Action,
		}).Error("Failed to log audit event")
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"event_type": event.EventType,
		"service":    event.Service,
		"container":  event.Container,
		"path":       event.Path,
		"status":     event.Status,
		"request_id": event.RequestID,
	}).Debug("Audit event logged")

	return nil
}

// GetLogs retrieves one page of audit logs
func (m *Manager) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	if filters == nil {
		filters = &AuditLogFilters{}
	}

	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 {
		filters.PageSize = DefaultPageSize
	}
	if filters.PageSize > MaxPageSize {
		filters.PageSize = MaxPageSize
	}

	logs, total, err := m.store.GetLogs(ctx, filters)
	if err != nil {
		m.logger.WithError(err).Error("Failed to retrieve audit logs")
		return nil, 0, err
	}

	m.logger.WithFields(logrus.Fields{
		"total_logs": total,
		"page":       filters.Page,
		"page_size":  filters.PageSize,
	}).Debug("Retrieved audit logs")

	return logs, total, nil
}

// GetLogByID retrieves a single log entry
func (m *Manager) GetLogByID(ctx context.Context, id int64) (*AuditLog, error) {
	log, err := m.store.GetLogByID(ctx, id)
	if err != nil {
		m.logger.WithError(err).WithField("log_id", id).Error("Failed to retrieve audit log by ID")
		return nil, err
	}

	return log, nil
}

// PurgeLogs deletes logs older than specified days (maintenance)
func (m *Manager) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		m.logger.Warn("Invalid retention days for purge operation")
		return 0, nil
	}

	count, err := m.store.PurgeLogs(ctx, olderThanDays)
	if err != nil {
		m.logger.WithError(err).WithField("retention_days", olderThanDays).Error("Failed to purge old audit logs")
		return 0, err
	}

	m.logger.WithFields(logrus.Fields{
		"deleted_count":  count,
		"retention_days": olderThanDays,
	}).Info("Successfully purged old audit logs")

	return count, nil
}

// StartRetentionJob purges old logs now and then once a day until ctx is done
func (m *Manager) StartRetentionJob(ctx context.Context, retentionDays int) {
	if retentionDays <= 0 {
		m.logger.Info("Audit log retention disabled (retention_days <= 0)")
		return
	}

	m.logger.WithField("retention_days", retentionDays).Info("Starting audit log retention job")

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		m.runRetentionCleanup(ctx, retentionDays)

		for {
			select {
			case <-ctx.Done():
				m.logger.Info("Stopping audit log retention job")
				return
			case <-ticker.C:
				m.runRetentionCleanup(ctx, retentionDays)
			}
		}
	}()
}

func (m *Manager) runRetentionCleanup(ctx context.Context, retentionDays int) {
	m.logger.WithField("retention_days", retentionDays).Debug("Running audit log retention cleanup")

	count, err := m.PurgeLogs(ctx, retentionDays)
	if err != nil {
		m.logger.WithError(err).Error("Audit log retention cleanup failed")
		return
	}

	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			"deleted_count":  count,
			"retention_days": retentionDays,
		}).Info("Audit log retention cleanup completed")
	}
}

// Close closes the audit manager and underlying store
func (m *Manager) Close() error {
	if m.store != nil {
		return m.store.Close()
	}
	return nil
}
