package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const logColumns = `id, timestamp, service, container, path, event_type,
	resource_type, action, status, status_code, request_id,
	ip_address, user_agent, details`

// SQLiteStore implements Store on SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewSQLiteStore opens or creates the audit database at dbPath
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	// SQLite serializes writers
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &SQLiteStore{
		db:     db,
		logger: logger,
		now:    time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("Audit log SQLite store initialized")
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		service TEXT NOT NULL,
		container TEXT,
		path TEXT,
		event_type TEXT NOT NULL,
		resource_type TEXT,
		action TEXT NOT NULL,
		status TEXT NOT NULL,
		status_code INTEGER NOT NULL DEFAULT 0,
		request_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		details TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_service ON audit_logs(service, container);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_status ON audit_logs(status);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

// LogEvent records an audit event
func (s *SQLiteStore) LogEvent(ctx context.Context, event *AuditEvent) error {
	detailsJSON := "{}"
	if len(event.Details) > 0 {
		detailsBytes, err := json.Marshal(event.Details)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to marshal audit event details to JSON")
		} else {
			detailsJSON = string(detailsBytes)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, service, container, path, event_type,
			resource_type, action, status, status_code, request_id,
			ip_address, user_agent, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		s.now().Unix(),
		event.Service,
		event.Container,
		event.Path,
		event.EventType,
		event.ResourceType,
		event.Action,
		event.Status,
		event.StatusCode,
		event.RequestID,
		event.IPAddress,
		event.UserAgent,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// GetLogs returns a page of logs matching filters, newest first
func (s *SQLiteStore) GetLogs(ctx context.Context, filters *AuditLogFilters) ([]*AuditLog, int, error) {
	whereClause, args := buildWhereClause(filters)

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", whereClause)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	offset := (filters.Page - 1) * filters.PageSize
	query := fmt.Sprintf(`
		SELECT %s
		FROM audit_logs %s
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, logColumns, whereClause)

	args = append(args, filters.PageSize, offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log, err := s.scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return logs, total, nil
}

// GetLogByID retrieves a single log entry
func (s *SQLiteStore) GetLogByID(ctx context.Context, id int64) (*AuditLog, error) {
	query := fmt.Sprintf("SELECT %s FROM audit_logs WHERE id = ?", logColumns)

	log, err := s.scanLog(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("audit log not found: %d", id)
	}
	return log, err
}

// PurgeLogs deletes logs older than the given number of days
func (s *SQLiteStore) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -olderThanDays).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted rows count: %w", err)
	}
	return int(deleted), nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func buildWhereClause(filters *AuditLogFilters) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(condition string, value interface{}) {
		conditions = append(conditions, condition)
		args = append(args, value)
	}

	if filters.Service != "" {
		add("service = ?", filters.Service)
	}
	if filters.Container != "" {
		add("container = ?", filters.Container)
	}
	if filters.EventType != "" {
		add("event_type = ?", filters.EventType)
	}
	if filters.ResourceType != "" {
		add("resource_type = ?", filters.ResourceType)
	}
	if filters.Action != "" {
		add("action = ?", filters.Action)
	}
	if filters.Status != "" {
		add("status = ?", filters.Status)
	}
	if filters.StartDate > 0 {
		add("timestamp >= ?", filters.StartDate)
	}
	if filters.EndDate > 0 {
		add("timestamp <= ?", filters.EndDate)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteStore) scanLog(row rowScanner) (*AuditLog, error) {
	log := &AuditLog{}
	var container, path, resourceType, requestID, ipAddress, userAgent, detailsJSON sql.NullString

	err := row.Scan(
		&log.ID,
		&log.Timestamp,
		&log.Service,
		&container,
		&path,
		&log.EventType,
		&resourceType,
		&log.Action,
		&log.Status,
		&log.StatusCode,
		&requestID,
		&ipAddress,
		&userAgent,
		&detailsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	log.Container = container.String
	log.Path = path.String
	log.ResourceType = resourceType.String
	log.RequestID = requestID.String
	log.IPAddress = ipAddress.String
	log.UserAgent = userAgent.String

	log.Details = make(map[string]interface{})
	if detailsJSON.Valid && detailsJSON.String != "" && detailsJSON.String != "{}" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &log.Details); err != nil {
			s.logger.WithError(err).Warn("Failed to unmarshal audit log details")
			log.Details = make(map[string]interface{})
		}
	}
	return log, nil
}
