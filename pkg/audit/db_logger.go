package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DBRecorder persists audit records to the database
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a database-backed audit recorder and ensures the
// audit_logs table exists.
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	r := &DBRecorder{db: db}
	if err := r.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_logs table: %w", err)
	}
	return r, nil
}

func (r *DBRecorder) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		action VARCHAR(50) NOT NULL,
		status VARCHAR(20) NOT NULL,
		user_id BIGINT NOT NULL,
		username VARCHAR(255),
		job_id BIGINT NOT NULL,
		job_desc TEXT,
		app_name VARCHAR(255),
		ip_address VARCHAR(45),
		request_id VARCHAR(100),
		detail TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_job_id ON audit_logs(job_id);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
	`

	_, err := r.db.Exec(query)
	return err
}

// Record appends one audit entry
func (r *DBRecorder) Record(ctx context.Context, record *Record) error {
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	var metadataJSON []byte
	if record.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(record.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, action, status,
			user_id, username,
			job_id, job_desc, app_name,
			ip_address, request_id,
			detail, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12
		) RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		record.Timestamp, record.Action, record.Status,
		record.UserID, record.Username,
		record.JobID, record.JobDesc, record.AppName,
		record.IPAddress, record.RequestID,
		record.Detail, nullableBytes(metadataJSON),
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}

// Close is a no-op: records are written synchronously
func (r *DBRecorder) Close() error {
	return nil
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
