package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Store queries and maintains the audit trail
type Store struct {
	db *sql.DB
}

// NewStore creates an audit query store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Search returns audit records matching the filter, newest first
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]*Record, int64, error) {
	where, args := buildWhere(filter)

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit records: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`
		SELECT id, timestamp, action, status, user_id, username,
			job_id, job_desc, app_name, ip_address, request_id, detail, metadata
		FROM audit_logs%s
		ORDER BY timestamp DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search audit records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var r Record
		var username, jobDesc, appName, ipAddress, requestID, detail sql.NullString
		var metadata sql.NullString
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Action, &r.Status, &r.UserID, &username,
			&r.JobID, &jobDesc, &appName, &ipAddress, &requestID, &detail, &metadata); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit record: %w", err)
		}
		r.Username = username.String
		r.JobDesc = jobDesc.String
		r.AppName = appName.String
		r.IPAddress = ipAddress.String
		r.RequestID = requestID.String
		r.Detail = detail.String
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &r.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		records = append(records, &r)
	}

	return records, total, rows.Err()
}

// GetStats summarizes the trail within an optional time range
func (s *Store) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	where, args := buildWhere(SearchFilter{StartTime: startTime, EndTime: endTime})

	stats := &Stats{
		RecordsByAction: make(map[Action]int64),
		RecordsByStatus: make(map[Status]int64),
	}

	query := "SELECT COUNT(*), COUNT(DISTINCT user_id) FROM audit_logs" + where
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalRecords, &stats.UniqueUsers); err != nil {
		return nil, fmt.Errorf("failed to compute audit totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT action, status, COUNT(*) FROM audit_logs"+where+" GROUP BY action, status", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group audit records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var action Action
		var status Status
		var count int64
		if err := rows.Scan(&action, &status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan audit group: %w", err)
		}
		stats.RecordsByAction[action] += count
		stats.RecordsByStatus[status] += count
	}

	return stats, rows.Err()
}

// Cleanup deletes records older than the retention window and returns how
// many were removed.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit records: %w", err)
	}

	return result.RowsAffected()
}

func buildWhere(filter SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.JobID != nil {
		add("job_id = $%d", *filter.JobID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if len(filter.Actions) > 0 {
		placeholders := make([]string, 0, len(filter.Actions))
		for _, action := range filter.Actions {
			args = append(args, string(action))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		clauses = append(clauses, "action IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
