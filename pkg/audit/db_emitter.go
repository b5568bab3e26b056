package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DBEmitter persists audit entries to the audit_logs table.
type DBEmitter struct {
	db *sql.DB
}

// NewDBEmitter creates a database-backed audit emitter
func NewDBEmitter(db *sql.DB) (*DBEmitter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBEmitter{db: db}, nil
}

// Record inserts a single audit entry
func (e *DBEmitter) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO audit_logs (target_id, target_type, action_type, new_value, changed_by, ip_address, request_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var newValue interface{}
	if entry.NewValue != nil {
		newValue = string(entry.NewValue)
	}

	err := e.db.QueryRowContext(ctx, query,
		entry.TargetID,
		entry.TargetType,
		entry.ActionType,
		newValue,
		entry.ChangedBy,
		entry.IPAddress,
		entry.RequestID,
		createdAt,
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}

	return nil
}

// Search returns audit entries matching the filter, newest first.
func (e *DBEmitter) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	var conditions []string
	var args []interface{}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.TargetID != "" {
		addCondition("target_id = $%d", filter.TargetID)
	}
	if filter.TargetType != "" {
		addCondition("target_type = $%d", filter.TargetType)
	}
	if filter.ActionType != "" {
		addCondition("action_type = $%d", filter.ActionType)
	}
	if filter.ChangedBy != nil {
		addCondition("changed_by = $%d", *filter.ChangedBy)
	}
	if filter.StartTime != nil {
		addCondition("created_at >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		addCondition("created_at <= $%d", *filter.EndTime)
	}

	query := "SELECT id, target_id, target_type, action_type, new_value, changed_by, ip_address, request_id, created_at FROM audit_logs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var newValue, ipAddress, requestID sql.NullString
		var changedBy sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.TargetID,
			&entry.TargetType,
			&entry.ActionType,
			&newValue,
			&changedBy,
			&ipAddress,
			&requestID,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		if newValue.Valid {
			entry.NewValue = []byte(newValue.String)
		}
		if changedBy.Valid {
			if id, err := uuid.Parse(changedBy.String); err == nil {
				entry.ChangedBy = &id
			}
		}
		entry.IPAddress = ipAddress.String
		entry.RequestID = requestID.String

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Cleanup deletes entries older than the retention window and reports how
// many rows were removed.
func (e *DBEmitter) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := e.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit entries: %w", err)
	}

	return result.RowsAffected()
}
