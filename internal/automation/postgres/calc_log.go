package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianhealth/hr-analytics/internal/automation"
)

const (
	queryAppendLogEntry = `
		INSERT INTO calculation_log (
			id, metric_id, entry_type, status, execution_time_ms,
			records_processed, error_message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	queryRecentLogEntries = `
		SELECT id, metric_id, entry_type, status, execution_time_ms,
		       records_processed, error_message, created_at
		FROM calculation_log
		ORDER BY created_at DESC
		LIMIT $1
	`
)

// CalcLog implements automation.CalcLog on PostgreSQL. Entries are
// append-only; nothing updates or deletes them outside retention cleanup.
type CalcLog struct {
	db *sql.DB
}

// NewCalcLog shares the given connection pool.
func NewCalcLog(db *sql.DB) *CalcLog {
	return &CalcLog{db: db}
}

// Append writes one log entry.
func (l *CalcLog) Append(ctx context.Context, entry automation.LogEntry) error {
	var metricID sql.NullString
	if entry.MetricID != "" {
		metricID = sql.NullString{String: entry.MetricID, Valid: true}
	}
	var errorMessage sql.NullString
	if entry.ErrorMessage != "" {
		errorMessage = sql.NullString{String: entry.ErrorMessage, Valid: true}
	}

	_, err := l.db.ExecContext(ctx, queryAppendLogEntry,
		entry.ID,
		metricID,
		entry.Type,
		entry.Status,
		entry.ExecutionTimeMs,
		entry.RecordsProcessed,
		errorMessage,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append calculation log entry: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (l *CalcLog) Recent(ctx context.Context, limit int) ([]automation.LogEntry, error) {
	rows, err := l.db.QueryContext(ctx, queryRecentLogEntries, limit)
	if err != nil {
		return nil, fmt.Errorf("recent calculation log entries: %w", err)
	}
	defer rows.Close()

	var entries []automation.LogEntry
	for rows.Next() {
		var entry automation.LogEntry
		var metricID, errorMessage sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&metricID,
			&entry.Type,
			&entry.Status,
			&entry.ExecutionTimeMs,
			&entry.RecordsProcessed,
			&errorMessage,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan calculation log entry: %w", err)
		}
		entry.MetricID = metricID.String
		entry.ErrorMessage = errorMessage.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calculation log entries: %w", err)
	}
	return entries, nil
}
