package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/automation"
)

const (
	queryListScheduleEntries = `
		SELECT metric_id, cadence_seconds, last_generated_at, next_generated_at
		FROM schedule_entries
		ORDER BY metric_id ASC
	`

	queryUpdateScheduleRun = `
		UPDATE schedule_entries
		SET last_generated_at = $1, next_generated_at = $2
		WHERE metric_id = $3
	`
)

// ScheduleStore implements automation.ScheduleStore on PostgreSQL.
type ScheduleStore struct {
	db *sql.DB
}

// NewScheduleStore shares the given connection pool.
func NewScheduleStore(db *sql.DB) *ScheduleStore {
	return &ScheduleStore{db: db}
}

// List returns all schedule entries in stable metric-id order.
func (s *ScheduleStore) List(ctx context.Context) ([]automation.ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, queryListScheduleEntries)
	if err != nil {
		return nil, fmt.Errorf("list schedule entries: %w", err)
	}
	defer rows.Close()

	var entries []automation.ScheduleEntry
	for rows.Next() {
		var entry automation.ScheduleEntry
		var cadenceSeconds int64
		var last, next sql.NullTime
		if err := rows.Scan(&entry.MetricID, &cadenceSeconds, &last, &next); err != nil {
			return nil, fmt.Errorf("scan schedule entry: %w", err)
		}
		entry.Cadence = time.Duration(cadenceSeconds) * time.Second
		if last.Valid {
			entry.LastGeneratedAt = &last.Time
		}
		if next.Valid {
			entry.NextGeneratedAt = &next.Time
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule entries: %w", err)
	}
	return entries, nil
}

// UpdateRun advances one entry's generation timestamps after a successful run.
func (s *ScheduleStore) UpdateRun(ctx context.Context, metricID string, lastGeneratedAt, nextGeneratedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, queryUpdateScheduleRun, lastGeneratedAt, nextGeneratedAt, metricID)
	if err != nil {
		return fmt.Errorf("update schedule run %s: %w", metricID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update schedule run %s: rows affected: %w", metricID, err)
	}
	if affected == 0 {
		return fmt.Errorf("update schedule run %s: entry missing", metricID)
	}
	return nil
}
