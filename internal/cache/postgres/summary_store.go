package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/cache"
)

const (
	queryUpsertSummary = `
		INSERT INTO metric_summaries (metric_id, period, filters_hash, payload, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (metric_id, period, filters_hash)
		DO UPDATE SET
			payload      = EXCLUDED.payload,
			last_updated = EXCLUDED.last_updated
	`

	queryLookupSummary = `
		SELECT metric_id, period, filters_hash, payload, last_updated
		FROM metric_summaries
		WHERE metric_id = $1 AND period = $2 AND filters_hash = $3
	`

	queryHistorySummaries = `
		SELECT metric_id, period, filters_hash, payload, last_updated
		FROM metric_summaries
		WHERE metric_id = $1 AND filters_hash = $2
		ORDER BY period DESC
		LIMIT $3
	`

	queryCleanupSummaries = `DELETE FROM metric_summaries WHERE last_updated < $1`
)

// SummaryStore implements cache.SummaryStore on PostgreSQL.
type SummaryStore struct {
	db *sql.DB
}

// NewSummaryStore shares the given connection pool.
func NewSummaryStore(db *sql.DB) *SummaryStore {
	return &SummaryStore{db: db}
}

// Upsert writes one summary record, last-writer-wins.
func (s *SummaryStore) Upsert(ctx context.Context, record cache.SummaryRecord) error {
	_, err := s.db.ExecContext(ctx, queryUpsertSummary,
		record.MetricID,
		record.Period,
		record.FiltersHash,
		record.Payload,
		record.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("upsert summary %s/%s: %w", record.MetricID, record.Period, err)
	}
	return nil
}

// Lookup fetches one summary record.
func (s *SummaryStore) Lookup(ctx context.Context, metricID, period, filtersHash string) (*cache.SummaryRecord, error) {
	var record cache.SummaryRecord
	err := s.db.QueryRowContext(ctx, queryLookupSummary, metricID, period, filtersHash).Scan(
		&record.MetricID,
		&record.Period,
		&record.FiltersHash,
		&record.Payload,
		&record.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, cache.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup summary %s/%s: %w", metricID, period, err)
	}
	return &record, nil
}

// History returns up to n records, most recent period first.
func (s *SummaryStore) History(ctx context.Context, metricID, filtersHash string, n int) ([]cache.SummaryRecord, error) {
	rows, err := s.db.QueryContext(ctx, queryHistorySummaries, metricID, filtersHash, n)
	if err != nil {
		return nil, fmt.Errorf("summary history %s: %w", metricID, err)
	}
	defer rows.Close()

	var records []cache.SummaryRecord
	for rows.Next() {
		var record cache.SummaryRecord
		if err := rows.Scan(
			&record.MetricID,
			&record.Period,
			&record.FiltersHash,
			&record.Payload,
			&record.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("summary history scan: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("summary history rows: %w", err)
	}
	return records, nil
}

// Cleanup deletes records strictly older than cutoff.
func (s *SummaryStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, queryCleanupSummaries, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup summaries: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup summaries: rows affected: %w", err)
	}
	return deleted, nil
}
