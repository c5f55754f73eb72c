package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianhealth/hr-analytics/internal/export"
)

const (
	queryInsertIntegration = `
		INSERT INTO integration_log (id, target, payload_size, status_code, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	queryRecentIntegration = `
		SELECT id, target, payload_size, status_code, success, error_message, created_at
		FROM integration_log
		ORDER BY created_at DESC
		LIMIT $1
	`
)

// IntegrationLog implements export.IntegrationLog on PostgreSQL.
type IntegrationLog struct {
	db *sql.DB
}

func NewIntegrationLog(db *sql.DB) *IntegrationLog {
	return &IntegrationLog{db: db}
}

func (l *IntegrationLog) Record(ctx context.Context, rec export.IntegrationRecord) error {
	var errMsg sql.NullString
	if rec.ErrorMsg != "" {
		errMsg = sql.NullString{String: rec.ErrorMsg, Valid: true}
	}
	_, err := l.db.ExecContext(ctx, queryInsertIntegration,
		rec.ID, rec.Target, rec.PayloadSize, rec.StatusCode,
		rec.Success, errMsg, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record integration attempt: %w", err)
	}
	return nil
}

func (l *IntegrationLog) Recent(ctx context.Context, limit int) ([]export.IntegrationRecord, error) {
	rows, err := l.db.QueryContext(ctx, queryRecentIntegration, limit)
	if err != nil {
		return nil, fmt.Errorf("list integration attempts: %w", err)
	}
	defer rows.Close()

	var records []export.IntegrationRecord
	for rows.Next() {
		var rec export.IntegrationRecord
		var errMsg sql.NullString
		err := rows.Scan(
			&rec.ID, &rec.Target, &rec.PayloadSize, &rec.StatusCode,
			&rec.Success, &errMsg, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan integration attempt: %w", err)
		}
		rec.ErrorMsg = errMsg.String
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integration attempts: %w", err)
	}
	return records, nil
}
