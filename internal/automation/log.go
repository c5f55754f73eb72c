package automation

import (
	"context"
	"time"
)

// Log entry types.
const (
	EntryScheduled = "scheduled"
	EntryTriggered = "triggered"
	EntryBatch     = "batch"
)

// Log entry statuses.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusPartial = "partial"
)

// LogEntry is one append-only calculation audit record.
type LogEntry struct {
	ID               string    `json:"id"`
	MetricID         string    `json:"metric_id"` // empty on batch entries
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	ExecutionTimeMs  int64     `json:"execution_time_ms"`
	RecordsProcessed int       `json:"records_processed"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// CalcLog is the append-only calculation log. A failing Append is a
// structural failure: sweeps abort on it rather than running unaudited.
type CalcLog interface {
	Append(ctx context.Context, entry LogEntry) error
	Recent(ctx context.Context, limit int) ([]LogEntry, error)
}
