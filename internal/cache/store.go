package cache

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned by SummaryStore lookups with no match.
var ErrRecordNotFound = errors.New("summary record not found")

// SummaryRecord is the durable form of one computed metric result.
// It reflects only the most recent successful computation: failed computations
// never overwrite it.
type SummaryRecord struct {
	MetricID    string
	Period      string // YYYY-MM
	FiltersHash string
	Payload     []byte // serialized metric.Result envelope
	LastUpdated time.Time
}

// SummaryStore is the durable tier: keyed upserts plus the range and cleanup
// queries history and retention need.
type SummaryStore interface {
	Upsert(ctx context.Context, record SummaryRecord) error
	Lookup(ctx context.Context, metricID, period, filtersHash string) (*SummaryRecord, error)
	// History returns up to n records for a metric/filter pair, most recent
	// period first.
	History(ctx context.Context, metricID, filtersHash string, n int) ([]SummaryRecord, error)
	// Cleanup deletes records strictly older than cutoff and reports how many
	// were removed. A record exactly at the cutoff is retained.
	Cleanup(ctx context.Context, cutoff time.Time) (int64, error)
}
