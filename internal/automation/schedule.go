package automation

import (
	"context"
	"time"
)

// ScheduleEntry is one explicit recomputation schedule row.
type ScheduleEntry struct {
	MetricID        string
	Cadence         time.Duration
	LastGeneratedAt *time.Time
	NextGeneratedAt *time.Time
}

// Due reports whether the entry should run at now: never-run entries are due
// immediately, otherwise the cadence must have fully elapsed.
func (e ScheduleEntry) Due(now time.Time) bool {
	if e.LastGeneratedAt == nil {
		return true
	}
	return now.Sub(*e.LastGeneratedAt) >= e.Cadence
}

// ScheduleStore holds explicit schedule entries.
type ScheduleStore interface {
	List(ctx context.Context) ([]ScheduleEntry, error)
	// UpdateRun records a successful run, advancing last/next generation times.
	UpdateRun(ctx context.Context, metricID string, lastGeneratedAt, nextGeneratedAt time.Time) error
}
