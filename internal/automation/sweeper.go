package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridianhealth/hr-analytics/internal/cache"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// ErrSweepInProgress is returned when a sweep is requested while another is
// in flight. The caller gets no side effects, not even a log entry.
var ErrSweepInProgress = errors.New("already_running")

const (
	defaultWorkerCount = 5
	defaultMaxAge      = time.Hour
)

// Computer resolves and computes one metric definition.
type Computer interface {
	ComputeDefinition(ctx context.Context, def *metric.Definition, filters compute.Filters) (*metric.Result, error)
}

// ResultCache is the slice of the cache layer the sweeper needs.
type ResultCache interface {
	Read(ctx context.Context, key metric.Key, maxAge time.Duration) (*cache.Hit, error)
	Store(ctx context.Context, result *metric.Result) error
}

// SweepOptions bounds sweep concurrency and freshness.
type SweepOptions struct {
	WorkerCount int
	MaxAge      time.Duration
}

func (o SweepOptions) normalized() SweepOptions {
	n := o
	if n.WorkerCount <= 0 {
		n.WorkerCount = defaultWorkerCount
	}
	if n.MaxAge <= 0 {
		n.MaxAge = defaultMaxAge
	}
	return n
}

// MetricOutcome is one metric's result within a sweep.
type MetricOutcome struct {
	MetricID   string
	Status     string
	Recomputed bool
	DurationMs int64
	Records    int
	Err        error
}

// BatchOutcome summarizes one sweep.
type BatchOutcome struct {
	Status     string
	Total      int
	Recomputed int
	Reused     int
	Failed     int
	DurationMs int64
	Outcomes   []MetricOutcome
}

// Sweeper recomputes stale metrics across the registry. One atomic flag is
// the only state shared between runs.
type Sweeper struct {
	registry *metric.Registry
	engine   Computer
	cache    ResultCache
	schedule ScheduleStore
	log      CalcLog
	opts     SweepOptions

	running atomic.Bool
	nowFn   func() time.Time
}

// NewSweeper creates a sweeper over the full registry.
func NewSweeper(
	registry *metric.Registry,
	engine Computer,
	resultCache ResultCache,
	schedule ScheduleStore,
	log CalcLog,
	opts SweepOptions,
) *Sweeper {
	return &Sweeper{
		registry: registry,
		engine:   engine,
		cache:    resultCache,
		schedule: schedule,
		log:      log,
		opts:     opts.normalized(),
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ProcessBatch sweeps every registered metric: still-fresh values are reused
// without a recomputation log entry, stale or missing values are recomputed
// and stored. One metric's failure never aborts the rest; only a log store
// failure does. A concurrent call returns ErrSweepInProgress with no side
// effects.
func (s *Sweeper) ProcessBatch(ctx context.Context) (*BatchOutcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := s.nowFn()
	defs := s.registry.ListAll()

	slog.Info("[Sweep] Starting batch sweep",
		"metrics", len(defs),
		"workers", s.opts.WorkerCount,
		"max_age", s.opts.MaxAge,
	)

	outcomes := make([]MetricOutcome, len(defs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WorkerCount)
	for i, def := range defs {
		g.Go(func() error {
			outcome := s.processMetric(gctx, def)
			outcomes[i] = outcome

			if !outcome.Recomputed && outcome.Err == nil {
				return nil // fresh reuse: no recomputation entry
			}
			return s.appendMetricEntry(gctx, EntryScheduled, outcome)
		})
	}
	if err := g.Wait(); err != nil {
		// Structural failure: the audit log itself is unreachable.
		return nil, fmt.Errorf("batch sweep aborted: %w", err)
	}

	batch := summarize(outcomes, s.nowFn().Sub(start))
	if err := s.log.Append(ctx, LogEntry{
		ID:               uuid.New().String(),
		Type:             EntryBatch,
		Status:           batch.Status,
		ExecutionTimeMs:  batch.DurationMs,
		RecordsProcessed: batch.Total,
		ErrorMessage:     batchErrorSummary(outcomes),
		CreatedAt:        s.nowFn(),
	}); err != nil {
		return nil, fmt.Errorf("batch sweep: append batch entry: %w", err)
	}

	slog.Info("[Sweep] Batch sweep complete",
		"status", batch.Status,
		"total", batch.Total,
		"recomputed", batch.Recomputed,
		"reused", batch.Reused,
		"failed", batch.Failed,
		"duration_ms", batch.DurationMs,
	)
	return batch, nil
}

func (s *Sweeper) processMetric(ctx context.Context, def *metric.Definition) MetricOutcome {
	metricStart := s.nowFn()
	outcome := MetricOutcome{MetricID: def.ID(), Status: StatusSuccess}

	key := metric.Key{
		Category:    def.Category,
		Name:        def.Name,
		FiltersHash: compute.HashFilters(nil),
		Period:      metricStart.Format("2006-01"),
	}

	hit, err := s.cache.Read(ctx, key, s.opts.MaxAge)
	if err == nil && (hit.Tier == cache.TierEphemeral || hit.Tier == cache.TierDurable) {
		outcome.DurationMs = s.nowFn().Sub(metricStart).Milliseconds()
		return outcome
	}
	if err == nil && hit.Tier == cache.TierStale {
		slog.Info("[Sweep] Recomputing stale metric",
			"metric_id", def.ID(), "staleness", hit.Age)
	}

	result, err := s.engine.ComputeDefinition(ctx, def, nil)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Recomputed = true
		outcome.Err = err
		outcome.DurationMs = s.nowFn().Sub(metricStart).Milliseconds()
		slog.Error("[Sweep] Metric computation failed", "metric_id", def.ID(), "error", err)
		return outcome
	}

	if err := s.cache.Store(ctx, result); err != nil {
		outcome.Status = StatusFailed
		outcome.Recomputed = true
		outcome.Err = err
		outcome.DurationMs = s.nowFn().Sub(metricStart).Milliseconds()
		slog.Error("[Sweep] Metric store failed", "metric_id", def.ID(), "error", err)
		return outcome
	}

	outcome.Recomputed = true
	outcome.Records = recordCount(result.Value)
	outcome.DurationMs = s.nowFn().Sub(metricStart).Milliseconds()
	return outcome
}

// ProcessScheduled runs explicit schedule entries that are due, advancing
// their generation timestamps on success. Shares the sweep guard so scheduled
// runs never overlap a batch sweep.
func (s *Sweeper) ProcessScheduled(ctx context.Context) ([]MetricOutcome, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	entries, err := s.schedule.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduled sweep: list entries: %w", err)
	}

	now := s.nowFn()
	var outcomes []MetricOutcome
	for _, entry := range entries {
		if !entry.Due(now) {
			continue
		}
		outcome := s.runScheduledEntry(ctx, entry)
		outcomes = append(outcomes, outcome)
		if err := s.appendMetricEntry(ctx, EntryScheduled, outcome); err != nil {
			return nil, fmt.Errorf("scheduled sweep aborted: %w", err)
		}
	}

	if len(outcomes) > 0 {
		slog.Info("[Sweep] Scheduled entries processed", "due", len(outcomes))
	}
	return outcomes, nil
}

func (s *Sweeper) runScheduledEntry(ctx context.Context, entry ScheduleEntry) MetricOutcome {
	start := s.nowFn()
	outcome := MetricOutcome{MetricID: entry.MetricID, Status: StatusSuccess, Recomputed: true}

	category, name, ok := splitMetricID(entry.MetricID)
	if !ok {
		outcome.Status = StatusFailed
		outcome.Err = fmt.Errorf("malformed metric id %q", entry.MetricID)
		return outcome
	}

	def, err := s.registry.Get(category, name)
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.DurationMs = s.nowFn().Sub(start).Milliseconds()
		return outcome
	}

	result, err := s.engine.ComputeDefinition(ctx, def, nil)
	if err == nil {
		err = s.cache.Store(ctx, result)
	}
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		outcome.DurationMs = s.nowFn().Sub(start).Milliseconds()
		slog.Error("[Sweep] Scheduled entry failed", "metric_id", entry.MetricID, "error", err)
		return outcome
	}

	now := s.nowFn()
	if err := s.schedule.UpdateRun(ctx, entry.MetricID, now, now.Add(entry.Cadence)); err != nil {
		slog.Warn("[Sweep] Failed to advance schedule entry",
			"metric_id", entry.MetricID, "error", err)
	}

	outcome.Records = recordCount(result.Value)
	outcome.DurationMs = s.nowFn().Sub(start).Milliseconds()
	return outcome
}

func (s *Sweeper) appendMetricEntry(ctx context.Context, entryType string, outcome MetricOutcome) error {
	entry := LogEntry{
		ID:               uuid.New().String(),
		MetricID:         outcome.MetricID,
		Type:             entryType,
		Status:           outcome.Status,
		ExecutionTimeMs:  outcome.DurationMs,
		RecordsProcessed: outcome.Records,
		CreatedAt:        s.nowFn(),
	}
	if outcome.Err != nil {
		entry.ErrorMessage = outcome.Err.Error()
	}
	return s.log.Append(ctx, entry)
}

func summarize(outcomes []MetricOutcome, elapsed time.Duration) *BatchOutcome {
	batch := &BatchOutcome{
		Status:     StatusSuccess,
		Total:      len(outcomes),
		DurationMs: elapsed.Milliseconds(),
		Outcomes:   outcomes,
	}
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			batch.Failed++
		case o.Recomputed:
			batch.Recomputed++
		default:
			batch.Reused++
		}
	}
	if batch.Failed > 0 {
		batch.Status = StatusPartial
	}
	return batch
}

func batchErrorSummary(outcomes []MetricOutcome) string {
	var msgs []string
	for _, o := range outcomes {
		if o.Err != nil {
			msgs = append(msgs, fmt.Sprintf("%s: %v", o.MetricID, o.Err))
		}
	}
	return strings.Join(msgs, "; ")
}

func recordCount(v metric.Value) int {
	switch t := v.(type) {
	case metric.Scalar, metric.Gauge:
		return 1
	case metric.Series:
		return len(t.Rows)
	case metric.Categorical:
		return len(t.Rows)
	case metric.Table:
		return len(t.Rows)
	default:
		return 0
	}
}

func splitMetricID(id string) (category, name string, ok bool) {
	i := strings.Index(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
