package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Tier names which level of the cache served a read.
type Tier string

const (
	TierEphemeral Tier = "ephemeral"
	TierDurable   Tier = "durable"
	TierStale     Tier = "stale"
	TierMiss      Tier = "miss"
)

// Hit is the outcome of a cache read. A stale hit still carries the result
// (stale-but-available); Age says how far past maxAge it is from being fresh.
type Hit struct {
	Result *metric.Result
	Tier   Tier
	Age    time.Duration
}

// PersistenceError marks a durable write failure. The in-memory result is
// still usable; the next freshness check will recompute.
type PersistenceError struct {
	MetricID string
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist summary for %s: %v", e.MetricID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Layer combines the ephemeral TTL tier with the durable summary store.
// Invalidation is pull-based only: entries age out, nothing pushes.
type Layer struct {
	ephemeral Ephemeral
	store     SummaryStore
	ttl       time.Duration
	nowFn     func() time.Time
}

// NewLayer creates the two-tier cache. ttl bounds the ephemeral tier.
func NewLayer(ephemeral Ephemeral, store SummaryStore, ttl time.Duration) *Layer {
	return &Layer{
		ephemeral: ephemeral,
		store:     store,
		ttl:       ttl,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func ephemeralKey(key metric.Key) string {
	return fmt.Sprintf("hrmetrics:%s:%s:%s", key.MetricID(), key.Period, key.FiltersHash)
}

// IsFresh reports whether a durable record computed at lastUpdated is still
// fresh under maxAge. Exactly at maxAge is not fresh.
func (l *Layer) IsFresh(lastUpdated time.Time, maxAge time.Duration) bool {
	return l.nowFn().Sub(lastUpdated) < maxAge
}

// Read serves the two-tier read path: unexpired ephemeral entry first, then
// the durable record when fresh under maxAge (opportunistically repopulating
// the ephemeral tier), otherwise a stale or miss outcome. An unreachable
// ephemeral cache degrades to durable-store-only and is never fatal.
func (l *Layer) Read(ctx context.Context, key metric.Key, maxAge time.Duration) (*Hit, error) {
	if value, found, err := l.ephemeral.Get(ctx, ephemeralKey(key)); err != nil {
		slog.Warn("[Cache] Ephemeral tier unavailable, falling back to durable store",
			"metric_id", key.MetricID(), "error", err)
	} else if found {
		var result metric.Result
		if err := json.Unmarshal(value, &result); err != nil {
			slog.Warn("[Cache] Dropping undecodable ephemeral entry",
				"metric_id", key.MetricID(), "error", err)
			_ = l.ephemeral.Delete(ctx, ephemeralKey(key))
		} else {
			return &Hit{Result: &result, Tier: TierEphemeral}, nil
		}
	}

	record, err := l.store.Lookup(ctx, key.MetricID(), key.Period, key.FiltersHash)
	if err == ErrRecordNotFound {
		return &Hit{Tier: TierMiss}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup summary for %s: %w", key.MetricID(), err)
	}

	var result metric.Result
	if err := json.Unmarshal(record.Payload, &result); err != nil {
		return nil, fmt.Errorf("decode summary for %s: %w", key.MetricID(), err)
	}

	age := l.nowFn().Sub(record.LastUpdated)
	if !l.IsFresh(record.LastUpdated, maxAge) {
		return &Hit{Result: &result, Tier: TierStale, Age: age}, nil
	}

	if err := l.ephemeral.Set(ctx, ephemeralKey(key), record.Payload, l.ttl); err != nil {
		slog.Warn("[Cache] Failed to repopulate ephemeral tier",
			"metric_id", key.MetricID(), "error", err)
	}

	return &Hit{Result: &result, Tier: TierDurable, Age: age}, nil
}

// Store upserts the durable record (last-writer-wins) and refreshes the
// ephemeral TTL. A durable write failure skips the ephemeral refresh so the
// next freshness check recomputes instead of serving an unpersisted value.
func (l *Layer) Store(ctx context.Context, result *metric.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result for %s: %w", result.Key.MetricID(), err)
	}

	record := SummaryRecord{
		MetricID:    result.Key.MetricID(),
		Period:      result.Key.Period,
		FiltersHash: result.Key.FiltersHash,
		Payload:     payload,
		LastUpdated: l.nowFn(),
	}
	if err := l.store.Upsert(ctx, record); err != nil {
		return &PersistenceError{MetricID: record.MetricID, Err: err}
	}

	if err := l.ephemeral.Set(ctx, ephemeralKey(result.Key), payload, l.ttl); err != nil {
		slog.Warn("[Cache] Failed to refresh ephemeral tier",
			"metric_id", record.MetricID, "error", err)
	}
	return nil
}

// WarmUp preloads the ephemeral tier from durable records at process start.
// Missing or unreadable records are skipped.
func (l *Layer) WarmUp(ctx context.Context, hotKeys []metric.Key) int {
	warmed := 0
	for _, key := range hotKeys {
		record, err := l.store.Lookup(ctx, key.MetricID(), key.Period, key.FiltersHash)
		if err != nil {
			continue
		}
		if err := l.ephemeral.Set(ctx, ephemeralKey(key), record.Payload, l.ttl); err != nil {
			slog.Warn("[Cache] Warm-up set failed", "metric_id", key.MetricID(), "error", err)
			continue
		}
		warmed++
	}
	slog.Info("[Cache] Warm-up complete", "requested", len(hotKeys), "warmed", warmed)
	return warmed
}

// HistoryPoint is one period's persisted result for a metric/filter pair.
type HistoryPoint struct {
	Period      string
	Result      *metric.Result
	LastUpdated time.Time
}

// History returns up to n persisted periods for a metric/filter pair, most
// recent first. Records whose payload no longer decodes are skipped.
func (l *Layer) History(ctx context.Context, metricID, filtersHash string, n int) ([]HistoryPoint, error) {
	records, err := l.store.History(ctx, metricID, filtersHash, n)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", metricID, err)
	}

	points := make([]HistoryPoint, 0, len(records))
	for _, record := range records {
		var result metric.Result
		if err := json.Unmarshal(record.Payload, &result); err != nil {
			slog.Warn("[Cache] Skipping undecodable history record",
				"metric_id", metricID, "period", record.Period, "error", err)
			continue
		}
		points = append(points, HistoryPoint{
			Period:      record.Period,
			Result:      &result,
			LastUpdated: record.LastUpdated,
		})
	}
	return points, nil
}

// Invalidate drops every ephemeral entry for one metric id across periods and
// filter sets.
func (l *Layer) Invalidate(ctx context.Context, metricID string) error {
	return l.ephemeral.DeletePattern(ctx, fmt.Sprintf("hrmetrics:%s:*", metricID))
}
