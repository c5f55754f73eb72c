package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// memEphemeral is an in-memory Ephemeral with explicit expiry control.
type memEphemeral struct {
	entries map[string][]byte
	expiry  map[string]time.Time
	now     func() time.Time
	failing bool
}

func newMemEphemeral(now func() time.Time) *memEphemeral {
	return &memEphemeral{
		entries: make(map[string][]byte),
		expiry:  make(map[string]time.Time),
		now:     now,
	}
}

func (m *memEphemeral) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if m.failing {
		return nil, false, errors.New("cache unavailable")
	}
	value, ok := m.entries[key]
	if !ok || !m.now().Before(m.expiry[key]) {
		return nil, false, nil
	}
	return value, true, nil
}

func (m *memEphemeral) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.failing {
		return errors.New("cache unavailable")
	}
	m.entries[key] = value
	m.expiry[key] = m.now().Add(ttl)
	return nil
}

func (m *memEphemeral) Delete(ctx context.Context, key string) error {
	delete(m.entries, key)
	delete(m.expiry, key)
	return nil
}

func (m *memEphemeral) DeletePattern(ctx context.Context, pattern string) error {
	m.entries = make(map[string][]byte)
	m.expiry = make(map[string]time.Time)
	return nil
}

type memKey struct{ metricID, period, filtersHash string }

// memSummaryStore is an in-memory SummaryStore.
type memSummaryStore struct {
	records   map[memKey]SummaryRecord
	upsertErr error
	upserts   int
}

func newMemSummaryStore() *memSummaryStore {
	return &memSummaryStore{records: make(map[memKey]SummaryRecord)}
}

func (m *memSummaryStore) Upsert(ctx context.Context, record SummaryRecord) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserts++
	m.records[memKey{record.MetricID, record.Period, record.FiltersHash}] = record
	return nil
}

func (m *memSummaryStore) Lookup(ctx context.Context, metricID, period, filtersHash string) (*SummaryRecord, error) {
	record, ok := m.records[memKey{metricID, period, filtersHash}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &record, nil
}

func (m *memSummaryStore) History(ctx context.Context, metricID, filtersHash string, n int) ([]SummaryRecord, error) {
	var out []SummaryRecord
	for key, record := range m.records {
		if key.metricID == metricID && key.filtersHash == filtersHash {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period > out[j].Period })
	if n < len(out) {
		out = out[:n]
	}
	return out, nil
}

func (m *memSummaryStore) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	for key, record := range m.records {
		if record.LastUpdated.Before(cutoff) {
			delete(m.records, key)
			deleted++
		}
	}
	return deleted, nil
}

func testResult(now time.Time) *metric.Result {
	return &metric.Result{
		Key: metric.Key{
			Category:    "demographics",
			Name:        "total_headcount",
			FiltersHash: "0000000000000000",
			Period:      "2026-08",
		},
		Value:      metric.Scalar{Value: decimal.NewFromInt(412)},
		ComputedAt: now,
	}
}

func newTestLayer(now *time.Time) (*Layer, *memEphemeral, *memSummaryStore) {
	nowFn := func() time.Time { return *now }
	ephemeral := newMemEphemeral(nowFn)
	store := newMemSummaryStore()
	layer := NewLayer(ephemeral, store, 5*time.Minute)
	layer.nowFn = nowFn
	return layer, ephemeral, store
}

func TestLayer_StoreThenReadCoherence(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, _, _ := newTestLayer(&now)

	result := testResult(now)
	require.NoError(t, layer.Store(context.Background(), result))

	hit, err := layer.Read(context.Background(), result.Key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierEphemeral, hit.Tier)

	scalar, ok := hit.Result.Value.(metric.Scalar)
	require.True(t, ok)
	assert.True(t, scalar.Value.Equal(decimal.NewFromInt(412)))
	assert.Equal(t, result.Key, hit.Result.Key)
}

func TestLayer_ExpiredEphemeralFallsToDurable(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, ephemeral, _ := newTestLayer(&now)

	result := testResult(now)
	require.NoError(t, layer.Store(context.Background(), result))

	// Past the ephemeral TTL but inside maxAge: durable tier serves and
	// repopulates the ephemeral entry.
	now = now.Add(10 * time.Minute)

	hit, err := layer.Read(context.Background(), result.Key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierDurable, hit.Tier)

	_, found, err := ephemeral.Get(context.Background(), ephemeralKey(result.Key))
	require.NoError(t, err)
	assert.True(t, found, "durable hit should repopulate the ephemeral tier")
}

func TestLayer_FreshnessBoundaryIsStrict(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, _, _ := newTestLayer(&now)

	stored := now
	assert.True(t, layer.IsFresh(stored, time.Hour))

	now = stored.Add(time.Hour - time.Nanosecond)
	assert.True(t, layer.IsFresh(stored, time.Hour))

	now = stored.Add(time.Hour) // exactly maxAge: not fresh
	assert.False(t, layer.IsFresh(stored, time.Hour))
}

func TestLayer_StaleDurableHitCarriesAge(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, ephemeral, _ := newTestLayer(&now)

	result := testResult(now)
	require.NoError(t, layer.Store(context.Background(), result))
	require.NoError(t, ephemeral.Delete(context.Background(), ephemeralKey(result.Key)))

	now = now.Add(3 * time.Hour)

	hit, err := layer.Read(context.Background(), result.Key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierStale, hit.Tier)
	assert.NotNil(t, hit.Result, "stale value stays servable")
	assert.Equal(t, 3*time.Hour, hit.Age)

	_, found, _ := ephemeral.Get(context.Background(), ephemeralKey(result.Key))
	assert.False(t, found, "stale hit must not repopulate the ephemeral tier")
}

func TestLayer_MissWhenNothingStored(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, _, _ := newTestLayer(&now)

	hit, err := layer.Read(context.Background(), testResult(now).Key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, TierMiss, hit.Tier)
	assert.Nil(t, hit.Result)
}

func TestLayer_EphemeralOutageDegradesToDurable(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, ephemeral, store := newTestLayer(&now)

	result := testResult(now)
	payload, err := json.Marshal(result)
	require.NoError(t, err)
	require.NoError(t, store.Upsert(context.Background(), SummaryRecord{
		MetricID:    result.Key.MetricID(),
		Period:      result.Key.Period,
		FiltersHash: result.Key.FiltersHash,
		Payload:     payload,
		LastUpdated: now,
	}))

	ephemeral.failing = true

	hit, err := layer.Read(context.Background(), result.Key, time.Hour)
	require.NoError(t, err, "cache outage must never be fatal")
	assert.Equal(t, TierDurable, hit.Tier)
	require.NotNil(t, hit.Result)
}

func TestLayer_PersistFailureSkipsEphemeralRefresh(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, ephemeral, store := newTestLayer(&now)

	store.upsertErr = errors.New("disk full")

	result := testResult(now)
	err := layer.Store(context.Background(), result)

	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "demographics.total_headcount", persistErr.MetricID)

	_, found, _ := ephemeral.Get(context.Background(), ephemeralKey(result.Key))
	assert.False(t, found, "unpersisted value must not be served from the ephemeral tier")
}

func TestLayer_WarmUpPreloadsEphemeral(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, ephemeral, _ := newTestLayer(&now)

	result := testResult(now)
	require.NoError(t, layer.Store(context.Background(), result))
	require.NoError(t, ephemeral.Delete(context.Background(), ephemeralKey(result.Key)))

	warmed := layer.WarmUp(context.Background(), []metric.Key{
		result.Key,
		{Category: "payroll", Name: "absent", FiltersHash: "0000000000000000", Period: "2026-08"},
	})
	assert.Equal(t, 1, warmed)

	_, found, _ := ephemeral.Get(context.Background(), ephemeralKey(result.Key))
	assert.True(t, found)
}

func TestLayer_HistoryReturnsRecentPeriodsFirst(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	layer, _, _ := newTestLayer(&now)

	for _, period := range []string{"2026-06", "2026-07", "2026-08"} {
		result := testResult(now)
		result.Key.Period = period
		require.NoError(t, layer.Store(context.Background(), result))
	}

	points, err := layer.History(context.Background(), "demographics.total_headcount", "0000000000000000", 2)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2026-08", points[0].Period)
	assert.Equal(t, "2026-07", points[1].Period)
	assert.True(t, points[0].Result.Value.(metric.Scalar).Value.Equal(decimal.NewFromInt(412)))
}
