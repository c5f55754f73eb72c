package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhealth/hr-analytics/internal/alert"
	"github.com/meridianhealth/hr-analytics/internal/automation"
	"github.com/meridianhealth/hr-analytics/internal/cache"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/export"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

var testNow = time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

type fakeComputer struct {
	mu          sync.Mutex
	calls       int
	lastFilters compute.Filters
	block       chan struct{}
	entered     chan struct{}
}

func (f *fakeComputer) ComputeDefinition(ctx context.Context, def *metric.Definition, filters compute.Filters) (*metric.Result, error) {
	f.mu.Lock()
	f.calls++
	f.lastFilters = filters
	entered := f.entered
	block := f.block
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return &metric.Result{
		Key: metric.Key{
			Category:    def.Category,
			Name:        def.Name,
			FiltersHash: compute.HashFilters(filters.Accepted(def)),
			Period:      testNow.Format("2006-01"),
		},
		Value:      metric.Scalar{Value: decimal.NewFromInt(1200)},
		ComputedAt: testNow,
	}, nil
}

func (f *fakeComputer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeResultCache struct {
	mu      sync.Mutex
	hits    map[string]*cache.Hit
	stored  []*metric.Result
	history map[string][]cache.HistoryPoint
}

func (f *fakeResultCache) Read(ctx context.Context, key metric.Key, maxAge time.Duration) (*cache.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hit, ok := f.hits[key.MetricID()]; ok {
		return hit, nil
	}
	return &cache.Hit{Tier: cache.TierMiss}, nil
}

func (f *fakeResultCache) Store(ctx context.Context, result *metric.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, result)
	return nil
}

func (f *fakeResultCache) Invalidate(ctx context.Context, metricID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.hits, metricID)
	return nil
}

func (f *fakeResultCache) History(ctx context.Context, metricID, filtersHash string, n int) ([]cache.HistoryPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	points := f.history[metricID]
	if n < len(points) {
		points = points[:n]
	}
	return points, nil
}

type memCalcLog struct {
	mu      sync.Mutex
	entries []automation.LogEntry
}

func (l *memCalcLog) Append(ctx context.Context, entry automation.LogEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *memCalcLog) Recent(ctx context.Context, limit int) ([]automation.LogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit > len(l.entries) {
		limit = len(l.entries)
	}
	return l.entries[:limit], nil
}

type emptyScheduleStore struct{}

func (emptyScheduleStore) List(ctx context.Context) ([]automation.ScheduleEntry, error) {
	return nil, nil
}

func (emptyScheduleStore) UpdateRun(ctx context.Context, metricID string, last, next time.Time) error {
	return nil
}

type memRuleStore struct {
	mu    sync.Mutex
	rules map[string]alert.Rule
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: map[string]alert.Rule{}}
}

func (s *memRuleStore) List(ctx context.Context) ([]alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]alert.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r)
	}
	return out, nil
}

func (s *memRuleStore) ListActive(ctx context.Context) ([]alert.Rule, error) { return s.List(ctx) }

func (s *memRuleStore) Get(ctx context.Context, id string) (*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, alert.ErrRuleNotFound
	}
	return &r, nil
}

func (s *memRuleStore) Create(ctx context.Context, rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memRuleStore) Update(ctx context.Context, rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[rule.ID]; !ok {
		return alert.ErrRuleNotFound
	}
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memRuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return alert.ErrRuleNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *memRuleStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	return nil
}

type fakeAlertProcessor struct {
	outcomes []alert.RuleOutcome
}

func (f *fakeAlertProcessor) ProcessAlerts(ctx context.Context) ([]alert.RuleOutcome, error) {
	return f.outcomes, nil
}

type fakePusher struct {
	target string
	err    error
}

func (f *fakePusher) Push(ctx context.Context, set *export.MetricSet, target string) error {
	f.target = target
	return f.err
}

type fixture struct {
	service  *Service
	router   *gin.Engine
	computer *fakeComputer
	cache    *fakeResultCache
	calcLog  *memCalcLog
	rules    *memRuleStore
	alerts   *fakeAlertProcessor
	pusher   *fakePusher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := metric.NewRegistry()
	require.NoError(t, registry.Register(&metric.Definition{
		Category:     "workforce",
		Name:         "total_headcount",
		DisplayShape: metric.ShapeScalar,
		Query: metric.QuerySpec{
			Table:            "employees",
			AggregateOp:      metric.AggCount,
			DepartmentColumn: "department_id",
		},
	}))

	computer := &fakeComputer{}
	resultCache := &fakeResultCache{hits: map[string]*cache.Hit{}}
	calcLog := &memCalcLog{}
	rules := newMemRuleStore()
	alerts := &fakeAlertProcessor{}
	pusher := &fakePusher{}

	sweeper := automation.NewSweeper(registry, computer, resultCache,
		emptyScheduleStore{}, calcLog, automation.SweepOptions{WorkerCount: 2, MaxAge: time.Hour})

	svc := NewService(registry, computer, resultCache, sweeper, calcLog, rules,
		alerts, export.NewExporter("hr-analytics", "1.0.0"), pusher, time.Hour)
	svc.nowFn = func() time.Time { return testNow }

	router := gin.New()
	svc.RegisterRoutes(router)

	return &fixture{
		service:  svc,
		router:   router,
		computer: computer,
		cache:    resultCache,
		calcLog:  calcLog,
		rules:    rules,
		alerts:   alerts,
		pusher:   pusher,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func TestHandleListMetrics(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Categories []string `json:"categories"`
		Metrics    []struct {
			ID           string `json:"id"`
			DisplayShape string `json:"displayShape"`
		} `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, []string{"workforce"}, body.Categories)
	require.Len(t, body.Metrics, 1)
	assert.Equal(t, "workforce.total_headcount", body.Metrics[0].ID)
}

func TestHandleGetMetric_ComputesOnMiss(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount?department=nursing", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body metricResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, tierComputed, body.CacheTier)
	assert.Equal(t, "2026-08", body.Period)
	assert.Equal(t, metric.ShapeScalar, body.DisplayShape)

	assert.Equal(t, 1, f.computer.callCount())
	assert.Equal(t, "nursing", f.computer.lastFilters[compute.FilterDepartment])
	require.Len(t, f.cache.stored, 1, "computed result is cached")
}

func TestHandleGetMetric_ServesCachedValue(t *testing.T) {
	f := newFixture(t)
	f.cache.hits["workforce.total_headcount"] = &cache.Hit{
		Result: &metric.Result{
			Key:        metric.Key{Category: "workforce", Name: "total_headcount", Period: "2026-08"},
			Value:      metric.Scalar{Value: decimal.NewFromInt(1180)},
			ComputedAt: testNow.Add(-90 * time.Minute),
		},
		Tier: cache.TierStale,
		Age:  90 * time.Minute,
	}

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body metricResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, string(cache.TierStale), body.CacheTier)
	assert.Equal(t, (90 * time.Minute).Seconds(), body.StalenessSeconds)
	assert.Zero(t, f.computer.callCount(), "served without recomputation")
}

func TestHandleMetricHistory(t *testing.T) {
	f := newFixture(t)
	f.cache.history = map[string][]cache.HistoryPoint{
		"workforce.total_headcount": {
			{
				Period: "2026-08",
				Result: &metric.Result{
					Value:      metric.Scalar{Value: decimal.NewFromInt(1200)},
					ComputedAt: testNow,
				},
				LastUpdated: testNow,
			},
			{
				Period: "2026-07",
				Result: &metric.Result{
					Value:      metric.Scalar{Value: decimal.NewFromInt(1150)},
					ComputedAt: testNow.AddDate(0, -1, 0),
				},
				LastUpdated: testNow.AddDate(0, -1, 0),
			},
		},
	}

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount/history", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		MetricID string                 `json:"metric_id"`
		History  []historyPointResponse `json:"history"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "workforce.total_headcount", body.MetricID)
	require.Len(t, body.History, 2)
	assert.Equal(t, "2026-08", body.History[0].Period)
	assert.Contains(t, string(body.History[0].Data), `"value":"1200"`)
}

func TestHandleMetricHistory_LimitCapsPeriods(t *testing.T) {
	f := newFixture(t)
	f.cache.history = map[string][]cache.HistoryPoint{
		"workforce.total_headcount": {
			{Period: "2026-08", Result: &metric.Result{Value: metric.Scalar{Value: decimal.NewFromInt(1200)}}},
			{Period: "2026-07", Result: &metric.Result{Value: metric.Scalar{Value: decimal.NewFromInt(1150)}}},
		},
	}

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount/history?limit=1", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		History []historyPointResponse `json:"history"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.History, 1)

	resp = f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount/history?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleInvalidateMetric(t *testing.T) {
	f := newFixture(t)
	f.cache.hits["workforce.total_headcount"] = &cache.Hit{
		Result: &metric.Result{
			Value:      metric.Scalar{Value: decimal.NewFromInt(1180)},
			ComputedAt: testNow,
		},
		Tier: cache.TierEphemeral,
	}

	resp := f.do(t, http.MethodDelete, "/v1/metrics/workforce/total_headcount/cache", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, f.computer.callCount(), "recomputed after invalidation")

	resp = f.do(t, http.MethodDelete, "/v1/metrics/workforce/absent/cache", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleGetMetric_RefreshBypassesCache(t *testing.T) {
	f := newFixture(t)
	f.cache.hits["workforce.total_headcount"] = &cache.Hit{
		Result: &metric.Result{
			Value:      metric.Scalar{Value: decimal.NewFromInt(1180)},
			ComputedAt: testNow,
		},
		Tier: cache.TierEphemeral,
	}

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/total_headcount?refresh=true", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, f.computer.callCount())
}

func TestHandleGetMetric_UnknownMetric(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/v1/metrics/workforce/missing", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "metric_not_found")
}

func TestHandleSweep_ConflictWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.computer.block = make(chan struct{})
	f.computer.entered = make(chan struct{})

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.do(t, http.MethodPost, "/v1/automation/sweep", nil)
	}()

	<-f.computer.entered

	resp := f.do(t, http.MethodPost, "/v1/automation/sweep", nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "already_running")

	close(f.computer.block)
	first := <-done
	require.Equal(t, http.StatusOK, first.Code)
	assert.Contains(t, first.Body.String(), `"recomputed":1`)
}

func TestHandleCalcLog(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.calcLog.Append(context.Background(), automation.LogEntry{
		ID: "e1", Type: automation.EntryBatch, Status: automation.StatusSuccess, CreatedAt: testNow,
	}))

	resp := f.do(t, http.MethodGet, "/v1/automation/log?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"id":"e1"`)

	resp = f.do(t, http.MethodGet, "/v1/automation/log?limit=zero", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHandleCreateAlert(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/alerts", gin.H{
		"name":      "Headcount floor",
		"metric_id": "workforce.total_headcount",
		"operator":  "<",
		"threshold": 1000,
		"severity":  "critical",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	rules, err := f.rules.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].IsActive, "rules default to active")
}

func TestHandleCreateAlert_UnknownMetric(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/alerts", gin.H{
		"name":      "Broken",
		"metric_id": "payroll.missing",
		"operator":  ">",
		"threshold": 1,
		"severity":  "info",
	})
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "metric_not_found")
}

func TestHandleUpdateAlert_NotFound(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/v1/alerts/missing", gin.H{
		"name":      "Renamed",
		"metric_id": "workforce.total_headcount",
		"operator":  ">",
		"threshold": 5,
		"severity":  "info",
	})
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Contains(t, resp.Body.String(), "alert_rule_not_found")
}

func TestHandleProcessAlerts(t *testing.T) {
	f := newFixture(t)
	f.alerts.outcomes = []alert.RuleOutcome{
		{RuleID: "r1", Fired: true, Value: decimal.NewFromInt(85)},
		{RuleID: "r2", Fired: false},
	}

	resp := f.do(t, http.MethodPost, "/v1/alerts/process", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"evaluated":2`)
	assert.Contains(t, resp.Body.String(), `"fired":1`)
}

func TestHandleExport_JSON(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/export", gin.H{
		"category": "workforce",
		"format":   "json",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	assert.Contains(t, resp.Header().Get("Content-Disposition"), ".json")
	assert.Contains(t, resp.Body.String(), "workforce.total_headcount")
}

func TestHandleExport_UnknownCategory(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/export", gin.H{
		"category": "parking",
		"format":   "json",
	})
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandlePush(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/v1/push", gin.H{"target": "dashboard"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "dashboard", f.pusher.target)
	assert.Contains(t, resp.Body.String(), `"status":"delivered"`)
}

func TestHandlePush_SinkFailure(t *testing.T) {
	f := newFixture(t)
	f.pusher.err = &export.SinkDeliveryError{Target: "dashboard", StatusCode: 502}

	resp := f.do(t, http.MethodPost, "/v1/push", gin.H{"target": "dashboard"})
	require.Equal(t, http.StatusBadGateway, resp.Code)
	assert.Contains(t, resp.Body.String(), "sink_delivery_failed")
}
