package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/meridianhealth/hr-analytics/internal/alert"
	"github.com/meridianhealth/hr-analytics/internal/automation"
	"github.com/meridianhealth/hr-analytics/internal/cache"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/export"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Computer resolves and computes metric definitions.
type Computer interface {
	ComputeDefinition(ctx context.Context, def *metric.Definition, filters compute.Filters) (*metric.Result, error)
}

// ResultCache is the slice of the cache layer the API needs.
type ResultCache interface {
	Read(ctx context.Context, key metric.Key, maxAge time.Duration) (*cache.Hit, error)
	Store(ctx context.Context, result *metric.Result) error
	History(ctx context.Context, metricID, filtersHash string, n int) ([]cache.HistoryPoint, error)
	Invalidate(ctx context.Context, metricID string) error
}

// AlertProcessor runs one alert evaluation sweep.
type AlertProcessor interface {
	ProcessAlerts(ctx context.Context) ([]alert.RuleOutcome, error)
}

// Pusher delivers metric envelopes to an external sink.
type Pusher interface {
	Push(ctx context.Context, set *export.MetricSet, target string) error
}

// Service exposes the HTTP API over the metric, automation, alert and export
// subsystems.
type Service struct {
	registry *metric.Registry
	engine   Computer
	cache    ResultCache
	sweeper  *automation.Sweeper
	calcLog  automation.CalcLog
	rules    alert.RuleStore
	alerts   AlertProcessor
	exporter *export.Exporter
	pusher   Pusher
	maxAge   time.Duration
	nowFn    func() time.Time
}

func NewService(
	registry *metric.Registry,
	engine Computer,
	resultCache ResultCache,
	sweeper *automation.Sweeper,
	calcLog automation.CalcLog,
	rules alert.RuleStore,
	alerts AlertProcessor,
	exporter *export.Exporter,
	pusher Pusher,
	maxAge time.Duration,
) *Service {
	return &Service{
		registry: registry,
		engine:   engine,
		cache:    resultCache,
		sweeper:  sweeper,
		calcLog:  calcLog,
		rules:    rules,
		alerts:   alerts,
		exporter: exporter,
		pusher:   pusher,
		maxAge:   maxAge,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// RegisterRoutes registers all API routes on the given router.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/metrics", s.HandleListMetrics)
	r.GET("/v1/metrics/:category", s.HandleListCategory)
	r.GET("/v1/metrics/:category/:name", s.HandleGetMetric)
	r.GET("/v1/metrics/:category/:name/history", s.HandleMetricHistory)
	r.DELETE("/v1/metrics/:category/:name/cache", s.HandleInvalidateMetric)

	r.POST("/v1/export", s.HandleExport)
	r.POST("/v1/push", s.HandlePush)

	r.POST("/v1/automation/sweep", s.HandleSweep)
	r.GET("/v1/automation/log", s.HandleCalcLog)

	r.GET("/v1/alerts", s.HandleListAlerts)
	r.POST("/v1/alerts", s.HandleCreateAlert)
	r.PUT("/v1/alerts/:id", s.HandleUpdateAlert)
	r.DELETE("/v1/alerts/:id", s.HandleDeleteAlert)
	r.POST("/v1/alerts/process", s.HandleProcessAlerts)
}

func splitMetricID(id string) (category, name string, ok bool) {
	i := strings.Index(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
