package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianhealth/hr-analytics/internal/automation"
	"github.com/meridianhealth/hr-analytics/internal/cache"
	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// EvaluationError marks one rule that could not be evaluated. The rule is
// skipped until the next sweep; other rules keep running.
type EvaluationError struct {
	RuleID   string
	MetricID string
	Err      error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluate rule %s (%s): %v", e.RuleID, e.MetricID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// RuleOutcome is one rule's result within an alert sweep.
type RuleOutcome struct {
	RuleID string
	Fired  bool
	Value  decimal.Decimal
	Err    error
}

// Computer resolves and computes one metric definition.
type Computer interface {
	ComputeDefinition(ctx context.Context, def *metric.Definition, filters compute.Filters) (*metric.Result, error)
}

// ResultCache is the slice of the cache layer the alert engine needs.
type ResultCache interface {
	Read(ctx context.Context, key metric.Key, maxAge time.Duration) (*cache.Hit, error)
	Store(ctx context.Context, result *metric.Result) error
}

// Engine evaluates threshold rules against latest metric values.
type Engine struct {
	registry *metric.Registry
	engine   Computer
	cache    ResultCache
	rules    RuleStore
	log      automation.CalcLog
	notifier Notifier
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewEngine creates an alert engine. maxAge bounds how old a cached value may
// be before evaluation recomputes it.
func NewEngine(
	registry *metric.Registry,
	computer Computer,
	resultCache ResultCache,
	rules RuleStore,
	log automation.CalcLog,
	notifier Notifier,
	maxAge time.Duration,
) *Engine {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{
		registry: registry,
		engine:   computer,
		cache:    resultCache,
		rules:    rules,
		log:      log,
		notifier: notifier,
		maxAge:   maxAge,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// ProcessAlerts evaluates every active rule. A rule whose target metric is
// missing or fails to compute is skipped, never blocking remaining rules.
// Each firing appends exactly one triggered log entry.
func (e *Engine) ProcessAlerts(ctx context.Context) ([]RuleOutcome, error) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("alert sweep: list active rules: %w", err)
	}

	outcomes := make([]RuleOutcome, 0, len(rules))
	for _, rule := range rules {
		outcome := e.evaluateRule(ctx, rule)
		outcomes = append(outcomes, outcome)
		if outcome.Err != nil {
			slog.Warn("[AlertEngine] Rule skipped", "rule", rule.Name, "error", outcome.Err)
		}
	}

	fired := 0
	for _, o := range outcomes {
		if o.Fired {
			fired++
		}
	}
	slog.Info("[AlertEngine] Alert sweep complete", "rules", len(rules), "fired", fired)
	return outcomes, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule Rule) RuleOutcome {
	outcome := RuleOutcome{RuleID: rule.ID}

	value, err := e.currentValue(ctx, rule.MetricID)
	if err != nil {
		outcome.Err = &EvaluationError{RuleID: rule.ID, MetricID: rule.MetricID, Err: err}
		return outcome
	}
	outcome.Value = value

	if !rule.Matches(value) {
		return outcome
	}

	now := e.nowFn()
	if err := e.rules.MarkTriggered(ctx, rule.ID, now); err != nil {
		outcome.Err = &EvaluationError{RuleID: rule.ID, MetricID: rule.MetricID, Err: err}
		return outcome
	}

	if err := e.log.Append(ctx, automation.LogEntry{
		ID:        uuid.New().String(),
		MetricID:  rule.MetricID,
		Type:      automation.EntryTriggered,
		Status:    automation.StatusSuccess,
		CreatedAt: now,
	}); err != nil {
		outcome.Err = &EvaluationError{RuleID: rule.ID, MetricID: rule.MetricID, Err: err}
		return outcome
	}

	message := fmt.Sprintf("%s: %s is %s (%s %s) at %s",
		rule.Name, rule.MetricID, value.String(), rule.Operator,
		rule.Threshold.String(), now.Format(time.RFC3339))
	if err := e.notifier.Notify(ctx, message, rule.Severity); err != nil {
		slog.Warn("[AlertEngine] Notification delivery failed", "rule", rule.Name, "error", err)
	}

	outcome.Fired = true
	return outcome
}

// currentValue reads the latest scalar value for a metric, recomputing when
// the cache has nothing fresh.
func (e *Engine) currentValue(ctx context.Context, metricID string) (decimal.Decimal, error) {
	category, name, ok := splitMetricID(metricID)
	if !ok {
		return decimal.Zero, fmt.Errorf("malformed metric id %q", metricID)
	}

	def, err := e.registry.Get(category, name)
	if err != nil {
		return decimal.Zero, err
	}

	key := metric.Key{
		Category:    category,
		Name:        name,
		FiltersHash: compute.HashFilters(nil),
		Period:      e.nowFn().Format("2006-01"),
	}

	var result *metric.Result
	hit, err := e.cache.Read(ctx, key, e.maxAge)
	if err == nil && (hit.Tier == cache.TierEphemeral || hit.Tier == cache.TierDurable) {
		result = hit.Result
	} else {
		result, err = e.engine.ComputeDefinition(ctx, def, nil)
		if err != nil {
			return decimal.Zero, err
		}
		if storeErr := e.cache.Store(ctx, result); storeErr != nil {
			slog.Warn("[AlertEngine] Failed to store recomputed value",
				"metric_id", metricID, "error", storeErr)
		}
	}

	value, ok := metric.ScalarValue(result.Value)
	if !ok {
		return decimal.Zero, fmt.Errorf("metric %s has no scalar value (shape %s)",
			metricID, result.Value.Shape())
	}
	return value, nil
}

func splitMetricID(id string) (category, name string, ok bool) {
	i := strings.Index(id, ".")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}
