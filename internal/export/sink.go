package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Push targets.
const (
	TargetDashboard = "dashboard"
	TargetFinance   = "finance"
)

// financeCategories is the allow-list applied to the finance target.
var financeCategories = map[string]bool{
	"payroll":      true,
	"compensation": true,
	"benefits":     true,
}

// SinkDeliveryError marks a push the sink rejected or that never arrived.
// Delivery failures are soft: logged, recorded, never retried.
type SinkDeliveryError struct {
	Target     string
	StatusCode int
	Err        error
}

func (e *SinkDeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("push to %s: %v", e.Target, e.Err)
	}
	return fmt.Sprintf("push to %s: sink returned status %d", e.Target, e.StatusCode)
}

func (e *SinkDeliveryError) Unwrap() error { return e.Err }

// IntegrationRecord is one push attempt in the integration log.
type IntegrationRecord struct {
	ID          string
	Target      string
	PayloadSize int
	StatusCode  int
	Success     bool
	ErrorMsg    string
	CreatedAt   time.Time
}

// IntegrationLog records every push attempt, delivered or not.
type IntegrationLog interface {
	Record(ctx context.Context, rec IntegrationRecord) error
	Recent(ctx context.Context, limit int) ([]IntegrationRecord, error)
}

// Pusher delivers metric envelopes to external sinks over HTTP.
type Pusher struct {
	exporter *Exporter
	client   *http.Client
	urls     map[string]string
	log      IntegrationLog
	nowFn    func() time.Time
}

// NewPusher configures one URL per target. Delivery uses a 30 second client
// timeout unless timeout overrides it.
func NewPusher(exporter *Exporter, urls map[string]string, log IntegrationLog, timeout time.Duration) *Pusher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pusher{
		exporter: exporter,
		client:   &http.Client{Timeout: timeout},
		urls:     urls,
		log:      log,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Push sends the set's JSON envelope to the named target. The finance target
// only receives metrics from finance categories.
func (p *Pusher) Push(ctx context.Context, set *MetricSet, target string) error {
	url, ok := p.urls[target]
	if !ok || url == "" {
		return fmt.Errorf("push target %q is not configured", target)
	}

	filtered := filterForTarget(set, target)
	env, err := p.exporter.buildEnvelope(filtered)
	if err != nil {
		return fmt.Errorf("build envelope for %s: %w", target, err)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope for %s: %w", target, err)
	}

	statusCode, deliveryErr := p.deliver(ctx, url, payload)

	rec := IntegrationRecord{
		ID:          uuid.New().String(),
		Target:      target,
		PayloadSize: len(payload),
		StatusCode:  statusCode,
		Success:     deliveryErr == nil,
		CreatedAt:   p.nowFn(),
	}
	if deliveryErr != nil {
		rec.ErrorMsg = deliveryErr.Error()
	}
	if logErr := p.log.Record(ctx, rec); logErr != nil {
		slog.Error("[Pusher] Failed to record push attempt", "target", target, "error", logErr)
	}

	if deliveryErr != nil {
		slog.Warn("[Pusher] Delivery failed",
			"target", target, "status", statusCode, "error", deliveryErr)
		return deliveryErr
	}

	slog.Info("[Pusher] Envelope delivered",
		"target", target, "metrics", len(env.Metrics), "bytes", len(payload))
	return nil
}

func (p *Pusher) deliver(ctx context.Context, url string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, &SinkDeliveryError{Target: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, &SinkDeliveryError{Target: url, Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &SinkDeliveryError{Target: url, StatusCode: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// filterForTarget narrows the set to what the target is allowed to see.
func filterForTarget(set *MetricSet, target string) *MetricSet {
	if target != TargetFinance {
		return set
	}
	filtered := &MetricSet{
		GeneratedAt: set.GeneratedAt,
		Filters:     set.Filters,
	}
	for _, entry := range set.Entries {
		if financeCategories[entry.Definition.Category] {
			filtered.Entries = append(filtered.Entries, entry)
		}
	}
	return filtered
}
