package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Comparison operators.
const (
	OpGT  = ">"
	OpLT  = "<"
	OpGTE = ">="
	OpLTE = "<="
	OpEQ  = "="
	OpNEQ = "!="
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// ErrRuleNotFound is returned by RuleStore lookups with no match.
var ErrRuleNotFound = errors.New("alert rule not found")

// Rule is one threshold alert rule against a metric's scalar value.
type Rule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MetricID        string          `json:"metric_id"`
	Operator        string          `json:"operator"`
	Threshold       decimal.Decimal `json:"threshold"`
	Severity        string          `json:"severity"`
	IsActive        bool            `json:"is_active"`
	LastTriggeredAt *time.Time      `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Validate checks the rule's enums and target.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("alert rule: name is required")
	}
	if r.MetricID == "" {
		return fmt.Errorf("alert rule %q: metric_id is required", r.Name)
	}
	if !ValidOperator(r.Operator) {
		return fmt.Errorf("alert rule %q: unsupported operator %q", r.Name, r.Operator)
	}
	switch r.Severity {
	case SeverityInfo, SeverityWarning, SeverityCritical:
	default:
		return fmt.Errorf("alert rule %q: unsupported severity %q", r.Name, r.Severity)
	}
	return nil
}

// ValidOperator reports whether op is a supported comparison operator.
func ValidOperator(op string) bool {
	switch op {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ, OpNEQ:
		return true
	}
	return false
}

// Matches evaluates the rule's comparison against a value.
func (r *Rule) Matches(value decimal.Decimal) bool {
	switch r.Operator {
	case OpGT:
		return value.GreaterThan(r.Threshold)
	case OpLT:
		return value.LessThan(r.Threshold)
	case OpGTE:
		return value.GreaterThanOrEqual(r.Threshold)
	case OpLTE:
		return value.LessThanOrEqual(r.Threshold)
	case OpEQ:
		return value.Equal(r.Threshold)
	case OpNEQ:
		return !value.Equal(r.Threshold)
	default:
		return false
	}
}

// RuleStore holds alert rules.
type RuleStore interface {
	ListActive(ctx context.Context) ([]Rule, error)
	List(ctx context.Context) ([]Rule, error)
	Get(ctx context.Context, id string) (*Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id string) error
	MarkTriggered(ctx context.Context, id string, at time.Time) error
}
