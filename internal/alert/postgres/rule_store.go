package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianhealth/hr-analytics/internal/alert"
)

const (
	ruleColumns = `id, name, metric_id, operator, threshold, severity, is_active, last_triggered_at, created_at`

	queryListRules       = `SELECT ` + ruleColumns + ` FROM alert_rules ORDER BY created_at ASC`
	queryListActiveRules = `SELECT ` + ruleColumns + ` FROM alert_rules WHERE is_active = TRUE ORDER BY created_at ASC`
	queryGetRule         = `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1`

	queryCreateRule = `
		INSERT INTO alert_rules (id, name, metric_id, operator, threshold, severity, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	queryUpdateRule = `
		UPDATE alert_rules
		SET name = $1, metric_id = $2, operator = $3, threshold = $4, severity = $5, is_active = $6
		WHERE id = $7
	`

	queryDeleteRule = `DELETE FROM alert_rules WHERE id = $1`

	queryMarkTriggered = `UPDATE alert_rules SET last_triggered_at = $1 WHERE id = $2`
)

// RuleStore implements alert.RuleStore on PostgreSQL.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore shares the given connection pool.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) List(ctx context.Context) ([]alert.Rule, error) {
	return s.queryRules(ctx, queryListRules)
}

func (s *RuleStore) ListActive(ctx context.Context) ([]alert.Rule, error) {
	return s.queryRules(ctx, queryListActiveRules)
}

func (s *RuleStore) queryRules(ctx context.Context, query string) ([]alert.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list alert rules: %w", err)
	}
	defer rows.Close()

	var rules []alert.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert rules: %w", err)
	}
	return rules, nil
}

func (s *RuleStore) Get(ctx context.Context, id string) (*alert.Rule, error) {
	rule, err := scanRule(s.db.QueryRowContext(ctx, queryGetRule, id))
	if err == sql.ErrNoRows {
		return nil, alert.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleStore) Create(ctx context.Context, rule *alert.Rule) error {
	_, err := s.db.ExecContext(ctx, queryCreateRule,
		rule.ID, rule.Name, rule.MetricID, rule.Operator,
		rule.Threshold, rule.Severity, rule.IsActive, rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create alert rule %s: %w", rule.Name, err)
	}
	return nil
}

func (s *RuleStore) Update(ctx context.Context, rule *alert.Rule) error {
	result, err := s.db.ExecContext(ctx, queryUpdateRule,
		rule.Name, rule.MetricID, rule.Operator, rule.Threshold,
		rule.Severity, rule.IsActive, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert rule %s: %w", rule.ID, err)
	}
	return requireRow(result, rule.ID)
}

func (s *RuleStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, queryDeleteRule, id)
	if err != nil {
		return fmt.Errorf("delete alert rule %s: %w", id, err)
	}
	return requireRow(result, id)
}

func (s *RuleStore) MarkTriggered(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, queryMarkTriggered, at, id)
	if err != nil {
		return fmt.Errorf("mark alert rule %s triggered: %w", id, err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("alert rule %s: rows affected: %w", id, err)
	}
	if affected == 0 {
		return alert.ErrRuleNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row scanner) (*alert.Rule, error) {
	var rule alert.Rule
	var threshold string
	var lastTriggered sql.NullTime

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.MetricID,
		&rule.Operator,
		&threshold,
		&rule.Severity,
		&rule.IsActive,
		&lastTriggered,
		&rule.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert rule: %w", err)
	}

	value, err := decimal.NewFromString(threshold)
	if err != nil {
		return nil, fmt.Errorf("parse alert threshold %q: %w", threshold, err)
	}
	rule.Threshold = value
	if lastTriggered.Valid {
		rule.LastTriggeredAt = &lastTriggered.Time
	}
	return &rule, nil
}
