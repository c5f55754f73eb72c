package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianhealth/hr-analytics/internal/alert"
)

func newMockRuleStore(t *testing.T) (*RuleStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRuleStore(db), mock
}

func ruleRows(triggered interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "metric_id", "operator", "threshold",
		"severity", "is_active", "last_triggered_at", "created_at",
	}).AddRow(
		"rule-1", "High absence rate", "attendance.absence_rate", ">", "80",
		"warning", true, triggered, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	)
}

func TestRuleStore_ListActive(t *testing.T) {
	store, mock := newMockRuleStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM alert_rules WHERE is_active = TRUE`).
		WillReturnRows(ruleRows(nil))

	rules, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.Equal(t, "attendance.absence_rate", rules[0].MetricID)
	assert.Equal(t, alert.OpGT, rules[0].Operator)
	assert.True(t, rules[0].Threshold.Equal(decimal.NewFromInt(80)))
	assert.Nil(t, rules[0].LastTriggeredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_GetParsesLastTriggered(t *testing.T) {
	store, mock := newMockRuleStore(t)
	triggered := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT (.+) FROM alert_rules WHERE id = \$1`).
		WithArgs("rule-1").
		WillReturnRows(ruleRows(triggered))

	rule, err := store.Get(context.Background(), "rule-1")
	require.NoError(t, err)
	require.NotNil(t, rule.LastTriggeredAt)
	assert.Equal(t, triggered, *rule.LastTriggeredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_GetNotFound(t *testing.T) {
	store, mock := newMockRuleStore(t)

	mock.ExpectQuery(`SELECT (.+) FROM alert_rules WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "metric_id", "operator", "threshold",
			"severity", "is_active", "last_triggered_at", "created_at",
		}))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, alert.ErrRuleNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_Create(t *testing.T) {
	store, mock := newMockRuleStore(t)
	created := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO alert_rules`).
		WithArgs("rule-1", "High absence rate", "attendance.absence_rate", ">",
			decimal.NewFromInt(80), "warning", true, created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Create(context.Background(), &alert.Rule{
		ID:        "rule-1",
		Name:      "High absence rate",
		MetricID:  "attendance.absence_rate",
		Operator:  alert.OpGT,
		Threshold: decimal.NewFromInt(80),
		Severity:  alert.SeverityWarning,
		IsActive:  true,
		CreatedAt: created,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_UpdateMissingRule(t *testing.T) {
	store, mock := newMockRuleStore(t)

	mock.ExpectExec(`UPDATE alert_rules`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Update(context.Background(), &alert.Rule{
		ID:        "missing",
		Name:      "Renamed",
		MetricID:  "attendance.absence_rate",
		Operator:  alert.OpGT,
		Threshold: decimal.NewFromInt(90),
		Severity:  alert.SeverityCritical,
	})
	assert.ErrorIs(t, err, alert.ErrRuleNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_MarkTriggered(t *testing.T) {
	store, mock := newMockRuleStore(t)
	at := time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE alert_rules SET last_triggered_at = \$1 WHERE id = \$2`).
		WithArgs(at, "rule-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkTriggered(context.Background(), "rule-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRuleStore_Delete(t *testing.T) {
	store, mock := newMockRuleStore(t)

	mock.ExpectExec(`DELETE FROM alert_rules WHERE id = \$1`).
		WithArgs("rule-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Delete(context.Background(), "rule-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
