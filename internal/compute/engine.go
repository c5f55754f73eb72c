package compute

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// DataSource executes a compiled statement against the HR database and
// returns ordered rows.
type DataSource interface {
	Query(ctx context.Context, q Query) ([]metric.Row, error)
}

// ComputationError wraps a data-source or shaping failure for one metric.
type ComputationError struct {
	Category string
	Name     string
	Err      error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("compute %s.%s: %v", e.Category, e.Name, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Engine resolves a metric definition, runs it against the data source and
// shapes the rows into a Result. It holds no mutable state: concurrent
// Compute calls are independent.
type Engine struct {
	registry *metric.Registry
	source   DataSource
	nowFn    func() time.Time
}

// NewEngine creates a computation engine.
func NewEngine(registry *metric.Registry, source DataSource) *Engine {
	return &Engine{
		registry: registry,
		source:   source,
		nowFn: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Compute runs one metric under the given filter set.
// Unknown filter keys are ignored; recognized keys with empty values behave
// like absent keys. On failure, nothing downstream is touched; any cached or
// persisted value stays as-is.
func (e *Engine) Compute(ctx context.Context, category, name string, filters Filters) (*metric.Result, error) {
	def, err := e.registry.Get(category, name)
	if err != nil {
		return nil, err
	}
	return e.ComputeDefinition(ctx, def, filters)
}

// ComputeDefinition runs an already-resolved definition. Sweeps use this to
// avoid a second registry lookup per metric.
func (e *Engine) ComputeDefinition(ctx context.Context, def *metric.Definition, filters Filters) (*metric.Result, error) {
	accepted := filters.Accepted(def)
	q := compileQuery(def, accepted)

	rows, err := e.source.Query(ctx, q)
	if err != nil {
		return nil, &ComputationError{Category: def.Category, Name: def.Name, Err: err}
	}

	value, err := shapeRows(def, q, rows)
	if err != nil {
		return nil, &ComputationError{Category: def.Category, Name: def.Name, Err: err}
	}

	now := e.nowFn()
	return &metric.Result{
		Key: metric.Key{
			Category:    def.Category,
			Name:        def.Name,
			FiltersHash: HashFilters(accepted),
			Period:      now.Format("2006-01"),
		},
		Value:      value,
		ComputedAt: now,
	}, nil
}

func shapeRows(def *metric.Definition, q Query, rows []metric.Row) (metric.Value, error) {
	switch def.DisplayShape {
	case metric.ShapeScalar:
		return metric.Scalar{Value: firstValue(rows)}, nil

	case metric.ShapeGauge, metric.ShapeIndicatorGauge:
		v := firstValue(rows)
		g := metric.Gauge{
			Value:  v,
			Min:    0,
			Max:    100,
			Status: metric.GaugeStatus(v),
		}
		if def.DisplayShape == metric.ShapeIndicatorGauge {
			g.Indicator = true
			g.Target = def.Target
		}
		return g, nil

	case metric.ShapeTimeSeries:
		labels, values, err := labelValuePairs(rows, "bucket")
		if err != nil {
			return nil, err
		}
		return metric.Series{Labels: labels, Values: values, Rows: rows}, nil

	case metric.ShapeCategorical:
		labelColumn := ""
		if len(def.Query.Dimensions) > 0 {
			labelColumn = def.Query.Dimensions[0]
		}
		labels, values, err := labelValuePairs(rows, labelColumn)
		if err != nil {
			return nil, err
		}
		return metric.Categorical{Labels: labels, Values: values, Rows: rows}, nil

	case metric.ShapeTable:
		columns := []string{}
		if len(rows) > 0 {
			columns = q.Columns
		}
		return metric.Table{Columns: columns, Rows: rows}, nil

	default:
		return nil, fmt.Errorf("unsupported display shape %q", def.DisplayShape)
	}
}

func firstValue(rows []metric.Row) decimal.Decimal {
	if len(rows) == 0 {
		return decimal.Zero
	}
	return toDecimal(rows[0]["value"])
}

func labelValuePairs(rows []metric.Row, labelColumn string) ([]string, []decimal.Decimal, error) {
	labels := make([]string, 0, len(rows))
	values := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, toLabel(row[labelColumn]))
		values = append(values, toDecimal(row["value"]))
	}
	return labels, values, nil
}

// toDecimal converts the driver value of an aggregate column. Postgres
// returns NUMERIC as []byte/string; counts come back as int64.
func toDecimal(v interface{}) decimal.Decimal {
	switch t := v.(type) {
	case nil:
		return decimal.Zero
	case decimal.Decimal:
		return t
	case int64:
		return decimal.NewFromInt(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case float64:
		return decimal.NewFromFloat(t)
	case []byte:
		d, err := decimal.NewFromString(string(t))
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(t)
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.Zero
	}
}

func toLabel(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02")
	default:
		return fmt.Sprintf("%v", t)
	}
}
