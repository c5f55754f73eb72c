package metric

import (
	"fmt"
	"strings"
)

// DisplayShape controls how a metric's rows are shaped and rendered.
type DisplayShape string

const (
	ShapeScalar         DisplayShape = "scalar"
	ShapeGauge          DisplayShape = "gauge"
	ShapeTimeSeries     DisplayShape = "time_series"
	ShapeCategorical    DisplayShape = "categorical"
	ShapeTable          DisplayShape = "table"
	ShapeIndicatorGauge DisplayShape = "indicator_gauge"
)

// ValidShape reports whether s is a known display shape.
func ValidShape(s DisplayShape) bool {
	switch s {
	case ShapeScalar, ShapeGauge, ShapeTimeSeries, ShapeCategorical, ShapeTable, ShapeIndicatorGauge:
		return true
	}
	return false
}

// Aggregate operators supported by QuerySpec.
const (
	AggCount = "count"
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
)

// ValidAggregateOp reports whether op is a supported aggregate operator.
func ValidAggregateOp(op string) bool {
	switch op {
	case AggCount, AggSum, AggAvg, AggMin, AggMax:
		return true
	}
	return false
}

// Predicate is one static WHERE condition baked into a definition.
// Values are always bound as query parameters, never interpolated.
type Predicate struct {
	Column string `yaml:"column"`
	Op     string `yaml:"op"` // =, !=, >, <, >=, <=
	Value  string `yaml:"value"`
}

// QuerySpec is the structured description of a metric's computation.
// It is tagged data: the data-source adapter compiles it into a parameterized
// statement, so filter injection is a typed construct rather than string
// concatenation.
type QuerySpec struct {
	Table       string      `yaml:"table"`
	AggregateOp string      `yaml:"aggregate_op"`
	Column      string      `yaml:"column"`     // aggregated column; empty for count
	Dimensions  []string    `yaml:"dimensions"` // group-by columns (categorical/table)
	TimeColumn  string      `yaml:"time_column"`
	TimeBucket  string      `yaml:"time_bucket"` // day | week | month; requires TimeColumn
	StaticWhere []Predicate `yaml:"static_where"`
	OrderBy     string      `yaml:"order_by"`
	Limit       int         `yaml:"limit"`

	// Filter binding columns. Empty means the corresponding request filter
	// does not apply to this metric.
	DepartmentColumn string `yaml:"department_column"`
	BranchColumn     string `yaml:"branch_column"`
	DateColumn       string `yaml:"date_column"`
}

// Definition is one catalog entry. Definitions are loaded once at startup and
// never change at runtime.
type Definition struct {
	Category     string       `yaml:"category"`
	Name         string       `yaml:"name"`
	DisplayShape DisplayShape `yaml:"display_shape"`
	Description  string       `yaml:"description"`
	Query        QuerySpec    `yaml:"query"`

	// Target is the goal marker for indicator_gauge metrics.
	Target float64 `yaml:"target"`

	// Fingerprint is the SHA-256 of the catalog file this definition came from.
	Fingerprint string `yaml:"-"`
}

// ID returns the canonical "category.name" metric id.
func (d *Definition) ID() string {
	return d.Category + "." + d.Name
}

// Validate checks structural invariants of a definition.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Category) == "" {
		return fmt.Errorf("metric definition: category must not be empty")
	}
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("metric %q: name must not be empty", d.Category)
	}
	if !ValidShape(d.DisplayShape) {
		return fmt.Errorf("metric %q: unsupported display_shape %q", d.ID(), d.DisplayShape)
	}
	if strings.TrimSpace(d.Query.Table) == "" {
		return fmt.Errorf("metric %q: query.table must not be empty", d.ID())
	}
	if !ValidAggregateOp(d.Query.AggregateOp) {
		return fmt.Errorf("metric %q: unsupported aggregate_op %q", d.ID(), d.Query.AggregateOp)
	}
	if d.Query.AggregateOp != AggCount && d.Query.Column == "" {
		return fmt.Errorf("metric %q: aggregate_op %q requires query.column", d.ID(), d.Query.AggregateOp)
	}
	if d.DisplayShape == ShapeTimeSeries && d.Query.TimeColumn == "" {
		return fmt.Errorf("metric %q: time_series requires query.time_column", d.ID())
	}
	if d.DisplayShape == ShapeCategorical && len(d.Query.Dimensions) == 0 {
		return fmt.Errorf("metric %q: categorical requires query.dimensions", d.ID())
	}
	for _, p := range d.Query.StaticWhere {
		if p.Column == "" || !validPredicateOp(p.Op) {
			return fmt.Errorf("metric %q: invalid static_where predicate %+v", d.ID(), p)
		}
	}
	return nil
}

func validPredicateOp(op string) bool {
	switch op {
	case "=", "!=", ">", "<", ">=", "<=":
		return true
	}
	return false
}
