package compute

import (
	"fmt"
	"strings"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Query is a compiled, fully parameterized statement. Args line up with $1..$n
// placeholders; no caller-supplied content is ever interpolated into SQL.
type Query struct {
	SQL     string
	Args    []interface{}
	Columns []string // output column order, used for deterministic table shaping
}

// compileQuery turns a definition's QuerySpec plus the accepted filters into
// one parameterized statement. Each accepted filter becomes exactly one
// AND-conjoined predicate.
func compileQuery(def *metric.Definition, filters []FilterPair) Query {
	spec := def.Query

	agg := aggregateExpr(spec)

	var (
		selectCols []string
		groupBy    []string
		outCols    []string
	)

	switch def.DisplayShape {
	case metric.ShapeTimeSeries:
		bucket := timeBucketExpr(spec)
		selectCols = append(selectCols, bucket+" AS bucket")
		outCols = append(outCols, "bucket")
		groupBy = append(groupBy, bucket)
	case metric.ShapeCategorical, metric.ShapeTable:
		for _, dim := range spec.Dimensions {
			selectCols = append(selectCols, dim)
			outCols = append(outCols, dim)
			groupBy = append(groupBy, dim)
		}
	}

	selectCols = append(selectCols, agg+" AS value")
	outCols = append(outCols, "value")

	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, p := range spec.StaticWhere {
		where = append(where, fmt.Sprintf("%s %s %s", p.Column, p.Op, arg(p.Value)))
	}

	for _, f := range filters {
		switch f.Key {
		case FilterDepartment:
			where = append(where, fmt.Sprintf("%s = %s", spec.DepartmentColumn, arg(f.Value)))
		case FilterBranch:
			where = append(where, fmt.Sprintf("%s = %s", spec.BranchColumn, arg(f.Value)))
		case FilterDateFrom:
			where = append(where, fmt.Sprintf("%s >= %s", spec.DateColumn, arg(f.Value)))
		case FilterDateTo:
			where = append(where, fmt.Sprintf("%s <= %s", spec.DateColumn, arg(f.Value)))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(selectCols, ", "), spec.Table)
	if len(where) > 0 {
		fmt.Fprintf(&b, " WHERE %s", strings.Join(where, " AND "))
	}
	if len(groupBy) > 0 {
		fmt.Fprintf(&b, " GROUP BY %s", strings.Join(groupBy, ", "))
	}
	switch {
	case spec.OrderBy != "":
		fmt.Fprintf(&b, " ORDER BY %s", spec.OrderBy)
	case def.DisplayShape == metric.ShapeTimeSeries:
		b.WriteString(" ORDER BY bucket ASC")
	case def.DisplayShape == metric.ShapeCategorical:
		b.WriteString(" ORDER BY value DESC")
	}
	if spec.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", spec.Limit)
	}

	return Query{SQL: b.String(), Args: args, Columns: outCols}
}

func aggregateExpr(spec metric.QuerySpec) string {
	if spec.AggregateOp == metric.AggCount {
		if spec.Column == "" {
			return "COUNT(*)"
		}
		return fmt.Sprintf("COUNT(%s)", spec.Column)
	}
	return fmt.Sprintf("%s(%s)", strings.ToUpper(spec.AggregateOp), spec.Column)
}

func timeBucketExpr(spec metric.QuerySpec) string {
	bucket := spec.TimeBucket
	switch bucket {
	case "day", "week", "month":
	default:
		bucket = "month"
	}
	return fmt.Sprintf("date_trunc('%s', %s)", bucket, spec.TimeColumn)
}
