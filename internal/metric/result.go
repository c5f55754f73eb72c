package metric

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one data-source row, column name to value.
type Row map[string]interface{}

// Key identifies one computed result.
type Key struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	FiltersHash string `json:"filters_hash"`
	Period      string `json:"period"` // YYYY-MM
}

// MetricID returns the "category.name" id for this key.
func (k Key) MetricID() string {
	return k.Category + "." + k.Name
}

// Value is the shaped result of a metric computation. Exactly one concrete
// type exists per display shape; consumers switch exhaustively on the
// concrete type.
type Value interface {
	Shape() DisplayShape
}

// Scalar is a single numeric value.
type Scalar struct {
	Value decimal.Decimal `json:"value"`
}

func (Scalar) Shape() DisplayShape { return ShapeScalar }

// Gauge status tiers.
const (
	GaugeExcellent = "excellent"
	GaugeGood      = "good"
	GaugeFair      = "fair"
	GaugePoor      = "poor"
)

// Gauge is a bounded percentage-style value with a status tier.
// IndicatorGauge results reuse this type with Target set.
type Gauge struct {
	Value     decimal.Decimal `json:"value"`
	Min       float64         `json:"min"`
	Max       float64         `json:"max"`
	Status    string          `json:"status"`
	Target    float64         `json:"target,omitempty"`
	Indicator bool            `json:"indicator,omitempty"`
}

func (g Gauge) Shape() DisplayShape {
	if g.Indicator {
		return ShapeIndicatorGauge
	}
	return ShapeGauge
}

// GaugeStatus maps a [0,100] value onto a status tier.
func GaugeStatus(v decimal.Decimal) string {
	f, _ := v.Float64()
	switch {
	case f >= 80:
		return GaugeExcellent
	case f >= 60:
		return GaugeGood
	case f >= 40:
		return GaugeFair
	default:
		return GaugePoor
	}
}

// Series is an ordered time series with parallel label/value arrays.
type Series struct {
	Labels []string          `json:"labels"`
	Values []decimal.Decimal `json:"values"`
	Rows   []Row             `json:"rows"`
}

func (Series) Shape() DisplayShape { return ShapeTimeSeries }

// Categorical is a label→value breakdown with parallel arrays.
type Categorical struct {
	Labels []string          `json:"labels"`
	Values []decimal.Decimal `json:"values"`
	Rows   []Row             `json:"rows"`
}

func (Categorical) Shape() DisplayShape { return ShapeCategorical }

// Table is a full row list with an explicit column order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (Table) Shape() DisplayShape { return ShapeTable }

// ScalarValue extracts a single numeric value from v when one exists.
// Series/categorical/table results have no single value.
func ScalarValue(v Value) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case Scalar:
		return t.Value, true
	case Gauge:
		return t.Value, true
	case Series, Categorical, Table:
		return decimal.Zero, false
	default:
		return decimal.Zero, false
	}
}

// Result is one computed metric value with its identity and timestamp.
type Result struct {
	Key        Key       `json:"key"`
	Value      Value     `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}

// valueEnvelope is the serialized form of a Value: the shape tag picks the
// concrete type on decode.
type valueEnvelope struct {
	Shape   DisplayShape    `json:"shape"`
	Payload json.RawMessage `json:"payload"`
}

type resultEnvelope struct {
	Key        Key           `json:"key"`
	Value      valueEnvelope `json:"value"`
	ComputedAt time.Time     `json:"computed_at"`
}

// MarshalJSON encodes the result with a shape-tagged value envelope so it
// round-trips through the durable store.
func (r Result) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(r.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resultEnvelope{
		Key:        r.Key,
		Value:      valueEnvelope{Shape: r.Value.Shape(), Payload: payload},
		ComputedAt: r.ComputedAt,
	})
}

// UnmarshalJSON decodes a shape-tagged result envelope.
func (r *Result) UnmarshalJSON(data []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	var value Value
	switch env.Value.Shape {
	case ShapeScalar:
		var v Scalar
		if err := json.Unmarshal(env.Value.Payload, &v); err != nil {
			return err
		}
		value = v
	case ShapeGauge, ShapeIndicatorGauge:
		var v Gauge
		if err := json.Unmarshal(env.Value.Payload, &v); err != nil {
			return err
		}
		value = v
	case ShapeTimeSeries:
		var v Series
		if err := json.Unmarshal(env.Value.Payload, &v); err != nil {
			return err
		}
		value = v
	case ShapeCategorical:
		var v Categorical
		if err := json.Unmarshal(env.Value.Payload, &v); err != nil {
			return err
		}
		value = v
	case ShapeTable:
		var v Table
		if err := json.Unmarshal(env.Value.Payload, &v); err != nil {
			return err
		}
		value = v
	default:
		return fmt.Errorf("unknown result shape %q", env.Value.Shape)
	}

	r.Key = env.Key
	r.Value = value
	r.ComputedAt = env.ComputedAt
	return nil
}
