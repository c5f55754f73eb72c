package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// renderCSV writes scalar metrics as a summary table, then one detail table
// per structured metric separated by a blank line.
func renderCSV(set *MetricSet) (*Artifact, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"metric", "value", "computed_at"}); err != nil {
		return nil, err
	}
	for _, entry := range set.Entries {
		v, ok := metric.ScalarValue(entry.Result.Value)
		if !ok {
			continue
		}
		record := []string{
			TitleCase(entry.Definition.Name),
			FormatValue(v),
			entry.Result.ComputedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	for _, entry := range set.Entries {
		header, rows := detailTable(entry.Result.Value)
		if header == nil {
			continue
		}
		buf.WriteByte('\n')
		buf.WriteString(TitleCase(entry.Definition.Name) + "\n")

		dw := csv.NewWriter(&buf)
		if err := dw.Write(header); err != nil {
			return nil, err
		}
		for _, row := range rows {
			if err := dw.Write(row); err != nil {
				return nil, err
			}
		}
		dw.Flush()
		if err := dw.Error(); err != nil {
			return nil, err
		}
	}

	return &Artifact{
		Filename:    artifactName(FormatCSV, set.GeneratedAt),
		ContentType: "text/csv",
		Data:        buf.Bytes(),
	}, nil
}

// detailTable flattens a structured value into a header and string rows.
// Scalar and gauge values have no detail table.
func detailTable(v metric.Value) ([]string, [][]string) {
	switch t := v.(type) {
	case metric.Series:
		rows := make([][]string, 0, len(t.Labels))
		for i, label := range t.Labels {
			rows = append(rows, []string{label, t.Values[i].StringFixed(2)})
		}
		return []string{"period", "value"}, rows
	case metric.Categorical:
		rows := make([][]string, 0, len(t.Labels))
		for i, label := range t.Labels {
			rows = append(rows, []string{label, t.Values[i].StringFixed(2)})
		}
		return []string{"label", "value"}, rows
	case metric.Table:
		rows := make([][]string, 0, len(t.Rows))
		for _, row := range t.Rows {
			record := make([]string, 0, len(t.Columns))
			for _, col := range t.Columns {
				record = append(record, cellString(row[col]))
			}
			rows = append(rows, record)
		}
		return t.Columns, rows
	default:
		return nil, nil
	}
}

func cellString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format("2006-01-02")
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
