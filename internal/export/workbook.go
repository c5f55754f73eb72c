package export

import (
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

const summarySheet = "Summary"

// renderWorkbook builds an xlsx workbook with a styled summary sheet and one
// detail sheet per structured metric.
func renderWorkbook(set *MetricSet) (*Artifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2F5496"}, Pattern: 1},
	})
	if err != nil {
		return nil, err
	}

	if err := writeHeader(f, summarySheet, headerStyle, []string{"Category", "Metric", "Value", "Computed At"}); err != nil {
		return nil, err
	}
	row := 2
	for _, entry := range set.Entries {
		value := ""
		if v, ok := metric.ScalarValue(entry.Result.Value); ok {
			value = FormatValue(v)
		}
		cells := []interface{}{
			TitleCase(entry.Definition.Category),
			TitleCase(entry.Definition.Name),
			value,
			entry.Result.ComputedAt.UTC().Format(time.RFC3339),
		}
		if err := writeRow(f, summarySheet, row, cells); err != nil {
			return nil, err
		}
		row++
	}
	if err := f.SetColWidth(summarySheet, "A", "D", 24); err != nil {
		return nil, err
	}

	for _, entry := range set.Entries {
		header, rows := detailTable(entry.Result.Value)
		if header == nil {
			continue
		}
		sheet := sheetName(entry.Definition.Name)
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
		if err := writeHeader(f, sheet, headerStyle, titleCased(header)); err != nil {
			return nil, err
		}
		for i, record := range rows {
			cells := make([]interface{}, len(record))
			for j, c := range record {
				cells[j] = c
			}
			if err := writeRow(f, sheet, i+2, cells); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    artifactName(FormatWorkbook, set.GeneratedAt),
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Data:        buf.Bytes(),
	}, nil
}

func writeHeader(f *excelize.File, sheet string, style int, header []string) error {
	if err := writeRowStrings(f, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	return f.SetCellStyle(sheet, "A1", last, style)
}

func writeRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	for i, v := range cells {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
	}
	return nil
}

func writeRowStrings(f *excelize.File, sheet string, row int, cells []string) error {
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	return writeRow(f, sheet, row, values)
}

func titleCased(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = TitleCase(h)
	}
	return out
}

// sheetName fits a metric name into the 31-character xlsx sheet name limit.
func sheetName(name string) string {
	s := TitleCase(name)
	if len(s) > 31 {
		s = s[:31]
	}
	return s
}
