package export

import (
	"bytes"
	"context"
	"html/template"
	"time"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"

	"github.com/meridianhealth/hr-analytics/internal/metric"
)

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; color: #1f2937; margin: 32px; }
  h1 { font-size: 22px; border-bottom: 2px solid #2f5496; padding-bottom: 8px; }
  h2 { font-size: 15px; color: #2f5496; margin-top: 28px; }
  .meta { color: #6b7280; font-size: 11px; }
  table { border-collapse: collapse; width: 100%; margin-top: 8px; }
  th { background: #2f5496; color: #fff; text-align: left; padding: 6px 10px; font-size: 12px; }
  td { border-bottom: 1px solid #e5e7eb; padding: 6px 10px; font-size: 12px; }
  .value { font-size: 26px; font-weight: bold; margin: 4px 0; }
</style>
</head>
<body>
<h1>HR Metrics Report</h1>
<p class="meta">Generated {{.GeneratedAt}}{{if .Filters}} | Filters: {{range $k, $v := .Filters}}{{$k}}={{$v}} {{end}}{{end}}</p>
{{range .Sections}}
<h2>{{.Title}}</h2>
{{if .Value}}<p class="value">{{.Value}}</p>{{end}}
{{if .Description}}<p class="meta">{{.Description}}</p>{{end}}
{{if .Header}}
<table>
<tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr>
{{range .Rows}}<tr>{{range .}}<td>{{.}}</td>{{end}}</tr>{{end}}
</table>
{{end}}
{{end}}
</body>
</html>
`))

type reportSection struct {
	Title       string
	Value       string
	Description string
	Header      []string
	Rows        [][]string
}

type reportData struct {
	GeneratedAt string
	Filters     map[string]string
	Sections    []reportSection
}

// renderDocument renders the metric set through the HTML report template and
// converts it to PDF with wkhtmltopdf.
func renderDocument(ctx context.Context, set *MetricSet) (*Artifact, error) {
	data := reportData{
		GeneratedAt: set.GeneratedAt.UTC().Format(time.RFC1123),
		Filters:     set.Filters,
	}
	for _, entry := range set.Entries {
		section := reportSection{
			Title:       TitleCase(entry.Definition.Category) + " / " + TitleCase(entry.Definition.Name),
			Description: entry.Definition.Description,
		}
		if v, ok := metric.ScalarValue(entry.Result.Value); ok {
			section.Value = FormatValue(v)
		}
		if header, rows := detailTable(entry.Result.Value); header != nil {
			section.Header = titleCased(header)
			section.Rows = rows
		}
		data.Sections = append(data.Sections, section)
	}

	var html bytes.Buffer
	if err := reportTemplate.Execute(&html, data); err != nil {
		return nil, err
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return nil, err
	}
	pdfg.Dpi.Set(96)
	pdfg.MarginTop.Set(10)
	pdfg.MarginBottom.Set(10)
	pdfg.AddPage(wkhtmltopdf.NewPageReader(&html))

	if err := pdfg.CreateContext(ctx); err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    artifactName(FormatDocument, set.GeneratedAt),
		ContentType: "application/pdf",
		Data:        pdfg.Bytes(),
	}, nil
}
