package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// Format selects the artifact type produced by Export.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
	FormatWorkbook Format = "xlsx"
	FormatDocument Format = "pdf"
)

// Entry pairs a metric definition with its computed result.
type Entry struct {
	Definition *metric.Definition
	Result     *metric.Result
}

// MetricSet is an ordered collection of computed metrics assembled for one
// export or push. Order is preserved in every output format.
type MetricSet struct {
	GeneratedAt time.Time
	Filters     compute.Filters
	Entries     []Entry
}

// Artifact is a fully rendered export, ready to stream to the caller.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportError wraps a rendering failure for one format. No partial artifact
// is returned alongside it.
type ExportError struct {
	Format Format
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export %s: %v", e.Format, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// Exporter renders metric sets into downloadable artifacts.
type Exporter struct {
	source  string
	version string
}

// NewExporter stamps every envelope with the given source name and version.
func NewExporter(source, version string) *Exporter {
	return &Exporter{source: source, version: version}
}

// Export renders the set in the requested format.
func (e *Exporter) Export(ctx context.Context, set *MetricSet, format Format) (*Artifact, error) {
	start := time.Now()

	var (
		artifact *Artifact
		err      error
	)
	switch format {
	case FormatCSV:
		artifact, err = renderCSV(set)
	case FormatJSON:
		artifact, err = e.renderJSON(set)
	case FormatWorkbook:
		artifact, err = renderWorkbook(set)
	case FormatDocument:
		artifact, err = renderDocument(ctx, set)
	default:
		return nil, &ExportError{Format: format, Err: fmt.Errorf("unsupported format %q", format)}
	}
	if err != nil {
		return nil, &ExportError{Format: format, Err: err}
	}

	slog.Info("[Exporter] Artifact rendered",
		"format", format,
		"metrics", len(set.Entries),
		"bytes", len(artifact.Data),
		"elapsed", time.Since(start))
	return artifact, nil
}

func artifactName(format Format, at time.Time) string {
	return fmt.Sprintf("hr-metrics-%s.%s", at.Format("20060102-150405"), format)
}
