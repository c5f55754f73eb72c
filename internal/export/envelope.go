package export

import (
	"encoding/json"
	"time"

	"github.com/meridianhealth/hr-analytics/internal/compute"
	"github.com/meridianhealth/hr-analytics/internal/metric"
)

// envelope is the JSON wire format shared by the json export and the sink
// pusher. Dashboards key off the metric id and displayShape.
type envelope struct {
	GeneratedAt time.Time        `json:"generated_at"`
	Source      string           `json:"source"`
	Version     string           `json:"version"`
	Filters     compute.Filters  `json:"filters,omitempty"`
	Metrics     []envelopeMetric `json:"metrics"`
}

type envelopeMetric struct {
	ID           string              `json:"id"`
	Category     string              `json:"category"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	DisplayShape metric.DisplayShape `json:"displayShape"`
	Value        string              `json:"value,omitempty"`
	ComputedAt   time.Time           `json:"computed_at"`
	Data         json.RawMessage     `json:"data"`
}

func (e *Exporter) buildEnvelope(set *MetricSet) (*envelope, error) {
	env := &envelope{
		GeneratedAt: set.GeneratedAt,
		Source:      e.source,
		Version:     e.version,
		Filters:     set.Filters,
		Metrics:     make([]envelopeMetric, 0, len(set.Entries)),
	}
	for _, entry := range set.Entries {
		data, err := json.Marshal(entry.Result.Value)
		if err != nil {
			return nil, err
		}
		m := envelopeMetric{
			ID:           entry.Definition.ID(),
			Category:     entry.Definition.Category,
			Name:         entry.Definition.Name,
			Description:  entry.Definition.Description,
			DisplayShape: entry.Result.Value.Shape(),
			ComputedAt:   entry.Result.ComputedAt,
			Data:         data,
		}
		if v, ok := metric.ScalarValue(entry.Result.Value); ok {
			m.Value = FormatValue(v)
		}
		env.Metrics = append(env.Metrics, m)
	}
	return env, nil
}

func (e *Exporter) renderJSON(set *MetricSet) (*Artifact, error) {
	env, err := e.buildEnvelope(set)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, err
	}
	return &Artifact{
		Filename:    artifactName(FormatJSON, set.GeneratedAt),
		ContentType: "application/json",
		Data:        data,
	}, nil
}
