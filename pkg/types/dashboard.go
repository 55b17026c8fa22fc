package types

import "time"

// WidgetQuery is one query a dashboard widget runs against the engine.
type WidgetQuery struct {
	Metric      string            `json:"metric"`
	Aggregation Aggregation       `json:"aggregation,omitempty"`
	GroupBy     []string          `json:"group_by,omitempty"`
	Filters     map[string]string `json:"filters,omitempty"`
}

// Widget is a titled set of queries. Layout belongs to the UI.
type Widget struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Queries []WidgetQuery `json:"queries"`
}

// Dashboard is externally supplied configuration used by report generation.
type Dashboard struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Widgets []Widget  `json:"widgets"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// DashboardDefinition is the input to dashboard creation and update.
type DashboardDefinition struct {
	Name    string   `json:"name"`
	Widgets []Widget `json:"widgets"`
}

// Validate requires every widget query to name a metric.
func (d DashboardDefinition) Validate() error {
	for _, w := range d.Widgets {
		for _, q := range w.Queries {
			if q.Metric == "" {
				return Invalidf("dashboard %q widget %q: query without metric", d.Name, w.ID)
			}
			if q.Aggregation != AggNone && !q.Aggregation.Valid() {
				return Invalidf("dashboard %q widget %q: unknown aggregation %q", d.Name, w.ID, q.Aggregation)
			}
		}
	}
	return nil
}

// ReportFormat selects how a report is rendered.
type ReportFormat string

const (
	ReportJSON ReportFormat = "json"
	ReportCSV  ReportFormat = "csv"
)

// ReportQuery is a widget query together with its result.
type ReportQuery struct {
	WidgetQuery
	Data []DataPoint `json:"data"`
}

// ReportWidget mirrors a dashboard widget with resolved data.
type ReportWidget struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Queries []ReportQuery `json:"queries"`
}

// Report is a read-only projection of a dashboard over a time range.
type Report struct {
	DashboardID string         `json:"dashboard_id"`
	Name        string         `json:"name"`
	Format      ReportFormat   `json:"format"`
	Start       time.Time      `json:"start"`
	End         time.Time      `json:"end"`
	Generated   time.Time      `json:"generated"`
	Widgets     []ReportWidget `json:"widgets"`
}
