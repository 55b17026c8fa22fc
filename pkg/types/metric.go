// Package types defines the domain model shared by the pulse engine, its
// HTTP API and embedding applications.
package types

import "time"

// MetricType classifies how a metric's values should be interpreted.
type MetricType string

const (
	MetricCounter   MetricType = "counter"
	MetricGauge     MetricType = "gauge"
	MetricHistogram MetricType = "histogram"
	MetricSummary   MetricType = "summary"
	MetricRate      MetricType = "rate"
)

// Category groups metrics by the subsystem they describe.
type Category string

const (
	CategorySystem      Category = "system"
	CategoryApplication Category = "application"
	CategoryBusiness    Category = "business"
	CategorySecurity    Category = "security"
	CategoryNetwork     Category = "network"
	CategoryDatabase    Category = "database"
)

// Priority is shared by metrics and alert rules severities.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Aggregation is a reduction over a set of data points.
type Aggregation string

const (
	AggNone  Aggregation = ""
	AggSum   Aggregation = "sum"
	AggAvg   Aggregation = "avg"
	AggMin   Aggregation = "min"
	AggMax   Aggregation = "max"
	AggCount Aggregation = "count"
	AggRate  Aggregation = "rate"
	AggLast  Aggregation = "last"
	AggP50   Aggregation = "p50"
	AggP95   Aggregation = "p95"
	AggP99   Aggregation = "p99"
)

// DataPoint is a single timestamped measurement. Stored points are never
// mutated; every read hands out copies.
type DataPoint struct {
	Timestamp time.Time              `json:"timestamp"`
	Value     float64                `json:"value"`
	Tags      map[string]string      `json:"tags,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the point.
func (p DataPoint) Clone() DataPoint {
	out := DataPoint{Timestamp: p.Timestamp, Value: p.Value}
	if p.Tags != nil {
		out.Tags = make(map[string]string, len(p.Tags))
		for k, v := range p.Tags {
			out.Tags[k] = v
		}
	}
	if p.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(p.Metadata))
		for k, v := range p.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// ClonePoints deep-copies a slice of points.
func ClonePoints(points []DataPoint) []DataPoint {
	out := make([]DataPoint, len(points))
	for i, p := range points {
		out[i] = p.Clone()
	}
	return out
}

// Values extracts the numeric values of points in order.
func Values(points []DataPoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Value
	}
	return out
}

// Metric describes a time series known to the catalog. The series itself
// lives in the store.
type Metric struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        MetricType        `json:"type"`
	Unit        string            `json:"unit"`
	Category    Category          `json:"category"`
	Priority    Priority          `json:"priority"`
	Aggregation Aggregation       `json:"aggregation"`
	Retention   time.Duration     `json:"-"` // retention_seconds
	Enabled     bool              `json:"enabled"`
	Tags        map[string]string `json:"tags,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
}

// MetricDefinition is the input to metric registration.
type MetricDefinition struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Type        MetricType        `json:"type"`
	Unit        string            `json:"unit"`
	Category    Category          `json:"category"`
	Priority    Priority          `json:"priority"`
	Aggregation Aggregation       `json:"aggregation"`
	Retention   time.Duration     `json:"-"` // retention_seconds
	Tags        map[string]string `json:"tags,omitempty"`
	// Disabled registers the metric without accepting points.
	Disabled bool `json:"disabled,omitempty"`
}

// Validate checks the definition's enums and required fields.
func (d MetricDefinition) Validate() error {
	if d.Name == "" {
		return Invalidf("metric name is required")
	}
	switch d.Type {
	case MetricCounter, MetricGauge, MetricHistogram, MetricSummary, MetricRate:
	default:
		return Invalidf("metric %q: unknown type %q", d.Name, d.Type)
	}
	switch d.Category {
	case CategorySystem, CategoryApplication, CategoryBusiness, CategorySecurity, CategoryNetwork, CategoryDatabase:
	default:
		return Invalidf("metric %q: unknown category %q", d.Name, d.Category)
	}
	if d.Priority != "" && !d.Priority.valid() {
		return Invalidf("metric %q: unknown priority %q", d.Name, d.Priority)
	}
	if d.Aggregation != AggNone && !d.Aggregation.Valid() {
		return Invalidf("metric %q: unknown aggregation %q", d.Name, d.Aggregation)
	}
	if d.Retention < 0 {
		return Invalidf("metric %q: retention must not be negative", d.Name)
	}
	if d.Retention > 0 && d.Retention < time.Second {
		return Invalidf("metric %q: retention_seconds must be at least 1", d.Name)
	}
	return nil
}

func (p Priority) valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Valid reports whether a is a known non-empty aggregation.
func (a Aggregation) Valid() bool {
	switch a {
	case AggSum, AggAvg, AggMin, AggMax, AggCount, AggRate, AggLast, AggP50, AggP95, AggP99:
		return true
	}
	return false
}
