package types

import "time"

// InsightType names the pass that produced an insight.
type InsightType string

const (
	InsightTrend          InsightType = "trend"
	InsightAnomaly        InsightType = "anomaly"
	InsightCorrelation    InsightType = "correlation"
	InsightRecommendation InsightType = "recommendation"
)

// Severity of an insight.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Insight is a derived observation over one or more metrics. Insights are
// append-only; acknowledgement annotates and never removes.
type Insight struct {
	ID              string                 `json:"id"`
	Type            InsightType            `json:"type"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	Severity        Severity               `json:"severity"`
	Metrics         []string               `json:"metrics"`
	Confidence      float64                `json:"confidence"`
	Impact          Priority               `json:"impact"`
	Actionable      bool                   `json:"actionable"`
	Recommendations []string               `json:"recommendations,omitempty"`
	Data            map[string]interface{} `json:"data,omitempty"`
	Created         time.Time              `json:"created"`
	Acknowledged    bool                   `json:"acknowledged"`
	AcknowledgedBy  string                 `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  time.Time              `json:"acknowledged_at,omitempty"`
}

// Clone returns a copy that shares nothing mutable with i.
func (i Insight) Clone() Insight {
	out := i
	out.Metrics = append([]string(nil), i.Metrics...)
	out.Recommendations = append([]string(nil), i.Recommendations...)
	if i.Data != nil {
		out.Data = make(map[string]interface{}, len(i.Data))
		for k, v := range i.Data {
			out.Data[k] = v
		}
	}
	return out
}
