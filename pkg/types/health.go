package types

import "time"

// HealthStatus of a component or of the whole system.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusCritical HealthStatus = "critical"
	StatusUnknown  HealthStatus = "unknown"
)

// StatusForScore maps a 0-100 score to a status: >=95 healthy, >=80
// degraded, anything lower critical. There is no hysteresis band.
func StatusForScore(score float64) HealthStatus {
	switch {
	case score >= 95:
		return StatusHealthy
	case score >= 80:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// ComponentMetrics is the fixed metric bundle reported by every probe.
// Latency is in milliseconds, ErrorRate in percent.
type ComponentMetrics struct {
	Availability float64 `json:"availability"`
	Latency      float64 `json:"latency"`
	ErrorRate    float64 `json:"error_rate"`
	Throughput   float64 `json:"throughput"`
}

// ComponentHealth is recomputed in place on every health tick.
type ComponentHealth struct {
	Name         string           `json:"name"`
	Status       HealthStatus     `json:"status"`
	Score        float64          `json:"score"`
	Metrics      ComponentMetrics `json:"metrics"`
	Dependencies []string         `json:"dependencies,omitempty"`
	LastChecked  time.Time        `json:"last_checked"`
	Incidents    int              `json:"incidents"`
}

// HealthIncident is opened when a component turns critical and resolved
// once it is healthy again.
type HealthIncident struct {
	ID          string       `json:"id"`
	Component   string       `json:"component"`
	Severity    HealthStatus `json:"severity"`
	Description string       `json:"description"`
	StartedAt   time.Time    `json:"started_at"`
	ResolvedAt  time.Time    `json:"resolved_at,omitempty"`
}

// Trend classifies the direction of an SLA indicator.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// SLAIndicator compares a current value with its target.
type SLAIndicator struct {
	Target  float64 `json:"target"`
	Current float64 `json:"current"`
	Trend   Trend   `json:"trend"`
}

// LatencyIndicator adds percentile estimates to SLAIndicator. P95 and P99
// are fixed multiples of the mean, not sampled percentiles.
type LatencyIndicator struct {
	SLAIndicator
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// SLAStatus is derived from component metrics on every tick.
type SLAStatus struct {
	Availability SLAIndicator     `json:"availability"`
	Latency      LatencyIndicator `json:"latency"`
	ErrorRate    SLAIndicator     `json:"error_rate"`
}

// HealthTrends is a four-slot ring of past scores.
type HealthTrends struct {
	OneHour         float64 `json:"1h"`
	TwentyFourHours float64 `json:"24h"`
	SevenDays       float64 `json:"7d"`
	ThirtyDays      float64 `json:"30d"`
}

// SystemHealth is the aggregate view returned by the health tracker.
type SystemHealth struct {
	Overall     HealthStatus      `json:"overall"`
	Score       float64           `json:"score"`
	Components  []ComponentHealth `json:"components"`
	Incidents   []HealthIncident  `json:"incidents"`
	SLA         SLAStatus         `json:"sla"`
	Trends      HealthTrends      `json:"trends"`
	LastChecked time.Time         `json:"last_checked"`
}

// Clone returns a deep copy.
func (h SystemHealth) Clone() SystemHealth {
	out := h
	out.Components = make([]ComponentHealth, len(h.Components))
	for i, c := range h.Components {
		c.Dependencies = append([]string(nil), c.Dependencies...)
		out.Components[i] = c
	}
	out.Incidents = append([]HealthIncident(nil), h.Incidents...)
	return out
}
