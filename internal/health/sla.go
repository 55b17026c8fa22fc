package health

import (
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// SLATargets are the objectives current values are compared against.
type SLATargets struct {
	Availability float64 // percent
	LatencyMs    float64
	ErrorRate    float64 // percent
}

// DefaultSLATargets: 99.9% availability, 200ms latency, 1% errors.
func DefaultSLATargets() SLATargets {
	return SLATargets{Availability: 99.9, LatencyMs: 200, ErrorRate: 1}
}

// ComputeSLA derives SLA status from the given components.
//
// Latency P95 and P99 are 1.5x and 2.5x the mean latency. This is a
// placeholder until probes report latency distributions.
func ComputeSLA(components []types.ComponentHealth, t SLATargets) types.SLAStatus {
	avail := make([]float64, 0, len(components))
	lat := make([]float64, 0, len(components))
	errs := make([]float64, 0, len(components))
	for _, c := range components {
		avail = append(avail, c.Metrics.Availability)
		lat = append(lat, c.Metrics.Latency)
		errs = append(errs, c.Metrics.ErrorRate)
	}

	s := types.SLAStatus{
		Availability: types.SLAIndicator{Target: t.Availability, Trend: types.TrendStable},
		Latency:      types.LatencyIndicator{SLAIndicator: types.SLAIndicator{Target: t.LatencyMs, Trend: types.TrendStable}},
		ErrorRate:    types.SLAIndicator{Target: t.ErrorRate, Trend: types.TrendStable},
	}
	if len(components) == 0 {
		return s
	}

	s.Availability.Current = timeseries.Mean(avail)
	switch {
	case s.Availability.Current > 99.5:
		s.Availability.Trend = types.TrendImproving
	case s.Availability.Current < 99.0:
		s.Availability.Trend = types.TrendDegrading
	}

	s.Latency.Current = timeseries.Mean(lat)
	s.Latency.P95 = s.Latency.Current * 1.5
	s.Latency.P99 = s.Latency.Current * 2.5
	switch {
	case s.Latency.Current > t.LatencyMs:
		s.Latency.Trend = types.TrendDegrading
	case s.Latency.Current <= 0.8*t.LatencyMs:
		s.Latency.Trend = types.TrendImproving
	}

	s.ErrorRate.Current = timeseries.Mean(errs)
	switch {
	case s.ErrorRate.Current < 0.5:
		s.ErrorRate.Trend = types.TrendImproving
	case s.ErrorRate.Current > 2.0:
		s.ErrorRate.Trend = types.TrendDegrading
	}
	return s
}
