package insights

import (
	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// RecommendationRule is one row of the declarative recommendation table:
// reduce the last Window points of MetricID with Aggregation and emit an
// insight when Operator holds against Threshold.
type RecommendationRule struct {
	ID              string
	MetricID        string
	Window          int
	Aggregation     types.Aggregation
	Operator        types.Operator
	Threshold       float64
	Min, Max        float64
	Title           string
	Description     string
	Severity        types.Severity
	Impact          types.Priority
	Confidence      float64
	Recommendations []string
}

// DefaultRecommendations is the built-in table.
func DefaultRecommendations() []RecommendationRule {
	return []RecommendationRule{
		{
			ID: "cpu-scale-up", MetricID: catalog.MetricCPUUsage, Window: 10,
			Aggregation: types.AggAvg, Operator: types.OpGT, Threshold: 80,
			Title:       "Scale up compute capacity",
			Description: "Average CPU usage over recent samples is above 80%.",
			Severity:    types.SeverityWarning, Impact: types.PriorityHigh, Confidence: 85,
			Recommendations: []string{
				"Add instances or raise CPU limits for the busiest services",
				"Enable horizontal autoscaling on CPU utilization",
				"Profile hot code paths for avoidable work",
			},
		},
		{
			ID: "cpu-scale-down", MetricID: catalog.MetricCPUUsage, Window: 10,
			Aggregation: types.AggAvg, Operator: types.OpLT, Threshold: 20,
			Title:       "Scale down idle compute",
			Description: "Average CPU usage over recent samples is below 20%.",
			Severity:    types.SeverityInfo, Impact: types.PriorityMedium, Confidence: 75,
			Recommendations: []string{
				"Reduce instance count or size to cut cost",
				"Consolidate low-traffic workloads",
			},
		},
		{
			ID: "memory-pressure", MetricID: catalog.MetricMemoryUsage, Window: 10,
			Aggregation: types.AggAvg, Operator: types.OpGT, Threshold: 85,
			Title:       "Relieve memory pressure",
			Description: "Average memory usage over recent samples is above 85%.",
			Severity:    types.SeverityWarning, Impact: types.PriorityHigh, Confidence: 80,
			Recommendations: []string{
				"Raise memory limits or add capacity",
				"Check for leaks in long-running processes",
			},
		},
		{
			ID: "error-rate", MetricID: catalog.MetricErrorRate, Window: 10,
			Aggregation: types.AggAvg, Operator: types.OpGT, Threshold: 5,
			Title:       "Investigate elevated error rate",
			Description: "More than 5% of recent requests failed.",
			Severity:    types.SeverityError, Impact: types.PriorityHigh, Confidence: 90,
			Recommendations: []string{
				"Correlate failures with the latest deployment",
				"Inspect upstream dependency health",
			},
		},
		{
			ID: "slow-responses", MetricID: catalog.MetricResponseTime, Window: 10,
			Aggregation: types.AggAvg, Operator: types.OpGT, Threshold: 1000,
			Title:       "Reduce response latency",
			Description: "Average response time over recent samples exceeds one second.",
			Severity:    types.SeverityWarning, Impact: types.PriorityMedium, Confidence: 80,
			Recommendations: []string{
				"Add caching for expensive reads",
				"Review slow database queries",
			},
		},
	}
}
