package alerting

import (
	"time"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// DefaultRules are seeded at startup alongside the default catalog.
// Channels are attached by configuration.
func DefaultRules() map[string]types.AlertRuleDefinition {
	return map[string]types.AlertRuleDefinition{
		"high-cpu": {
			Name:     "High CPU usage",
			MetricID: catalog.MetricCPUUsage,
			Condition: types.Condition{
				Type: types.ConditionThreshold, Operator: types.OpGT, Value: 80,
				TimeWindow: 5 * time.Minute, Aggregation: types.AggAvg,
			},
			Severity:  types.PriorityHigh,
			Frequency: 5 * time.Minute,
		},
		"critical-memory": {
			Name:     "Critical memory usage",
			MetricID: catalog.MetricMemoryUsage,
			Condition: types.Condition{
				Type: types.ConditionThreshold, Operator: types.OpGT, Value: 90,
				TimeWindow: 5 * time.Minute, Aggregation: types.AggAvg,
			},
			Severity:  types.PriorityCritical,
			Frequency: 5 * time.Minute,
		},
		"high-error-rate": {
			Name:     "High error rate",
			MetricID: catalog.MetricErrorRate,
			Condition: types.Condition{
				Type: types.ConditionThreshold, Operator: types.OpGT, Value: 5,
				TimeWindow: 5 * time.Minute, Aggregation: types.AggAvg,
			},
			Severity:  types.PriorityCritical,
			Frequency: 10 * time.Minute,
		},
		"slow-responses": {
			Name:     "Slow responses",
			MetricID: catalog.MetricResponseTime,
			Condition: types.Condition{
				Type: types.ConditionThreshold, Operator: types.OpGT, Value: 1000,
				TimeWindow: 5 * time.Minute, Aggregation: types.AggP95,
			},
			Severity:  types.PriorityMedium,
			Frequency: 10 * time.Minute,
		},
		"failed-login-spike": {
			Name:     "Failed login spike",
			MetricID: catalog.MetricFailedLogins,
			Condition: types.Condition{
				Type: types.ConditionThreshold, Operator: types.OpGT, Value: 50,
				TimeWindow: 5 * time.Minute, Aggregation: types.AggSum,
			},
			Severity:  types.PriorityHigh,
			Frequency: 15 * time.Minute,
		},
		"disk-exhaustion-forecast": {
			Name:     "Disk full within the hour",
			MetricID: catalog.MetricDiskUsage,
			Condition: types.Condition{
				Type: types.ConditionForecast, Operator: types.OpGTE, Value: 95,
				TimeWindow: 30 * time.Minute, Duration: time.Hour,
			},
			Severity:  types.PriorityHigh,
			Frequency: 30 * time.Minute,
		},
	}
}
