package catalog

import (
	"time"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Well-known metric ids referenced by the default alert rules,
// recommendation table and host collector.
const (
	MetricCPUUsage          = "cpu_usage"
	MetricMemoryUsage       = "memory_usage"
	MetricDiskUsage         = "disk_usage"
	MetricLoadAverage       = "load_average"
	MetricNetworkThroughput = "network_throughput"
	MetricResponseTime      = "response_time"
	MetricErrorRate         = "error_rate"
	MetricRequestRate       = "request_rate"
	MetricActiveUsers       = "active_users"
	MetricFailedLogins      = "failed_logins"
	MetricDBQueryTime       = "db_query_time"
	MetricDBConnections     = "db_connections"
)

// Defaults is the fixed catalog seeded at startup.
func Defaults() []types.MetricDefinition {
	day := 24 * time.Hour
	week := 7 * day
	return []types.MetricDefinition{
		{ID: MetricCPUUsage, Name: MetricCPUUsage, Description: "CPU utilization", Type: types.MetricGauge, Unit: "percent", Category: types.CategorySystem, Priority: types.PriorityHigh, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricMemoryUsage, Name: MetricMemoryUsage, Description: "Memory utilization", Type: types.MetricGauge, Unit: "percent", Category: types.CategorySystem, Priority: types.PriorityHigh, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricDiskUsage, Name: MetricDiskUsage, Description: "Disk utilization", Type: types.MetricGauge, Unit: "percent", Category: types.CategorySystem, Priority: types.PriorityMedium, Aggregation: types.AggAvg, Retention: week},
		{ID: MetricLoadAverage, Name: MetricLoadAverage, Description: "One minute load average", Type: types.MetricGauge, Unit: "load", Category: types.CategorySystem, Priority: types.PriorityMedium, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricNetworkThroughput, Name: MetricNetworkThroughput, Description: "Network bytes per second", Type: types.MetricRate, Unit: "bytes/s", Category: types.CategoryNetwork, Priority: types.PriorityMedium, Aggregation: types.AggSum, Retention: day},
		{ID: MetricResponseTime, Name: MetricResponseTime, Description: "Request latency", Type: types.MetricHistogram, Unit: "ms", Category: types.CategoryApplication, Priority: types.PriorityHigh, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricErrorRate, Name: MetricErrorRate, Description: "Failed requests", Type: types.MetricGauge, Unit: "percent", Category: types.CategoryApplication, Priority: types.PriorityCritical, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricRequestRate, Name: MetricRequestRate, Description: "Requests per second", Type: types.MetricRate, Unit: "req/s", Category: types.CategoryApplication, Priority: types.PriorityHigh, Aggregation: types.AggSum, Retention: day},
		{ID: MetricActiveUsers, Name: MetricActiveUsers, Description: "Concurrent active users", Type: types.MetricGauge, Unit: "users", Category: types.CategoryBusiness, Priority: types.PriorityMedium, Aggregation: types.AggMax, Retention: week},
		{ID: MetricFailedLogins, Name: MetricFailedLogins, Description: "Failed login attempts", Type: types.MetricCounter, Unit: "count", Category: types.CategorySecurity, Priority: types.PriorityHigh, Aggregation: types.AggSum, Retention: week},
		{ID: MetricDBQueryTime, Name: MetricDBQueryTime, Description: "Database query latency", Type: types.MetricHistogram, Unit: "ms", Category: types.CategoryDatabase, Priority: types.PriorityHigh, Aggregation: types.AggAvg, Retention: day},
		{ID: MetricDBConnections, Name: MetricDBConnections, Description: "Open database connections", Type: types.MetricGauge, Unit: "connections", Category: types.CategoryDatabase, Priority: types.PriorityMedium, Aggregation: types.AggMax, Retention: day},
	}
}
