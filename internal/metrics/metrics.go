package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Self-instrumentation of the pulse engine, exposed on /metrics.
var (
	// Ingestion
	PointsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_points_recorded_total",
			Help: "Data points accepted into metric buffers",
		},
		[]string{"metric"},
	)

	PointsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_points_dropped_total",
			Help: "Data points ignored by record",
		},
		[]string{"reason"}, // unknown_metric, disabled_metric
	)

	FlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_flush_duration_seconds",
			Help:    "Time spent flushing one metric buffer including alert evaluation",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"metric"},
	)

	FlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_flush_errors_total",
			Help: "Flushes that failed to write to the store",
		},
		[]string{"metric"},
	)

	SeriesLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_series_points",
			Help: "Retained points per metric after the last flush",
		},
		[]string{"metric"},
	)

	// Alerting
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_alerts_triggered_total",
			Help: "Alert rule firings",
		},
		[]string{"rule", "severity"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_notifications_total",
			Help: "Notification deliveries by channel type and outcome",
		},
		[]string{"channel_type", "status"},
	)

	NotificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_notification_duration_seconds",
			Help:    "Notification delivery latency",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms to ~10s
		},
		[]string{"channel_type"},
	)

	// Insights
	InsightsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_insights_generated_total",
			Help: "Insights appended by the generator",
		},
		[]string{"type", "severity"},
	)

	InsightPassErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_insight_pass_errors_total",
			Help: "Per-metric failures inside an insight pass",
		},
		[]string{"pass"},
	)

	// Health
	SystemHealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_system_health_score",
			Help: "Mean component health score (0-100)",
		},
	)

	ComponentHealthScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_component_health_score",
			Help: "Health score per component (0-100)",
		},
		[]string{"component"},
	)

	ProbeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_health_probe_errors_total",
			Help: "Health probes that returned an error or panicked",
		},
		[]string{"component"},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_events_published_total",
			Help: "Events handed to the event bus",
		},
		[]string{"type", "status"},
	)

	// HTTP API
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_http_requests_total",
			Help: "API requests by route and status code",
		},
		[]string{"route", "method", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_event_stream_clients",
			Help: "Open event WebSocket connections",
		},
	)
)
