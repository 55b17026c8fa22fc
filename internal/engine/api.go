package engine

import (
	"context"
	"time"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/query"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Record buffers one measurement. Unknown or disabled metrics are ignored.
func (e *Engine) Record(metricID string, value float64, tags map[string]string) {
	e.buffer.Record(metricID, value, tags)
}

// RegisterMetric adds a metric to the catalog.
func (e *Engine) RegisterMetric(ctx context.Context, def types.MetricDefinition, actor string) (types.Metric, error) {
	m, err := e.catalog.Register(def)
	if err != nil {
		return types.Metric{}, err
	}
	e.emitter.Emit(ctx, types.EventMetricRegistered, m)
	_ = e.audit.LogResourceChange(ctx, audit.EventMetricRegistered, "metric", m.ID, actor)
	return m, nil
}

// SetMetricEnabled enables or disables recording for a metric.
func (e *Engine) SetMetricEnabled(id string, enabled bool) error {
	return e.catalog.SetEnabled(id, enabled)
}

// Metrics lists the catalog in registration order.
func (e *Engine) Metrics() []types.Metric { return e.catalog.List() }

// GetMetric looks a metric up by id or name.
func (e *Engine) GetMetric(nameOrID string) (types.Metric, bool) { return e.catalog.Lookup(nameOrID) }

// CreateAlertRule registers a rule. The target metric must exist.
func (e *Engine) CreateAlertRule(ctx context.Context, id string, def types.AlertRuleDefinition, actor string) (types.AlertRule, error) {
	if err := e.requireMetric(def.MetricID); err != nil {
		return types.AlertRule{}, err
	}
	return e.alerts.CreateRule(ctx, id, def, actor)
}

// UpdateAlertRule replaces a rule definition.
func (e *Engine) UpdateAlertRule(ctx context.Context, id string, def types.AlertRuleDefinition, actor string) (types.AlertRule, error) {
	if err := e.requireMetric(def.MetricID); err != nil {
		return types.AlertRule{}, err
	}
	return e.alerts.UpdateRule(ctx, id, def, actor)
}

func (e *Engine) requireMetric(id string) error {
	if id == "" {
		// left to rule validation
		return nil
	}
	if _, ok := e.catalog.Get(id); !ok {
		return types.NotFound("metric", id)
	}
	return nil
}

// SetAlertRuleEnabled enables or disables a rule.
func (e *Engine) SetAlertRuleEnabled(ctx context.Context, id string, enabled bool, actor string) error {
	return e.alerts.SetEnabled(ctx, id, enabled, actor)
}

// MuteAlertRule silences a rule for d, or until unmuted when d <= 0.
func (e *Engine) MuteAlertRule(ctx context.Context, id string, d time.Duration, actor string) (types.AlertRule, error) {
	return e.alerts.Mute(ctx, id, d, actor)
}

// UnmuteAlertRule lifts a mute.
func (e *Engine) UnmuteAlertRule(ctx context.Context, id, actor string) (types.AlertRule, error) {
	return e.alerts.Unmute(ctx, id, actor)
}

// Rules lists alert rules in creation order.
func (e *Engine) Rules() []types.AlertRule { return e.alerts.ListRules() }

// GetRule returns one alert rule.
func (e *Engine) GetRule(id string) (types.AlertRule, bool) { return e.alerts.GetRule(id) }

// AlertHistory returns up to limit fired alerts, newest first.
func (e *Engine) AlertHistory(limit int) []types.Alert { return e.alerts.History(limit) }

// CreateNotificationChannel registers a channel.
func (e *Engine) CreateNotificationChannel(ctx context.Context, id string, def types.ChannelDefinition, actor string) (types.NotificationChannel, error) {
	ch, err := e.dispatcher.CreateChannel(ctx, id, def)
	if err != nil {
		return types.NotificationChannel{}, err
	}
	_ = e.audit.LogResourceChange(ctx, audit.EventChannelCreated, "notification_channel", id, actor)
	return ch, nil
}

// UpdateNotificationChannel replaces a channel definition.
func (e *Engine) UpdateNotificationChannel(ctx context.Context, id string, def types.ChannelDefinition, actor string) (types.NotificationChannel, error) {
	ch, err := e.dispatcher.UpdateChannel(ctx, id, def)
	if err != nil {
		return types.NotificationChannel{}, err
	}
	_ = e.audit.LogResourceChange(ctx, audit.EventChannelUpdated, "notification_channel", id, actor)
	return ch, nil
}

// Channels lists notification channels.
func (e *Engine) Channels() []types.NotificationChannel { return e.dispatcher.ListChannels() }

// GetChannel returns a copy of the channel.
func (e *Engine) GetChannel(id string) (types.NotificationChannel, bool) {
	return e.dispatcher.GetChannel(id)
}

// Query reads a metric's series. See query.Service.
func (e *Engine) Query(ctx context.Context, req query.Request) ([]types.DataPoint, error) {
	return e.query.Query(ctx, req)
}

// GetSystemHealth returns a copy of the latest system health.
func (e *Engine) GetSystemHealth() types.SystemHealth { return e.health.Snapshot() }

// CheckHealth probes every component now.
func (e *Engine) CheckHealth(ctx context.Context) types.SystemHealth { return e.health.Check(ctx) }

// GetAllInsights returns every insight, oldest first.
func (e *Engine) GetAllInsights() []types.Insight { return e.insights.All() }

// GetInsightsByType returns insights of one type.
func (e *Engine) GetInsightsByType(t types.InsightType) []types.Insight { return e.insights.ByType(t) }

// AcknowledgeInsight marks an insight acknowledged. Repeating it is harmless.
func (e *Engine) AcknowledgeInsight(ctx context.Context, id, actor string) (types.Insight, error) {
	return e.insights.Acknowledge(ctx, id, actor)
}

// GenerateInsights runs the insight passes now.
func (e *Engine) GenerateInsights(ctx context.Context) []types.Insight { return e.insights.Generate(ctx) }

// FlushAll writes every buffer to the store and evaluates alert rules.
func (e *Engine) FlushAll(ctx context.Context) error { return e.buffer.FlushAll(ctx) }

// CreateDashboard stores dashboard configuration used for reports.
func (e *Engine) CreateDashboard(ctx context.Context, def types.DashboardDefinition, actor string) (types.Dashboard, error) {
	return e.dashboards.Create(ctx, def, actor)
}

// UpdateDashboard replaces a dashboard.
func (e *Engine) UpdateDashboard(ctx context.Context, id string, def types.DashboardDefinition, actor string) (types.Dashboard, error) {
	return e.dashboards.Update(ctx, id, def, actor)
}

// DeleteDashboard removes a dashboard.
func (e *Engine) DeleteDashboard(ctx context.Context, id, actor string) error {
	return e.dashboards.Delete(ctx, id, actor)
}

// Dashboards lists dashboards.
func (e *Engine) Dashboards() []types.Dashboard { return e.dashboards.List() }

// GetDashboard returns one dashboard.
func (e *Engine) GetDashboard(id string) (types.Dashboard, bool) { return e.dashboards.Get(id) }

// GenerateReport projects a dashboard's queries over [start, end].
func (e *Engine) GenerateReport(ctx context.Context, dashboardID string, start, end time.Time, format types.ReportFormat) (types.Report, error) {
	return e.dashboards.GenerateReport(ctx, dashboardID, start, end, format)
}
