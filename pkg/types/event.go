package types

import "time"

// EventType names an engine notification published to the event bus.
type EventType string

const (
	EventMetricRegistered    EventType = "metric.registered"
	EventMetricRecorded      EventType = "metric.recorded"
	EventDashboardCreated    EventType = "dashboard.created"
	EventDashboardUpdated    EventType = "dashboard.updated"
	EventDashboardDeleted    EventType = "dashboard.deleted"
	EventRuleCreated         EventType = "alert_rule.created"
	EventRuleUpdated         EventType = "alert_rule.updated"
	EventRuleMuted           EventType = "alert_rule.muted"
	EventRuleUnmuted         EventType = "alert_rule.unmuted"
	EventChannelCreated      EventType = "notification_channel.created"
	EventChannelUpdated      EventType = "notification_channel.updated"
	EventAlertTriggered      EventType = "alert.triggered"
	EventInsightGenerated    EventType = "insight.generated"
	EventInsightAcknowledged EventType = "insight.acknowledged"
	EventSystemHealthUpdated EventType = "system.health.updated"
)

// Event is a fire-and-forget notification. Data is consumer-defined.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}
