package audit

import "time"

// EventType names an audited action.
type EventType string

const (
	// Alert rule events
	EventRuleCreated     EventType = "rule.created"
	EventRuleUpdated     EventType = "rule.updated"
	EventRuleMuted       EventType = "rule.muted"
	EventRuleUnmuted     EventType = "rule.unmuted"
	EventRuleAutoUnmuted EventType = "rule.auto_unmuted"

	// Notification channel events
	EventChannelCreated EventType = "channel.created"
	EventChannelUpdated EventType = "channel.updated"

	// Insight events
	EventInsightAcknowledged EventType = "insight.acknowledged"

	// Dashboard events
	EventDashboardCreated EventType = "dashboard.created"
	EventDashboardUpdated EventType = "dashboard.updated"
	EventDashboardDeleted EventType = "dashboard.deleted"

	// Metric events
	EventMetricRegistered EventType = "metric.registered"

	// Engine lifecycle and configuration
	EventEngineStarted EventType = "system.engine_started"
	EventEngineStopped EventType = "system.engine_stopped"
	EventConfigReload  EventType = "config.reload"
)

// Result is success or failure.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Event is one line of the audit log.
type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor is the operator or "system" for automatic transitions.
	Actor string `json:"actor,omitempty"`

	Resource     string `json:"resource,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`

	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewEvent starts a successful event stamped with the current UTC time.
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultSuccess,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID ties the event to an API request.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets who performed the action
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

func (e *Event) WithResource(resource, resourceType string) *Event {
	e.Resource = resource
	e.ResourceType = resourceType
	return e
}

func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithError marks the event failed
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
		e.Result = ResultFailure
	}
	return e
}

func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
