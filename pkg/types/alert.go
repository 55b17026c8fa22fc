package types

import "time"

// ConditionType selects how a rule's window is reduced to a single value.
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionAnomaly   ConditionType = "anomaly"
	ConditionChange    ConditionType = "change"
	ConditionForecast  ConditionType = "forecast"
)

// Operator compares the reduced value against the rule's threshold.
type Operator string

const (
	OpGT      Operator = "gt"
	OpLT      Operator = "lt"
	OpEQ      Operator = "eq"
	OpGTE     Operator = "gte"
	OpLTE     Operator = "lte"
	OpBetween Operator = "between"
	OpOutside Operator = "outside"
)

// Compare applies the operator. between and outside use the inclusive
// range [min, max]; the scalar operators use threshold.
func (o Operator) Compare(v, threshold, min, max float64) bool {
	switch o {
	case OpGT:
		return v > threshold
	case OpLT:
		return v < threshold
	case OpEQ:
		return v == threshold
	case OpGTE:
		return v >= threshold
	case OpLTE:
		return v <= threshold
	case OpBetween:
		return v >= min && v <= max
	case OpOutside:
		return v < min || v > max
	}
	return false
}

// Valid reports whether o is a known operator.
func (o Operator) Valid() bool {
	switch o {
	case OpGT, OpLT, OpEQ, OpGTE, OpLTE, OpBetween, OpOutside:
		return true
	}
	return false
}

// Condition is the firing predicate of an alert rule.
type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Value    float64       `json:"value"`
	Min      float64       `json:"min,omitempty"`
	Max      float64       `json:"max,omitempty"`
	// Duration is the look-ahead horizon for forecast conditions.
	Duration    time.Duration `json:"-"` // duration_seconds
	TimeWindow  time.Duration `json:"-"` // time_window_seconds
	Aggregation Aggregation   `json:"aggregation,omitempty"`
}

// AlertRule is a rule definition plus its firing bookkeeping.
type AlertRule struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	MetricID      string        `json:"metric_id"`
	Condition     Condition     `json:"condition"`
	Severity      Priority      `json:"severity"`
	Frequency     time.Duration `json:"-"` // frequency_seconds
	Channels      []string      `json:"channels,omitempty"`
	Enabled       bool          `json:"enabled"`
	Muted         bool          `json:"muted"`
	MutedUntil    time.Time     `json:"muted_until,omitempty"`
	LastTriggered time.Time     `json:"last_triggered,omitempty"`
	TriggerCount  int           `json:"trigger_count"`
	Created       time.Time     `json:"created"`
	Updated       time.Time     `json:"updated"`
}

// AlertRuleDefinition is the input to rule creation and update.
type AlertRuleDefinition struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	MetricID    string        `json:"metric_id"`
	Condition   Condition     `json:"condition"`
	Severity    Priority      `json:"severity"`
	Frequency   time.Duration `json:"-"` // frequency_seconds
	Channels    []string      `json:"channels,omitempty"`
	Disabled    bool          `json:"disabled,omitempty"`
}

// Validate checks operator, condition type and window fields.
func (d AlertRuleDefinition) Validate() error {
	if d.MetricID == "" {
		return Invalidf("alert rule %q: metric_id is required", d.Name)
	}
	if !d.Condition.Operator.Valid() {
		return Invalidf("alert rule %q: unknown operator %q", d.Name, d.Condition.Operator)
	}
	if (d.Condition.Operator == OpBetween || d.Condition.Operator == OpOutside) && d.Condition.Min > d.Condition.Max {
		return Invalidf("alert rule %q: min %v greater than max %v", d.Name, d.Condition.Min, d.Condition.Max)
	}
	if d.Condition.TimeWindow < time.Second {
		return Invalidf("alert rule %q: time_window_seconds must be at least 1", d.Name)
	}
	if d.Condition.Duration < 0 || (d.Condition.Duration > 0 && d.Condition.Duration < time.Second) {
		return Invalidf("alert rule %q: duration_seconds must be at least 1", d.Name)
	}
	if d.Condition.Aggregation != AggNone && !d.Condition.Aggregation.Valid() {
		return Invalidf("alert rule %q: unknown aggregation %q", d.Name, d.Condition.Aggregation)
	}
	if d.Frequency < 0 {
		return Invalidf("alert rule %q: frequency must not be negative", d.Name)
	}
	if d.Frequency > 0 && d.Frequency < time.Second {
		return Invalidf("alert rule %q: frequency_seconds must be at least 1", d.Name)
	}
	if d.Severity != "" && !d.Severity.valid() {
		return Invalidf("alert rule %q: unknown severity %q", d.Name, d.Severity)
	}
	return nil
}

// Alert records one firing of a rule.
type Alert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	RuleName    string    `json:"rule_name"`
	MetricID    string    `json:"metric_id"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Operator    Operator  `json:"operator"`
	Severity    Priority  `json:"severity"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// ChannelType names a notification transport.
type ChannelType string

const (
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelPager   ChannelType = "pager"
	ChannelSMS     ChannelType = "sms"
)

// NotificationChannel is a delivery target. Config is opaque to the engine
// and interpreted by the sender registered for Type.
type NotificationChannel struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Type    ChannelType       `json:"type"`
	Config  map[string]string `json:"config,omitempty"`
	Enabled bool              `json:"enabled"`
}

// ChannelDefinition is the input to channel creation and update.
type ChannelDefinition struct {
	Name     string            `json:"name"`
	Type     ChannelType       `json:"type"`
	Config   map[string]string `json:"config,omitempty"`
	Disabled bool              `json:"disabled,omitempty"`
}

// Validate checks the channel type.
func (d ChannelDefinition) Validate() error {
	switch d.Type {
	case ChannelEmail, ChannelSlack, ChannelWebhook, ChannelPager, ChannelSMS:
		return nil
	}
	return Invalidf("channel %q: unknown type %q", d.Name, d.Type)
}
