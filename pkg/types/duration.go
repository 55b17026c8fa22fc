package types

import (
	"bytes"
	"encoding/json"
	"math"
	"time"
)

// Durations cross the JSON boundary as seconds (retention_seconds,
// time_window_seconds, frequency_seconds, duration_seconds). Go callers
// keep working with time.Duration.

func fromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// decodeStrict mirrors the API decoder: unknown fields are an error.
func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func (d MetricDefinition) MarshalJSON() ([]byte, error) {
	type plain MetricDefinition
	return json.Marshal(struct {
		plain
		RetentionSeconds float64 `json:"retention_seconds,omitempty"`
	}{plain(d), d.Retention.Seconds()})
}

func (d *MetricDefinition) UnmarshalJSON(data []byte) error {
	type plain MetricDefinition
	aux := struct {
		plain
		RetentionSeconds float64 `json:"retention_seconds,omitempty"`
	}{plain: plain(*d)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	*d = MetricDefinition(aux.plain)
	d.Retention = fromSeconds(aux.RetentionSeconds)
	return nil
}

func (m Metric) MarshalJSON() ([]byte, error) {
	type plain Metric
	return json.Marshal(struct {
		plain
		RetentionSeconds float64 `json:"retention_seconds"`
	}{plain(m), m.Retention.Seconds()})
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	type plain Metric
	aux := struct {
		plain
		RetentionSeconds float64 `json:"retention_seconds"`
	}{plain: plain(*m)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	*m = Metric(aux.plain)
	m.Retention = fromSeconds(aux.RetentionSeconds)
	return nil
}

func (c Condition) MarshalJSON() ([]byte, error) {
	type plain Condition
	return json.Marshal(struct {
		plain
		DurationSeconds   float64 `json:"duration_seconds,omitempty"`
		TimeWindowSeconds float64 `json:"time_window_seconds"`
	}{plain(c), c.Duration.Seconds(), c.TimeWindow.Seconds()})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	type plain Condition
	aux := struct {
		plain
		DurationSeconds   float64 `json:"duration_seconds,omitempty"`
		TimeWindowSeconds float64 `json:"time_window_seconds"`
	}{plain: plain(*c)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	*c = Condition(aux.plain)
	c.Duration = fromSeconds(aux.DurationSeconds)
	c.TimeWindow = fromSeconds(aux.TimeWindowSeconds)
	return nil
}

func (r AlertRule) MarshalJSON() ([]byte, error) {
	type plain AlertRule
	return json.Marshal(struct {
		plain
		FrequencySeconds float64 `json:"frequency_seconds"`
	}{plain(r), r.Frequency.Seconds()})
}

func (r *AlertRule) UnmarshalJSON(data []byte) error {
	type plain AlertRule
	aux := struct {
		plain
		FrequencySeconds float64 `json:"frequency_seconds"`
	}{plain: plain(*r)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	*r = AlertRule(aux.plain)
	r.Frequency = fromSeconds(aux.FrequencySeconds)
	return nil
}

func (d AlertRuleDefinition) MarshalJSON() ([]byte, error) {
	type plain AlertRuleDefinition
	return json.Marshal(struct {
		plain
		FrequencySeconds float64 `json:"frequency_seconds"`
	}{plain(d), d.Frequency.Seconds()})
}

func (d *AlertRuleDefinition) UnmarshalJSON(data []byte) error {
	type plain AlertRuleDefinition
	aux := struct {
		plain
		FrequencySeconds float64 `json:"frequency_seconds"`
	}{plain: plain(*d)}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	*d = AlertRuleDefinition(aux.plain)
	d.Frequency = fromSeconds(aux.FrequencySeconds)
	return nil
}
