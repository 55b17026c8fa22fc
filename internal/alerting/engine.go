// Package alerting holds alert rules and evaluates them whenever the
// metric they watch is flushed.
//
// A rule fires when its condition holds over the window [now-TimeWindow,
// now] and at least Frequency has passed since it last fired. Frequency is
// a debounce against flapping at a threshold; muting is a separate operator
// action that may expire on its own.
package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// DefaultHistoryLimit caps the in-memory alert history.
const DefaultHistoryLimit = 1000

// SystemActor is recorded for transitions the engine makes on its own.
const SystemActor = "system"

// Dispatcher hands a fired alert to notification channels without blocking.
type Dispatcher interface {
	Dispatch(alert types.Alert, channelIDs []string)
}

// Deps are the collaborators of an Engine; all are optional.
type Deps struct {
	Dispatcher   Dispatcher
	Events       *events.Emitter
	Audit        audit.Logger
	Now          func() time.Time
	Logger       *zap.Logger
	HistoryLimit int
}

// Engine is safe for concurrent use.
type Engine struct {
	mu         sync.Mutex
	rules      map[string]*types.AlertRule
	order      []string
	evaluators map[types.ConditionType]ConditionEvaluator
	history    []types.Alert
	limit      int

	dispatcher Dispatcher
	events     *events.Emitter
	audit      audit.Logger
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine returns an engine with the built-in condition evaluators.
func NewEngine(deps Deps) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = DefaultHistoryLimit
	}
	return &Engine{
		rules:      make(map[string]*types.AlertRule),
		evaluators: defaultEvaluators(),
		limit:      deps.HistoryLimit,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		audit:      deps.Audit,
		now:        deps.Now,
		logger:     deps.Logger.Named("alerting"),
	}
}

// RegisterEvaluator adds or replaces the evaluator for a condition type.
func (e *Engine) RegisterEvaluator(t types.ConditionType, ev ConditionEvaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[t] = ev
}

func (e *Engine) validate(def types.AlertRuleDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	t := def.Condition.Type
	if t == "" {
		t = types.ConditionThreshold
	}
	if _, ok := e.evaluators[t]; !ok {
		return fmt.Errorf("%w: alert rule %q: no evaluator for condition type %q", types.ErrInvalid, def.Name, t)
	}
	return nil
}

// CreateRule registers a rule under id.
func (e *Engine) CreateRule(ctx context.Context, id string, def types.AlertRuleDefinition, actor string) (types.AlertRule, error) {
	if id == "" {
		return types.AlertRule{}, fmt.Errorf("%w: alert rule id is required", types.ErrInvalid)
	}

	e.mu.Lock()
	if err := e.validate(def); err != nil {
		e.mu.Unlock()
		return types.AlertRule{}, err
	}
	if _, exists := e.rules[id]; exists {
		e.mu.Unlock()
		return types.AlertRule{}, fmt.Errorf("%w: alert rule %q already exists", types.ErrInvalid, id)
	}
	now := e.now()
	r := ruleFromDef(id, def)
	r.Created, r.Updated = now, now
	e.rules[id] = &r
	e.order = append(e.order, id)
	out := cloneRule(r)
	e.mu.Unlock()

	e.events.Emit(ctx, types.EventRuleCreated, out)
	_ = e.audit.LogRuleChange(ctx, audit.EventRuleCreated, id, actor, map[string]interface{}{"metric_id": def.MetricID})
	return out, nil
}

// UpdateRule replaces a rule's definition. Firing bookkeeping and mute
// state are kept.
func (e *Engine) UpdateRule(ctx context.Context, id string, def types.AlertRuleDefinition, actor string) (types.AlertRule, error) {
	e.mu.Lock()
	if err := e.validate(def); err != nil {
		e.mu.Unlock()
		return types.AlertRule{}, err
	}
	cur, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return types.AlertRule{}, types.NotFound("alert rule", id)
	}
	r := ruleFromDef(id, def)
	r.Created = cur.Created
	r.Updated = e.now()
	r.Muted, r.MutedUntil = cur.Muted, cur.MutedUntil
	r.LastTriggered, r.TriggerCount = cur.LastTriggered, cur.TriggerCount
	*cur = r
	out := cloneRule(r)
	e.mu.Unlock()

	e.events.Emit(ctx, types.EventRuleUpdated, out)
	_ = e.audit.LogRuleChange(ctx, audit.EventRuleUpdated, id, actor, nil)
	return out, nil
}

// SetEnabled enables or disables a rule. Rules are never deleted.
func (e *Engine) SetEnabled(ctx context.Context, id string, enabled bool, actor string) error {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return types.NotFound("alert rule", id)
	}
	r.Enabled = enabled
	r.Updated = e.now()
	out := cloneRule(*r)
	e.mu.Unlock()

	e.events.Emit(ctx, types.EventRuleUpdated, out)
	_ = e.audit.LogRuleChange(ctx, audit.EventRuleUpdated, id, actor, map[string]interface{}{"enabled": enabled})
	return nil
}

// Mute suppresses a rule. A positive d unmutes it automatically once d has
// elapsed; d <= 0 mutes until Unmute.
func (e *Engine) Mute(ctx context.Context, id string, d time.Duration, actor string) (types.AlertRule, error) {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return types.AlertRule{}, types.NotFound("alert rule", id)
	}
	now := e.now()
	r.Muted = true
	r.MutedUntil = time.Time{}
	if d > 0 {
		r.MutedUntil = now.Add(d)
	}
	r.Updated = now
	out := cloneRule(*r)
	e.mu.Unlock()

	e.events.Emit(ctx, types.EventRuleMuted, map[string]interface{}{
		"rule_id":     id,
		"muted_until": out.MutedUntil,
		"actor":       actor,
	})
	_ = e.audit.LogRuleChange(ctx, audit.EventRuleMuted, id, actor, map[string]interface{}{"duration": d.String()})
	return out, nil
}

// Unmute lifts a mute. Unmuting an unmuted rule is a no-op.
func (e *Engine) Unmute(ctx context.Context, id string, actor string) (types.AlertRule, error) {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return types.AlertRule{}, types.NotFound("alert rule", id)
	}
	wasMuted := r.Muted
	r.Muted = false
	r.MutedUntil = time.Time{}
	if wasMuted {
		r.Updated = e.now()
	}
	out := cloneRule(*r)
	e.mu.Unlock()

	if wasMuted {
		e.notifyUnmuted(ctx, id, actor, audit.EventRuleUnmuted)
	}
	return out, nil
}

func (e *Engine) notifyUnmuted(ctx context.Context, id, actor string, auditType audit.EventType) {
	e.events.Emit(ctx, types.EventRuleUnmuted, map[string]interface{}{"rule_id": id, "actor": actor})
	_ = e.audit.LogRuleChange(ctx, auditType, id, actor, nil)
}

// GetRule returns a copy of the rule.
func (e *Engine) GetRule(id string) (types.AlertRule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rules[id]
	if !ok {
		return types.AlertRule{}, false
	}
	return cloneRule(*r), true
}

// ListRules returns every rule in creation order.
func (e *Engine) ListRules() []types.AlertRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.AlertRule, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, cloneRule(*e.rules[id]))
	}
	return out
}

// History returns up to limit of the most recent alerts, newest first.
// limit <= 0 returns everything retained.
func (e *Engine) History(limit int) []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.history[i])
	}
	return out
}

type firing struct {
	alert    types.Alert
	channels []string
}

type candidate struct {
	rule types.AlertRule
	ev   ConditionEvaluator
}

// Evaluate runs every enabled, unmuted rule targeting metricID against
// series (sorted ascending). Conditions are reduced without holding the
// engine lock; the frequency gate and bookkeeping run under it, and
// notifications are dispatched after it is released.
func (e *Engine) Evaluate(ctx context.Context, metricID string, series []types.DataPoint, now time.Time) {
	var (
		candidates []candidate
		unmuted    []string
	)

	e.mu.Lock()
	for _, id := range e.order {
		r := e.rules[id]
		if r.MetricID != metricID || !r.Enabled {
			continue
		}
		if r.Muted {
			if r.MutedUntil.IsZero() || now.Before(r.MutedUntil) {
				continue
			}
			r.Muted = false
			r.MutedUntil = time.Time{}
			unmuted = append(unmuted, id)
		}
		if gated(r, now) {
			continue
		}
		candidates = append(candidates, candidate{rule: cloneRule(*r), ev: e.evaluators[conditionType(r.Condition)]})
	}
	e.mu.Unlock()

	for _, id := range unmuted {
		e.logger.Info("Alert rule mute expired", zap.String("rule_id", id))
		e.notifyUnmuted(ctx, id, SystemActor, audit.EventRuleAutoUnmuted)
	}

	type holding struct {
		candidate
		value float64
	}
	var hold []holding
	for _, c := range candidates {
		if value, ok := e.check(c.rule, c.ev, series, now); ok {
			hold = append(hold, holding{c, value})
		}
	}
	if len(hold) == 0 {
		return
	}

	var fired []firing
	e.mu.Lock()
	for _, h := range hold {
		r, ok := e.rules[h.rule.ID]
		// skip rules changed while their condition was being reduced
		if !ok || !r.Enabled || r.Muted || r.MetricID != metricID || r.Condition != h.rule.Condition {
			continue
		}
		if gated(r, now) {
			continue
		}

		r.TriggerCount++
		r.LastTriggered = now
		alert := types.Alert{
			ID:          uuid.New().String(),
			RuleID:      r.ID,
			RuleName:    r.Name,
			MetricID:    metricID,
			Value:       h.value,
			Threshold:   r.Condition.Value,
			Operator:    r.Condition.Operator,
			Severity:    r.Severity,
			Message:     describe(r.Condition, h.value, metricID),
			TriggeredAt: now,
		}
		e.history = append(e.history, alert)
		if over := len(e.history) - e.limit; over > 0 {
			e.history = append(e.history[:0:0], e.history[over:]...)
		}
		fired = append(fired, firing{alert: alert, channels: append([]string(nil), r.Channels...)})
	}
	e.mu.Unlock()

	for _, f := range fired {
		metrics.AlertsTriggered.WithLabelValues(f.alert.RuleID, string(f.alert.Severity)).Inc()
		e.logger.Info("Alert triggered",
			zap.String("rule_id", f.alert.RuleID),
			zap.String("metric_id", metricID),
			zap.Float64("value", f.alert.Value),
			zap.String("severity", string(f.alert.Severity)),
		)
		e.events.Emit(ctx, types.EventAlertTriggered, f.alert)
		if e.dispatcher != nil && len(f.channels) > 0 {
			e.dispatcher.Dispatch(f.alert, f.channels)
		}
	}
}

// gated reports whether the rule fired less than Frequency ago.
func gated(r *types.AlertRule, now time.Time) bool {
	return !r.LastTriggered.IsZero() && now.Sub(r.LastTriggered) < r.Frequency
}

func conditionType(c types.Condition) types.ConditionType {
	if c.Type == "" {
		return types.ConditionThreshold
	}
	return c.Type
}

// check reduces the rule window with ev and applies the operator. Evaluator
// errors and panics are logged and treated as "does not hold".
func (e *Engine) check(r types.AlertRule, ev ConditionEvaluator, series []types.DataPoint, now time.Time) (value float64, holds bool) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("Condition evaluator panicked", zap.String("rule_id", r.ID), zap.Any("panic", rec))
			value, holds = 0, false
		}
	}()

	if ev == nil {
		e.logger.Warn("No evaluator for condition type", zap.String("rule_id", r.ID), zap.String("type", string(conditionType(r.Condition))))
		return 0, false
	}
	window := timeseries.Window(series, now.Add(-r.Condition.TimeWindow), now)
	if len(window) == 0 {
		return 0, false
	}

	v, ok, err := ev.Reduce(window, r.Condition)
	if err != nil {
		e.logger.Warn("Condition evaluation failed", zap.String("rule_id", r.ID), zap.Error(err))
		return 0, false
	}
	if !ok {
		return 0, false
	}
	c := r.Condition
	return v, c.Operator.Compare(v, c.Value, c.Min, c.Max)
}

func ruleFromDef(id string, def types.AlertRuleDefinition) types.AlertRule {
	c := def.Condition
	if c.Type == "" {
		c.Type = types.ConditionThreshold
	}
	sev := def.Severity
	if sev == "" {
		sev = types.PriorityMedium
	}
	name := def.Name
	if name == "" {
		name = id
	}
	return types.AlertRule{
		ID:          id,
		Name:        name,
		Description: def.Description,
		MetricID:    def.MetricID,
		Condition:   c,
		Severity:    sev,
		Frequency:   def.Frequency,
		Channels:    append([]string(nil), def.Channels...),
		Enabled:     !def.Disabled,
	}
}

func cloneRule(r types.AlertRule) types.AlertRule {
	r.Channels = append([]string(nil), r.Channels...)
	return r
}
