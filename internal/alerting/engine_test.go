package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

var t0 = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

type dispatchCall struct {
	alert    types.Alert
	channels []string
}

func (d *fakeDispatcher) Dispatch(alert types.Alert, channels []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, dispatchCall{alert, channels})
}

type eventLog struct {
	mu     sync.Mutex
	events []types.Event
}

func (l *eventLog) Publish(_ context.Context, ev types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) Close() error { return nil }

func (l *eventLog) count(t types.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func newTestEngine() (*Engine, *fakeDispatcher, *eventLog) {
	d := &fakeDispatcher{}
	log := &eventLog{}
	e := NewEngine(Deps{
		Dispatcher: d,
		Events:     events.NewEmitter(log, func() time.Time { return t0 }, nil),
		Now:        func() time.Time { return t0 },
	})
	return e, d, log
}

func cpuRule() types.AlertRuleDefinition {
	return types.AlertRuleDefinition{
		Name:     "cpu high",
		MetricID: "cpu_usage",
		Condition: types.Condition{
			Type: types.ConditionThreshold, Operator: types.OpGT, Value: 80,
			TimeWindow: 300 * time.Second, Aggregation: types.AggAvg,
		},
		Severity:  types.PriorityHigh,
		Frequency: 60 * time.Second,
		Channels:  []string{"ops"},
	}
}

// flat returns points of value v every step ending at end.
func flat(end time.Time, n int, step time.Duration, v float64) []types.DataPoint {
	out := make([]types.DataPoint, n)
	for i := 0; i < n; i++ {
		out[i] = types.DataPoint{Timestamp: end.Add(-time.Duration(n-1-i) * step), Value: v}
	}
	return out
}

func TestEvaluate_FrequencyGatesRepeatedFirings(t *testing.T) {
	e, d, log := newTestEngine()
	ctx := context.Background()
	_, err := e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)

	// ten points of 90 spread over five minutes, re-evaluated every 10s for 3 minutes
	var fireTimes []time.Time
	for s := 0; s < 180; s += 10 {
		now := t0.Add(time.Duration(s) * time.Second)
		before, _ := e.GetRule("cpu")
		e.Evaluate(ctx, "cpu_usage", flat(now, 10, 30*time.Second, 90), now)
		after, _ := e.GetRule("cpu")
		if after.TriggerCount > before.TriggerCount {
			fireTimes = append(fireTimes, now)
		}
	}

	require.Len(t, fireTimes, 3)
	assert.Equal(t, []time.Time{t0, t0.Add(60 * time.Second), t0.Add(120 * time.Second)}, fireTimes)

	r, _ := e.GetRule("cpu")
	assert.Equal(t, 3, r.TriggerCount)
	assert.Equal(t, t0.Add(120*time.Second), r.LastTriggered)

	require.Len(t, d.calls, 3)
	assert.Equal(t, []string{"ops"}, d.calls[0].channels)
	assert.InDelta(t, 90.0, d.calls[0].alert.Value, 1e-9)
	assert.Equal(t, 3, log.count(types.EventAlertTriggered))
}

func TestEvaluate_Operators(t *testing.T) {
	tests := []struct {
		name   string
		cond   types.Condition
		value  float64
		expect bool
	}{
		{"gt true", types.Condition{Operator: types.OpGT, Value: 5}, 6, true},
		{"gt equal", types.Condition{Operator: types.OpGT, Value: 5}, 5, false},
		{"gte equal", types.Condition{Operator: types.OpGTE, Value: 5}, 5, true},
		{"lt", types.Condition{Operator: types.OpLT, Value: 5}, 4, true},
		{"lte", types.Condition{Operator: types.OpLTE, Value: 5}, 6, false},
		{"eq", types.Condition{Operator: types.OpEQ, Value: 5}, 5, true},
		{"between lower bound", types.Condition{Operator: types.OpBetween, Min: 10, Max: 20}, 10, true},
		{"between upper bound", types.Condition{Operator: types.OpBetween, Min: 10, Max: 20}, 20, true},
		{"between outside", types.Condition{Operator: types.OpBetween, Min: 10, Max: 20}, 21, false},
		{"outside below", types.Condition{Operator: types.OpOutside, Min: 10, Max: 20}, 9, true},
		{"outside at bound", types.Condition{Operator: types.OpOutside, Min: 10, Max: 20}, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, _ := newTestEngine()
			tt.cond.TimeWindow = time.Minute
			_, err := e.CreateRule(context.Background(), "r", types.AlertRuleDefinition{MetricID: "m", Condition: tt.cond}, "test")
			require.NoError(t, err)

			e.Evaluate(context.Background(), "m", flat(t0, 1, time.Second, tt.value), t0)
			r, _ := e.GetRule("r")
			assert.Equal(t, tt.expect, r.TriggerCount == 1)
		})
	}
}

func TestEvaluate_EmptyWindowAndDefaultAggregation(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	def := types.AlertRuleDefinition{
		MetricID:  "m",
		Condition: types.Condition{Operator: types.OpGT, Value: 50, TimeWindow: time.Minute},
	}
	_, err := e.CreateRule(ctx, "latest", def, "test")
	require.NoError(t, err)

	// only stale points: nothing in the window
	e.Evaluate(ctx, "m", flat(t0.Add(-5*time.Minute), 3, time.Second, 100), t0)
	r, _ := e.GetRule("latest")
	assert.Equal(t, 0, r.TriggerCount)

	// no aggregation: latest value decides (avg would be 40)
	series := []types.DataPoint{
		{Timestamp: t0.Add(-20 * time.Second), Value: 10},
		{Timestamp: t0.Add(-10 * time.Second), Value: 10},
		{Timestamp: t0, Value: 100},
	}
	e.Evaluate(ctx, "m", series, t0)
	r, _ = e.GetRule("latest")
	assert.Equal(t, 1, r.TriggerCount)
}

func TestEvaluate_IgnoresOtherMetricsAndDisabled(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	_, err := e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)

	e.Evaluate(ctx, "memory_usage", flat(t0, 5, time.Second, 99), t0)
	r, _ := e.GetRule("cpu")
	assert.Equal(t, 0, r.TriggerCount)

	require.NoError(t, e.SetEnabled(ctx, "cpu", false, "test"))
	e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)
	r, _ = e.GetRule("cpu")
	assert.Equal(t, 0, r.TriggerCount)
}

func TestMute_AutoUnmute(t *testing.T) {
	e, d, log := newTestEngine()
	ctx := context.Background()
	_, err := e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)

	muted, err := e.Mute(ctx, "cpu", 10*time.Minute, "alice")
	require.NoError(t, err)
	assert.True(t, muted.Muted)
	assert.Equal(t, t0.Add(10*time.Minute), muted.MutedUntil)

	e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)
	assert.Empty(t, d.calls)

	later := t0.Add(10 * time.Minute)
	e.Evaluate(ctx, "cpu_usage", flat(later, 5, time.Second, 99), later)
	r, _ := e.GetRule("cpu")
	assert.False(t, r.Muted)
	assert.Equal(t, 1, r.TriggerCount)
	assert.Equal(t, 1, log.count(types.EventRuleMuted))
	assert.Equal(t, 1, log.count(types.EventRuleUnmuted))
}

func TestMute_IndefiniteUntilUnmute(t *testing.T) {
	e, _, log := newTestEngine()
	ctx := context.Background()
	_, err := e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)

	_, err = e.Mute(ctx, "cpu", 0, "alice")
	require.NoError(t, err)
	far := t0.Add(240 * time.Hour)
	e.Evaluate(ctx, "cpu_usage", flat(far, 5, time.Second, 99), far)
	r, _ := e.GetRule("cpu")
	assert.True(t, r.Muted)
	assert.Equal(t, 0, r.TriggerCount)

	_, err = e.Unmute(ctx, "cpu", "alice")
	require.NoError(t, err)
	_, err = e.Unmute(ctx, "cpu", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, log.count(types.EventRuleUnmuted))

	_, err = e.Mute(ctx, "ghost", time.Minute, "alice")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRuleLifecycle(t *testing.T) {
	e, _, log := newTestEngine()
	ctx := context.Background()

	_, err := e.CreateRule(ctx, "", cpuRule(), "test")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	bad := cpuRule()
	bad.Condition.Operator = "approximately"
	_, err = e.CreateRule(ctx, "bad", bad, "test")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	unknownType := cpuRule()
	unknownType.Condition.Type = "seasonal"
	_, err = e.CreateRule(ctx, "seasonal", unknownType, "test")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)
	_, err = e.CreateRule(ctx, "cpu", cpuRule(), "test")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)

	upd := cpuRule()
	upd.Condition.Value = 95
	r, err := e.UpdateRule(ctx, "cpu", upd, "test")
	require.NoError(t, err)
	assert.Equal(t, 95.0, r.Condition.Value)
	assert.Equal(t, 1, r.TriggerCount, "bookkeeping survives updates")

	_, err = e.UpdateRule(ctx, "ghost", upd, "test")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	assert.Len(t, e.ListRules(), 1)
	assert.Equal(t, 1, log.count(types.EventRuleCreated))
	assert.Equal(t, 1, log.count(types.EventRuleUpdated))
}

func TestEvaluate_PanickingEvaluatorIsolated(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()
	e.RegisterEvaluator("broken", EvaluatorFunc(func([]types.DataPoint, types.Condition) (float64, bool, error) {
		panic("boom")
	}))

	broken := cpuRule()
	broken.Condition.Type = "broken"
	_, err := e.CreateRule(ctx, "broken", broken, "test")
	require.NoError(t, err)
	_, err = e.CreateRule(ctx, "cpu", cpuRule(), "test")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)
	})
	r, _ := e.GetRule("cpu")
	assert.Equal(t, 1, r.TriggerCount)
}

func TestEvaluate_SlowEvaluatorDoesNotHoldRules(t *testing.T) {
	e, d, _ := newTestEngine()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	e.RegisterEvaluator("slow", EvaluatorFunc(func(window []types.DataPoint, _ types.Condition) (float64, bool, error) {
		close(entered)
		<-release
		return window[len(window)-1].Value, true, nil
	}))

	slow := cpuRule()
	slow.Condition.Type = "slow"
	_, err := e.CreateRule(ctx, "slow", slow, "test")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)
	}()
	<-entered

	// rule CRUD proceeds while the evaluator is blocked
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = e.CreateRule(ctx, "mem", types.AlertRuleDefinition{
			Name: "mem", MetricID: "memory_usage",
			Condition: types.Condition{Operator: types.OpGT, Value: 1, TimeWindow: time.Minute},
		}, "test")
		_ = e.ListRules()
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("rule operations blocked behind a running evaluator")
	}

	close(release)
	<-done
	r, _ := e.GetRule("slow")
	assert.Equal(t, 1, r.TriggerCount)
	d.mu.Lock()
	assert.Len(t, d.calls, 1)
	d.mu.Unlock()
}

func TestEvaluate_MutedDuringReductionDoesNotFire(t *testing.T) {
	e, _, _ := newTestEngine()
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	e.RegisterEvaluator("slow", EvaluatorFunc(func([]types.DataPoint, types.Condition) (float64, bool, error) {
		close(entered)
		<-release
		return 99, true, nil
	}))
	def := cpuRule()
	def.Condition.Type = "slow"
	_, err := e.CreateRule(ctx, "slow", def, "test")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Evaluate(ctx, "cpu_usage", flat(t0, 5, time.Second, 99), t0)
	}()
	<-entered
	_, err = e.Mute(ctx, "slow", 0, "alice")
	require.NoError(t, err)
	close(release)
	<-done

	r, _ := e.GetRule("slow")
	assert.Zero(t, r.TriggerCount)
}

func TestHistory(t *testing.T) {
	e := NewEngine(Deps{HistoryLimit: 2})
	ctx := context.Background()
	def := cpuRule()
	def.Frequency = 0
	_, err := e.CreateRule(ctx, "cpu", def, "test")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now := t0.Add(time.Duration(i) * time.Second)
		e.Evaluate(ctx, "cpu_usage", flat(now, 3, time.Second, 99), now)
	}

	h := e.History(0)
	require.Len(t, h, 2)
	assert.Equal(t, t0.Add(2*time.Second), h[0].TriggeredAt)
	assert.Equal(t, t0.Add(time.Second), h[1].TriggeredAt)
	assert.Len(t, e.History(1), 1)
}

func TestReducers(t *testing.T) {
	series := []types.DataPoint{
		{Timestamp: t0, Value: 50},
		{Timestamp: t0.Add(time.Minute), Value: 60},
		{Timestamp: t0.Add(2 * time.Minute), Value: 75},
	}

	v, ok, err := reduceChange(series, types.Condition{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 50.0, v, 1e-9)

	_, ok, _ = reduceChange(series[:1], types.Condition{})
	assert.False(t, ok)

	anomalous := append(flat(t0, 9, time.Second, 10), types.DataPoint{Timestamp: t0.Add(time.Second), Value: 40})
	anomalous[3].Value = 12 // give the baseline some spread
	v, ok, err = reduceAnomaly(anomalous, types.Condition{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Greater(t, v, 3.0)

	_, ok, _ = reduceAnomaly(flat(t0, 5, time.Second, 1), types.Condition{})
	assert.False(t, ok, "flat baseline has no z-score")

	linear := []types.DataPoint{
		{Timestamp: t0, Value: 10},
		{Timestamp: t0.Add(time.Minute), Value: 20},
		{Timestamp: t0.Add(2 * time.Minute), Value: 30},
	}
	v, ok, err = reduceForecast(linear, types.Condition{Duration: 2 * time.Minute})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 50.0, v, 1e-9)
}

func TestDefaultRulesValidate(t *testing.T) {
	e := NewEngine(Deps{})
	for id, def := range DefaultRules() {
		_, err := e.CreateRule(context.Background(), id, def, SystemActor)
		assert.NoError(t, err, id)
	}
}
