package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/collector"
	"github.com/kubilitics/kubilitics-pulse/internal/config"
	"github.com/kubilitics/kubilitics-pulse/internal/health"
	"github.com/kubilitics/kubilitics-pulse/internal/notify"
	"github.com/kubilitics/kubilitics-pulse/internal/query"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureSender struct {
	mu     sync.Mutex
	alerts []types.Alert
}

func (s *captureSender) Send(_ context.Context, _ types.NotificationChannel, a types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

func steadyProbe(score float64) health.Probe {
	return health.ProbeFunc(func(context.Context, types.ComponentHealth) (health.Result, error) {
		return health.Result{Score: score, Metrics: types.ComponentMetrics{Availability: 99.9, Latency: 80, ErrorRate: 0.1}}, nil
	})
}

type fixture struct {
	eng    *Engine
	clock  *fakeClock
	store  timeseries.Store
	sender *captureSender
}

func newFixture(t *testing.T, mutate func(*config.Config), opts ...Option) *fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Engine.EmitRecordedEvents = false
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{
		clock:  &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		store:  timeseries.NewMemoryStore(),
		sender: &captureSender{},
	}
	opts = append([]Option{
		WithClock(f.clock.Now),
		WithStore(f.store),
		WithSender(types.ChannelWebhook, f.sender),
		WithDefaultProbe(steadyProbe(97)),
	}, opts...)
	eng, err := New(cfg, opts...)
	require.NoError(t, err)
	f.eng = eng
	require.NoError(t, eng.SeedDefaults(context.Background()))
	return f
}

func (f *fixture) record(id string, v float64, n int) {
	for i := 0; i < n; i++ {
		f.eng.Record(id, v, map[string]string{"host": "node-1"})
		f.clock.Advance(time.Second)
	}
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	metrics, rules := len(f.eng.Metrics()), len(f.eng.Rules())
	assert.Len(t, f.eng.Metrics(), len(catalog.Defaults()))
	assert.NotZero(t, rules)

	require.NoError(t, f.eng.SeedDefaults(context.Background()))
	assert.Len(t, f.eng.Metrics(), metrics)
	assert.Len(t, f.eng.Rules(), rules)
}

func TestRecord_FlushEvaluatesAndNotifies(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.eng.CreateNotificationChannel(ctx, "ops-hook", types.ChannelDefinition{
		Name: "ops", Type: types.ChannelWebhook, Config: map[string]string{"url": "http://example.invalid"},
	}, "test")
	require.NoError(t, err)
	_, err = f.eng.CreateAlertRule(ctx, "cpu-hot", types.AlertRuleDefinition{
		Name:     "CPU hot",
		MetricID: catalog.MetricCPUUsage,
		Condition: types.Condition{
			Type: types.ConditionThreshold, Operator: types.OpGT, Value: 80,
			TimeWindow: 5 * time.Minute, Aggregation: types.AggAvg,
		},
		Severity:  types.PriorityHigh,
		Frequency: time.Minute,
		Channels:  []string{"ops-hook"},
	}, "test")
	require.NoError(t, err)

	f.record("not_a_metric", 1, 3)
	f.record(catalog.MetricCPUUsage, 90, 10)
	require.NoError(t, f.eng.FlushAll(ctx))

	series, err := f.store.Series(ctx, catalog.MetricCPUUsage)
	require.NoError(t, err)
	assert.Len(t, series, 10)
	ids, err := f.store.MetricIDs(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, "not_a_metric")

	rule, ok := f.eng.GetRule("cpu-hot")
	require.True(t, ok)
	assert.Equal(t, 1, rule.TriggerCount)
	assert.Eventually(t, func() bool { return f.sender.count() == 1 }, time.Second, 5*time.Millisecond)

	var fired []string
	for _, a := range f.eng.AlertHistory(0) {
		fired = append(fired, a.RuleID)
	}
	assert.Contains(t, fired, "cpu-hot")
	assert.Contains(t, fired, "high-cpu", "default rule fires too")
}

func TestMuteAlertRule(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.eng.MuteAlertRule(ctx, "high-cpu", time.Hour, "ops")
	require.NoError(t, err)
	f.record(catalog.MetricCPUUsage, 95, 5)
	require.NoError(t, f.eng.FlushAll(ctx))
	rule, _ := f.eng.GetRule("high-cpu")
	assert.Zero(t, rule.TriggerCount)

	_, err = f.eng.UnmuteAlertRule(ctx, "high-cpu", "ops")
	require.NoError(t, err)
	f.record(catalog.MetricCPUUsage, 95, 1)
	require.NoError(t, f.eng.FlushAll(ctx))
	rule, _ = f.eng.GetRule("high-cpu")
	assert.Equal(t, 1, rule.TriggerCount)

	_, err = f.eng.MuteAlertRule(ctx, "missing", time.Hour, "ops")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestCreateAlertRule_UnknownMetric(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.eng.CreateAlertRule(context.Background(), "r", types.AlertRuleDefinition{
		Name: "r", MetricID: "nope",
		Condition: types.Condition{Operator: types.OpGT, Value: 1, TimeWindow: time.Minute},
	}, "test")
	assert.True(t, errors.Is(err, types.ErrNotFound))

	_, err = f.eng.UpdateAlertRule(context.Background(), "missing", types.AlertRuleDefinition{
		Name: "r", MetricID: catalog.MetricCPUUsage,
		Condition: types.Condition{Operator: types.OpGT, Value: 1, TimeWindow: time.Minute},
	}, "test")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRegisterMetric_AndQuery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	m, err := f.eng.RegisterMetric(ctx, types.MetricDefinition{
		Name: "checkout_latency", Type: types.MetricHistogram, Unit: "ms",
		Category: types.CategoryBusiness, Aggregation: types.AggMax,
	}, "test")
	require.NoError(t, err)
	_, err = f.eng.RegisterMetric(ctx, types.MetricDefinition{Name: "checkout_latency", Type: types.MetricGauge, Category: types.CategoryBusiness}, "test")
	assert.True(t, errors.Is(err, types.ErrInvalid))

	f.eng.Record(m.ID, 120, map[string]string{"region": "eu"})
	f.eng.Record(m.ID, 300, map[string]string{"region": "eu"})
	f.eng.Record(m.ID, 80, map[string]string{"region": "us"})
	require.NoError(t, f.eng.FlushAll(ctx))

	got, err := f.eng.Query(ctx, query.Request{Metric: "checkout_latency", GroupBy: []string{"region"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(300), got[0].Value)
	assert.Equal(t, float64(80), got[1].Value)

	require.NoError(t, f.eng.SetMetricEnabled(m.ID, false))
	f.eng.Record(m.ID, 1, nil)
	require.NoError(t, f.eng.FlushAll(ctx))
	raw, err := f.eng.Query(ctx, query.Request{Metric: m.ID})
	require.NoError(t, err)
	assert.Len(t, raw, 3)

	_, err = f.eng.Query(ctx, query.Request{Metric: "nope"})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestInsightsAndAcknowledge(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.record(catalog.MetricCPUUsage, 92, 10)
	require.NoError(t, f.eng.FlushAll(ctx))

	out := f.eng.GenerateInsights(ctx)
	require.NotEmpty(t, out)
	recs := f.eng.GetInsightsByType(types.InsightRecommendation)
	require.Len(t, recs, 1)
	assert.Len(t, f.eng.GetAllInsights(), len(out))

	in, err := f.eng.AcknowledgeInsight(ctx, recs[0].ID, "ops")
	require.NoError(t, err)
	assert.True(t, in.Acknowledged)
	_, err = f.eng.AcknowledgeInsight(ctx, "missing", "ops")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, WithProbe("database", steadyProbe(60)))

	assert.Equal(t, types.StatusUnknown, f.eng.GetSystemHealth().Overall)
	got := f.eng.CheckHealth(context.Background())
	// (97*4 + 60) / 5
	assert.InDelta(t, 89.6, got.Score, 1e-9)
	assert.Equal(t, types.StatusDegraded, got.Overall)
	assert.Len(t, got.Incidents, 1)
	assert.Equal(t, got.Score, f.eng.GetSystemHealth().Score)
}

func TestDashboardsAndReport(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.record(catalog.MetricMemoryUsage, 50, 3)
	require.NoError(t, f.eng.FlushAll(ctx))

	db, err := f.eng.CreateDashboard(ctx, types.DashboardDefinition{
		Name: "Ops",
		Widgets: []types.Widget{{ID: "mem", Title: "Memory", Queries: []types.WidgetQuery{
			{Metric: catalog.MetricMemoryUsage},
		}}},
	}, "ops")
	require.NoError(t, err)

	rep, err := f.eng.GenerateReport(ctx, db.ID, time.Time{}, time.Time{}, types.ReportJSON)
	require.NoError(t, err)
	require.Len(t, rep.Widgets, 1)
	assert.Len(t, rep.Widgets[0].Queries[0].Data, 3)

	require.NoError(t, f.eng.DeleteDashboard(ctx, db.ID, "ops"))
	_, err = f.eng.GenerateReport(ctx, db.ID, time.Time{}, time.Time{}, types.ReportJSON)
	assert.True(t, errors.Is(err, types.ErrNotFound))
	_, err = f.eng.UpdateDashboard(ctx, db.ID, types.DashboardDefinition{Name: "x"}, "ops")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.Engine.FlushInterval = 10 * time.Millisecond
		c.Engine.HealthInterval = 10 * time.Millisecond
		c.Collector.Enabled = true
		c.Collector.Interval = 10 * time.Millisecond
	}, WithHostReader(func(context.Context) (collector.Sample, error) {
		return collector.Sample{CPUPercent: 12, MemoryPercent: 40, DiskPercent: 55, Load1: 0.4}, nil
	}))
	ctx := context.Background()

	require.NoError(t, f.eng.Start(ctx))
	assert.ErrorIs(t, f.eng.Start(ctx), ErrAlreadyStarted)

	assert.Eventually(t, func() bool {
		series, err := f.store.Series(ctx, catalog.MetricCPUUsage)
		return err == nil && len(series) > 0
	}, 2*time.Second, 10*time.Millisecond, "collector points flushed by the periodic loop")
	assert.Eventually(t, func() bool {
		return f.eng.GetSystemHealth().Overall == types.StatusHealthy
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.eng.Stop(stopCtx))
	require.NoError(t, f.eng.Stop(stopCtx), "second stop is a no-op")
}

func TestStop_FlushesPendingPoints(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.eng.Start(ctx))

	f.record(catalog.MetricDiskUsage, 70, 4)
	require.NoError(t, f.eng.Stop(ctx))

	series, err := f.store.Series(ctx, catalog.MetricDiskUsage)
	require.NoError(t, err)
	assert.Len(t, series, 4)
}

func TestNew_SQLiteStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLitePath = t.TempDir() + "/pulse.db"
	cfg.Engine.SeedDefaults = false

	eng, err := New(cfg, WithDefaultProbe(steadyProbe(99)))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = eng.RegisterMetric(ctx, types.MetricDefinition{ID: "q", Name: "queue", Type: types.MetricGauge, Category: types.CategoryApplication}, "test")
	require.NoError(t, err)
	eng.Record("q", 3, nil)
	require.NoError(t, eng.FlushAll(ctx))

	got, err := eng.Query(ctx, query.Request{Metric: "q"})
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, types.Values(got))
	require.NoError(t, eng.Stop(ctx))
}

func TestReconfigure(t *testing.T) {
	f := newFixture(t, nil, WithSender(types.ChannelSlack, notify.SenderFunc(func(context.Context, types.NotificationChannel, types.Alert) error {
		return nil
	})))
	cfg := config.DefaultConfig()
	cfg.Notifications.Timeout = time.Second
	assert.NotPanics(t, func() { f.eng.Reconfigure(cfg) })
}
