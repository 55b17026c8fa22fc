// Package insights derives higher-level observations from the stored series:
// trends, anomalies, cross-metric correlations and table-driven
// recommendations.
//
// The generator runs on its own timer over a per-metric snapshot of the
// store. Each pass isolates failures to the metric (or pair, or rule) that
// caused them. Passes only append to the insight log.
package insights

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

const (
	DefaultInterval = 5 * time.Minute

	// correlation pass defaults
	DefaultCorrelationMinPoints = 10
	DefaultCorrelationThreshold = 0.7
)

// Config tunes the generator.
type Config struct {
	Interval             time.Duration
	CorrelationMinPoints int
	CorrelationThreshold float64
}

// Deps are the collaborators of a Generator. Catalog, Store and Log are
// required.
type Deps struct {
	Catalog         *catalog.Catalog
	Store           timeseries.Store
	Log             *Log
	Recommendations []RecommendationRule
	Events          *events.Emitter
	Audit           audit.Logger
	Now             func() time.Time
	Logger          *zap.Logger
}

// Generator produces insights.
type Generator struct {
	cfg     Config
	catalog *catalog.Catalog
	store   timeseries.Store
	log     *Log
	events  *events.Emitter
	audit   audit.Logger
	now     func() time.Time
	logger  *zap.Logger

	mu              sync.RWMutex
	trend           map[types.Category]TrendAnalyzer
	anomaly         map[types.Category]AnomalyDetector
	recommendations []RecommendationRule

	runMu sync.Mutex // one generation at a time
}

// New builds a generator with the default strategies and, when
// deps.Recommendations is nil, the default recommendation table.
func New(cfg Config, deps Deps) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CorrelationMinPoints <= 0 {
		cfg.CorrelationMinPoints = DefaultCorrelationMinPoints
	}
	if cfg.CorrelationThreshold <= 0 {
		cfg.CorrelationThreshold = DefaultCorrelationThreshold
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.Recommendations == nil {
		deps.Recommendations = DefaultRecommendations()
	}
	return &Generator{
		cfg:             cfg,
		catalog:         deps.Catalog,
		store:           deps.Store,
		log:             deps.Log,
		events:          deps.Events,
		audit:           deps.Audit,
		now:             deps.Now,
		logger:          deps.Logger.Named("insights"),
		trend:           map[types.Category]TrendAnalyzer{"": DefaultTrend()},
		anomaly:         map[types.Category]AnomalyDetector{"": DefaultAnomaly()},
		recommendations: append([]RecommendationRule(nil), deps.Recommendations...),
	}
}

// SetTrendAnalyzer installs a for metrics of category c. The empty category
// is the fallback for all others.
func (g *Generator) SetTrendAnalyzer(c types.Category, a TrendAnalyzer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trend[c] = a
}

// SetAnomalyDetector installs d for metrics of category c. The empty
// category is the fallback for all others.
func (g *Generator) SetAnomalyDetector(c types.Category, d AnomalyDetector) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.anomaly[c] = d
}

// AddRecommendation appends a row to the recommendation table.
func (g *Generator) AddRecommendation(r RecommendationRule) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recommendations = append(g.recommendations, r)
}

func (g *Generator) trendFor(c types.Category) TrendAnalyzer {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if a, ok := g.trend[c]; ok {
		return a
	}
	return g.trend[""]
}

func (g *Generator) anomalyFor(c types.Category) AnomalyDetector {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if d, ok := g.anomaly[c]; ok {
		return d
	}
	return g.anomaly[""]
}

type snapshot struct {
	metric types.Metric
	points []types.DataPoint
	values []float64
}

// Run generates insights every Interval until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			g.Generate(context.WithoutCancel(ctx))
		}
	}
}

// Generate runs all four passes once and returns the insights it appended.
func (g *Generator) Generate(ctx context.Context) []types.Insight {
	g.runMu.Lock()
	defer g.runMu.Unlock()

	now := g.now()
	snaps := g.snapshot(ctx)

	var out []types.Insight
	for _, s := range snaps {
		g.guard("trend", s.metric.ID, func() {
			if in, ok := g.trendInsight(s, now); ok {
				out = append(out, in)
			}
		})
	}
	for _, s := range snaps {
		g.guard("anomaly", s.metric.ID, func() {
			if in, ok := g.anomalyInsight(s, now); ok {
				out = append(out, in)
			}
		})
	}
	out = append(out, g.correlations(snaps, now)...)
	out = append(out, g.recommend(snaps, now)...)

	g.log.Append(out...)
	for _, in := range out {
		metrics.InsightsGenerated.WithLabelValues(string(in.Type), string(in.Severity)).Inc()
		g.events.Emit(ctx, types.EventInsightGenerated, in)
	}
	if len(out) > 0 {
		g.logger.Info("Insights generated", zap.Int("count", len(out)), zap.Int("metrics", len(snaps)))
	}
	return out
}

// snapshot reads each enabled metric's series. Read errors skip the metric.
func (g *Generator) snapshot(ctx context.Context) []snapshot {
	var snaps []snapshot
	for _, m := range g.catalog.List() {
		if !m.Enabled {
			continue
		}
		pts, err := g.store.Series(ctx, m.ID)
		if err != nil {
			metrics.InsightPassErrors.WithLabelValues("snapshot").Inc()
			g.logger.Warn("Failed to read series", zap.String("metric_id", m.ID), zap.Error(err))
			continue
		}
		if len(pts) == 0 {
			continue
		}
		snaps = append(snaps, snapshot{metric: m, points: pts, values: types.Values(pts)})
	}
	return snaps
}

// guard runs fn, converting a panic into a logged, counted error.
func (g *Generator) guard(pass, subject string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.InsightPassErrors.WithLabelValues(pass).Inc()
			g.logger.Error("Insight pass failed",
				zap.String("pass", pass),
				zap.String("subject", subject),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func (g *Generator) newInsight(t types.InsightType, now time.Time) types.Insight {
	return types.Insight{ID: uuid.New().String(), Type: t, Created: now}
}

func (g *Generator) trendInsight(s snapshot, now time.Time) (types.Insight, bool) {
	tr, ok := g.trendFor(s.metric.Category).Trend(s.values)
	if !ok {
		return types.Insight{}, false
	}
	in := g.newInsight(types.InsightTrend, now)
	in.Title = fmt.Sprintf("%s is %s", s.metric.Name, tr.Direction)
	in.Description = fmt.Sprintf("%s changes by %.3f %s per sample over the last %d samples.",
		s.metric.Name, tr.Slope, s.metric.Unit, len(s.values))
	in.Severity = tr.Severity
	in.Metrics = []string{s.metric.ID}
	in.Confidence = tr.Confidence
	in.Impact = types.PriorityLow
	if tr.Severity == types.SeverityWarning {
		in.Impact = types.PriorityMedium
		in.Actionable = true
		in.Recommendations = []string{fmt.Sprintf("Review what is driving %s %s", s.metric.Name, tr.Direction)}
	}
	in.Data = map[string]interface{}{
		"slope":     tr.Slope,
		"direction": tr.Direction,
		"points":    len(s.values),
	}
	return in, true
}

func (g *Generator) anomalyInsight(s snapshot, now time.Time) (types.Insight, bool) {
	found, base, ok := g.anomalyFor(s.metric.Category).Detect(s.values)
	if !ok || len(found) == 0 {
		return types.Insight{}, false
	}
	in := g.newInsight(types.InsightAnomaly, now)
	in.Title = fmt.Sprintf("Anomalies detected in %s", s.metric.Name)
	in.Description = fmt.Sprintf("%d recent values of %s deviate from the historical mean %.2f (stddev %.2f).",
		len(found), s.metric.Name, base.Mean, base.StdDev)
	in.Metrics = []string{s.metric.ID}
	in.Severity = types.SeverityWarning
	in.Impact = types.PriorityMedium
	if len(found) > 3 {
		in.Severity = types.SeverityError
		in.Impact = types.PriorityHigh
	}
	in.Confidence = math.Min(100, 60+10*float64(len(found)))
	in.Actionable = true
	in.Recommendations = []string{
		fmt.Sprintf("Check recent changes affecting %s", s.metric.Name),
		"Compare with related metrics for a common cause",
	}
	points := make([]map[string]interface{}, 0, len(found))
	for _, a := range found {
		p := map[string]interface{}{"value": a.Value, "deviation": a.Deviation}
		if a.Index >= 0 && a.Index < len(s.points) {
			p["timestamp"] = s.points[a.Index].Timestamp
		}
		points = append(points, p)
	}
	in.Data = map[string]interface{}{
		"anomalies":         points,
		"historical_mean":   base.Mean,
		"historical_stddev": base.StdDev,
		"historical_points": base.Points,
	}
	return in, true
}

// correlations checks every unordered pair with enough points over the
// overlapping tail of the two series.
func (g *Generator) correlations(snaps []snapshot, now time.Time) []types.Insight {
	var out []types.Insight
	for i := 0; i < len(snaps); i++ {
		a := snaps[i]
		if len(a.values) < g.cfg.CorrelationMinPoints {
			continue
		}
		for j := i + 1; j < len(snaps); j++ {
			b := snaps[j]
			if len(b.values) < g.cfg.CorrelationMinPoints {
				continue
			}
			g.guard("correlation", a.metric.ID+"/"+b.metric.ID, func() {
				n := len(a.values)
				if len(b.values) < n {
					n = len(b.values)
				}
				r, ok := timeseries.Pearson(a.values[len(a.values)-n:], b.values[len(b.values)-n:])
				if !ok || math.Abs(r) <= g.cfg.CorrelationThreshold {
					return
				}
				sign := "positive"
				if r < 0 {
					sign = "negative"
				}
				in := g.newInsight(types.InsightCorrelation, now)
				in.Title = fmt.Sprintf("Strong %s correlation between %s and %s", sign, a.metric.Name, b.metric.Name)
				in.Description = fmt.Sprintf("Pearson coefficient %.2f over the last %d samples.", r, n)
				in.Severity = types.SeverityInfo
				in.Metrics = []string{a.metric.ID, b.metric.ID}
				in.Confidence = math.Abs(r) * 100
				in.Impact = types.PriorityLow
				in.Data = map[string]interface{}{
					"coefficient": r,
					"sign":        sign,
					"samples":     n,
				}
				out = append(out, in)
			})
		}
	}
	return out
}

func (g *Generator) recommend(snaps []snapshot, now time.Time) []types.Insight {
	byID := make(map[string]snapshot, len(snaps))
	for _, s := range snaps {
		byID[s.metric.ID] = s
	}

	g.mu.RLock()
	rules := append([]RecommendationRule(nil), g.recommendations...)
	g.mu.RUnlock()

	var out []types.Insight
	for _, rule := range rules {
		s, ok := byID[rule.MetricID]
		if !ok {
			continue
		}
		g.guard("recommendation", rule.ID, func() {
			pts := s.points
			if rule.Window > 0 && len(pts) > rule.Window {
				pts = pts[len(pts)-rule.Window:]
			}
			v, ok, err := timeseries.Aggregate(pts, rule.Aggregation)
			if err != nil {
				metrics.InsightPassErrors.WithLabelValues("recommendation").Inc()
				g.logger.Warn("Recommendation rule failed", zap.String("rule_id", rule.ID), zap.Error(err))
				return
			}
			if !ok || !rule.Operator.Compare(v, rule.Threshold, rule.Min, rule.Max) {
				return
			}
			in := g.newInsight(types.InsightRecommendation, now)
			in.Title = rule.Title
			in.Description = fmt.Sprintf("%s Current %s %s: %.2f %s.", rule.Description, aggName(rule.Aggregation), s.metric.Name, v, s.metric.Unit)
			in.Severity = rule.Severity
			in.Metrics = []string{s.metric.ID}
			in.Confidence = rule.Confidence
			in.Impact = rule.Impact
			in.Actionable = true
			in.Recommendations = append([]string(nil), rule.Recommendations...)
			in.Data = map[string]interface{}{
				"rule_id":   rule.ID,
				"value":     v,
				"threshold": rule.Threshold,
				"window":    len(pts),
			}
			out = append(out, in)
		})
	}
	return out
}

func aggName(a types.Aggregation) string {
	if a == types.AggNone {
		return "latest"
	}
	return string(a)
}

// All returns every insight, oldest first.
func (g *Generator) All() []types.Insight { return g.log.All() }

// ByType returns insights of one type.
func (g *Generator) ByType(t types.InsightType) []types.Insight { return g.log.ByType(t) }

// Acknowledge marks an insight acknowledged by actor. Repeated calls keep
// the first acknowledgement and emit nothing.
func (g *Generator) Acknowledge(ctx context.Context, id, actor string) (types.Insight, error) {
	in, changed, err := g.log.Acknowledge(id, actor, g.now())
	if err != nil {
		return types.Insight{}, err
	}
	if changed {
		g.events.Emit(ctx, types.EventInsightAcknowledged, map[string]interface{}{
			"insight_id": id,
			"actor":      actor,
		})
		_ = g.audit.LogInsightAcknowledged(ctx, id, actor)
	}
	return in, nil
}
