// Package health scores the components the engine watches and rolls them
// up into a system-wide status with SLA indicators and open incidents.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

// Component is a watched component and the components it depends on.
type Component struct {
	Name         string   `mapstructure:"name" json:"name"`
	Dependencies []string `mapstructure:"dependencies" json:"dependencies"`
}

// DefaultComponents is the built-in topology.
func DefaultComponents() []Component {
	return []Component{
		{Name: "api-gateway", Dependencies: []string{"database", "cache", "message-queue"}},
		{Name: "database", Dependencies: []string{"storage"}},
		{Name: "cache"},
		{Name: "message-queue", Dependencies: []string{"storage"}},
		{Name: "storage"},
	}
}

// Config tunes the tracker.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Components   []Component
	SLA          SLATargets
}

// Deps are the tracker's collaborators. Probes are keyed by component
// name; components without one use DefaultProbe.
type Deps struct {
	Probes       map[string]Probe
	DefaultProbe Probe
	Events       *events.Emitter
	Now          func() time.Time
	Logger       *zap.Logger
}

type component struct {
	health   types.ComponentHealth
	probed   bool // a probe has succeeded at least once
	incident *types.HealthIncident
}

// Tracker maintains SystemHealth. Each Check recomputes every component
// in place.
type Tracker struct {
	cfg    Config
	events *events.Emitter
	now    func() time.Time
	logger *zap.Logger

	mu           sync.RWMutex
	probes       map[string]Probe
	defaultProbe Probe
	components   []*component
	system       types.SystemHealth

	checkMu sync.Mutex
}

// New builds a tracker. Every component starts as unknown with score 0.
func New(cfg Config, deps Deps) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Components == nil {
		cfg.Components = DefaultComponents()
	}
	if cfg.SLA == (SLATargets{}) {
		cfg.SLA = DefaultSLATargets()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.DefaultProbe == nil {
		deps.DefaultProbe = NewRandomWalkProbe(uint64(deps.Now().UnixNano()))
	}

	t := &Tracker{
		cfg:          cfg,
		events:       deps.Events,
		now:          deps.Now,
		logger:       deps.Logger.Named("health"),
		probes:       make(map[string]Probe, len(deps.Probes)),
		defaultProbe: deps.DefaultProbe,
	}
	for name, p := range deps.Probes {
		t.probes[name] = p
	}
	for _, c := range cfg.Components {
		t.components = append(t.components, &component{health: types.ComponentHealth{
			Name:         c.Name,
			Status:       types.StatusUnknown,
			Dependencies: append([]string(nil), c.Dependencies...),
		}})
	}
	t.system = types.SystemHealth{
		Overall: types.StatusUnknown,
		SLA:     ComputeSLA(nil, cfg.SLA),
	}
	t.system.Components = t.componentsLocked()
	return t
}

// SetProbe replaces the probe for one component.
func (t *Tracker) SetProbe(name string, p Probe) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.probes[name] = p
}

func (t *Tracker) probeFor(name string) Probe {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.probes[name]; ok {
		return p
	}
	return t.defaultProbe
}

// Snapshot returns a deep copy of the current system health.
func (t *Tracker) Snapshot() types.SystemHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.system.Clone()
}

// Run checks health every Interval until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Check(context.WithoutCancel(ctx))
		}
	}
}

type outcome struct {
	res Result
	err error
}

// Check probes every component concurrently, then recomputes the overall
// score, trend ring, SLA and incidents.
func (t *Tracker) Check(ctx context.Context) types.SystemHealth {
	t.checkMu.Lock()
	defer t.checkMu.Unlock()

	t.mu.RLock()
	prev := make([]types.ComponentHealth, len(t.components))
	for i, c := range t.components {
		prev[i] = c.health
	}
	t.mu.RUnlock()

	results := make([]outcome, len(prev))
	var g errgroup.Group
	for i := range prev {
		g.Go(func() error {
			results[i] = t.probe(ctx, prev[i])
			return nil
		})
	}
	_ = g.Wait()

	now := t.now()
	var opened, resolved []types.HealthIncident

	t.mu.Lock()
	for i, c := range t.components {
		out := results[i]
		h := &c.health
		h.LastChecked = now
		if out.err != nil {
			metrics.ProbeErrors.WithLabelValues(h.Name).Inc()
			t.logger.Warn("Health probe failed", zap.String("component", h.Name), zap.Error(out.err))
			h.Status = types.StatusUnknown
			continue
		}
		c.probed = true
		before := h.Status
		h.Score = out.res.Score
		h.Metrics = out.res.Metrics
		h.Status = types.StatusForScore(h.Score)
		metrics.ComponentHealthScore.WithLabelValues(h.Name).Set(h.Score)

		switch {
		case h.Status == types.StatusCritical && c.incident == nil:
			h.Incidents++
			c.incident = &types.HealthIncident{
				ID:          uuid.New().String(),
				Component:   h.Name,
				Severity:    types.StatusCritical,
				Description: fmt.Sprintf("%s health score dropped to %.1f from %s", h.Name, h.Score, before),
				StartedAt:   now,
			}
			opened = append(opened, *c.incident)
		case h.Status == types.StatusHealthy && c.incident != nil:
			c.incident.ResolvedAt = now
			resolved = append(resolved, *c.incident)
			c.incident = nil
		}
	}
	t.recomputeLocked(now)
	snap := t.system.Clone()
	t.mu.Unlock()

	for _, in := range opened {
		t.logger.Warn("Health incident opened", zap.String("component", in.Component), zap.String("incident_id", in.ID))
	}
	for _, in := range resolved {
		t.logger.Info("Health incident resolved", zap.String("component", in.Component), zap.String("incident_id", in.ID))
	}
	metrics.SystemHealthScore.Set(snap.Score)
	t.events.Emit(ctx, types.EventSystemHealthUpdated, snap)
	return snap
}

func (t *Tracker) probe(ctx context.Context, prev types.ComponentHealth) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("probe panicked: %v", r)}
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
	defer cancel()
	res, err := t.probeFor(prev.Name).Probe(ctx, prev)
	return outcome{res: res, err: err}
}

// recomputeLocked derives the system view from the components. Components
// never successfully probed do not count towards the score or the SLA.
func (t *Tracker) recomputeLocked(now time.Time) {
	var scores []float64
	var known []types.ComponentHealth
	var open []types.HealthIncident
	for _, c := range t.components {
		if c.probed {
			scores = append(scores, c.health.Score)
			known = append(known, c.health)
		}
		if c.incident != nil {
			open = append(open, *c.incident)
		}
	}

	s := &t.system
	if len(scores) == 0 {
		s.Overall = types.StatusUnknown
		s.Score = 0
	} else {
		s.Score = timeseries.Mean(scores)
		s.Overall = types.StatusForScore(s.Score)
	}
	s.Trends = types.HealthTrends{
		OneHour:         s.Score,
		TwentyFourHours: s.Trends.OneHour,
		SevenDays:       s.Trends.TwentyFourHours,
		ThirtyDays:      s.Trends.SevenDays,
	}
	s.SLA = ComputeSLA(known, t.cfg.SLA)
	s.Incidents = open
	s.Components = t.componentsLocked()
	s.LastChecked = now
}

func (t *Tracker) componentsLocked() []types.ComponentHealth {
	out := make([]types.ComponentHealth, len(t.components))
	for i, c := range t.components {
		out[i] = c.health
		out[i].Dependencies = append([]string(nil), c.health.Dependencies...)
	}
	return out
}
