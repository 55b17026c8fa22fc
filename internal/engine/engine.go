// Package engine is the composition root of kubilitics-pulse. It wires the
// catalog, buffer, store, alerting, notification, insight, health and query
// components together and owns their background loops.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubilitics/kubilitics-pulse/internal/alerting"
	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/collector"
	"github.com/kubilitics/kubilitics-pulse/internal/config"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/health"
	"github.com/kubilitics/kubilitics-pulse/internal/ingest"
	"github.com/kubilitics/kubilitics-pulse/internal/insights"
	"github.com/kubilitics/kubilitics-pulse/internal/notify"
	"github.com/kubilitics/kubilitics-pulse/internal/query"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
)

// SystemActor is recorded for changes the engine makes on its own.
const SystemActor = alerting.SystemActor

var ErrAlreadyStarted = errors.New("engine already started")

// Engine is the metrics and alerting engine.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	catalog    *catalog.Catalog
	store      timeseries.Store
	bus        *events.MemoryBus
	publisher  events.Publisher
	emitter    *events.Emitter
	audit      audit.Logger
	buffer     *ingest.Buffer
	dispatcher *notify.Dispatcher
	alerts     *alerting.Engine
	insights   *insights.Generator
	health     *health.Tracker
	query      *query.Service
	dashboards *query.Dashboards
	collector  *collector.HostCollector

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	stopOnce sync.Once
	stopErr  error
}

// New builds an engine from cfg. A nil cfg uses config.DefaultConfig().
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.now == nil {
		o.now = time.Now
	}
	logger := o.logger

	e := &Engine{cfg: cfg, logger: logger.Named("engine"), now: o.now}

	var err error
	e.store = o.store
	if e.store == nil {
		e.store, err = timeseries.Open(timeseries.Config{Type: cfg.Storage.Type, SQLitePath: cfg.Storage.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	e.bus = events.NewMemoryBus()
	external := o.publisher
	if external == nil && cfg.Events.Backend == "nats" {
		external, err = events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			MaxReconnects: cfg.Events.MaxReconnects,
			ReconnectWait: cfg.Events.ReconnectWait,
		}, logger)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("connect event bus: %w", err), e.store.Close())
		}
	}
	if external != nil {
		e.publisher = events.Multi{e.bus, external}
	} else {
		e.publisher = e.bus
	}
	e.emitter = events.NewEmitter(e.publisher, o.now, logger)

	e.audit = o.audit
	if e.audit == nil {
		e.audit = audit.NewNopLogger()
		if cfg.Audit.Enabled {
			e.audit, err = audit.NewLogger(&audit.Config{
				Path:          cfg.Audit.Path,
				MaxSize:       cfg.Audit.MaxSize,
				MaxBackups:    cfg.Audit.MaxBackups,
				MaxAge:        cfg.Audit.MaxAge,
				Compress:      cfg.Audit.Compress,
				FlushInterval: cfg.Audit.FlushInterval,
			}, logger)
			if err != nil {
				return nil, multierr.Combine(fmt.Errorf("open audit log: %w", err), e.publisher.Close(), e.store.Close())
			}
		}
	}

	e.catalog = catalog.New()

	e.dispatcher = notify.NewDispatcher(cfg.Notifications.Timeout, e.emitter, logger)
	for t, s := range o.senders {
		e.dispatcher.RegisterSender(t, s)
	}

	e.alerts = alerting.NewEngine(alerting.Deps{
		Dispatcher:   e.dispatcher,
		Events:       e.emitter,
		Audit:        e.audit,
		Now:          o.now,
		Logger:       logger,
		HistoryLimit: cfg.Engine.AlertHistoryLimit,
	})

	e.buffer = ingest.New(ingest.Config{
		MaxSize:       cfg.Engine.BufferSize,
		FlushInterval: cfg.Engine.FlushInterval,
		EmitRecorded:  cfg.Engine.EmitRecordedEvents,
	}, ingest.Deps{
		Catalog: e.catalog,
		Store:   e.store,
		OnFlush: e.alerts.Evaluate,
		Events:  e.emitter,
		Now:     o.now,
		Logger:  logger,
	})

	e.insights = insights.New(insights.Config{Interval: cfg.Engine.InsightInterval}, insights.Deps{
		Catalog: e.catalog,
		Store:   e.store,
		Log:     insights.NewLog(),
		Events:  e.emitter,
		Audit:   e.audit,
		Now:     o.now,
		Logger:  logger,
	})

	probes := make(map[string]health.Probe, len(cfg.Health.HTTPProbes)+len(o.probes))
	for name, url := range cfg.Health.HTTPProbes {
		probes[name] = &health.HTTPProbe{URL: url}
	}
	for name, p := range o.probes {
		probes[name] = p
	}
	components := make([]health.Component, 0, len(cfg.Health.Components))
	for _, c := range cfg.Health.Components {
		components = append(components, health.Component{Name: c.Name, Dependencies: c.Dependencies})
	}
	if len(components) == 0 {
		components = nil
	}
	e.health = health.New(health.Config{
		Interval:     cfg.Engine.HealthInterval,
		ProbeTimeout: cfg.Health.ProbeTimeout,
		Components:   components,
		SLA: health.SLATargets{
			Availability: cfg.Health.SLA.Availability,
			LatencyMs:    cfg.Health.SLA.LatencyMs,
			ErrorRate:    cfg.Health.SLA.ErrorRate,
		},
	}, health.Deps{
		Probes:       probes,
		DefaultProbe: o.defaultProbe,
		Events:       e.emitter,
		Now:          o.now,
		Logger:       logger,
	})

	e.query = query.NewService(e.catalog, e.store, o.now)
	e.dashboards = query.NewDashboards(query.DashboardDeps{
		Service: e.query,
		Events:  e.emitter,
		Audit:   e.audit,
		Now:     o.now,
		Logger:  logger,
	})

	if cfg.Collector.Enabled {
		e.collector = collector.NewHostCollector(collector.Config{
			Interval: cfg.Collector.Interval,
			DiskPath: cfg.Collector.DiskPath,
		}, e.buffer, o.hostReader, logger)
	}
	return e, nil
}

// Start seeds the default catalog and rules, if configured, and starts the
// flush, insight and health loops plus the host collector when enabled.
// The loops outlive ctx and stop only through Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrAlreadyStarted
	}

	if e.cfg.Engine.SeedDefaults {
		if err := e.SeedDefaults(ctx); err != nil {
			return fmt.Errorf("seed defaults: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return e.buffer.Run(gctx) })
	g.Go(func() error { return e.insights.Run(gctx) })
	g.Go(func() error {
		e.health.Check(gctx)
		return e.health.Run(gctx)
	})
	if e.collector != nil {
		g.Go(func() error { return e.collector.Run(gctx) })
	}
	e.cancel = cancel
	e.group = g
	e.started = true

	_ = e.audit.Log(ctx, audit.NewEvent(audit.EventEngineStarted).WithActor(SystemActor))
	e.logger.Info("Engine started",
		zap.Int("metrics", len(e.catalog.List())),
		zap.Int("rules", len(e.alerts.ListRules())),
		zap.Bool("collector", e.collector != nil),
	)
	return nil
}

// SeedDefaults registers the built-in metrics and alert rules that are not
// registered yet.
func (e *Engine) SeedDefaults(ctx context.Context) error {
	for _, def := range catalog.Defaults() {
		if _, ok := e.catalog.Get(def.ID); ok {
			continue
		}
		if _, err := e.RegisterMetric(ctx, def, SystemActor); err != nil {
			return err
		}
	}
	rules := alerting.DefaultRules()
	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := e.alerts.GetRule(id); ok {
			continue
		}
		if _, err := e.alerts.CreateRule(ctx, id, rules[id], SystemActor); err != nil {
			return err
		}
	}
	return nil
}

// Stop cancels the loops, waits for in-flight flushes, flushes every
// buffer a final time, waits for notification deliveries and closes the
// event publisher, audit log and store. ctx bounds the waiting. Later calls
// return the first call's result.
func (e *Engine) Stop(ctx context.Context) error {
	e.stopOnce.Do(func() {
		e.mu.Lock()
		cancel, g := e.cancel, e.group
		e.mu.Unlock()

		var err error
		if cancel != nil {
			cancel()
			done := make(chan error, 1)
			go func() { done <- g.Wait() }()
			select {
			case werr := <-done:
				err = multierr.Append(err, werr)
			case <-ctx.Done():
				err = multierr.Append(err, fmt.Errorf("wait for loops: %w", ctx.Err()))
			}
		}

		err = multierr.Append(err, e.buffer.FlushAll(ctx))
		err = multierr.Append(err, e.dispatcher.Wait(ctx))

		_ = e.audit.Log(ctx, audit.NewEvent(audit.EventEngineStopped).WithActor(SystemActor))
		err = multierr.Append(err, e.publisher.Close())
		err = multierr.Append(err, e.audit.Close())
		err = multierr.Append(err, e.store.Close())

		if err != nil {
			e.logger.Warn("Engine stopped with errors", zap.Error(err))
		} else {
			e.logger.Info("Engine stopped")
		}
		e.stopErr = err
	})
	return e.stopErr
}

// Reconfigure applies the settings that may change at runtime.
func (e *Engine) Reconfigure(cfg *config.Config) {
	e.dispatcher.SetTimeout(cfg.Notifications.Timeout)
	_ = e.audit.Log(context.Background(), audit.NewEvent(audit.EventConfigReload).
		WithActor(SystemActor).
		WithMetadata("notifications_timeout", cfg.Notifications.Timeout.String()))
}

// Bus is the in-process event stream.
func (e *Engine) Bus() *events.MemoryBus { return e.bus }
