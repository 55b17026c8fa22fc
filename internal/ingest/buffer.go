// Package ingest accepts data points from producers and moves them into the
// store in batches.
//
// Record only appends to a per-metric buffer under that metric's own lock.
// A flush swaps the buffer out, hands it to the store (which sorts and
// prunes) and then runs the flush hook, normally alert evaluation. Flushes
// of the same metric are serialized; different metrics flush independently.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

const (
	DefaultMaxSize       = 100
	DefaultFlushInterval = 30 * time.Second
)

// FlushHook runs after a metric's series has been written. series is a
// snapshot owned by the hook.
type FlushHook func(ctx context.Context, metricID string, series []types.DataPoint, now time.Time)

// Config controls flush triggers.
type Config struct {
	MaxSize       int
	FlushInterval time.Duration
	// EmitRecorded publishes metric.recorded for every accepted point.
	EmitRecorded bool
}

// Deps are the collaborators of a Buffer. Catalog and Store are required.
type Deps struct {
	Catalog *catalog.Catalog
	Store   timeseries.Store
	OnFlush FlushHook
	Events  *events.Emitter
	Now     func() time.Time
	Logger  *zap.Logger
}

type metricBuffer struct {
	mu      sync.Mutex // guards pending
	pending []types.DataPoint
	flushMu sync.Mutex // serializes flushes of this metric

	// flushRequested is set while a size-triggered flush is queued; at
	// most one is queued per metric.
	flushRequested atomic.Bool
}

// Buffer is the ingestion front of the engine.
type Buffer struct {
	cfg     Config
	catalog *catalog.Catalog
	store   timeseries.Store
	onFlush FlushHook
	events  *events.Emitter
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.RWMutex
	buffers map[string]*metricBuffer

	// kick carries ids of metrics whose buffer reached MaxSize.
	kick     chan string
	inflight sync.WaitGroup
}

// New builds a Buffer.
func New(cfg Config, deps Deps) *Buffer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Buffer{
		cfg:     cfg,
		catalog: deps.Catalog,
		store:   deps.Store,
		onFlush: deps.OnFlush,
		events:  deps.Events,
		now:     deps.Now,
		logger:  deps.Logger.Named("ingest"),
		buffers: make(map[string]*metricBuffer),
		kick:    make(chan string, 1024),
	}
}

// Record appends a point stamped with the current time. Unknown or disabled
// metrics are ignored without error.
func (b *Buffer) Record(metricID string, value float64, tags map[string]string) {
	if _, ok := b.catalog.Accepting(metricID); !ok {
		reason := "unknown_metric"
		if _, known := b.catalog.Get(metricID); known {
			reason = "disabled_metric"
		}
		metrics.PointsDropped.WithLabelValues(reason).Inc()
		return
	}

	p := types.DataPoint{Timestamp: b.now(), Value: value}
	if len(tags) > 0 {
		p.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			p.Tags[k] = v
		}
	}

	mb := b.bufferFor(metricID)
	mb.mu.Lock()
	mb.pending = append(mb.pending, p)
	n := len(mb.pending)
	mb.mu.Unlock()

	metrics.PointsRecorded.WithLabelValues(metricID).Inc()

	if n >= b.cfg.MaxSize && mb.flushRequested.CompareAndSwap(false, true) {
		select {
		case b.kick <- metricID:
		default:
			// the periodic flush picks it up; a later Record may ask again
			mb.flushRequested.Store(false)
		}
	}

	if b.cfg.EmitRecorded {
		b.events.Emit(context.Background(), types.EventMetricRecorded, map[string]interface{}{
			"metric_id": metricID,
			"value":     value,
			"tags":      p.Tags,
			"timestamp": p.Timestamp,
		})
	}
}

// Pending returns the number of buffered points for a metric.
func (b *Buffer) Pending(metricID string) int {
	b.mu.RLock()
	mb, ok := b.buffers[metricID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.pending)
}

func (b *Buffer) bufferFor(metricID string) *metricBuffer {
	b.mu.RLock()
	mb, ok := b.buffers[metricID]
	b.mu.RUnlock()
	if ok {
		return mb
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if mb, ok = b.buffers[metricID]; ok {
		return mb
	}
	mb = &metricBuffer{}
	b.buffers[metricID] = mb
	return mb
}

// Flush moves the metric's buffered points into the store and runs the
// flush hook. A flush with nothing buffered still prunes expired points.
// If the store write fails the points are put back into the buffer.
func (b *Buffer) Flush(ctx context.Context, metricID string) error {
	m, ok := b.catalog.Get(metricID)
	if !ok {
		return types.NotFound("metric", metricID)
	}

	mb := b.bufferFor(metricID)
	mb.flushMu.Lock()
	defer mb.flushMu.Unlock()

	start := time.Now()

	mb.mu.Lock()
	pending := mb.pending
	mb.pending = nil
	mb.flushRequested.Store(false)
	mb.mu.Unlock()

	now := b.now()
	series, err := b.store.Append(ctx, metricID, pending, m.Retention, now)
	if err != nil {
		mb.mu.Lock()
		mb.pending = append(pending, mb.pending...)
		mb.mu.Unlock()
		metrics.FlushErrors.WithLabelValues(metricID).Inc()
		return fmt.Errorf("flush %s: %w", metricID, err)
	}

	if len(pending) > 0 {
		b.catalog.Touch(metricID, now)
	}
	metrics.SeriesLength.WithLabelValues(metricID).Set(float64(len(series)))

	if b.onFlush != nil {
		b.runHook(ctx, metricID, series, now)
	}

	metrics.FlushDuration.WithLabelValues(metricID).Observe(time.Since(start).Seconds())
	return nil
}

func (b *Buffer) runHook(ctx context.Context, metricID string, series []types.DataPoint, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Flush hook panicked", zap.String("metric_id", metricID), zap.Any("panic", r))
		}
	}()
	b.onFlush(ctx, metricID, series, now)
}

// FlushAll flushes every catalog metric, including ones with nothing
// buffered so that retention is enforced.
func (b *Buffer) FlushAll(ctx context.Context) error {
	var err error
	for _, m := range b.catalog.List() {
		err = multierr.Append(err, b.Flush(ctx, m.ID))
	}
	return err
}

// Run flushes on the periodic timer and whenever a buffer fills up, until
// ctx is cancelled. In-flight flushes complete before Run returns.
func (b *Buffer) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()
	defer b.inflight.Wait()

	// flushes outlive cancellation so a stop never cuts one in half
	flushCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := b.FlushAll(flushCtx); err != nil {
				b.logger.Warn("Periodic flush failed", zap.Error(err))
			}
		case id := <-b.kick:
			b.inflight.Add(1)
			go func() {
				defer b.inflight.Done()
				if err := b.Flush(flushCtx, id); err != nil {
					b.logger.Warn("Size-triggered flush failed", zap.String("metric_id", id), zap.Error(err))
				}
			}()
		}
	}
}
