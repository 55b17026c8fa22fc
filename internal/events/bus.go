// Package events carries engine notifications to the outside world. All
// publishing is fire-and-forget: the engine never waits for a consumer.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Publisher hands an event to a bus. Implementations must not block on
// slow consumers.
type Publisher interface {
	Publish(ctx context.Context, ev types.Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, types.Event) error { return nil }
func (Nop) Close() error                              { return nil }

// Multi fans one event out to several publishers.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev types.Event) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, ev))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Emitter stamps and publishes events on behalf of engine components. A nil
// Emitter is valid and emits nothing.
type Emitter struct {
	pub    Publisher
	now    func() time.Time
	logger *zap.Logger
}

// NewEmitter wraps pub. now defaults to time.Now.
func NewEmitter(pub Publisher, now func() time.Time, logger *zap.Logger) *Emitter {
	if pub == nil {
		pub = Nop{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{pub: pub, now: now, logger: logger}
}

// Emit publishes an event of typ carrying data. Failures are logged and
// counted, never returned.
func (e *Emitter) Emit(ctx context.Context, typ types.EventType, data interface{}) {
	if e == nil {
		return
	}
	ev := types.Event{
		ID:        uuid.New().String(),
		Type:      typ,
		Timestamp: e.now(),
		Data:      data,
	}
	if err := e.pub.Publish(ctx, ev); err != nil {
		metrics.EventsPublished.WithLabelValues(string(typ), "error").Inc()
		e.logger.Debug("Failed to publish event", zap.String("type", string(typ)), zap.Error(err))
		return
	}
	metrics.EventsPublished.WithLabelValues(string(typ), "ok").Inc()
}
