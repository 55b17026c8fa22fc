package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/collector"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/health"
	"github.com/kubilitics/kubilitics-pulse/internal/notify"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Option customizes an Engine at construction.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	store        timeseries.Store
	publisher    events.Publisher
	now          func() time.Time
	probes       map[string]health.Probe
	defaultProbe health.Probe
	senders      map[types.ChannelType]notify.Sender
	audit        audit.Logger
	hostReader   collector.Reader
}

// WithLogger sets the application logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStore replaces the configured series store.
func WithStore(s timeseries.Store) Option {
	return func(o *options) { o.store = s }
}

// WithPublisher replaces the configured external event publisher. The
// in-process bus feeding WebSocket clients is always attached.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock sets the time source for every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithProbe sets the health probe for one component.
func WithProbe(component string, p health.Probe) Option {
	return func(o *options) {
		if o.probes == nil {
			o.probes = make(map[string]health.Probe)
		}
		o.probes[component] = p
	}
}

// WithDefaultProbe sets the probe used for components without their own.
func WithDefaultProbe(p health.Probe) Option {
	return func(o *options) { o.defaultProbe = p }
}

// WithSender sets the notification sender for a channel type.
func WithSender(t types.ChannelType, s notify.Sender) Option {
	return func(o *options) {
		if o.senders == nil {
			o.senders = make(map[types.ChannelType]notify.Sender)
		}
		o.senders[t] = s
	}
}

// WithAuditLogger replaces the configured audit logger.
func WithAuditLogger(l audit.Logger) Option {
	return func(o *options) { o.audit = l }
}

// WithHostReader replaces the gopsutil reader of the host collector.
func WithHostReader(r collector.Reader) Option {
	return func(o *options) { o.hostReader = r }
}
