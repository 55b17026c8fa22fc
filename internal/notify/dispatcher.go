// Package notify fans triggered alerts out to notification channels.
// Delivery is fire-and-forget: Dispatch returns immediately and each channel
// is sent in its own goroutine under a timeout. Failures are logged per
// channel and never reported back to the alert engine.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// DefaultTimeout bounds a single channel delivery.
const DefaultTimeout = 10 * time.Second

// Sender delivers one alert over one channel type.
type Sender interface {
	Send(ctx context.Context, ch types.NotificationChannel, alert types.Alert) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, ch types.NotificationChannel, alert types.Alert) error

func (f SenderFunc) Send(ctx context.Context, ch types.NotificationChannel, alert types.Alert) error {
	return f(ctx, ch, alert)
}

// Dispatcher owns the channel registry and delivery goroutines.
type Dispatcher struct {
	mu       sync.RWMutex
	channels map[string]*types.NotificationChannel
	order    []string
	senders  map[types.ChannelType]Sender

	timeout  time.Duration
	events   *events.Emitter
	logger   *zap.Logger
	inflight sync.WaitGroup
}

// NewDispatcher wires the default senders: HTTP for webhook and slack, a
// logging sender for the rest.
func NewDispatcher(timeout time.Duration, emitter *events.Emitter, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")

	httpSender := NewHTTPSender(nil)
	logSender := NewLogSender(logger)
	return &Dispatcher{
		channels: make(map[string]*types.NotificationChannel),
		senders: map[types.ChannelType]Sender{
			types.ChannelWebhook: httpSender,
			types.ChannelSlack:   httpSender,
			types.ChannelEmail:   logSender,
			types.ChannelPager:   logSender,
			types.ChannelSMS:     logSender,
		},
		timeout: timeout,
		events:  emitter,
		logger:  logger,
	}
}

// RegisterSender replaces the sender for a channel type.
func (d *Dispatcher) RegisterSender(t types.ChannelType, s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[t] = s
}

// SetTimeout changes the per-delivery timeout for future dispatches.
func (d *Dispatcher) SetTimeout(timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
}

// CreateChannel registers a channel under id.
func (d *Dispatcher) CreateChannel(ctx context.Context, id string, def types.ChannelDefinition) (types.NotificationChannel, error) {
	if id == "" {
		return types.NotificationChannel{}, fmt.Errorf("%w: channel id is required", types.ErrInvalid)
	}
	if err := def.Validate(); err != nil {
		return types.NotificationChannel{}, err
	}

	d.mu.Lock()
	if _, exists := d.channels[id]; exists {
		d.mu.Unlock()
		return types.NotificationChannel{}, fmt.Errorf("%w: channel %q already exists", types.ErrInvalid, id)
	}
	ch := channelFromDef(id, def)
	d.channels[id] = &ch
	d.order = append(d.order, id)
	d.mu.Unlock()

	d.events.Emit(ctx, types.EventChannelCreated, redacted(ch))
	return cloneChannel(ch), nil
}

// UpdateChannel replaces an existing channel definition.
func (d *Dispatcher) UpdateChannel(ctx context.Context, id string, def types.ChannelDefinition) (types.NotificationChannel, error) {
	if err := def.Validate(); err != nil {
		return types.NotificationChannel{}, err
	}

	d.mu.Lock()
	if _, exists := d.channels[id]; !exists {
		d.mu.Unlock()
		return types.NotificationChannel{}, types.NotFound("channel", id)
	}
	ch := channelFromDef(id, def)
	d.channels[id] = &ch
	d.mu.Unlock()

	d.events.Emit(ctx, types.EventChannelUpdated, redacted(ch))
	return cloneChannel(ch), nil
}

// GetChannel returns a copy of the channel.
func (d *Dispatcher) GetChannel(id string) (types.NotificationChannel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ch, ok := d.channels[id]
	if !ok {
		return types.NotificationChannel{}, false
	}
	return cloneChannel(*ch), true
}

// ListChannels returns channels in creation order.
func (d *Dispatcher) ListChannels() []types.NotificationChannel {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]types.NotificationChannel, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, cloneChannel(*d.channels[id]))
	}
	return out
}

type delivery struct {
	ch     types.NotificationChannel
	sender Sender
}

// Dispatch starts delivery of alert to each listed channel and returns
// without waiting. Unknown, disabled and filtered channels are skipped.
func (d *Dispatcher) Dispatch(alert types.Alert, channelIDs []string) {
	d.mu.RLock()
	timeout := d.timeout
	var targets []delivery
	for _, id := range channelIDs {
		ch, ok := d.channels[id]
		if !ok {
			d.logger.Warn("Alert references unknown channel", zap.String("rule_id", alert.RuleID), zap.String("channel_id", id))
			continue
		}
		if !ch.Enabled || !accepts(*ch, alert.Severity) {
			continue
		}
		sender, ok := d.senders[ch.Type]
		if !ok {
			d.logger.Warn("No sender for channel type", zap.String("channel_id", id), zap.String("channel_type", string(ch.Type)))
			continue
		}
		targets = append(targets, delivery{ch: cloneChannel(*ch), sender: sender})
	}
	d.mu.RUnlock()

	for _, t := range targets {
		d.inflight.Add(1)
		go d.deliver(t, alert, timeout)
	}
}

func (d *Dispatcher) deliver(t delivery, alert types.Alert, timeout time.Duration) {
	defer d.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			metrics.NotificationsTotal.WithLabelValues(string(t.ch.Type), "error").Inc()
			d.logger.Error("Notification sender panicked", zap.String("channel_id", t.ch.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	err := t.sender.Send(ctx, t.ch, alert)
	metrics.NotificationDuration.WithLabelValues(string(t.ch.Type)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(t.ch.Type), "error").Inc()
		d.logger.Warn("Notification delivery failed",
			zap.String("channel_id", t.ch.ID),
			zap.String("channel_type", string(t.ch.Type)),
			zap.String("rule_id", alert.RuleID),
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsTotal.WithLabelValues(string(t.ch.Type), "ok").Inc()
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for notifications: %w", ctx.Err())
	}
}

var severityRank = map[types.Priority]int{
	types.PriorityLow:      0,
	types.PriorityMedium:   1,
	types.PriorityHigh:     2,
	types.PriorityCritical: 3,
}

// accepts applies the optional "min_severity" channel config.
func accepts(ch types.NotificationChannel, sev types.Priority) bool {
	min, ok := ch.Config["min_severity"]
	if !ok || min == "" {
		return true
	}
	return severityRank[sev] >= severityRank[types.Priority(min)]
}

func channelFromDef(id string, def types.ChannelDefinition) types.NotificationChannel {
	return cloneChannel(types.NotificationChannel{
		ID:      id,
		Name:    def.Name,
		Type:    def.Type,
		Config:  def.Config,
		Enabled: !def.Disabled,
	})
}

func cloneChannel(ch types.NotificationChannel) types.NotificationChannel {
	if ch.Config != nil {
		cfg := make(map[string]string, len(ch.Config))
		for k, v := range ch.Config {
			cfg[k] = v
		}
		ch.Config = cfg
	}
	return ch
}

// redacted drops config values from event payloads; they often hold
// webhook secrets.
func redacted(ch types.NotificationChannel) types.NotificationChannel {
	ch.Config = nil
	return ch
}
