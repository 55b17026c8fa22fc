package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kubilitics/kubilitics-pulse/internal/logging"
)

// Logger records operator actions on rules, channels, insights and
// dashboards.
type Logger interface {
	Log(ctx context.Context, event *Event) error

	LogRuleChange(ctx context.Context, eventType EventType, ruleID, actor string, metadata map[string]interface{}) error
	LogInsightAcknowledged(ctx context.Context, insightID, actor string) error
	LogResourceChange(ctx context.Context, eventType EventType, resourceType, resourceID, actor string) error

	// Sync flushes buffered entries
	Sync() error
	Close() error
}

// Config controls the audit file and its rotation.
type Config struct {
	// Path is the audit log file
	Path string

	MaxSize    int // megabytes per file
	MaxBackups int
	MaxAge     int // days

	Compress bool

	// FlushInterval bounds how long an event stays buffered
	FlushInterval time.Duration
}

// DefaultConfig keeps 10 rotated 100MB files for 30 days.
func DefaultConfig() *Config {
	return &Config{
		Path:          "logs/audit.log",
		MaxSize:       100, // megabytes
		MaxBackups:    10,
		MaxAge:        30, // days
		Compress:      true,
		FlushInterval: time.Second,
	}
}

const bufferLimit = 100

type auditLogger struct {
	out    *zap.Logger
	errLog *zap.Logger

	mu          sync.Mutex
	buffer      []*Event
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
}

// NewLogger creates a file-backed audit logger. errLog receives internal
// failures and may be nil.
func NewLogger(config *Config, errLog *zap.Logger) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if errLog == nil {
		errLog = zap.NewNop()
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Path,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}

	// audit entries are always written at INFO
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(logging.EncoderConfig()),
		zapcore.AddSync(rotator),
		zapcore.InfoLevel,
	)

	l := &auditLogger{
		out:         zap.New(core),
		errLog:      errLog.Named("audit"),
		buffer:      make([]*Event, 0, bufferLimit),
		flushTicker: time.NewTicker(config.FlushInterval),
		stopCh:      make(chan struct{}),
	}
	go l.autoFlush()
	return l, nil
}

func (l *auditLogger) Log(ctx context.Context, event *Event) error {
	if event.CorrelationID == "" {
		event.CorrelationID = GetCorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.buffer = append(l.buffer, event)
	if len(l.buffer) >= bufferLimit {
		return l.flushLocked()
	}
	return nil
}

// flushLocked writes the buffer (caller must hold lock)
func (l *auditLogger) flushLocked() error {
	for _, event := range l.buffer {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			l.errLog.Error("failed to marshal audit event",
				zap.Error(err),
				zap.String("event_type", string(event.EventType)),
			)
			continue
		}
		l.out.Info(string(eventJSON),
			zap.String("correlation_id", event.CorrelationID),
			zap.String("event_type", string(event.EventType)),
			zap.String("result", string(event.Result)),
		)
	}
	l.buffer = l.buffer[:0]
	return nil
}

func (l *auditLogger) autoFlush() {
	for {
		select {
		case <-l.flushTicker.C:
			l.mu.Lock()
			_ = l.flushLocked()
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

func (l *auditLogger) LogRuleChange(ctx context.Context, eventType EventType, ruleID, actor string, metadata map[string]interface{}) error {
	event := NewEvent(eventType).
		WithResource(ruleID, "alert_rule").
		WithActor(actor).
		WithDescription(fmt.Sprintf("Alert rule %s: %s", ruleID, eventType))
	for k, v := range metadata {
		event.WithMetadata(k, v)
	}
	return l.Log(ctx, event)
}

func (l *auditLogger) LogInsightAcknowledged(ctx context.Context, insightID, actor string) error {
	event := NewEvent(EventInsightAcknowledged).
		WithResource(insightID, "insight").
		WithActor(actor).
		WithDescription(fmt.Sprintf("Insight %s acknowledged by %s", insightID, actor))
	return l.Log(ctx, event)
}

func (l *auditLogger) LogResourceChange(ctx context.Context, eventType EventType, resourceType, resourceID, actor string) error {
	event := NewEvent(eventType).
		WithResource(resourceID, resourceType).
		WithActor(actor).
		WithDescription(fmt.Sprintf("%s %s: %s", resourceType, resourceID, eventType))
	return l.Log(ctx, event)
}

func (l *auditLogger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.flushLocked(); err != nil {
		return err
	}
	return l.out.Sync()
}

func (l *auditLogger) Close() error {
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.flushTicker.Stop()
	})
	return l.Sync()
}

// nopLogger drops everything; used when auditing is disabled.
type nopLogger struct{}

// NewNopLogger returns a Logger that records nothing.
func NewNopLogger() Logger { return nopLogger{} }

func (nopLogger) Log(context.Context, *Event) error { return nil }
func (nopLogger) LogRuleChange(context.Context, EventType, string, string, map[string]interface{}) error {
	return nil
}
func (nopLogger) LogInsightAcknowledged(context.Context, string, string) error { return nil }
func (nopLogger) LogResourceChange(context.Context, EventType, string, string, string) error {
	return nil
}
func (nopLogger) Sync() error  { return nil }
func (nopLogger) Close() error { return nil }

type correlationKey struct{}

// GetCorrelationID returns the request id stored by WithCorrelationID.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationKey{}).(string); ok {
		return id
	}
	return ""
}

func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// GenerateCorrelationID returns a random request id.
func GenerateCorrelationID() string {
	return uuid.New().String()
}
