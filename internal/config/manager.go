package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// viperConfigManager implements ConfigManager using Viper.
type viperConfigManager struct {
	configPath string
	viper      *viper.Viper
	watchChan  chan Config
	watchOnce  sync.Once

	mu     sync.RWMutex
	config *Config
}

// Load loads configuration from all sources.
func (m *viperConfigManager) Load(ctx context.Context) error {
	m.viper = viper.New()

	m.viper.SetConfigFile(m.configPath)
	m.viper.SetConfigType("yaml")

	// PULSE_ENGINE_FLUSH_INTERVAL overrides engine.flush_interval
	m.viper.SetEnvPrefix("PULSE")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()

	m.setDefaults()

	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *viperConfigManager) Get(ctx context.Context) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Validate validates configuration is correct and complete.
func (m *viperConfigManager) Validate(ctx context.Context) error {
	errs := m.Get(ctx).Validate()
	if len(errs) > 0 {
		var errMsgs []string
		for _, err := range errs {
			errMsgs = append(errMsgs, err.Error())
		}
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errMsgs, "\n  - "))
	}
	return nil
}

// Watch watches the config file and sends each valid reload on the
// returned channel. Updates are dropped while the previous one is unread.
func (m *viperConfigManager) Watch(ctx context.Context) <-chan Config {
	m.watchOnce.Do(func() {
		m.viper.OnConfigChange(func(e fsnotify.Event) {
			if err := m.unmarshalConfig(); err != nil {
				return
			}
			if errs := m.Get(ctx).Validate(); len(errs) > 0 {
				return
			}
			select {
			case m.watchChan <- *m.Get(ctx):
			default:
			}
		})
		m.viper.WatchConfig()
	})
	return m.watchChan
}

// Reload reloads configuration from sources.
func (m *viperConfigManager) Reload(ctx context.Context) error {
	if err := m.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	if err := m.unmarshalConfig(); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}
	return nil
}

// setDefaults sets default values in viper.
func (m *viperConfigManager) setDefaults() {
	d := DefaultConfig()

	// Server defaults
	m.viper.SetDefault("server.port", d.Server.Port)
	m.viper.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	m.viper.SetDefault("server.tls_cert_path", d.Server.TLSCertPath)
	m.viper.SetDefault("server.tls_key_path", d.Server.TLSKeyPath)
	m.viper.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	m.viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	m.viper.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)
	m.viper.SetDefault("server.rate_limit_burst", d.Server.RateLimitBurst)
	m.viper.SetDefault("server.trusted_proxies", d.Server.TrustedProxies)

	// Engine defaults
	m.viper.SetDefault("engine.buffer_size", d.Engine.BufferSize)
	m.viper.SetDefault("engine.flush_interval", d.Engine.FlushInterval)
	m.viper.SetDefault("engine.insight_interval", d.Engine.InsightInterval)
	m.viper.SetDefault("engine.health_interval", d.Engine.HealthInterval)
	m.viper.SetDefault("engine.alert_history_limit", d.Engine.AlertHistoryLimit)
	m.viper.SetDefault("engine.emit_recorded_events", d.Engine.EmitRecordedEvents)
	m.viper.SetDefault("engine.seed_defaults", d.Engine.SeedDefaults)

	// Storage defaults
	m.viper.SetDefault("storage.type", d.Storage.Type)
	m.viper.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)

	// Events defaults
	m.viper.SetDefault("events.backend", d.Events.Backend)
	m.viper.SetDefault("events.nats_url", d.Events.NATSURL)
	m.viper.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)
	m.viper.SetDefault("events.max_reconnects", d.Events.MaxReconnects)
	m.viper.SetDefault("events.reconnect_wait", d.Events.ReconnectWait)

	// Notification defaults
	m.viper.SetDefault("notifications.timeout", d.Notifications.Timeout)

	// Health defaults
	m.viper.SetDefault("health.probe_timeout", d.Health.ProbeTimeout)
	m.viper.SetDefault("health.components", d.Health.Components)
	m.viper.SetDefault("health.http_probes", d.Health.HTTPProbes)
	m.viper.SetDefault("health.sla.availability", d.Health.SLA.Availability)
	m.viper.SetDefault("health.sla.latency_ms", d.Health.SLA.LatencyMs)
	m.viper.SetDefault("health.sla.error_rate", d.Health.SLA.ErrorRate)

	// Collector defaults
	m.viper.SetDefault("collector.enabled", d.Collector.Enabled)
	m.viper.SetDefault("collector.interval", d.Collector.Interval)
	m.viper.SetDefault("collector.disk_path", d.Collector.DiskPath)

	// Logging defaults
	m.viper.SetDefault("logging.level", d.Logging.Level)
	m.viper.SetDefault("logging.format", d.Logging.Format)
	m.viper.SetDefault("logging.file_path", d.Logging.FilePath)
	m.viper.SetDefault("logging.max_size", d.Logging.MaxSize)
	m.viper.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	m.viper.SetDefault("logging.max_age", d.Logging.MaxAge)
	m.viper.SetDefault("logging.compress", d.Logging.Compress)

	// Audit defaults
	m.viper.SetDefault("audit.enabled", d.Audit.Enabled)
	m.viper.SetDefault("audit.path", d.Audit.Path)
	m.viper.SetDefault("audit.max_size", d.Audit.MaxSize)
	m.viper.SetDefault("audit.max_backups", d.Audit.MaxBackups)
	m.viper.SetDefault("audit.max_age", d.Audit.MaxAge)
	m.viper.SetDefault("audit.compress", d.Audit.Compress)
	m.viper.SetDefault("audit.flush_interval", d.Audit.FlushInterval)
}

// unmarshalConfig unmarshals viper config into Config struct.
func (m *viperConfigManager) unmarshalConfig() error {
	cfg := &Config{}

	// Server
	cfg.Server.Port = m.viper.GetInt("server.port")
	cfg.Server.TLSEnabled = m.viper.GetBool("server.tls_enabled")
	cfg.Server.TLSCertPath = m.viper.GetString("server.tls_cert_path")
	cfg.Server.TLSKeyPath = m.viper.GetString("server.tls_key_path")
	cfg.Server.AllowedOrigins = m.viper.GetStringSlice("server.allowed_origins")
	cfg.Server.ShutdownTimeout = m.viper.GetDuration("server.shutdown_timeout")
	cfg.Server.RateLimitPerMinute = m.viper.GetInt("server.rate_limit_per_minute")
	cfg.Server.RateLimitBurst = m.viper.GetInt("server.rate_limit_burst")
	cfg.Server.TrustedProxies = m.viper.GetStringSlice("server.trusted_proxies")

	// Engine
	cfg.Engine.BufferSize = m.viper.GetInt("engine.buffer_size")
	cfg.Engine.FlushInterval = m.viper.GetDuration("engine.flush_interval")
	cfg.Engine.InsightInterval = m.viper.GetDuration("engine.insight_interval")
	cfg.Engine.HealthInterval = m.viper.GetDuration("engine.health_interval")
	cfg.Engine.AlertHistoryLimit = m.viper.GetInt("engine.alert_history_limit")
	cfg.Engine.EmitRecordedEvents = m.viper.GetBool("engine.emit_recorded_events")
	cfg.Engine.SeedDefaults = m.viper.GetBool("engine.seed_defaults")

	// Storage
	cfg.Storage.Type = m.viper.GetString("storage.type")
	cfg.Storage.SQLitePath = m.viper.GetString("storage.sqlite_path")

	// Events
	cfg.Events.Backend = m.viper.GetString("events.backend")
	cfg.Events.NATSURL = m.viper.GetString("events.nats_url")
	cfg.Events.SubjectPrefix = m.viper.GetString("events.subject_prefix")
	cfg.Events.MaxReconnects = m.viper.GetInt("events.max_reconnects")
	cfg.Events.ReconnectWait = m.viper.GetDuration("events.reconnect_wait")

	// Notifications
	cfg.Notifications.Timeout = m.viper.GetDuration("notifications.timeout")

	// Health
	cfg.Health.ProbeTimeout = m.viper.GetDuration("health.probe_timeout")
	if err := m.viper.UnmarshalKey("health.components", &cfg.Health.Components); err != nil {
		return fmt.Errorf("health.components: %w", err)
	}
	cfg.Health.HTTPProbes = m.viper.GetStringMapString("health.http_probes")
	cfg.Health.SLA.Availability = m.viper.GetFloat64("health.sla.availability")
	cfg.Health.SLA.LatencyMs = m.viper.GetFloat64("health.sla.latency_ms")
	cfg.Health.SLA.ErrorRate = m.viper.GetFloat64("health.sla.error_rate")

	// Collector
	cfg.Collector.Enabled = m.viper.GetBool("collector.enabled")
	cfg.Collector.Interval = m.viper.GetDuration("collector.interval")
	cfg.Collector.DiskPath = m.viper.GetString("collector.disk_path")

	// Logging
	cfg.Logging.Level = m.viper.GetString("logging.level")
	cfg.Logging.Format = m.viper.GetString("logging.format")
	cfg.Logging.FilePath = m.viper.GetString("logging.file_path")
	cfg.Logging.MaxSize = m.viper.GetInt("logging.max_size")
	cfg.Logging.MaxBackups = m.viper.GetInt("logging.max_backups")
	cfg.Logging.MaxAge = m.viper.GetInt("logging.max_age")
	cfg.Logging.Compress = m.viper.GetBool("logging.compress")

	// Audit
	cfg.Audit.Enabled = m.viper.GetBool("audit.enabled")
	cfg.Audit.Path = m.viper.GetString("audit.path")
	cfg.Audit.MaxSize = m.viper.GetInt("audit.max_size")
	cfg.Audit.MaxBackups = m.viper.GetInt("audit.max_backups")
	cfg.Audit.MaxAge = m.viper.GetInt("audit.max_age")
	cfg.Audit.Compress = m.viper.GetBool("audit.compress")
	cfg.Audit.FlushInterval = m.viper.GetDuration("audit.flush_interval")

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}
