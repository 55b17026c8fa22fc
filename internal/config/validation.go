package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validate validates the configuration and returns validation errors.
func (c *Config) Validate() []error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
	positive := func(field string, d time.Duration) {
		if d <= 0 {
			add(field, "must be a positive duration, got %s", d)
		}
	}

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port", "port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.TLSEnabled {
		if c.Server.TLSCertPath == "" {
			add("server.tls_cert_path", "tls_cert_path is required when tls_enabled is true")
		} else if _, err := os.Stat(c.Server.TLSCertPath); os.IsNotExist(err) {
			add("server.tls_cert_path", "certificate file does not exist: %s", c.Server.TLSCertPath)
		}
		if c.Server.TLSKeyPath == "" {
			add("server.tls_key_path", "tls_key_path is required when tls_enabled is true")
		} else if _, err := os.Stat(c.Server.TLSKeyPath); os.IsNotExist(err) {
			add("server.tls_key_path", "key file does not exist: %s", c.Server.TLSKeyPath)
		}
	}
	positive("server.shutdown_timeout", c.Server.ShutdownTimeout)
	if c.Server.RateLimitPerMinute < 0 {
		add("server.rate_limit_per_minute", "must not be negative, got %d", c.Server.RateLimitPerMinute)
	}
	if c.Server.RateLimitPerMinute > 0 && c.Server.RateLimitBurst < 1 {
		add("server.rate_limit_burst", "must be at least 1 when rate limiting is enabled, got %d", c.Server.RateLimitBurst)
	}
	for _, p := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(p); err != nil && net.ParseIP(p) == nil {
			add("server.trusted_proxies", "%q is neither an IP nor a CIDR", p)
		}
	}

	// Engine
	if c.Engine.BufferSize < 1 {
		add("engine.buffer_size", "buffer_size must be at least 1, got %d", c.Engine.BufferSize)
	}
	positive("engine.flush_interval", c.Engine.FlushInterval)
	positive("engine.insight_interval", c.Engine.InsightInterval)
	positive("engine.health_interval", c.Engine.HealthInterval)
	if c.Engine.AlertHistoryLimit < 0 {
		add("engine.alert_history_limit", "alert_history_limit cannot be negative, got %d", c.Engine.AlertHistoryLimit)
	}

	// Storage
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			add("storage.sqlite_path", "sqlite_path is required when storage type is sqlite")
		}
	default:
		add("storage.type", "invalid storage type '%s', must be one of: memory, sqlite", c.Storage.Type)
	}

	// Events
	switch c.Events.Backend {
	case "memory", "none":
	case "nats":
		if u, err := url.Parse(c.Events.NATSURL); err != nil || u.Host == "" {
			add("events.nats_url", "invalid NATS URL '%s'", c.Events.NATSURL)
		}
	default:
		add("events.backend", "invalid events backend '%s', must be one of: memory, nats, none", c.Events.Backend)
	}

	// Notifications
	positive("notifications.timeout", c.Notifications.Timeout)

	// Health
	positive("health.probe_timeout", c.Health.ProbeTimeout)
	names := make(map[string]bool, len(c.Health.Components))
	for i, comp := range c.Health.Components {
		if comp.Name == "" {
			add(fmt.Sprintf("health.components[%d].name", i), "component name is required")
			continue
		}
		if names[comp.Name] {
			add(fmt.Sprintf("health.components[%d].name", i), "duplicate component '%s'", comp.Name)
		}
		names[comp.Name] = true
	}
	for name, raw := range c.Health.HTTPProbes {
		if u, err := url.Parse(raw); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			add("health.http_probes."+name, "invalid probe URL '%s'", raw)
		}
	}
	if c.Health.SLA.Availability <= 0 || c.Health.SLA.Availability > 100 {
		add("health.sla.availability", "availability target must be in (0, 100], got %v", c.Health.SLA.Availability)
	}
	if c.Health.SLA.LatencyMs <= 0 {
		add("health.sla.latency_ms", "latency target must be positive, got %v", c.Health.SLA.LatencyMs)
	}
	if c.Health.SLA.ErrorRate < 0 || c.Health.SLA.ErrorRate > 100 {
		add("health.sla.error_rate", "error rate target must be in [0, 100], got %v", c.Health.SLA.ErrorRate)
	}

	// Collector
	if c.Collector.Enabled {
		positive("collector.interval", c.Collector.Interval)
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		add("logging.format", "invalid format '%s', must be one of: json, console", c.Logging.Format)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.Path == "" {
		add("audit.path", "path is required when audit is enabled")
	}

	return errs
}
