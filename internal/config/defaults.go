package config

import "time"

// DefaultConfig returns a configuration with all default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Server defaults
	cfg.Server.Port = 8090
	cfg.Server.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	cfg.Server.ShutdownTimeout = 15 * time.Second
	cfg.Server.RateLimitPerMinute = 600
	cfg.Server.RateLimitBurst = 100

	// Engine defaults
	cfg.Engine.BufferSize = 100
	cfg.Engine.FlushInterval = 30 * time.Second
	cfg.Engine.InsightInterval = 5 * time.Minute
	cfg.Engine.HealthInterval = 30 * time.Second
	cfg.Engine.AlertHistoryLimit = 1000
	cfg.Engine.EmitRecordedEvents = true
	cfg.Engine.SeedDefaults = true

	// Storage defaults
	cfg.Storage.Type = "memory"
	cfg.Storage.SQLitePath = "/var/lib/kubilitics/pulse.db"

	// Events defaults
	cfg.Events.Backend = "memory"
	cfg.Events.NATSURL = "nats://localhost:4222"
	cfg.Events.SubjectPrefix = "pulse.events"
	cfg.Events.MaxReconnects = 10
	cfg.Events.ReconnectWait = 2 * time.Second

	// Notification defaults
	cfg.Notifications.Timeout = 10 * time.Second

	// Health defaults
	cfg.Health.ProbeTimeout = 5 * time.Second
	cfg.Health.Components = []Component{
		{Name: "api-gateway", Dependencies: []string{"database", "cache", "message-queue"}},
		{Name: "database", Dependencies: []string{"storage"}},
		{Name: "cache"},
		{Name: "message-queue", Dependencies: []string{"storage"}},
		{Name: "storage"},
	}
	cfg.Health.HTTPProbes = map[string]string{}
	cfg.Health.SLA.Availability = 99.9
	cfg.Health.SLA.LatencyMs = 200
	cfg.Health.SLA.ErrorRate = 1

	// Collector defaults
	cfg.Collector.Enabled = false
	cfg.Collector.Interval = 15 * time.Second
	cfg.Collector.DiskPath = "/"

	// Logging defaults
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAge = 14
	cfg.Logging.Compress = true

	// Audit defaults
	cfg.Audit.Enabled = false
	cfg.Audit.Path = "logs/audit.log"
	cfg.Audit.MaxSize = 100
	cfg.Audit.MaxBackups = 10
	cfg.Audit.MaxAge = 30
	cfg.Audit.Compress = true
	cfg.Audit.FlushInterval = time.Second

	return cfg
}
