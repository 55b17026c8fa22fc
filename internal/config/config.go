// Package config provides configuration management for kubilitics-pulse.
//
// Configuration sources (priority order, high to low):
//  1. Environment variables (PULSE_* prefix, e.g. PULSE_SERVER_PORT)
//  2. YAML config file (default: /etc/kubilitics/pulse.yaml)
//  3. Built-in defaults
//
// Sections:
//
//   - server: listen port, TLS, allowed WebSocket origins, shutdown timeout
//   - engine: buffer size and the flush, insight and health intervals
//   - storage: "memory" or "sqlite" series store
//   - events: "memory", "nats" or "none" event bus
//   - notifications: per-channel delivery timeout
//   - health: components, HTTP probes and SLA targets
//   - collector: host metrics sampling
//   - logging: level, format and optional rotated file
//   - audit: audit trail file
package config

import (
	"context"
	"time"
)

// Component is one entry of health.components.
type Component struct {
	Name         string   `mapstructure:"name"`
	Dependencies []string `mapstructure:"dependencies"`
}

// Config struct contains all configuration fields
type Config struct {
	Server struct {
		Port        int
		TLSEnabled  bool
		TLSCertPath string
		TLSKeyPath  string
		// AllowedOrigins may open the event WebSocket. ["*"] allows any.
		AllowedOrigins  []string
		ShutdownTimeout time.Duration
		// RateLimitPerMinute caps API requests per client IP; 0 disables.
		// Loopback clients are never limited.
		RateLimitPerMinute int
		RateLimitBurst     int
		// TrustedProxies (IPs or CIDRs) may set X-Forwarded-For and
		// X-Real-IP. Headers from any other peer are ignored.
		TrustedProxies []string
	}

	Engine struct {
		BufferSize         int
		FlushInterval      time.Duration
		InsightInterval    time.Duration
		HealthInterval     time.Duration
		AlertHistoryLimit  int
		EmitRecordedEvents bool
		SeedDefaults       bool
	}

	Storage struct {
		Type       string // memory | sqlite
		SQLitePath string
	}

	Events struct {
		Backend       string // memory | nats | none
		NATSURL       string
		SubjectPrefix string
		MaxReconnects int
		ReconnectWait time.Duration
	}

	Notifications struct {
		Timeout time.Duration
	}

	Health struct {
		ProbeTimeout time.Duration
		Components   []Component
		// HTTPProbes maps a component name to a URL probed with GET.
		HTTPProbes map[string]string
		SLA        struct {
			Availability float64
			LatencyMs    float64
			ErrorRate    float64
		}
	}

	Collector struct {
		Enabled  bool
		Interval time.Duration
		DiskPath string
	}

	Logging struct {
		Level      string
		Format     string
		FilePath   string
		MaxSize    int
		MaxBackups int
		MaxAge     int
		Compress   bool
	}

	Audit struct {
		Enabled       bool
		Path          string
		MaxSize       int
		MaxBackups    int
		MaxAge        int
		Compress      bool
		FlushInterval time.Duration
	}
}

// ConfigManager defines the interface for configuration access.
type ConfigManager interface {
	// Load loads configuration from all sources.
	Load(ctx context.Context) error

	// Get returns the current configuration.
	Get(ctx context.Context) *Config

	// Validate validates configuration is correct and complete.
	Validate(ctx context.Context) error

	// Watch delivers the new configuration whenever the file changes.
	Watch(ctx context.Context) <-chan Config

	// Reload reloads configuration from sources.
	Reload(ctx context.Context) error
}

// NewConfigManager creates a new configuration manager.
func NewConfigManager(configPath string) (ConfigManager, error) {
	mgr := &viperConfigManager{
		configPath: configPath,
		config:     DefaultConfig(),
		watchChan:  make(chan Config, 1),
	}
	return mgr, nil
}

// NewConfigManagerWithDefaults creates a config manager with default config path.
func NewConfigManagerWithDefaults() (ConfigManager, error) {
	return NewConfigManager("/etc/kubilitics/pulse.yaml")
}
