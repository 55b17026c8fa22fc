// Package collector produces host metrics and records them into the engine.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
)

const DefaultInterval = 15 * time.Second

// Recorder accepts measurements. ingest.Buffer satisfies it.
type Recorder interface {
	Record(metricID string, value float64, tags map[string]string)
}

// Sample is one reading of the host. A zero field that failed to read is
// reported through Missing.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	Load1         float64
	Missing       []string
}

// Reader takes a Sample.
type Reader func(ctx context.Context) (Sample, error)

// Config tunes the host collector.
type Config struct {
	Interval time.Duration
	DiskPath string
	Host     string // tag value, defaults to "local"
}

// HostCollector periodically samples the local host.
type HostCollector struct {
	cfg    Config
	rec    Recorder
	read   Reader
	logger *zap.Logger
}

// NewHostCollector samples with gopsutil unless read is non-nil.
func NewHostCollector(cfg Config, rec Recorder, read Reader, logger *zap.Logger) *HostCollector {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.Host == "" {
		cfg.Host = "local"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &HostCollector{cfg: cfg, rec: rec, read: read, logger: logger.Named("collector")}
	if c.read == nil {
		c.read = c.readHost
	}
	return c
}

func (c *HostCollector) readHost(ctx context.Context) (Sample, error) {
	var s Sample

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	} else {
		s.Missing = append(s.Missing, catalog.MetricCPUUsage)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.MemoryPercent = vm.UsedPercent
	} else {
		s.Missing = append(s.Missing, catalog.MetricMemoryUsage)
	}
	if du, err := disk.UsageWithContext(ctx, c.cfg.DiskPath); err == nil {
		s.DiskPercent = du.UsedPercent
	} else {
		s.Missing = append(s.Missing, catalog.MetricDiskUsage)
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.Load1 = avg.Load1
	} else {
		s.Missing = append(s.Missing, catalog.MetricLoadAverage)
	}

	if len(s.Missing) == 4 {
		return s, fmt.Errorf("no host metrics available")
	}
	return s, nil
}

// Collect takes one sample and records every field that was read.
func (c *HostCollector) Collect(ctx context.Context) error {
	s, err := c.read(ctx)
	if err != nil {
		return fmt.Errorf("read host metrics: %w", err)
	}
	missing := make(map[string]bool, len(s.Missing))
	for _, id := range s.Missing {
		missing[id] = true
	}
	tags := map[string]string{"host": c.cfg.Host, "source": "collector"}
	for _, m := range []struct {
		id    string
		value float64
	}{
		{catalog.MetricCPUUsage, s.CPUPercent},
		{catalog.MetricMemoryUsage, s.MemoryPercent},
		{catalog.MetricDiskUsage, s.DiskPercent},
		{catalog.MetricLoadAverage, s.Load1},
	} {
		if missing[m.id] {
			continue
		}
		c.rec.Record(m.id, m.value, tags)
	}
	return nil
}

// Run collects every Interval until ctx is cancelled.
func (c *HostCollector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Collect(ctx); err != nil {
				c.logger.Warn("Host collection failed", zap.Error(err))
			}
		}
	}
}
