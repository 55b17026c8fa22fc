package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
)

type recorded struct {
	id    string
	value float64
	tags  map[string]string
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []recorded
}

func (f *fakeRecorder) Record(id string, v float64, tags map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, recorded{id, v, tags})
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recs)
}

func TestCollect_RecordsEachReading(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewHostCollector(Config{Host: "node-1"}, rec, func(context.Context) (Sample, error) {
		return Sample{CPUPercent: 42, MemoryPercent: 61, DiskPercent: 70, Load1: 1.5,
			Missing: []string{catalog.MetricDiskUsage}}, nil
	}, nil)

	require.NoError(t, c.Collect(context.Background()))

	got := map[string]float64{}
	for _, r := range rec.recs {
		got[r.id] = r.value
		assert.Equal(t, "node-1", r.tags["host"])
	}
	assert.Equal(t, map[string]float64{
		catalog.MetricCPUUsage:    42,
		catalog.MetricMemoryUsage: 61,
		catalog.MetricLoadAverage: 1.5,
	}, got)
}

func TestCollect_ReadError(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewHostCollector(Config{}, rec, func(context.Context) (Sample, error) {
		return Sample{}, errors.New("no /proc")
	}, nil)

	assert.Error(t, c.Collect(context.Background()))
	assert.Zero(t, rec.count())
}

func TestRun_CollectsPeriodically(t *testing.T) {
	rec := &fakeRecorder{}
	c := NewHostCollector(Config{Interval: 5 * time.Millisecond}, rec, func(context.Context) (Sample, error) {
		return Sample{CPUPercent: 1}, nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool { return rec.count() >= 8 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
}
