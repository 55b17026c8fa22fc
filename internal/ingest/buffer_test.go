package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	buf   *Buffer
	cat   *catalog.Catalog
	store timeseries.Store
	clock *fakeClock

	mu      sync.Mutex
	flushed map[string][][]types.DataPoint
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		cat:     catalog.New(),
		store:   timeseries.NewMemoryStore(),
		clock:   &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		flushed: make(map[string][][]types.DataPoint),
	}
	_, err := f.cat.Register(types.MetricDefinition{
		ID: "cpu", Name: "cpu", Type: types.MetricGauge, Unit: "percent",
		Category: types.CategorySystem, Retention: 10 * time.Minute,
	})
	require.NoError(t, err)
	_, err = f.cat.Register(types.MetricDefinition{
		ID: "off", Name: "off", Type: types.MetricGauge, Unit: "percent",
		Category: types.CategorySystem, Disabled: true,
	})
	require.NoError(t, err)

	f.buf = New(cfg, Deps{
		Catalog: f.cat,
		Store:   f.store,
		Now:     f.clock.Now,
		OnFlush: func(_ context.Context, id string, series []types.DataPoint, _ time.Time) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.flushed[id] = append(f.flushed[id], series)
		},
	})
	return f
}

func (f *fixture) hookCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushed[id])
}

func TestRecord_IgnoresUnknownAndDisabled(t *testing.T) {
	f := newFixture(t, Config{})
	assert.NotPanics(t, func() {
		f.buf.Record("does-not-exist", 1, nil)
		f.buf.Record("off", 1, nil)
	})
	assert.Equal(t, 0, f.buf.Pending("does-not-exist"))
	assert.Equal(t, 0, f.buf.Pending("off"))
}

func TestFlush_SortsPrunesAndRunsHook(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	f.buf.Record("cpu", 1, map[string]string{"host": "a"})
	f.clock.Advance(time.Minute)
	f.buf.Record("cpu", 2, nil)
	require.Equal(t, 2, f.buf.Pending("cpu"))

	require.NoError(t, f.buf.Flush(ctx, "cpu"))
	assert.Equal(t, 0, f.buf.Pending("cpu"))
	require.Equal(t, 1, f.hookCalls("cpu"))

	series, err := f.store.Series(ctx, "cpu")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, types.Values(series))
	assert.Equal(t, "a", series[0].Tags["host"])

	m, _ := f.cat.Get("cpu")
	assert.Equal(t, f.clock.Now(), m.LastUpdated)

	// both points expire once the clock passes retention of the newer one
	f.clock.Advance(10*time.Minute + time.Second)
	require.NoError(t, f.buf.Flush(ctx, "cpu"))
	require.NoError(t, f.buf.Flush(ctx, "cpu"))
	series, err = f.store.Series(ctx, "cpu")
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestFlush_RetentionWindowHolds(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		f.buf.Record("cpu", float64(i), nil)
		f.clock.Advance(time.Minute)
		if i%7 == 0 {
			require.NoError(t, f.buf.Flush(ctx, "cpu"))
		}
	}
	require.NoError(t, f.buf.Flush(ctx, "cpu"))

	now := f.clock.Now()
	series, err := f.store.Series(ctx, "cpu")
	require.NoError(t, err)
	require.NotEmpty(t, series)
	for i, p := range series {
		assert.False(t, p.Timestamp.Before(now.Add(-10*time.Minute)), "point %d older than retention", i)
		assert.False(t, p.Timestamp.After(now))
		if i > 0 {
			assert.False(t, p.Timestamp.Before(series[i-1].Timestamp))
		}
	}
}

func TestFlush_UnknownMetric(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.buf.Flush(context.Background(), "ghost")
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestFlush_ConcurrentNoLossNoDuplicates(t *testing.T) {
	f := newFixture(t, Config{MaxSize: 1 << 20})
	ctx := context.Background()

	const producers, perProducer = 8, 250
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				f.buf.Record("cpu", 1, nil)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				assert.NoError(t, f.buf.Flush(ctx, "cpu"))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, f.buf.Flush(ctx, "cpu"))

	series, err := f.store.Series(ctx, "cpu")
	require.NoError(t, err)
	assert.Len(t, series, producers*perProducer)
}

type failingStore struct {
	timeseries.Store
	fail bool
}

func (s *failingStore) Append(ctx context.Context, id string, pts []types.DataPoint, r time.Duration, now time.Time) ([]types.DataPoint, error) {
	if s.fail {
		return nil, errors.New("disk full")
	}
	return s.Store.Append(ctx, id, pts, r, now)
}

func TestFlush_StoreErrorKeepsPoints(t *testing.T) {
	f := newFixture(t, Config{})
	fs := &failingStore{Store: f.store, fail: true}
	f.buf.store = fs

	f.buf.Record("cpu", 5, nil)
	err := f.buf.Flush(context.Background(), "cpu")
	require.Error(t, err)
	assert.Equal(t, 1, f.buf.Pending("cpu"))
	assert.Equal(t, 0, f.hookCalls("cpu"))

	fs.fail = false
	require.NoError(t, f.buf.Flush(context.Background(), "cpu"))
	assert.Equal(t, 0, f.buf.Pending("cpu"))
}

func TestRun_SizeTriggeredFlush(t *testing.T) {
	f := newFixture(t, Config{MaxSize: 5, FlushInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.buf.Run(ctx) }()

	for i := 0; i < 5; i++ {
		f.buf.Record("cpu", float64(i), nil)
	}

	assert.Eventually(t, func() bool { return f.hookCalls("cpu") >= 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, f.buf.Pending("cpu"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRecord_OneFlushRequestPerFullBuffer(t *testing.T) {
	f := newFixture(t, Config{MaxSize: 100, FlushInterval: time.Hour})
	ctx := context.Background()

	for batch := 0; batch < 10; batch++ {
		for i := 0; i < 100; i++ {
			f.buf.Record("cpu", float64(i), nil)
		}
		require.Len(t, f.buf.kick, 1, "batch %d", batch)
		require.NoError(t, f.buf.Flush(ctx, <-f.buf.kick))
	}
	assert.Equal(t, 10, f.hookCalls("cpu"))

	// a buffer left over MaxSize still holds a single request
	for i := 0; i < 1000; i++ {
		f.buf.Record("cpu", 1, nil)
	}
	assert.Len(t, f.buf.kick, 1)
	assert.Equal(t, 1000, f.buf.Pending("cpu"))
}

func TestRun_PeriodicFlush(t *testing.T) {
	f := newFixture(t, Config{FlushInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.buf.Run(ctx) }()

	f.buf.Record("cpu", 42, nil)
	assert.Eventually(t, func() bool { return f.buf.Pending("cpu") == 0 && f.hookCalls("cpu") > 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestFlushAll_RecoversHookPanic(t *testing.T) {
	f := newFixture(t, Config{})
	f.buf.onFlush = func(context.Context, string, []types.DataPoint, time.Time) { panic("bad rule") }
	f.buf.Record("cpu", 1, nil)
	assert.NotPanics(t, func() {
		assert.NoError(t, f.buf.FlushAll(context.Background()))
	})
}
