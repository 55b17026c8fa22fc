package timeseries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newSQLiteTestStore(t),
	}
}

func pt(ts time.Time, v float64) types.DataPoint {
	return types.DataPoint{Timestamp: ts, Value: v}
}

func TestStore_AppendSortsAndPrunes(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			batch := []types.DataPoint{
				pt(now.Add(-10*time.Second), 3),
				pt(now.Add(-2*time.Hour), 1), // expired
				pt(now.Add(-30*time.Second), 2),
				pt(now, 4),
			}
			got, err := s.Append(ctx, "cpu", batch, time.Hour, now)
			require.NoError(t, err)
			require.Len(t, got, 3)
			for i := 1; i < len(got); i++ {
				assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp), "series must be non-decreasing")
			}
			for _, p := range got {
				assert.False(t, p.Timestamp.Before(now.Add(-time.Hour)))
				assert.False(t, p.Timestamp.After(now))
			}
			assert.Equal(t, []float64{2, 3, 4}, types.Values(got))
		})
	}
}

func TestStore_EmptyAppendPrunes(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Append(ctx, "m", []types.DataPoint{pt(start, 1), pt(start.Add(time.Minute), 2)}, 5*time.Minute, start.Add(time.Minute))
			require.NoError(t, err)

			later := start.Add(5*time.Minute + 30*time.Second)
			got, err := s.Append(ctx, "m", nil, 5*time.Minute, later)
			require.NoError(t, err)
			assert.Equal(t, []float64{2}, types.Values(got))

			again, err := s.Append(ctx, "m", nil, 5*time.Minute, later)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestStore_RangeAndSeries(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var batch []types.DataPoint
			for i := 0; i < 10; i++ {
				p := pt(base.Add(time.Duration(i)*time.Minute), float64(i))
				p.Tags = map[string]string{"host": "a"}
				batch = append(batch, p)
			}
			_, err := s.Append(ctx, "lat", batch, 0, base.Add(time.Hour))
			require.NoError(t, err)

			r, err := s.Range(ctx, "lat", base.Add(2*time.Minute), base.Add(4*time.Minute))
			require.NoError(t, err)
			assert.Equal(t, []float64{2, 3, 4}, types.Values(r))
			assert.Equal(t, "a", r[0].Tags["host"])

			all, err := s.Range(ctx, "lat", time.Time{}, time.Time{})
			require.NoError(t, err)
			assert.Len(t, all, 10)

			missing, err := s.Series(ctx, "nope")
			require.NoError(t, err)
			assert.Empty(t, missing)

			ids, err := s.MetricIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"lat"}, ids)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	p := pt(now, 1)
	p.Tags = map[string]string{"k": "v"}
	_, err := s.Append(ctx, "m", []types.DataPoint{p}, 0, now)
	require.NoError(t, err)

	p.Tags["k"] = "mutated"
	got, err := s.Series(ctx, "m")
	require.NoError(t, err)
	got[0].Value = 99
	got[0].Tags["k"] = "changed"

	again, err := s.Series(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, 1.0, again[0].Value)
	assert.Equal(t, "v", again[0].Tags["k"])
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Type: "memory"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	s, err = Open(Config{Type: "sqlite", SQLitePath: t.TempDir() + "/pulse.db"})
	require.NoError(t, err)
	assert.NoError(t, s.Close())

	_, err = Open(Config{Type: "influx"})
	assert.Error(t, err)
}
