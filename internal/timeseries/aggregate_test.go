package timeseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

func TestAggregate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []types.DataPoint{
		pt(base, 10),
		pt(base.Add(10*time.Second), 20),
		pt(base.Add(20*time.Second), 60),
	}
	tests := []struct {
		agg  types.Aggregation
		want float64
	}{
		{types.AggSum, 90},
		{types.AggAvg, 30},
		{types.AggMin, 10},
		{types.AggMax, 60},
		{types.AggCount, 3},
		{types.AggRate, 2.5},
		{types.AggNone, 60},
		{types.AggLast, 60},
		{types.AggP50, 20},
	}
	for _, tt := range tests {
		t.Run(string(tt.agg), func(t *testing.T) {
			got, ok, err := Aggregate(points, tt.agg)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, ok, err := Aggregate(nil, types.AggAvg)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Aggregate(points, types.Aggregation("median"))
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	vals := []float64{5, 1, 4, 2, 3}
	assert.Equal(t, 3.0, Percentile(vals, 50))
	assert.Equal(t, 5.0, Percentile(vals, 100))
	assert.InDelta(t, 4.8, Percentile(vals, 95), 1e-9)
	assert.Equal(t, []float64{5, 1, 4, 2, 3}, vals, "input must not be reordered")
}

func TestStats(t *testing.T) {
	assert.Equal(t, 0.0, Mean(nil))
	assert.InDelta(t, 2.0, StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-9)

	slope, intercept := LinearRegression([]float64{1, 3, 5, 7})
	assert.InDelta(t, 2.0, slope, 1e-9)
	assert.InDelta(t, 1.0, intercept, 1e-9)

	series := []float64{3, 9, 1, 4, 7, 7, 2, 8, 5, 6}
	r, ok := Pearson(series, series)
	require.True(t, ok)
	assert.InDelta(t, 1.0, r, 1e-12)

	inverse := make([]float64, len(series))
	for i, v := range series {
		inverse[i] = -v
	}
	r, ok = Pearson(series, inverse)
	require.True(t, ok)
	assert.InDelta(t, -1.0, r, 1e-12)

	_, ok = Pearson([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.False(t, ok)
}
