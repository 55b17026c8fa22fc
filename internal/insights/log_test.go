package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

func TestLog_CopiesOnReadAndWrite(t *testing.T) {
	l := NewLog()
	in := types.Insight{ID: "a", Type: types.InsightTrend, Metrics: []string{"cpu"}}
	l.Append(in)
	in.Metrics[0] = "changed"

	got, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"cpu"}, got.Metrics)

	got.Metrics[0] = "again"
	all := l.All()
	assert.Equal(t, []string{"cpu"}, all[0].Metrics)
}

func TestLog_ByType(t *testing.T) {
	l := NewLog()
	l.Append(
		types.Insight{ID: "1", Type: types.InsightTrend},
		types.Insight{ID: "2", Type: types.InsightAnomaly},
		types.Insight{ID: "3", Type: types.InsightTrend},
	)
	got := l.ByType(types.InsightTrend)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
	assert.Empty(t, l.ByType(types.InsightCorrelation))
	assert.Equal(t, 3, l.Len())
}

func TestLog_AcknowledgeIdempotent(t *testing.T) {
	l := NewLog()
	l.Append(types.Insight{ID: "1"})
	at := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	_, changed, err := l.Acknowledge("1", "ops", at)
	require.NoError(t, err)
	assert.True(t, changed)

	in, changed, err := l.Acknowledge("1", "other", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "ops", in.AcknowledgedBy)
	assert.Equal(t, at, in.AcknowledgedAt)

	_, _, err = l.Acknowledge("x", "ops", at)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDetectors(t *testing.T) {
	d := DefaultAnomaly()
	_, _, ok := d.Detect(repeat(1, 19))
	assert.False(t, ok)

	// 60 points: baseline is points 10..49
	values := append(repeat(1000, 10), repeat(5, 40)...)
	values = append(values, repeat(5, 10)...)
	found, base, ok := d.Detect(values)
	require.True(t, ok)
	assert.Empty(t, found)
	assert.Equal(t, 40, base.Points)
	assert.Equal(t, float64(5), base.Mean)

	tr, ok := DefaultTrend().Trend(ramp(0, 2, 10))
	require.True(t, ok)
	assert.InDelta(t, 2.0, tr.Slope, 1e-9)
	assert.Equal(t, float64(100), tr.Confidence)
}
