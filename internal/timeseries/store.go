// Package timeseries holds the retained, time-sorted series behind the
// engine and the reductions applied to them.
//
// A Store owns ordering and retention: after Append returns, the series of
// that metric is sorted ascending by timestamp and holds no point older than
// now - retention. Reads return copies so callers can never mutate stored
// points.
package timeseries

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Store is the retained series backend. The in-memory and SQLite
// implementations are interchangeable.
type Store interface {
	// Append merges points into the metric's series, re-sorts it and prunes
	// everything older than now-retention (retention <= 0 disables pruning).
	// It returns a snapshot of the resulting series.
	Append(ctx context.Context, metricID string, points []types.DataPoint, retention time.Duration, now time.Time) ([]types.DataPoint, error)

	// Series returns a snapshot of the metric's full series. Unknown metrics
	// yield an empty series.
	Series(ctx context.Context, metricID string) ([]types.DataPoint, error)

	// Range returns points with start <= ts <= end. A zero bound is open.
	Range(ctx context.Context, metricID string, start, end time.Time) ([]types.DataPoint, error)

	// MetricIDs lists metrics that currently hold at least one point.
	MetricIDs(ctx context.Context) ([]string, error)

	Close() error
}

// Config selects a Store implementation.
type Config struct {
	Type       string // "memory" or "sqlite"
	SQLitePath string
}

// Open builds the Store named by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// sortPoints orders points ascending by timestamp, keeping arrival order for
// equal timestamps.
func sortPoints(points []types.DataPoint) {
	if sort.SliceIsSorted(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) }) {
		return
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
}

// pruneSorted drops the prefix of a sorted series older than cutoff.
func pruneSorted(points []types.DataPoint, cutoff time.Time) []types.DataPoint {
	idx := sort.Search(len(points), func(i int) bool {
		return !points[i].Timestamp.Before(cutoff)
	})
	if idx == 0 {
		return points
	}
	out := make([]types.DataPoint, len(points)-idx)
	copy(out, points[idx:])
	return out
}

// inRange reports whether ts falls within [start, end]; zero bounds are open.
func inRange(ts, start, end time.Time) bool {
	if !start.IsZero() && ts.Before(start) {
		return false
	}
	if !end.IsZero() && ts.After(end) {
		return false
	}
	return true
}

// Window returns the points of a sorted series with ts in [start, end].
func Window(points []types.DataPoint, start, end time.Time) []types.DataPoint {
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(points), func(i int) bool { return !points[i].Timestamp.Before(start) })
	}
	hi := len(points)
	if !end.IsZero() {
		hi = sort.Search(len(points), func(i int) bool { return points[i].Timestamp.After(end) })
	}
	if lo >= hi {
		return nil
	}
	return points[lo:hi]
}
