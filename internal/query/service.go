// Package query is the read side of the engine: filtered, grouped and
// aggregated slices of stored series, plus dashboard reports built on them.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kubilitics/kubilitics-pulse/internal/catalog"
	"github.com/kubilitics/kubilitics-pulse/internal/timeseries"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Metadata keys set on synthetic grouped points.
const (
	MetaOriginalCount = "originalCount"
	MetaGroupBy       = "groupBy"
	MetaAggregation   = "aggregation"
)

// Request selects part of one metric's series.
type Request struct {
	Metric      string // name or id
	Start, End  time.Time
	Aggregation types.Aggregation
	GroupBy     []string
	Filters     map[string]string
}

// Service answers queries straight from the store. It never writes.
type Service struct {
	catalog *catalog.Catalog
	store   timeseries.Store
	now     func() time.Time
}

// NewService builds a query service. now defaults to time.Now.
func NewService(cat *catalog.Catalog, store timeseries.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{catalog: cat, store: store, now: now}
}

// Query returns the points of req.Metric in [Start, End] whose tags match
// every filter. Without GroupBy the points are returned as stored. With
// GroupBy each distinct tuple of tag values becomes one synthetic point
// carrying the aggregate, ordered by tuple.
func (s *Service) Query(ctx context.Context, req Request) ([]types.DataPoint, error) {
	m, ok := s.catalog.Lookup(req.Metric)
	if !ok {
		return nil, types.NotFound("metric", req.Metric)
	}
	if req.Aggregation != types.AggNone && !req.Aggregation.Valid() {
		return nil, fmt.Errorf("%w: unknown aggregation %q", types.ErrInvalid, req.Aggregation)
	}
	points, err := s.store.Range(ctx, m.ID, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.ID, err)
	}
	points = filter(points, req.Filters)
	if len(req.GroupBy) == 0 {
		return points, nil
	}

	agg := req.Aggregation
	if agg == types.AggNone {
		agg = m.Aggregation
	}
	return group(points, req.GroupBy, agg, s.now())
}

func filter(points []types.DataPoint, filters map[string]string) []types.DataPoint {
	if len(filters) == 0 {
		return points
	}
	out := points[:0:0]
	for _, p := range points {
		if matches(p.Tags, filters) {
			out = append(out, p)
		}
	}
	return out
}

func matches(tags, filters map[string]string) bool {
	for k, v := range filters {
		got, ok := tags[k]
		if !ok || got != v {
			return false
		}
	}
	return true
}

// group buckets points by their values for the groupBy tags. A missing tag
// groups as the empty string.
func group(points []types.DataPoint, groupBy []string, agg types.Aggregation, now time.Time) ([]types.DataPoint, error) {
	type bucket struct {
		tags   map[string]string
		points []types.DataPoint
	}
	buckets := make(map[string]*bucket)
	var keys []string
	for _, p := range points {
		vals := make([]string, len(groupBy))
		for i, k := range groupBy {
			vals[i] = p.Tags[k]
		}
		key := strings.Join(vals, "\x00")
		b, ok := buckets[key]
		if !ok {
			tags := make(map[string]string, len(groupBy))
			for i, k := range groupBy {
				tags[k] = vals[i]
			}
			b = &bucket{tags: tags}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.points = append(b.points, p)
	}
	sort.Strings(keys)

	out := make([]types.DataPoint, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		v, _, err := timeseries.Aggregate(b.points, agg)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrInvalid, err)
		}
		out = append(out, types.DataPoint{
			Timestamp: now,
			Value:     v,
			Tags:      b.tags,
			Metadata: map[string]interface{}{
				MetaOriginalCount: len(b.points),
				MetaGroupBy:       append([]string(nil), groupBy...),
				MetaAggregation:   string(agg),
			},
		})
	}
	return out, nil
}
