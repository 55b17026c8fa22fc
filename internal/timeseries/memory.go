package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

type memorySeries struct {
	mu     sync.RWMutex
	points []types.DataPoint
}

// memoryStore keeps every series in process memory.
type memoryStore struct {
	mu     sync.RWMutex
	series map[string]*memorySeries
}

// NewMemoryStore creates an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{series: make(map[string]*memorySeries)}
}

func (s *memoryStore) get(metricID string) *memorySeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series[metricID]
}

func (s *memoryStore) getOrCreate(metricID string) *memorySeries {
	if ms := s.get(metricID); ms != nil {
		return ms
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ms, ok := s.series[metricID]; ok {
		return ms
	}
	ms := &memorySeries{}
	s.series[metricID] = ms
	return ms
}

func (s *memoryStore) Append(_ context.Context, metricID string, points []types.DataPoint, retention time.Duration, now time.Time) ([]types.DataPoint, error) {
	ms := s.getOrCreate(metricID)

	ms.mu.Lock()
	defer ms.mu.Unlock()

	merged := make([]types.DataPoint, 0, len(ms.points)+len(points))
	merged = append(merged, ms.points...)
	for _, p := range points {
		merged = append(merged, p.Clone())
	}
	sortPoints(merged)
	if retention > 0 {
		merged = pruneSorted(merged, now.Add(-retention))
	}
	ms.points = merged
	return types.ClonePoints(merged), nil
}

func (s *memoryStore) Series(_ context.Context, metricID string) ([]types.DataPoint, error) {
	ms := s.get(metricID)
	if ms == nil {
		return []types.DataPoint{}, nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return types.ClonePoints(ms.points), nil
}

func (s *memoryStore) Range(_ context.Context, metricID string, start, end time.Time) ([]types.DataPoint, error) {
	ms := s.get(metricID)
	if ms == nil {
		return []types.DataPoint{}, nil
	}
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return types.ClonePoints(Window(ms.points, start, end)), nil
}

func (s *memoryStore) MetricIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.series))
	for id, ms := range s.series {
		ms.mu.RLock()
		n := len(ms.points)
		ms.mu.RUnlock()
		if n > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) Close() error { return nil }
