package insights

import (
	"sync"
	"time"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Log is the append-only insight record. Entries are never removed;
// acknowledgement only annotates them.
type Log struct {
	mu    sync.RWMutex
	items []*types.Insight
	byID  map[string]*types.Insight
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{byID: make(map[string]*types.Insight)}
}

// Append adds insights in order.
func (l *Log) Append(items ...types.Insight) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, in := range items {
		c := in.Clone()
		l.items = append(l.items, &c)
		l.byID[c.ID] = &c
	}
}

// All returns copies of every insight, oldest first.
func (l *Log) All() []types.Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.Insight, 0, len(l.items))
	for _, in := range l.items {
		out = append(out, in.Clone())
	}
	return out
}

// ByType returns copies of insights of type t, oldest first.
func (l *Log) ByType(t types.InsightType) []types.Insight {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []types.Insight{}
	for _, in := range l.items {
		if in.Type == t {
			out = append(out, in.Clone())
		}
	}
	return out
}

// Get returns a copy of one insight.
func (l *Log) Get(id string) (types.Insight, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	in, ok := l.byID[id]
	if !ok {
		return types.Insight{}, false
	}
	return in.Clone(), true
}

// Len is the number of insights recorded.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Acknowledge marks an insight acknowledged. Only the first call records
// actor and time; changed reports whether this call did so.
func (l *Log) Acknowledge(id, actor string, at time.Time) (in types.Insight, changed bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.byID[id]
	if !ok {
		return types.Insight{}, false, types.NotFound("insight", id)
	}
	if !cur.Acknowledged {
		cur.Acknowledged = true
		cur.AcknowledgedBy = actor
		cur.AcknowledgedAt = at
		changed = true
	}
	return cur.Clone(), changed, nil
}
