// Package catalog is the registry of metric definitions. It owns identity,
// type, retention and the enabled flag; series data lives in the store.
package catalog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// DefaultRetention applies to definitions registered without one.
const DefaultRetention = 24 * time.Hour

// Catalog is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	metrics map[string]*types.Metric
	byName  map[string]string
	order   []string
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{
		metrics: make(map[string]*types.Metric),
		byName:  make(map[string]string),
	}
}

// Register adds a metric and returns it. An empty ID is replaced with a
// generated one. Duplicate ids or names are rejected.
func (c *Catalog) Register(def types.MetricDefinition) (types.Metric, error) {
	if err := def.Validate(); err != nil {
		return types.Metric{}, err
	}
	id := def.ID
	if id == "" {
		id = uuid.New().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.metrics[id]; ok {
		return types.Metric{}, fmt.Errorf("%w: metric %q already registered", types.ErrInvalid, id)
	}
	if other, ok := c.byName[def.Name]; ok {
		return types.Metric{}, fmt.Errorf("%w: metric name %q already used by %q", types.ErrInvalid, def.Name, other)
	}

	m := &types.Metric{
		ID:          id,
		Name:        def.Name,
		Description: def.Description,
		Type:        def.Type,
		Unit:        def.Unit,
		Category:    def.Category,
		Priority:    def.Priority,
		Aggregation: def.Aggregation,
		Retention:   def.Retention,
		Enabled:     !def.Disabled,
		Tags:        copyTags(def.Tags),
	}
	if m.Priority == "" {
		m.Priority = types.PriorityMedium
	}
	if m.Aggregation == types.AggNone {
		m.Aggregation = types.AggAvg
	}
	if m.Retention == 0 {
		m.Retention = DefaultRetention
	}
	c.metrics[id] = m
	c.byName[m.Name] = id
	c.order = append(c.order, id)
	return c.copyOf(m), nil
}

// Get returns the metric with id.
func (c *Catalog) Get(id string) (types.Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[id]
	if !ok {
		return types.Metric{}, false
	}
	return c.copyOf(m), true
}

// Lookup resolves an id first, then a name.
func (c *Catalog) Lookup(nameOrID string) (types.Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.metrics[nameOrID]; ok {
		return c.copyOf(m), true
	}
	if id, ok := c.byName[nameOrID]; ok {
		return c.copyOf(c.metrics[id]), true
	}
	return types.Metric{}, false
}

// Accepting reports whether id names an enabled metric and returns its
// retention. It is the hot-path check behind Record and does not copy.
func (c *Catalog) Accepting(id string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.metrics[id]
	if !ok || !m.Enabled {
		return 0, false
	}
	return m.Retention, true
}

// List returns all metrics in registration order.
func (c *Catalog) List() []types.Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Metric, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.copyOf(c.metrics[id]))
	}
	return out
}

// SetEnabled toggles whether a metric accepts points. Metrics are never
// deleted.
func (c *Catalog) SetEnabled(id string, enabled bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.metrics[id]
	if !ok {
		return types.NotFound("metric", id)
	}
	m.Enabled = enabled
	return nil
}

// Touch sets LastUpdated after a flush.
func (c *Catalog) Touch(id string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.metrics[id]; ok && at.After(m.LastUpdated) {
		m.LastUpdated = at
	}
}

func (c *Catalog) copyOf(m *types.Metric) types.Metric {
	out := *m
	out.Tags = copyTags(m.Tags)
	return out
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
