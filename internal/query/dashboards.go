package query

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/events"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// DashboardDeps are the collaborators of a Dashboards registry.
type DashboardDeps struct {
	Service *Service
	Events  *events.Emitter
	Audit   audit.Logger
	Now     func() time.Time
	Logger  *zap.Logger
}

// Dashboards holds externally supplied dashboard configuration and renders
// reports over it.
type Dashboards struct {
	svc    *Service
	events *events.Emitter
	audit  audit.Logger
	now    func() time.Time
	logger *zap.Logger

	mu    sync.RWMutex
	items map[string]*types.Dashboard
}

func NewDashboards(deps DashboardDeps) *Dashboards {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNopLogger()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Dashboards{
		svc:    deps.Service,
		events: deps.Events,
		audit:  deps.Audit,
		now:    deps.Now,
		logger: deps.Logger.Named("dashboards"),
		items:  make(map[string]*types.Dashboard),
	}
}

// Create stores a new dashboard under a generated id.
func (d *Dashboards) Create(ctx context.Context, def types.DashboardDefinition, actor string) (types.Dashboard, error) {
	if err := def.Validate(); err != nil {
		return types.Dashboard{}, err
	}
	now := d.now()
	db := &types.Dashboard{
		ID:      uuid.New().String(),
		Name:    def.Name,
		Widgets: cloneWidgets(def.Widgets),
		Created: now,
		Updated: now,
	}
	d.mu.Lock()
	d.items[db.ID] = db
	out := cloneDashboard(db)
	d.mu.Unlock()

	d.events.Emit(ctx, types.EventDashboardCreated, out)
	_ = d.audit.LogResourceChange(ctx, audit.EventDashboardCreated, "dashboard", out.ID, actor)
	return out, nil
}

// Update replaces name and widgets of an existing dashboard.
func (d *Dashboards) Update(ctx context.Context, id string, def types.DashboardDefinition, actor string) (types.Dashboard, error) {
	if err := def.Validate(); err != nil {
		return types.Dashboard{}, err
	}
	d.mu.Lock()
	db, ok := d.items[id]
	if !ok {
		d.mu.Unlock()
		return types.Dashboard{}, types.NotFound("dashboard", id)
	}
	db.Name = def.Name
	db.Widgets = cloneWidgets(def.Widgets)
	db.Updated = d.now()
	out := cloneDashboard(db)
	d.mu.Unlock()

	d.events.Emit(ctx, types.EventDashboardUpdated, out)
	_ = d.audit.LogResourceChange(ctx, audit.EventDashboardUpdated, "dashboard", id, actor)
	return out, nil
}

// Delete removes a dashboard.
func (d *Dashboards) Delete(ctx context.Context, id, actor string) error {
	d.mu.Lock()
	if _, ok := d.items[id]; !ok {
		d.mu.Unlock()
		return types.NotFound("dashboard", id)
	}
	delete(d.items, id)
	d.mu.Unlock()

	d.events.Emit(ctx, types.EventDashboardDeleted, map[string]string{"id": id})
	_ = d.audit.LogResourceChange(ctx, audit.EventDashboardDeleted, "dashboard", id, actor)
	return nil
}

func (d *Dashboards) Get(id string) (types.Dashboard, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	db, ok := d.items[id]
	if !ok {
		return types.Dashboard{}, false
	}
	return cloneDashboard(db), true
}

// List returns dashboards ordered by creation time.
func (d *Dashboards) List() []types.Dashboard {
	d.mu.RLock()
	out := make([]types.Dashboard, 0, len(d.items))
	for _, db := range d.items {
		out = append(out, cloneDashboard(db))
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out
}

// GenerateReport runs every widget query of a dashboard over [start, end].
// A query naming an unknown metric yields empty data.
func (d *Dashboards) GenerateReport(ctx context.Context, id string, start, end time.Time, format types.ReportFormat) (types.Report, error) {
	if format == "" {
		format = types.ReportJSON
	}
	if format != types.ReportJSON && format != types.ReportCSV {
		return types.Report{}, types.Invalidf("unknown report format %q", format)
	}
	db, ok := d.Get(id)
	if !ok {
		return types.Report{}, types.NotFound("dashboard", id)
	}

	rep := types.Report{
		DashboardID: db.ID,
		Name:        db.Name,
		Format:      format,
		Start:       start,
		End:         end,
		Generated:   d.now(),
		Widgets:     make([]types.ReportWidget, 0, len(db.Widgets)),
	}
	for _, w := range db.Widgets {
		rw := types.ReportWidget{ID: w.ID, Title: w.Title, Queries: make([]types.ReportQuery, 0, len(w.Queries))}
		for _, q := range w.Queries {
			data, err := d.svc.Query(ctx, Request{
				Metric:      q.Metric,
				Start:       start,
				End:         end,
				Aggregation: q.Aggregation,
				GroupBy:     q.GroupBy,
				Filters:     q.Filters,
			})
			if err != nil {
				if !errors.Is(err, types.ErrNotFound) {
					return types.Report{}, err
				}
				d.logger.Debug("Report query on unknown metric", zap.String("dashboard_id", id), zap.String("metric", q.Metric))
				data = []types.DataPoint{}
			}
			rw.Queries = append(rw.Queries, types.ReportQuery{WidgetQuery: q, Data: data})
		}
		rep.Widgets = append(rep.Widgets, rw)
	}
	return rep, nil
}

func cloneDashboard(db *types.Dashboard) types.Dashboard {
	out := *db
	out.Widgets = cloneWidgets(db.Widgets)
	return out
}

func cloneWidgets(in []types.Widget) []types.Widget {
	out := make([]types.Widget, len(in))
	for i, w := range in {
		out[i] = w
		out[i].Queries = make([]types.WidgetQuery, len(w.Queries))
		for j, q := range w.Queries {
			q.GroupBy = append([]string(nil), q.GroupBy...)
			if q.Filters != nil {
				f := make(map[string]string, len(q.Filters))
				for k, v := range q.Filters {
					f[k] = v
				}
				q.Filters = f
			}
			out[i].Queries[j] = q
		}
	}
	return out
}
