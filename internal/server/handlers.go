package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/query"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

// Metrics

func (s *Server) listMetrics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Metrics())
}

func (s *Server) registerMetric(w http.ResponseWriter, r *http.Request) {
	var def types.MetricDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondErr(w, err)
		return
	}
	m, err := s.engine.RegisterMetric(r.Context(), def, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) getMetric(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, ok := s.engine.GetMetric(id)
	if !ok {
		respondErr(w, types.NotFound("metric", id))
		return
	}
	respondJSON(w, http.StatusOK, m)
}

type enabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) setMetricEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	m, ok := s.engine.GetMetric(id)
	if !ok {
		respondErr(w, types.NotFound("metric", id))
		return
	}
	if err := s.engine.SetMetricEnabled(m.ID, req.Enabled); err != nil {
		respondErr(w, err)
		return
	}
	m, _ = s.engine.GetMetric(m.ID)
	respondJSON(w, http.StatusOK, m)
}

type pointInput struct {
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

type recordRequest struct {
	Value  *float64          `json:"value,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
	Points []pointInput      `json:"points,omitempty"`
}

// recordPoints accepts either a single {"value", "tags"} point or a batch
// under "points". Points are buffered; a disabled metric accepts the
// request and drops the points.
func (s *Server) recordPoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, ok := s.engine.GetMetric(id)
	if !ok {
		respondErr(w, types.NotFound("metric", id))
		return
	}
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	points := req.Points
	if req.Value != nil {
		points = append(points, pointInput{Value: *req.Value, Tags: req.Tags})
	}
	if len(points) == 0 {
		respondError(w, http.StatusBadRequest, "no points in request")
		return
	}
	for _, p := range points {
		s.engine.Record(m.ID, p.Value, p.Tags)
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"metric":   m.ID,
		"accepted": len(points),
		"enabled":  m.Enabled,
	})
}

// Query

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := query.Request{
		Metric:      q.Get("metric"),
		Aggregation: types.Aggregation(q.Get("aggregation")),
	}
	if req.Metric == "" {
		respondError(w, http.StatusBadRequest, "metric is required")
		return
	}
	var err error
	if req.Start, err = parseTime(q.Get("start")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	if req.End, err = parseTime(q.Get("end")); err != nil {
		respondError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}
	if g := q.Get("groupBy"); g != "" {
		req.GroupBy = strings.Split(g, ",")
	}
	for _, f := range q["filter"] {
		k, v, ok := strings.Cut(f, ":")
		if !ok || k == "" {
			respondError(w, http.StatusBadRequest, "filter must be key:value")
			return
		}
		if req.Filters == nil {
			req.Filters = make(map[string]string)
		}
		req.Filters[k] = v
	}

	points, err := s.engine.Query(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, points)
}

// parseTime accepts RFC3339 or unix seconds. Empty means unbounded.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Parse(time.RFC3339, v)
}

// Alert rules

func (s *Server) listRules(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Rules())
}

type createRuleRequest struct {
	ID string `json:"id"`
	types.AlertRuleDefinition
}

// UnmarshalJSON peels off "id" and hands the rest to the definition, whose
// own decoder would otherwise be promoted and reject the field.
func (c *createRuleRequest) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &c.ID); err != nil {
			return err
		}
		delete(fields, "id")
	}
	rest, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(rest, &c.AlertRuleDefinition)
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	rule, err := s.engine.CreateAlertRule(r.Context(), req.ID, req.AlertRuleDefinition, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, ok := s.engine.GetRule(id)
	if !ok {
		respondErr(w, types.NotFound("alert rule", id))
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// putRule creates the rule when the id is new and replaces it otherwise.
func (s *Server) putRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var def types.AlertRuleDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondErr(w, err)
		return
	}
	if _, exists := s.engine.GetRule(id); !exists {
		rule, err := s.engine.CreateAlertRule(r.Context(), id, def, actor(r))
		if err != nil {
			respondErr(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, rule)
		return
	}
	rule, err := s.engine.UpdateAlertRule(r.Context(), id, def, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) setRuleEnabled(w http.ResponseWriter, r *http.Request) {
	var req enabledRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	if err := s.engine.SetAlertRuleEnabled(r.Context(), id, req.Enabled, actor(r)); err != nil {
		respondErr(w, err)
		return
	}
	rule, _ := s.engine.GetRule(id)
	respondJSON(w, http.StatusOK, rule)
}

type muteRequest struct {
	// DurationSeconds of zero mutes until unmuted.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

func (s *Server) muteRule(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondErr(w, err)
			return
		}
	}
	if req.DurationSeconds < 0 {
		respondError(w, http.StatusBadRequest, "duration_seconds must not be negative")
		return
	}
	d := time.Duration(math.Round(req.DurationSeconds * float64(time.Second)))
	rule, err := s.engine.MuteAlertRule(r.Context(), mux.Vars(r)["id"], d, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) unmuteRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.UnmuteAlertRule(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) alertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	respondJSON(w, http.StatusOK, s.engine.AlertHistory(limit))
}

// Notification channels

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.engine.Channels()
	for i := range channels {
		channels[i].Config = nil
	}
	respondJSON(w, http.StatusOK, channels)
}

type createChannelRequest struct {
	ID string `json:"id"`
	types.ChannelDefinition
}

func (s *Server) createChannel(w http.ResponseWriter, r *http.Request) {
	var req createChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	ch, err := s.engine.CreateNotificationChannel(r.Context(), req.ID, req.ChannelDefinition, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	ch.Config = nil
	respondJSON(w, http.StatusCreated, ch)
}

func (s *Server) putChannel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var def types.ChannelDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondErr(w, err)
		return
	}
	status := http.StatusOK
	var (
		ch  types.NotificationChannel
		err error
	)
	if _, exists := s.engine.GetChannel(id); exists {
		ch, err = s.engine.UpdateNotificationChannel(r.Context(), id, def, actor(r))
	} else {
		status = http.StatusCreated
		ch, err = s.engine.CreateNotificationChannel(r.Context(), id, def, actor(r))
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	ch.Config = nil
	respondJSON(w, status, ch)
}

// Insights

func (s *Server) listInsights(w http.ResponseWriter, r *http.Request) {
	if t := r.URL.Query().Get("type"); t != "" {
		respondJSON(w, http.StatusOK, s.engine.GetInsightsByType(types.InsightType(t)))
		return
	}
	respondJSON(w, http.StatusOK, s.engine.GetAllInsights())
}

func (s *Server) generateInsights(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.GenerateInsights(r.Context()))
}

func (s *Server) acknowledgeInsight(w http.ResponseWriter, r *http.Request) {
	in, err := s.engine.AcknowledgeInsight(r.Context(), mux.Vars(r)["id"], actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, in)
}

// Health

func (s *Server) systemHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.GetSystemHealth())
}

func (s *Server) checkHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.CheckHealth(r.Context()))
}

// Dashboards and reports

func (s *Server) listDashboards(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Dashboards())
}

func (s *Server) createDashboard(w http.ResponseWriter, r *http.Request) {
	var def types.DashboardDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondErr(w, err)
		return
	}
	d, err := s.engine.CreateDashboard(r.Context(), def, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, d)
}

func (s *Server) getDashboard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	d, ok := s.engine.GetDashboard(id)
	if !ok {
		respondErr(w, types.NotFound("dashboard", id))
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) updateDashboard(w http.ResponseWriter, r *http.Request) {
	var def types.DashboardDefinition
	if err := decodeJSON(r, &def); err != nil {
		respondErr(w, err)
		return
	}
	d, err := s.engine.UpdateDashboard(r.Context(), mux.Vars(r)["id"], def, actor(r))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

func (s *Server) deleteDashboard(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteDashboard(r.Context(), mux.Vars(r)["id"], actor(r)); err != nil {
		respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseTime(q.Get("start"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}
	rep, err := s.engine.GenerateReport(r.Context(), mux.Vars(r)["id"], start, end, types.ReportFormat(q.Get("format")))
	if err != nil {
		respondErr(w, err)
		return
	}
	if rep.Format != types.ReportCSV {
		respondJSON(w, http.StatusOK, rep)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rep.DashboardID+`.csv"`)
	if err := rep.Render(w); err != nil {
		s.logger.Warn("Failed to write CSV report", zap.Error(err))
	}
}
