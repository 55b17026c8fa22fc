// Package server exposes the engine over HTTP: a JSON API under /api/v1,
// a WebSocket event stream, a liveness probe and Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/audit"
	"github.com/kubilitics/kubilitics-pulse/internal/config"
	"github.com/kubilitics/kubilitics-pulse/internal/engine"
	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
)

const defaultShutdownTimeout = 10 * time.Second

// Server serves one engine.
type Server struct {
	engine *engine.Engine
	logger *zap.Logger

	port            int
	tlsCert, tlsKey string
	allowedOrigins  []string
	shutdownTimeout time.Duration
	limiter         *clientLimiter

	handler http.Handler
}

// New builds the router for eng using the server section of cfg.
func New(cfg *config.Config, eng *engine.Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:          eng,
		logger:          logger.Named("server"),
		port:            cfg.Server.Port,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Server.TLSEnabled {
		s.tlsCert, s.tlsKey = cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Server.RateLimitPerMinute > 0 {
		l, err := newClientLimiter(cfg.Server.RateLimitPerMinute, cfg.Server.RateLimitBurst, cfg.Server.TrustedProxies)
		if err != nil {
			s.logger.Warn("API rate limiting disabled", zap.Error(err))
		} else {
			s.limiter = l
		}
	}
	s.handler = s.routes()
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", s.handleLiveness).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	if s.limiter != nil {
		api.Use(s.rateLimitMiddleware(s.limiter))
	}

	api.HandleFunc("/metrics", s.listMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.registerMetric).Methods(http.MethodPost)
	api.HandleFunc("/metrics/{id}", s.getMetric).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id}/enabled", s.setMetricEnabled).Methods(http.MethodPut)
	api.HandleFunc("/metrics/{id}/points", s.recordPoints).Methods(http.MethodPost)

	api.HandleFunc("/query", s.query).Methods(http.MethodGet)

	api.HandleFunc("/rules", s.listRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.createRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", s.getRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", s.putRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}/enabled", s.setRuleEnabled).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}/mute", s.muteRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}/unmute", s.unmuteRule).Methods(http.MethodPost)
	api.HandleFunc("/alerts", s.alertHistory).Methods(http.MethodGet)

	api.HandleFunc("/channels", s.listChannels).Methods(http.MethodGet)
	api.HandleFunc("/channels", s.createChannel).Methods(http.MethodPost)
	api.HandleFunc("/channels/{id}", s.putChannel).Methods(http.MethodPut)

	api.HandleFunc("/insights", s.listInsights).Methods(http.MethodGet)
	api.HandleFunc("/insights/generate", s.generateInsights).Methods(http.MethodPost)
	api.HandleFunc("/insights/{id}/ack", s.acknowledgeInsight).Methods(http.MethodPost)

	api.HandleFunc("/health", s.systemHealth).Methods(http.MethodGet)
	api.HandleFunc("/health/check", s.checkHealth).Methods(http.MethodPost)

	api.HandleFunc("/dashboards", s.listDashboards).Methods(http.MethodGet)
	api.HandleFunc("/dashboards", s.createDashboard).Methods(http.MethodPost)
	api.HandleFunc("/dashboards/{id}", s.getDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}", s.updateDashboard).Methods(http.MethodPut)
	api.HandleFunc("/dashboards/{id}", s.deleteDashboard).Methods(http.MethodDelete)
	api.HandleFunc("/dashboards/{id}/report", s.report).Methods(http.MethodGet)

	api.HandleFunc("/events/ws", s.streamEvents).Methods(http.MethodGet)

	router.Use(s.recoveryMiddleware)
	router.Use(requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", actorHeader, requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully within the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	return s.serve(ctx, srv, ln)
}

func (s *Server) serve(ctx context.Context, srv *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("tls", s.tlsCert != ""),
		)
		var err error
		if s.tlsCert != "" {
			err = srv.ServeTLS(ln, s.tlsCert, s.tlsKey)
		} else {
			err = srv.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server forced to shut down", zap.Error(err))
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", audit.GetCorrelationID(r.Context())),
		}
		switch {
		case rec.status >= 500:
			s.logger.Error("Request failed", fields...)
		case rec.status >= 400:
			s.logger.Warn("Request rejected", fields...)
		default:
			s.logger.Debug("Request served", fields...)
		}
	})
}

// requestIDMiddleware propagates X-Request-ID, generating one when absent,
// so audit entries written while serving the request share its id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = audit.GenerateCorrelationID()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(audit.WithCorrelationID(r.Context(), id)))
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("Handler panicked",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec),
					zap.Stack("stack"),
				)
				respondError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
