package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-pulse/internal/metrics"
	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

const (
	streamBuffer  = 256
	pingInterval  = 30 * time.Second
	writeDeadline = 10 * time.Second
)

// checkOrigin allows requests without an Origin header (non-browser
// clients) and browser requests from an allowed origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// streamEvents upgrades to WebSocket and forwards engine events as JSON.
// The optional "types" query parameter is a comma separated list of event
// type prefixes, e.g. types=alert.,insight.generated
// GET /api/v1/events/ws
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	var prefixes []string
	if v := r.URL.Query().Get("types"); v != "" {
		prefixes = strings.Split(v, ",")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Event stream upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events, unsubscribe := s.engine.Bus().Subscribe(streamBuffer)
	defer unsubscribe()

	metrics.StreamClients.Inc()
	defer metrics.StreamClients.Dec()
	s.logger.Debug("Event stream connected", zap.String("remote", r.RemoteAddr))

	// The read side only exists to process control frames and notice the
	// client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "engine stopped"))
				return
			}
			if !matches(ev, prefixes) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		}
	}
}

func matches(ev types.Event, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(string(ev.Type), strings.TrimSpace(p)) {
			return true
		}
	}
	return false
}
