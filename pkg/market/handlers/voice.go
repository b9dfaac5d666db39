package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/agrimarket/pkg/core"
	"github.com/vango-go/agrimarket/pkg/market/auth"
	"github.com/vango-go/agrimarket/pkg/market/lifecycle"
	"github.com/vango-go/agrimarket/pkg/market/metrics"
	"github.com/vango-go/agrimarket/pkg/market/mw"
	"github.com/vango-go/agrimarket/pkg/market/ratelimit"
	"github.com/vango-go/agrimarket/pkg/market/voice/conn"
	"github.com/vango-go/agrimarket/pkg/market/voice/hub"
	"github.com/vango-go/agrimarket/pkg/market/voice/sessions"
)

// VoiceHandler upgrades /ws and runs one voice session per connection.
type VoiceHandler struct {
	Hub            *hub.Hub
	Assistant      conn.Processor
	Sessions       auth.SessionStore
	Limiter        *ratelimit.Limiter
	Lifecycle      *lifecycle.Lifecycle
	Tracker        *sessions.Tracker
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	AllowedOrigins map[string]struct{}
	Config         conn.Config
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeError(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed", RequestID: reqID})
		return
	}
	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeError(w, r, &core.Error{Type: core.ErrOverloaded, Message: "server is draining", Code: "draining"})
		return
	}
	if !h.originAllowed(r) {
		writeError(w, r, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin"})
		return
	}

	var userID int64
	if p, ok := auth.PrincipalFrom(r.Context()); ok {
		userID = p.UserID
	}
	if h.Limiter != nil {
		dec := h.Limiter.AcquireConn(mw.PrincipalKey(r), time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("ws_conn")
			writeError(w, r, core.NewRateLimitError("too many open voice connections", dec.RetryAfter))
			return
		}
		defer dec.Permit.Release()
	}

	upgrader := websocket.Upgrader{
		EnableCompression: true,
		// Origin was checked above.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s, err := conn.New(conn.Dependencies{
		Conn:         ws,
		Hub:          h.Hub,
		Assistant:    h.Assistant,
		Sessions:     h.Sessions,
		Logger:       logger,
		Metrics:      h.Metrics,
		Config:       h.Config,
		ConnectionID: "conn_" + uuid.NewString(),
		UserID:       userID,
	})
	if err != nil {
		logger.Error("voice session init failed", "error", err)
		return
	}
	unregister := h.Tracker.Register(s)
	defer unregister()

	start := time.Now()
	logger.Info("voice connection opened", "connection_id", s.ID(), "user_id", userID)
	if err := s.Run(); err != nil {
		logger.Warn("voice connection ended with error", "connection_id", s.ID(), "error", err)
	}
	logger.Info("voice connection closed", "connection_id", s.ID(), "duration_ms", time.Since(start).Milliseconds())
}

// originAllowed accepts requests without an Origin header, same-host
// origins and the CORS allowlist.
func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if _, ok := h.AllowedOrigins[origin]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// WSStatsHandler reports voice connection statistics.
type WSStatsHandler struct {
	Hub     *hub.Hub
	Tracker *sessions.Tracker
}

func (h WSStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type statsResp struct {
		hub.Stats
		LiveSessions int `json:"liveSessions"`
	}
	writeJSON(w, http.StatusOK, statsResp{Stats: h.Hub.Stats(), LiveSessions: h.Tracker.Count()})
}
