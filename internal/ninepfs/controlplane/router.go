// Package controlplane implements the unauthenticated HTTP API used to
// inspect and manage a running ninepd server: health, live stats, the
// active session list, and a shutdown trigger. It follows the teacher's
// pkg/controlplane/api router conventions (chi, a custom request-logging
// middleware, JSON handlers) pared down to the routes this server's
// external interface actually exposes — there is no auth layer here
// because the control plane is documented as unauthenticated, unlike the
// teacher's JWT-protected admin API.
package controlplane

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ninep-go/ninepd/internal/logger"
)

// SessionInfo mirrors server.SessionInfo, duplicated here so this package
// never imports internal/ninepfs/server (handlers depend on the
// StatsProvider interface instead). Neither package imports the other;
// cmd/ninepd translates between the two types.
type SessionInfo struct {
	ClientAddr string `json:"client_addr"`
	State      string `json:"state"`
	OpenFIDs   int    `json:"open_fids"`
}

// Stats summarizes server-wide counters for GET /stats.
type Stats struct {
	ActiveSessions int    `json:"active_sessions"`
	MaxSessions    int    `json:"max_sessions"`
	Uptime         string `json:"uptime"`
	MessagesTotal  uint64 `json:"messages_total"`
	ErrorsTotal    uint64 `json:"errors_total"`
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
}

// StatsProvider is implemented in cmd/ninepd by an adapter over
// *server.Server.
type StatsProvider interface {
	Sessions() []SessionInfo
	ActiveCount() int32
}

// MetricsSnapshot is implemented in cmd/ninepd by an adapter over
// *metrics.Registry. It is optional: a nil
// MetricsSnapshot leaves the counter fields in Stats at zero.
type MetricsSnapshot interface {
	Snapshot() (messagesTotal, errorsTotal, bytesIn, bytesOut uint64)
}

// RecentSessions is implemented in cmd/ninepd by an adapter over
// *ring.Ring, supplying recently
// terminated sessions to round out GET /sessions alongside the active
// ones StatsProvider reports.
type RecentSessions interface {
	Recent(limit int) []SessionInfo
}

// NewRouter builds the control-plane HTTP handler.
//
// Routes:
//   - GET  /healthz  - liveness probe
//   - GET  /stats    - session counts, message/byte/error counters, and uptime
//   - GET  /sessions - active sessions plus recently terminated ones
//   - POST /shutdown - begin graceful shutdown
func NewRouter(provider StatsProvider, metricsSnapshot MetricsSnapshot, recent RecentSessions, maxSessions int, startedAt time.Time, shutdown func()) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats := Stats{
			ActiveSessions: int(provider.ActiveCount()),
			MaxSessions:    maxSessions,
			Uptime:         time.Since(startedAt).String(),
		}
		if metricsSnapshot != nil {
			stats.MessagesTotal, stats.ErrorsTotal, stats.BytesIn, stats.BytesOut = metricsSnapshot.Snapshot()
		}
		writeJSON(w, http.StatusOK, stats)
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions := provider.Sessions()
		if recent != nil {
			sessions = append(sessions, recent.Recent(50)...)
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	r.Post("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
		go shutdown()
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger mirrors the teacher's pkg/controlplane/api.requestLogger:
// DEBUG on request start, INFO (DEBUG for /healthz) on completion.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("control API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logArgs := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		}

		if r.URL.Path == "/healthz" {
			logger.Debug("control API request completed", logArgs...)
		} else {
			logger.Info("control API request completed", logArgs...)
		}
	})
}
