// Package statusapi exposes the bridge's read-only management surface:
// liveness, Prometheus metrics, and a snapshot of live sessions. It
// never accepts any request that mutates session state — per the
// concurrency model, only the task queue may do that.
package statusapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionSnapshot is one session's read-only view for the /sessions
// endpoint.
type SessionSnapshot struct {
	EID          string `json:"eid"`
	ConnectionID string `json:"connection_id"`
	RemoteHost   string `json:"remote_host"`
	Name         string `json:"name"`
	State        string `json:"state"`
	ClockOffset  *int64 `json:"clock_offset_100us,omitempty"`
}

// SessionsProvider is queried fresh on every request to /sessions; the
// server holds no session state of its own.
type SessionsProvider interface {
	SessionSnapshots() []SessionSnapshot
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router   *chi.Mux
	sessions SessionsProvider
	started  time.Time
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(sessions SessionsProvider, started time.Time) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		sessions: sessions,
		started:  started,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/sessions", s.handleSessions)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.SessionSnapshots())
}
