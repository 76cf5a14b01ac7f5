// Package webapi exposes the read-only dashboard boundary: a set of JSON
// projections of the coordination stores under /api/..., plus a WebSocket
// that relays a single session's terminal output and accepts resize
// control messages. It never writes to the session or mail stores itself
// — mutation happens only through the CLI and the watchdog.
package webapi

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/metrics"
	"github.com/jayminwest/overstory/internal/session"
)

// pathComponentRe is the sanitization rule applied to every path component
// used to identify a session before it reaches an external command (the
// terminal multiplexer), matching the rule the nudge channel applies to
// recipient names.
var pathComponentRe = regexp.MustCompile(`[^A-Za-z0-9_.\-]`)

func sanitizeComponent(s string) string {
	return pathComponentRe.ReplaceAllString(s, "_")
}

// SessionStore is the narrow read view the dashboard needs.
type SessionStore interface {
	GetAll() ([]*session.Session, error)
	GetByName(name string) (*session.Session, error)
}

// MailStore is the narrow read view the dashboard needs.
type MailStore interface {
	List(f mail.Filter) ([]*mail.Message, error)
}

// EventReader is the narrow read view the dashboard needs.
type EventReader interface {
	List() ([]*events.Event, error)
}

// MetricsReader is the narrow read view the dashboard needs.
type MetricsReader interface {
	List() ([]*metrics.Row, error)
}

// Server wires the coordination stores to a read-only HTTP mux.
type Server struct {
	Sessions SessionStore
	Mail     MailStore
	Events   EventReader
	Metrics  MetricsReader
	Terminal TerminalStreamer

	mux *http.ServeMux
}

// NewServer builds a Server and registers every route. metricsReader may be
// nil, in which case /api/metrics reports 503 rather than panicking.
func NewServer(sessions SessionStore, mailStore MailStore, eventReader EventReader, metricsReader MetricsReader, term TerminalStreamer) *Server {
	s := &Server{Sessions: sessions, Mail: mailStore, Events: eventReader, Metrics: metricsReader, Terminal: term}
	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSession)
	s.mux.HandleFunc("/api/mail", s.handleMail)
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/metrics", s.handleMetrics)
	s.mux.HandleFunc("/api/ws/", s.handleWebSocket)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all, err := s.Sessions.GetAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, all)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := sanitizeComponent(r.URL.Path[len("/api/sessions/"):])
	if name == "" {
		http.Error(w, "missing session name", http.StatusBadRequest)
		return
	}
	sess, err := s.Sessions.GetByName(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleMail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	f := mail.Filter{
		From:  q.Get("from"),
		To:    q.Get("to"),
		Agent: q.Get("agent"),
	}
	msgs, err := s.Mail.List(f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, msgs)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	evs, err := s.Events.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, evs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.Metrics == nil {
		http.Error(w, "metrics are not configured", http.StatusServiceUnavailable)
		return
	}
	rows, err := s.Metrics.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, rows)
}
