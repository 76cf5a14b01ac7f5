package ipc

import (
	"net"
	"net/http"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
)

// Server exposes session, mail, and event store operations over HTTP,
// meant to be served on a Unix domain socket by the one process that
// holds the coordination database open.
type Server struct {
	Sessions SessionStore
	Mail     MailStore
	Events   EventRecorder

	mux *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(sessions SessionStore, mailStore MailStore, recorder EventRecorder) *Server {
	s := &Server{Sessions: sessions, Mail: mailStore, Events: recorder}
	s.mux = http.NewServeMux()

	s.mux.HandleFunc("/session/getByName", s.handleSessionGetByName)
	s.mux.HandleFunc("/session/getByRun", s.handleSessionGetByRun)
	s.mux.HandleFunc("/session/getActive", s.handleSessionGetActive)
	s.mux.HandleFunc("/session/getAll", s.handleSessionGetAll)
	s.mux.HandleFunc("/session/updateLastActivity", s.handleSessionUpdateLastActivity)

	s.mux.HandleFunc("/mail/send", s.handleMailSend)
	s.mux.HandleFunc("/mail/list", s.handleMailList)
	s.mux.HandleFunc("/mail/get", s.handleMailGet)
	s.mux.HandleFunc("/mail/reply", s.handleMailReply)
	s.mux.HandleFunc("/mail/check", s.handleMailCheck)
	s.mux.HandleFunc("/mail/purge", s.handleMailPurge)

	s.mux.HandleFunc("/events/record", s.handleEventsRecord)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Listen opens the Unix domain socket at path and starts Serve in the
// background, returning the listener so the caller can Close it to shut
// the socket down. Accept errors after Close are swallowed, matching
// net/http.Server's own shutdown contract.
func (s *Server) Listen(path string) (net.Listener, error) {
	l, err := listen(path)
	if err != nil {
		return nil, err
	}
	go func() { _ = http.Serve(l, s) }()
	return l, nil
}

type sessionNameReq struct {
	Name string `json:"name"`
}

type sessionRunReq struct {
	RunID string `json:"runId"`
}

type sessionTouchReq struct {
	Name string    `json:"name"`
	Now  time.Time `json:"now"`
}

func (s *Server) handleSessionGetByName(w http.ResponseWriter, r *http.Request) {
	var req sessionNameReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.Sessions.GetByName(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, sess)
}

func (s *Server) handleSessionGetByRun(w http.ResponseWriter, r *http.Request) {
	var req sessionRunReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	all, err := s.Sessions.GetByRun(req.RunID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, all)
}

func (s *Server) handleSessionGetActive(w http.ResponseWriter, r *http.Request) {
	all, err := s.Sessions.GetActive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, all)
}

func (s *Server) handleSessionGetAll(w http.ResponseWriter, r *http.Request) {
	all, err := s.Sessions.GetAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, all)
}

func (s *Server) handleSessionUpdateLastActivity(w http.ResponseWriter, r *http.Request) {
	var req sessionTouchReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Sessions.UpdateLastActivity(req.Name, req.Now); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, struct{}{})
}

type mailSendReq struct {
	From, To, Subject, Body string
	Type                     mail.Type
	Priority                 mail.Priority
	Payload, ThreadID        *string
}

type mailListReq struct {
	Filter mail.Filter `json:"filter"`
}

type mailIDReq struct {
	ID string `json:"id"`
}

type mailReplyReq struct {
	ID, Body, From string
}

type mailAgentReq struct {
	Agent string `json:"agent"`
}

type mailPurgeReq struct {
	Filter mail.PurgeFilter `json:"filter"`
}

type mailPurgeResp struct {
	Count int `json:"count"`
}

func (s *Server) handleMailSend(w http.ResponseWriter, r *http.Request) {
	var req mailSendReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ids, err := s.Mail.Send(req.From, req.To, req.Subject, req.Body, req.Type, req.Priority, req.Payload, req.ThreadID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, ids)
}

func (s *Server) handleMailList(w http.ResponseWriter, r *http.Request) {
	var req mailListReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs, err := s.Mail.List(req.Filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, msgs)
}

func (s *Server) handleMailGet(w http.ResponseWriter, r *http.Request) {
	var req mailIDReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msg, err := s.Mail.Get(req.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, msg)
}

func (s *Server) handleMailReply(w http.ResponseWriter, r *http.Request) {
	var req mailReplyReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.Mail.Reply(req.ID, req.Body, req.From)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, reply)
}

func (s *Server) handleMailCheck(w http.ResponseWriter, r *http.Request) {
	var req mailAgentReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	msgs, err := s.Mail.Check(req.Agent)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, msgs)
}

func (s *Server) handleMailPurge(w http.ResponseWriter, r *http.Request) {
	var req mailPurgeReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Mail.Purge(req.Filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, mailPurgeResp{Count: n})
}

type eventsRecordReq struct {
	Event events.Event `json:"event"`
}

func (s *Server) handleEventsRecord(w http.ResponseWriter, r *http.Request) {
	var req eventsRecordReq
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Events.Record(req.Event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	encodeJSON(w, struct{}{})
}
