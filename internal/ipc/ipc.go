// Package ipc mediates access to the bbolt-backed coordination database
// from every process other than the daemon. bbolt holds an exclusive OS
// file lock for the life of an open handle, so only cmd/overstoryd ever
// calls store.Open; every CLI invocation instead talks to the daemon over
// a Unix domain socket using the same net/http plus encoding/json idiom
// internal/webapi uses for its own read-only surface, just switched from
// a TCP listener to a socket file.
//
// Nudge markers and the mail-check debounce ledger live in their own
// files outside the database, so they are read and written directly by
// whichever process needs them; only session, mail, and event operations
// cross this boundary.
package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/session"
)

// SocketPath returns the conventional socket path for a data directory,
// the counterpart to coordination.db living alongside it.
func SocketPath(dataDir string) string {
	return dataDir + "/overstoryd.sock"
}

// SessionStore is the narrow session-store surface the server exposes and
// the client implements.
type SessionStore interface {
	GetByName(name string) (*session.Session, error)
	GetByRun(runID string) ([]*session.Session, error)
	GetActive() ([]*session.Session, error)
	GetAll() ([]*session.Session, error)
	UpdateLastActivity(name string, now time.Time) error
}

// MailStore is the narrow mail-store surface the server exposes and the
// client implements.
type MailStore interface {
	Send(from, to, subject, body string, typ mail.Type, priority mail.Priority, payload, threadID *string) ([]string, error)
	List(f mail.Filter) ([]*mail.Message, error)
	Get(id string) (*mail.Message, error)
	Reply(id, body, from string) (*mail.Message, error)
	Check(agent string) ([]*mail.Message, error)
	Purge(f mail.PurgeFilter) (int, error)
}

// EventRecorder is the narrow events surface the server exposes and the
// client implements.
type EventRecorder interface {
	Record(ev events.Event) error
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// listen opens a Unix domain socket at path, removing any stale socket
// file an unclean shutdown left behind.
func listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	return l, nil
}

func dialer(socketPath string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
}

func encodeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: err.Error()})
}

func decodeBody(r *http.Request, v interface{}) error {
	defer func() { _ = r.Body.Close() }()
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding request body: %w", err)
	}
	return nil
}

func post(ctx context.Context, c *http.Client, base, path string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		var e errorEnvelope
		_ = json.NewDecoder(httpResp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("%s: %s", path, e.Error)
		}
		return fmt.Errorf("%s: unexpected status %d", path, httpResp.StatusCode)
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
