package webapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the browser.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the browser
	// before the connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must stay under pongWait so a ping always lands before
	// the peer would time out waiting for one.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds an inbound control frame; terminal output
	// flows outbound only, so this only needs to fit a resize message.
	maxMessageSize = 4 * 1024

	// outputQueueSize buffers bursts of terminal output between reads of
	// the underlying multiplexer pane and writes to the browser.
	outputQueueSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The dashboard is served from the same origin as the API; a stricter
	// CheckOrigin belongs to whatever reverse proxy terminates TLS for it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TerminalStreamer is the narrow view of the terminal multiplexer the
// WebSocket relay needs: a way to subscribe to one session's output and a
// way to apply a resize.
type TerminalStreamer interface {
	// StreamPane starts forwarding the named session's pane output to out
	// until stop is closed or the session exits. It must not block the
	// caller past the subscription itself.
	StreamPane(session string, out chan<- []byte, stop <-chan struct{}) error
	ResizePane(session string, cols, rows int) error
}

// controlMessage is the only inbound frame shape the relay accepts.
type controlMessage struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// relayClient wraps one browser connection, matching the safe-close pattern
// used for concurrent dashboard broadcast connections elsewhere in the
// ecosystem: a sync.Once guards the channel close, and an atomic flag lets
// SafeSend avoid racing it.
type relayClient struct {
	conn   *websocket.Conn
	send   chan []byte
	once   sync.Once
	closed atomic.Bool
}

func (c *relayClient) SafeSend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *relayClient) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.send)
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.Terminal == nil {
		http.Error(w, "terminal streaming is not configured", http.StatusServiceUnavailable)
		return
	}
	name := sanitizeComponent(r.URL.Path[len("/api/ws/"):])
	if name == "" {
		http.Error(w, "missing session name", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	client := &relayClient{conn: conn, send: make(chan []byte, outputQueueSize)}
	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	paneOut := make(chan []byte, outputQueueSize)
	if err := s.Terminal.StreamPane(name, paneOut, stop); err != nil {
		_ = conn.Close()
		return
	}

	go relayPaneOutput(client, paneOut, stop, closeStop)
	go writePump(client, closeStop)
	readPump(s.Terminal, name, client, closeStop)
}

// relayPaneOutput forwards pane bytes into the client's send queue until
// stop fires.
func relayPaneOutput(client *relayClient, paneOut <-chan []byte, stop <-chan struct{}, closeStop func()) {
	for {
		select {
		case <-stop:
			return
		case data, ok := <-paneOut:
			if !ok {
				closeStop()
				return
			}
			client.SafeSend(data)
		}
	}
}

// writePump owns the only writer of client.conn, per gorilla/websocket's
// single-writer requirement, and interleaves data frames with keepalive
// pings.
func writePump(client *relayClient, closeStop func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				closeStop()
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				closeStop()
				return
			}
		}
	}
}

// readPump owns the only reader of client.conn and applies resize control
// messages as they arrive. It returns when the connection closes, and
// closeStop tears down the pane subscription and the write pump.
func readPump(term TerminalStreamer, session string, client *relayClient, closeStop func()) {
	defer func() {
		closeStop()
		client.Close()
	}()
	client.conn.SetReadLimit(maxMessageSize)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
			_ = term.ResizePane(session, msg.Cols, msg.Rows)
		}
	}
}
