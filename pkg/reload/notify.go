package reload

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType classifies a reload event pushed to connected browsers.
type EventType string

const (
	EventReloaded     EventType = "reloaded"
	EventReloadFailed EventType = "reload-failed"
	EventCleared      EventType = "cleared"
)

// Event is the notification payload. Beyond the bare outcome it carries
// the component, timing, attempt count, and the controller's running
// stats, so a dev overlay can show what is reloading and how it has been
// going without a second request.
type Event struct {
	Type       EventType     `json:"type"`
	Component  string        `json:"component,omitempty"`
	File       string        `json:"file,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Error      string        `json:"error,omitempty"`
	Stats      *StatsPayload `json:"stats,omitempty"`
}

// StatsPayload is the wire form of the controller's reload statistics.
type StatsPayload struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Failed    int   `json:"failed"`
	AverageMs int64 `json:"averageMs"`
}

func statsPayload(s Stats) *StatsPayload {
	return &StatsPayload{
		Total:     s.Total,
		Succeeded: s.Succeeded,
		Failed:    s.Failed,
		AverageMs: s.AverageDuration.Milliseconds(),
	}
}

// notifyClient is one connected browser. Writes go through a buffered
// channel drained by a per-client writer goroutine; a full buffer drops
// the client rather than stalling a reload.
type notifyClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NotifyServer pushes reload events to browsers over WebSocket. The most
// recent failure is sticky: a browser connecting mid-session immediately
// receives it, so the error overlay survives page reloads.
type NotifyServer struct {
	mu       sync.Mutex
	clients  map[*notifyClient]struct{}
	last     []byte // last failure event, replayed on connect
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewNotifyServer creates a notification server.
func NewNotifyServer() *NotifyServer {
	return &NotifyServer{
		clients: make(map[*notifyClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dev-only endpoint; the production server never mounts it.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
	}
}

// HandleWebSocket upgrades the connection and registers the client.
func (n *NotifyServer) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	conn, err := n.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	client := &notifyClient{conn: conn, send: make(chan []byte, 8)}

	n.mu.Lock()
	n.clients[client] = struct{}{}
	if n.last != nil {
		client.send <- n.last
	}
	n.mu.Unlock()

	go n.writePump(client)
	n.readUntilClosed(client)
}

// writePump drains the client's queue onto the socket.
func (n *NotifyServer) writePump(client *notifyClient) {
	for data := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			n.drop(client)
			return
		}
	}
	client.conn.Close()
}

// readUntilClosed blocks until the browser goes away; inbound frames are
// discarded.
func (n *NotifyServer) readUntilClosed(client *notifyClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			break
		}
	}
	n.drop(client)
}

func (n *NotifyServer) drop(client *notifyClient) {
	n.mu.Lock()
	if _, ok := n.clients[client]; ok {
		delete(n.clients, client)
		close(client.send)
	}
	n.mu.Unlock()
	client.conn.Close()
}

// Publish sends an event to every connected browser. Failure events stick
// for replay; a success or clear wipes the sticky state.
func (n *NotifyServer) Publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("unencodable reload event", "err", err)
		return
	}

	n.mu.Lock()
	if event.Type == EventReloadFailed {
		n.last = data
	} else {
		n.last = nil
	}
	var stale []*notifyClient
	for client := range n.clients {
		select {
		case client.send <- data:
		default:
			stale = append(stale, client)
		}
	}
	for _, client := range stale {
		delete(n.clients, client)
		close(client.send)
	}
	n.mu.Unlock()

	for _, client := range stale {
		client.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (n *NotifyServer) ClientCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Close disconnects all clients.
func (n *NotifyServer) Close() {
	n.mu.Lock()
	for client := range n.clients {
		delete(n.clients, client)
		close(client.send)
		client.conn.Close()
	}
	n.mu.Unlock()
}
