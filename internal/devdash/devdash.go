// Package devdash serves an optional, dev-only websocket+HTTP dashboard
// that streams broker and agent-cell snapshots to a local browser. It has
// no role in production operation. cmd/orb-agent runs its broadcast loop
// (Run) on every start and does not serve Router on any address.
package devdash

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dev-only tool bound to localhost; any origin is fine here, unlike a
	// production-facing spoke connection.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SnapshotFunc returns whatever JSON-serializable state the dashboard
// should show at this instant, typically a struct assembled from
// broker.Cell states, the current Fence, and ssdstate.Latch.
type SnapshotFunc func() any

// Dashboard fans a periodic snapshot out to every connected websocket
// client, plus a plain HTTP health check.
type Dashboard struct {
	snapshot SnapshotFunc
	interval time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New builds a Dashboard that calls snapshot every interval and pushes the
// result to all connected clients.
func New(snapshot SnapshotFunc, interval time.Duration) *Dashboard {
	return &Dashboard{
		snapshot: snapshot,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Router returns the dashboard's HTTP routes: GET /ws for the snapshot
// stream, GET /healthz for a liveness probe.
func (d *Dashboard) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", d.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", d.handleHealthz).Methods(http.MethodGet)
	return r
}

func (d *Dashboard) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d *Dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("devdash: websocket upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 4)}
	d.register(c)
	defer d.unregister(c)

	go c.writeLoop()
	c.readLoop()
}

func (d *Dashboard) register(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c] = struct{}{}
}

func (d *Dashboard) unregister(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.clients[c]; ok {
		delete(d.clients, c)
		close(c.send)
	}
}

// readLoop does nothing with incoming frames beyond keeping the pong
// deadline alive; the dashboard is a one-way broadcast, not a command
// channel.
func (c *client) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.conn.Close()
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Run broadcasts d.snapshot() to every connected client every d.interval,
// until ctx is cancelled.
func (d *Dashboard) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.broadcast()
		}
	}
}

func (d *Dashboard) broadcast() {
	payload, err := json.Marshal(d.snapshot())
	if err != nil {
		slog.Warn("devdash: snapshot marshal failed", "err", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		select {
		case c.send <- payload:
		default:
			slog.Warn("devdash: client send buffer full, dropping snapshot")
		}
	}
}
