package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/lastvalue/internal/api"
	"github.com/rickgao/lastvalue/internal/engine"
	"github.com/rickgao/lastvalue/internal/store"
)

// SnapshotSource provides the current store contents.
type SnapshotSource interface {
	Snapshot() *store.Snapshot
}

// HubStats holds hub counters.
type HubStats struct {
	Clients      int
	Connected    int64
	Disconnected int64
	Broadcasts   int64
	SlowDropped  int64
}

// Hub fans committed prices out to WebSocket subscribers. It is an
// engine.Observer and an http.Handler.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	source   SnapshotSource
	upgrader websocket.Upgrader

	// Guards clients. OnEvent broadcasts under the read lock and ServeHTTP
	// registers under the write lock, so a new subscriber never misses or
	// duplicates a commit around its snapshot.
	mu      sync.RWMutex
	clients map[*conn]struct{}
	closed  bool

	connected    atomic.Int64
	disconnected atomic.Int64
	broadcasts   atomic.Int64
	slowDropped  atomic.Int64
}

// NewHub creates a hub that seeds new subscribers from source.
func NewHub(cfg Config, source SnapshotSource, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg.withDefaults(),
		logger: logger,
		source: source,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		clients: make(map[*conn]struct{}),
	}
}

// OnEvent broadcasts completed batches that changed the store.
func (h *Hub) OnEvent(ev engine.Event) {
	if ev.Type != engine.EventCompleted || len(ev.Applied) == 0 {
		return
	}

	data, err := json.Marshal(Message{
		Type:    TypeCommit,
		Version: ev.Version,
		BatchID: ev.BatchID,
		Prices:  api.FromObservations(ev.Applied),
	})
	if err != nil {
		h.logger.Error("encode commit message", "batch_id", ev.BatchID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcasts.Add(1)
	for c := range h.clients {
		if ev.Version <= c.since {
			continue
		}
		if !c.enqueue(data) {
			h.slowDropped.Add(1)
			h.logger.Warn("subscriber too slow, disconnecting",
				"remote", c.remote,
				"version", ev.Version,
			)
		}
	}
}

// ServeHTTP upgrades the request and streams to the new subscriber until it
// disconnects or the hub closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(ws, r.RemoteAddr, h.cfg)

	if !h.register(c) {
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second),
		)
		ws.Close()
		return
	}
	h.connected.Add(1)
	h.logger.Debug("subscriber connected", "remote", c.remote, "since", c.since)

	go c.writePump(h.logger)
	c.readPump()

	h.unregister(c)
	h.disconnected.Add(1)
	h.logger.Debug("subscriber disconnected", "remote", c.remote)
}

// register adds c and queues its snapshot. It reports false once the hub is closed.
func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	snap := h.source.Snapshot()
	data, err := json.Marshal(Message{
		Type:    TypeSnapshot,
		Version: snap.Version(),
		Prices:  api.FromObservations(snap.Observations()),
	})
	if err != nil {
		h.logger.Error("encode snapshot message", "error", err)
		return false
	}

	c.since = snap.Version()
	c.enqueue(data)
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.shutdown()
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	h.logger.Info("feed hub closed", "subscribers", len(clients))
	return nil
}

// Stats returns current counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return HubStats{
		Clients:      n,
		Connected:    h.connected.Load(),
		Disconnected: h.disconnected.Load(),
		Broadcasts:   h.broadcasts.Load(),
		SlowDropped:  h.slowDropped.Load(),
	}
}
