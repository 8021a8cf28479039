package feed

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn is one server-side subscriber connection.
type conn struct {
	ws     *websocket.Conn
	remote string
	cfg    Config

	// Commits at or below this version are already covered by the snapshot.
	since uint64

	send chan []byte
	done chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, remote string, cfg Config) *conn {
	return &conn{
		ws:     ws,
		remote: remote,
		cfg:    cfg,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
}

// enqueue queues data without blocking. A full queue shuts the connection
// down, since a gap in commits would leave the subscriber with a wrong view.
func (c *conn) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.shutdown()
		return false
	}
}

// shutdown signals the write pump to send a close frame and drop the socket.
// Safe to call more than once.
func (c *conn) shutdown() {
	c.once.Do(func() { close(c.done) })
}

func (c *conn) writePump(logger *slog.Logger) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		case data := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("subscriber write failed", "remote", c.remote, "error", err)
				c.shutdown()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				logger.Debug("failed to send ping", "remote", c.remote, "error", err)
				c.shutdown()
				return
			}
		}
	}
}

// readPump discards inbound frames and keeps the read deadline fresh on pongs.
// It returns when the peer goes away or the connection is shut down.
func (c *conn) readPump() {
	defer c.shutdown()

	timeout := 2 * c.cfg.PingInterval
	c.ws.SetReadLimit(4096)
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(timeout))
	})

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}
