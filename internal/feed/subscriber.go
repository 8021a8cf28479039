package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StreamPath is where the hub is mounted on the API server.
const StreamPath = "/api/prices/stream"

// Subscriber is a client connection to a hub.
type Subscriber struct {
	url    string
	cfg    Config
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan Message
	errors   chan error
	done     chan struct{}

	// State
	mu         sync.RWMutex
	lastPongAt time.Time
	lastVer    uint64
	closed     bool
}

// StreamURL turns an http(s) API base URL into the ws(s) stream URL.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + StreamPath
	return u.String(), nil
}

// Dial connects to the stream at wsURL and starts reading. The first message
// delivered is always the snapshot.
func Dial(ctx context.Context, wsURL string, cfg Config, logger *slog.Logger) (*Subscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	s := &Subscriber{
		url:        wsURL,
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		messages:   make(chan Message, cfg.SendBuffer),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
		lastPongAt: time.Now(),
	}

	// Answer server pings; both directions count as liveness.
	conn.SetPingHandler(func(data string) error {
		s.touch()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})

	go s.readLoop()
	go s.heartbeatLoop()

	logger.Debug("stream connected", "url", wsURL)
	return s, nil
}

// Messages returns decoded feed messages. It is closed when the read loop exits.
func (s *Subscriber) Messages() <-chan Message {
	return s.messages
}

// Errors returns connection errors. At most one error is delivered.
func (s *Subscriber) Errors() <-chan error {
	return s.errors
}

// Version returns the version of the last message received.
func (s *Subscriber) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastVer
}

// Close sends a close frame and tears the connection down.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

func (s *Subscriber) touch() {
	s.mu.Lock()
	s.lastPongAt = time.Now()
	s.mu.Unlock()
}

func (s *Subscriber) fail(err error) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.errors <- err:
	default:
	}
}

func (s *Subscriber) readLoop() {
	defer close(s.messages)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		s.touch()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("invalid stream message", "error", err, "size", len(data))
			continue
		}

		s.mu.Lock()
		s.lastVer = msg.Version
		s.mu.Unlock()

		// Blocking send: dropping a commit here would leave the caller with
		// a wrong view, and the hub disconnects us if we fall too far behind.
		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}
}

// heartbeatLoop pings the server and reports a stale connection.
func (s *Subscriber) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
			}

			s.mu.RLock()
			last := s.lastPongAt
			s.mu.RUnlock()

			if time.Since(last) > 2*s.cfg.PingInterval {
				s.logger.Warn("no pong received, connection stale",
					"last_pong", last,
					"timeout", 2*s.cfg.PingInterval,
				)
				s.fail(ErrStaleConnection)
				s.conn.Close()
				return
			}
		}
	}
}
