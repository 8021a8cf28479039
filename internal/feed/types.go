package feed

import (
	"errors"
	"time"

	"github.com/rickgao/lastvalue/internal/api"
)

// Errors
var (
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Message types.
const (
	TypeSnapshot = "snapshot"
	TypeCommit   = "commit"
)

// Message is one frame of the feed.
type Message struct {
	Type    string            `json:"type"`
	Version uint64            `json:"version"`
	BatchID string            `json:"batchId,omitempty"`
	Prices  []api.PriceRecord `json:"prices"`
}

// Config holds hub and subscriber settings.
type Config struct {
	// SendBuffer is the number of messages queued per subscriber before it is
	// considered too slow and disconnected.
	SendBuffer int

	// PingInterval is how often pings are sent; a peer silent for two
	// intervals is dropped.
	PingInterval time.Duration

	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SendBuffer:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SendBuffer < 1 {
		c.SendBuffer = d.SendBuffer
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	return c
}
