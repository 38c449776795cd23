package realtime

import (
	"errors"
	"time"
)

const (
	DefaultAckTimeout        = 5 * time.Second
	DefaultReconnectDelay    = time.Second
	DefaultReconnectAttempts = 5
	DefaultDialTimeout       = 20 * time.Second
)

var (
	// ErrNoIdentity means connect was called without a user id.
	// Callers continue without realtime features.
	ErrNoIdentity   = errors.New("realtime: no identity")
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: socket closed")
)

type Config struct {
	// URL of the websocket endpoint, e.g. ws://localhost:5000/ws.
	URL   string
	Token string

	AckTimeout        time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
	DialTimeout       time.Duration
}

func (c *Config) setDefaults() {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
}
