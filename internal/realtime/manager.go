package realtime

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Manager owns the single realtime connection of a client.
type Manager struct {
	cfg   Config
	group singleflight.Group

	mu     sync.Mutex
	socket *Socket
	// bumped by Disconnect so a connect that finishes afterwards is discarded
	gen uint64
}

func NewManager(cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{cfg: cfg}
}

func (m *Manager) current() *Socket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socket
}

// Socket returns the current connection without waiting on it, or nil
// before the first Connect.
func (m *Manager) Socket() *Socket {
	return m.current()
}

// Connect returns the live connection for identity, opening one if needed.
// Concurrent callers share a single in-flight attempt. ErrNoIdentity means
// the caller should carry on without realtime features.
func (m *Manager) Connect(ctx context.Context, identity string) (*Socket, error) {
	if identity == "" {
		slog.Warn("realtime disabled: no user id")
		return nil, ErrNoIdentity
	}
	if s := m.current(); s != nil && s.Connected() && s.Identity() == identity {
		return s, nil
	}

	ch := m.group.DoChan("connect", func() (any, error) {
		m.mu.Lock()
		old, gen := m.socket, m.gen
		m.mu.Unlock()
		if old != nil && old.Connected() && old.Identity() == identity {
			return old, nil
		}
		if old != nil {
			_ = old.Close()
		}

		s := newSocket(m.cfg, identity)
		// Shared by every waiter, so it must outlive the first caller's ctx.
		if err := s.connect(context.WithoutCancel(ctx), true); err != nil {
			_ = s.Close()
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen != gen {
			_ = s.Close()
			return nil, ErrClosed
		}
		m.socket = s
		return s, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Socket), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetConnection returns the current connection, or nil before the first
// Connect. A disconnected socket gets one bounded reconnect wait and is
// returned either way so callers can continue degraded.
func (m *Manager) GetConnection(ctx context.Context) *Socket {
	s := m.current()
	if s == nil || s.Connected() {
		return s
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.AckTimeout)
	defer cancel()
	if err := s.Reconnect(ctx); err != nil {
		slog.Warn("realtime reconnect did not complete, continuing without it", "user_id", s.Identity(), "error", err)
	}
	return s
}

// Disconnect closes the connection and forgets it, so the next Connect
// starts fresh.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	s := m.socket
	m.socket = nil
	m.gen++
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Close()
}
