package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"mechat/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongWait     = 60 * time.Second
	DefaultQueueSize    = 64

	writeWait = 10 * time.Second
)

type wsConnection interface {
	Close() error
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type dispatcher interface {
	Register(s *Session)
	Unregister(s *Session)
	Dispatch(s *Session, env models.Envelope)
}

type SessionConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	QueueSize    int
}

func (c *SessionConfig) setDefaults() {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Session is one authenticated websocket connection.
type Session struct {
	ID     string
	UserID string

	ws         wsConnection
	relay      dispatcher
	cfg        SessionConfig
	fromClient chan models.Envelope
	send       chan models.Envelope

	// rooms joined, guarded by the relay's lock
	rooms map[string]struct{}
}

func NewSession(relay dispatcher, ws wsConnection, userID string, cfg SessionConfig) *Session {
	cfg.setDefaults()
	return &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		ws:         ws,
		relay:      relay,
		cfg:        cfg,
		fromClient: make(chan models.Envelope),
		send:       make(chan models.Envelope, cfg.QueueSize),
		rooms:      make(map[string]struct{}),
	}
}

// enqueue never blocks. It reports false when the outbound queue is full.
func (s *Session) enqueue(env models.Envelope) bool {
	select {
	case s.send <- env:
		return true
	default:
		return false
	}
}

// Handle runs the session until the connection fails or ctx is done.
func (s *Session) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.relay.Register(s)
	defer s.relay.Unregister(s)

	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	if err := s.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait)); err != nil {
		_ = s.ws.Close()
		return err
	}

	errorCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Go(func() {
		errorCh <- s.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		errorCh <- s.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-errorCh:
	case <-ctx.Done():
	}
	_ = s.ws.Close()
	wg.Wait()

	if err == nil || errors.Is(err, context.Canceled) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	return err
}

func (s *Session) pumpMessages(ctx context.Context) error {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return err
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("malformed frame", "session_id", s.ID, "user_id", s.UserID, "error", err)
			continue
		}

		select {
		case s.fromClient <- env:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env := <-s.fromClient:
			s.relay.Dispatch(s, env)
		case env := <-s.send:
			if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := s.ws.WriteJSON(env); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
