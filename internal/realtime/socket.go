package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"mechat/internal/models"

	"github.com/gorilla/websocket"
)

type State int

const (
	StateConnecting State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Local lifecycle events. They are delivered to On handlers but never sent
// over the wire.
const (
	EventConnect         models.EventName = "connect"
	EventDisconnect      models.EventName = "disconnect"
	EventReconnectFailed models.EventName = "reconnect_failed"
)

// Handler receives the raw payload of an event. Handlers run on the socket's
// read goroutine and must not block.
type Handler func(data json.RawMessage)

// Socket is a client connection to the relay. It reconnects on its own after
// a transport failure and re-sends setup on every successful connection.
type Socket struct {
	cfg      Config
	identity string
	dialer   *websocket.Dialer
	ctx      context.Context
	cancel   context.CancelFunc

	mu           sync.Mutex
	conn         *websocket.Conn
	readDone     chan struct{}
	state        State
	attempts     int
	up           chan struct{} // closed while connected
	reconnecting bool
	closed       bool

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[models.EventName]map[int]Handler
	nextSub  int

	amu     sync.Mutex
	acks    map[int64]chan models.Ack
	nextAck int64
}

func newSocket(cfg Config, identity string) *Socket {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Socket{
		cfg:      cfg,
		identity: identity,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.DialTimeout},
		ctx:      ctx,
		cancel:   cancel,
		state:    StateConnecting,
		up:       make(chan struct{}),
		handlers: make(map[models.EventName]map[int]Handler),
		acks:     make(map[int64]chan models.Ack),
	}
}

func (s *Socket) Identity() string {
	return s.identity
}

func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Socket) Connected() bool {
	return s.State() == StateConnected
}

// Attempts is the number of reconnect attempts since the last successful connection.
func (s *Socket) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DialTimeout)
	defer cancel()

	header := http.Header{}
	if s.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", s.cfg.URL, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

// connect dials until it succeeds or the attempts run out. The initial
// connection dials right away; reconnects wait the fixed delay first.
func (s *Socket) connect(ctx context.Context, initial bool) error {
	first := 1
	if initial {
		first = 0
	}

	var err error
	for attempt := first; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.cfg.ReconnectDelay):
			case <-ctx.Done():
				return ctx.Err()
			case <-s.ctx.Done():
				return ErrClosed
			}
			s.mu.Lock()
			s.attempts = attempt
			s.mu.Unlock()
		}

		var conn *websocket.Conn
		conn, err = s.dial(ctx)
		if err == nil {
			return s.attach(conn)
		}
		slog.Warn("realtime connect failed", "url", s.cfg.URL, "attempt", attempt, "error", err)
	}

	s.mu.Lock()
	s.state = StateDisconnected
	s.mu.Unlock()
	return err
}

func (s *Socket) attach(conn *websocket.Conn) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.attempts = 0
	if s.state != StateConnected {
		close(s.up)
	}
	s.state = StateConnected
	readDone := make(chan struct{})
	s.readDone = readDone
	s.mu.Unlock()

	go s.readLoop(conn, readDone)

	// Rooms do not survive a transport reconnect, so setup goes out every time.
	if err := s.Emit(models.EventSetup, models.SetupPayload{ID: s.identity}); err != nil {
		slog.Warn("realtime setup failed", "user_id", s.identity, "error", err)
	}
	s.fire(EventConnect, nil)
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.lost(conn, err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Warn("malformed frame from server", "error", err)
			continue
		}
		if env.Event == models.EventAck {
			s.resolveAck(env)
			continue
		}
		s.fire(env.Event, env.Data)
	}
}

// lost handles a transport failure of conn and starts reconnecting.
func (s *Socket) lost(conn *websocket.Conn, cause error) {
	s.mu.Lock()
	if s.conn != conn {
		// closed or superseded
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.state = StateDisconnected
	s.up = make(chan struct{})
	start := !s.reconnecting
	if start {
		s.reconnecting = true
		s.state = StateConnecting
	}
	s.mu.Unlock()

	_ = conn.Close()
	slog.Warn("realtime connection lost", "user_id", s.identity, "error", cause)
	s.fire(EventDisconnect, nil)
	if start {
		go s.reconnectLoop()
	}
}

func (s *Socket) reconnectLoop() {
	err := s.connect(s.ctx, false)

	s.mu.Lock()
	s.reconnecting = false
	closed := s.closed
	s.mu.Unlock()

	if err != nil && !closed {
		slog.Warn("realtime reconnect attempts exhausted", "attempts", s.cfg.ReconnectAttempts, "error", err)
		s.fire(EventReconnectFailed, nil)
	}
}

// Reconnect waits for the socket to come back up, starting a new round of
// reconnect attempts if none is in progress.
func (s *Socket) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	up := s.up
	if !s.reconnecting {
		s.reconnecting = true
		s.state = StateConnecting
		go s.reconnectLoop()
	}
	s.mu.Unlock()

	select {
	case <-up:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// On subscribes h to event and returns a function that removes it.
func (s *Socket) On(event models.EventName, h Handler) (unsubscribe func()) {
	s.hmu.Lock()
	defer s.hmu.Unlock()

	s.nextSub++
	id := s.nextSub
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[int]Handler)
	}
	s.handlers[event][id] = h

	return func() {
		s.hmu.Lock()
		defer s.hmu.Unlock()
		delete(s.handlers[event], id)
	}
}

func (s *Socket) fire(event models.EventName, data json.RawMessage) {
	s.hmu.RLock()
	hs := make([]Handler, 0, len(s.handlers[event]))
	for _, h := range s.handlers[event] {
		hs = append(hs, h)
	}
	s.hmu.RUnlock()

	for _, h := range hs {
		h(data)
	}
}

// Emit sends an event without waiting for any reply.
func (s *Socket) Emit(event models.EventName, payload any) error {
	return s.send(event, payload, 0)
}

func (s *Socket) send(event models.EventName, payload any, ackID int64) error {
	env, err := models.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	env.AckID = ackID

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(s.cfg.AckTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(env)
}

// EmitWithAck sends an event and waits for the server's acknowledgment,
// at most AckTimeout.
func (s *Socket) EmitWithAck(ctx context.Context, event models.EventName, payload any) (models.Ack, error) {
	ch := make(chan models.Ack, 1)
	s.amu.Lock()
	s.nextAck++
	id := s.nextAck
	s.acks[id] = ch
	s.amu.Unlock()

	defer func() {
		s.amu.Lock()
		delete(s.acks, id)
		s.amu.Unlock()
	}()

	if err := s.send(event, payload, id); err != nil {
		return models.Ack{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.AckTimeout)
	defer cancel()
	select {
	case ack := <-ch:
		return ack, nil
	case <-ctx.Done():
		return models.Ack{}, ctx.Err()
	case <-s.ctx.Done():
		return models.Ack{}, ErrClosed
	}
}

func (s *Socket) resolveAck(env models.Envelope) {
	var ack models.Ack
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &ack); err != nil {
			slog.Warn("malformed ack", "ack_id", env.AckID, "error", err)
			return
		}
	}

	s.amu.Lock()
	ch, ok := s.acks[env.AckID]
	s.amu.Unlock()
	if !ok {
		// late ack after a timeout
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// Close shuts the socket down for good and returns once the server has
// acknowledged the close or a short grace period has passed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cancel()
	conn, readDone := s.conn, s.readDone
	wasUp := s.state == StateConnected
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	if err == nil {
		select {
		case <-readDone:
		case <-time.After(time.Second):
		}
	}

	err = conn.Close()
	<-readDone
	if wasUp {
		s.fire(EventDisconnect, nil)
	}
	return err
}
