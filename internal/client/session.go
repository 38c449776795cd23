package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"mechat/internal/chatstore"
	"mechat/internal/models"
	"mechat/internal/realtime"
	"mechat/internal/typing"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrNoOpenChat   = errors.New("no chat is open")
	ErrEmptyMessage = errors.New("message is empty")
)

type Config struct {
	// ServerURL is the http(s) base of the server. The websocket endpoint is
	// derived from it unless Realtime.URL is set.
	ServerURL string
	Realtime  realtime.Config

	TypingTimeout  time.Duration
	SendRetries    int
	SendRetryDelay time.Duration

	// Callbacks run on background goroutines and must not block.
	OnWarning func(msg string)
	OnChange  func()
	OnTyping  func(chatID string, peers []string)
}

// WebsocketURL maps an http(s) server URL to its websocket endpoint.
func WebsocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
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
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// socketEmitter sends typing signals over whatever connection is current.
type socketEmitter struct {
	m *realtime.Manager
}

func (e socketEmitter) Emit(event models.EventName, payload any) error {
	s := e.m.Socket()
	if s == nil {
		return realtime.ErrNotConnected
	}
	return s.Emit(event, payload)
}

// Session is one signed-in user of the chat client. It keeps the chat list
// and open thread in sync with the server over REST and the realtime relay,
// and falls back to REST alone when the relay is unreachable.
type Session struct {
	cfg    Config
	api    *API
	sender *Sender

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	self       models.User
	manager    *realtime.Manager
	rooms      *realtime.Rooms
	typing     *typing.Coordinator
	store      *chatstore.Store
	subscribed *realtime.Socket
	unsubs     []func()
	draft      string
	connecting bool // a background connect is running
}

func NewSession(cfg Config) *Session {
	api := NewAPI(cfg.ServerURL, nil)
	return &Session{
		cfg:    cfg,
		api:    api,
		sender: NewSender(api, cfg.SendRetries, cfg.SendRetryDelay),
	}
}

func (s *Session) API() *API {
	return s.api
}

func (s *Session) Sender() *Sender {
	return s.sender
}

func (s *Session) warn(msg string) {
	slog.Warn(msg)
	if s.cfg.OnWarning != nil {
		s.cfg.OnWarning(msg)
	}
}

func (s *Session) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}

// Login signs in and opens the realtime connection. A relay that cannot be
// reached is reported as a warning, not an error.
func (s *Session) Login(ctx context.Context, email, password string) (models.User, error) {
	resp, err := s.api.Login(ctx, email, password)
	if err != nil {
		return models.User{}, err
	}
	return s.start(ctx, resp)
}

// Register creates an account and signs in with it.
func (s *Session) Register(ctx context.Context, name, email, password string) (models.User, error) {
	resp, err := s.api.Register(ctx, name, email, password)
	if err != nil {
		return models.User{}, err
	}
	return s.start(ctx, resp)
}

func (s *Session) start(ctx context.Context, resp models.AuthResponse) (models.User, error) {
	rtCfg := s.cfg.Realtime
	rtCfg.Token = resp.Token
	if rtCfg.URL == "" {
		wsURL, err := WebsocketURL(s.cfg.ServerURL)
		if err != nil {
			return models.User{}, fmt.Errorf("realtime url: %w", err)
		}
		rtCfg.URL = wsURL
	}

	manager := realtime.NewManager(rtCfg)
	store := chatstore.New(resp.User.ID)
	coordinator := typing.NewCoordinator(socketEmitter{m: manager}, typing.Config{
		SelfID:   resp.User.ID,
		Timeout:  s.cfg.TypingTimeout,
		OnChange: s.cfg.OnTyping,
	})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.self = resp.User
	s.manager = manager
	s.rooms = realtime.NewRooms(manager)
	s.typing = coordinator
	s.store = store
	s.subscribed = nil
	s.unsubs = nil
	s.draft = ""
	s.mu.Unlock()

	s.ensureRealtime(ctx)
	return resp.User, nil
}

// ensureRealtime connects if there is no connection yet and subscribes to
// relay events once per socket.
func (s *Session) ensureRealtime(ctx context.Context) {
	s.mu.Lock()
	manager, rooms, self, sessionCtx := s.manager, s.rooms, s.self, s.ctx
	s.mu.Unlock()
	if manager == nil {
		return
	}
	if sock := manager.Socket(); sock != nil {
		s.subscribe(sock)
		return
	}

	sock, err := manager.Connect(ctx, self.ID)
	if err != nil {
		if ctx.Err() == nil {
			s.warn(fmt.Sprintf("realtime unavailable, messages will only arrive on refresh: %v", err))
		}
		return
	}
	if s.subscribe(sock) {
		// Connect fired before the handlers existed.
		go rooms.Rejoin(sessionCtx)
	}
}

// connectInBackground retries the realtime connection without holding up
// the caller. Only one attempt runs at a time.
func (s *Session) connectInBackground() {
	s.mu.Lock()
	if s.manager == nil || s.connecting {
		s.mu.Unlock()
		return
	}
	if sock := s.manager.Socket(); sock != nil {
		s.mu.Unlock()
		s.subscribe(sock)
		return
	}
	s.connecting = true
	ctx := s.ctx
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.connecting = false
			s.mu.Unlock()
		}()
		s.ensureRealtime(ctx)
	}()
}

func (s *Session) subscribe(sock *realtime.Socket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed == sock {
		return false
	}
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.subscribed = sock

	ctx, rooms, coordinator := s.ctx, s.rooms, s.typing
	s.unsubs = []func(){
		sock.On(models.EventMessageReceived, s.onMessage),
		sock.On(models.EventTyping, func(data json.RawMessage) {
			sig, err := models.ParseTypingSignal(data)
			if err != nil {
				slog.Warn("malformed typing signal", "error", err)
				return
			}
			coordinator.RemoteTyping(sig)
		}),
		sock.On(models.EventStopTyping, func(data json.RawMessage) {
			sig, err := models.ParseTypingSignal(data)
			if err != nil {
				slog.Warn("malformed stop typing signal", "error", err)
				return
			}
			coordinator.RemoteStopTyping(sig)
		}),
		sock.On(realtime.EventConnect, func(_ json.RawMessage) {
			// Handlers run on the read goroutine, which must stay free for acks.
			go rooms.Rejoin(ctx)
		}),
		sock.On(realtime.EventReconnectFailed, func(_ json.RawMessage) {
			s.warn("lost connection to the chat server, messages will only arrive on refresh")
		}),
	}
	return true
}

func (s *Session) onMessage(data json.RawMessage) {
	var m models.Message
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("malformed message received", "error", err)
		return
	}
	store := s.Store()
	if store == nil {
		return
	}
	store.Receive(m)
	s.changed()
}

func (s *Session) Self() models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}

// Store returns the chat state, or nil before login.
func (s *Session) Store() *chatstore.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store
}

// Typing returns the typing coordinator, or nil before login.
func (s *Session) Typing() *typing.Coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// Connected reports whether the relay connection is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	manager := s.manager
	s.mu.Unlock()
	if manager == nil {
		return false
	}
	sock := manager.Socket()
	return sock != nil && sock.Connected()
}

type parts struct {
	store  *chatstore.Store
	rooms  *realtime.Rooms
	typing *typing.Coordinator
}

func (s *Session) parts() (parts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return parts{}, ErrNotLoggedIn
	}
	return parts{store: s.store, rooms: s.rooms, typing: s.typing}, nil
}

// LoadChats refreshes the chat list from the server.
func (s *Session) LoadChats(ctx context.Context) ([]models.Chat, error) {
	p, err := s.parts()
	if err != nil {
		return nil, err
	}
	chats, err := s.api.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	p.store.SetChats(chats)
	s.changed()
	return p.store.Chats(), nil
}

// OpenChat loads the history of chatID, makes it the open chat and moves the
// realtime room subscription to it.
func (s *Session) OpenChat(ctx context.Context, chatID string) error {
	p, err := s.parts()
	if err != nil {
		return err
	}
	history, err := s.api.ListMessages(ctx, chatID)
	if err != nil {
		return err
	}
	p.store.Open(chatID, history)
	p.typing.SetOpenChat(chatID)
	// Without a socket the room is joined by the rejoin after connecting.
	s.connectInBackground()
	p.rooms.Switch(ctx, chatID)
	s.changed()
	return nil
}

// CloseChat leaves the open chat's room.
func (s *Session) CloseChat(ctx context.Context) error {
	p, err := s.parts()
	if err != nil {
		return err
	}
	p.typing.Stop()
	p.store.Close()
	p.typing.SetOpenChat("")
	p.rooms.Switch(ctx, "")
	s.changed()
	return nil
}

// StartChat opens, creating if needed, the one-to-one chat with userID and
// puts it at the top of the chat list.
func (s *Session) StartChat(ctx context.Context, userID string) (models.Chat, error) {
	p, err := s.parts()
	if err != nil {
		return models.Chat{}, err
	}
	c, err := s.api.AccessChat(ctx, userID)
	if err != nil {
		return models.Chat{}, err
	}
	p.store.UpsertChat(c)
	s.changed()
	return c, nil
}

func (s *Session) CreateGroup(ctx context.Context, name string, userIDs []string) (models.Chat, error) {
	p, err := s.parts()
	if err != nil {
		return models.Chat{}, err
	}
	c, err := s.api.CreateGroup(ctx, name, userIDs)
	if err != nil {
		return models.Chat{}, err
	}
	p.store.UpsertChat(c)
	s.changed()
	return c, nil
}

// SetDraft replaces the compose box without signalling typing.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Keystroke updates the draft and tells the open chat the user is typing.
func (s *Session) Keystroke(text string) {
	s.SetDraft(text)
	p, err := s.parts()
	if err != nil {
		return
	}
	if chatID := p.store.OpenChat(); chatID != "" && text != "" {
		p.typing.Keystroke(chatID)
	}
}

// Submit sends the draft to the open chat. The draft is cleared right away
// and restored verbatim if the send fails after every retry.
func (s *Session) Submit(ctx context.Context) (models.Message, error) {
	p, err := s.parts()
	if err != nil {
		return models.Message{}, err
	}
	chatID := p.store.OpenChat()
	if chatID == "" {
		return models.Message{}, ErrNoOpenChat
	}

	s.mu.Lock()
	body := s.draft
	if strings.TrimSpace(body) == "" {
		s.mu.Unlock()
		return models.Message{}, ErrEmptyMessage
	}
	s.draft = ""
	s.mu.Unlock()

	p.typing.Stop()

	m, err := s.sender.Send(ctx, chatID, body)
	if err != nil {
		s.SetDraft(body)
		slog.Error("message not sent", "chat_id", chatID, "retries", s.sender.RetryCount(), "error", err)
		if s.cfg.OnWarning != nil {
			s.cfg.OnWarning(fmt.Sprintf("message not sent: %v", err))
		}
		return models.Message{}, err
	}

	p.store.AppendConfirmed(m)
	s.relay(ctx, m)
	s.changed()
	return m, nil
}

// relay forwards a persisted message to the other members. It is skipped
// while disconnected, the message is already stored either way.
func (s *Session) relay(ctx context.Context, m models.Message) {
	s.mu.Lock()
	manager := s.manager
	s.mu.Unlock()
	if manager == nil {
		return
	}

	sock := manager.GetConnection(ctx)
	if sock == nil || !sock.Connected() {
		slog.Warn("realtime unavailable, message not relayed", "message_id", m.ID, "chat_id", m.ChatID)
		return
	}
	if err := sock.Emit(models.EventNewMessage, m); err != nil {
		slog.Warn("relaying message failed", "message_id", m.ID, "error", err)
	}
}

// Logout tears down realtime state and revokes the token.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	manager, coordinator, cancel, unsubs := s.manager, s.typing, s.cancel, s.unsubs
	s.self = models.User{}
	s.manager, s.rooms, s.typing, s.store = nil, nil, nil, nil
	s.subscribed, s.unsubs, s.cancel = nil, nil, nil
	s.draft = ""
	s.mu.Unlock()

	if manager == nil {
		return ErrNotLoggedIn
	}
	for _, unsub := range unsubs {
		unsub()
	}
	coordinator.Close()
	cancel()
	if err := manager.Disconnect(); err != nil {
		slog.Warn("closing realtime connection failed", "error", err)
	}
	return s.api.Logout(ctx)
}
