package ws

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"mechat/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

// MemberChecker answers whether a user belongs to a chat.
type MemberChecker interface {
	IsMember(userID, chatID string) (bool, error)
}

// PersonalRoom is the room every session of a user joins on setup.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// ChatRoom is the room of sessions that have the chat open.
func ChatRoom(chatID string) string {
	return "chat:" + chatID
}

// Relay fans events out to rooms. It holds no message state: rooms are
// sets of live sessions and disappear with their last member.
type Relay struct {
	members MemberChecker
	metrics *Metrics

	// room -> sessions
	rooms map[string]map[*Session]struct{}
	mu    sync.RWMutex
}

// NewRelay creates a relay. A nil members lets any session join any chat room.
func NewRelay(members MemberChecker, metrics *Metrics) *Relay {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Relay{
		members: members,
		metrics: metrics,
		rooms:   make(map[string]map[*Session]struct{}),
	}
}

func (r *Relay) Register(s *Session) {
	r.metrics.Sessions.Inc()
}

// Unregister drops the session from every room it joined.
func (r *Relay) Unregister(s *Session) {
	r.mu.Lock()
	for room := range s.rooms {
		r.leaveLocked(s, room)
	}
	r.mu.Unlock()
	r.metrics.Sessions.Dec()
}

func (r *Relay) join(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (r *Relay) leave(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(s, room)
}

func (r *Relay) leaveLocked(s *Session, room string) {
	delete(s.rooms, room)
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

func (r *Relay) inRoom(s *Session, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// RoomSize returns the number of sessions in room.
func (r *Relay) RoomSize(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// emit broadcasts env to every session in room except the given one.
func (r *Relay) emit(room, kind string, except *Session, env models.Envelope) {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.rooms[room]))
	for s := range r.rooms[room] {
		if s != except {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	r.metrics.Emissions.WithLabelValues(kind).Inc()
	for _, s := range targets {
		r.deliver(s, env)
	}
}

func (r *Relay) deliver(s *Session, env models.Envelope) {
	if s.enqueue(env) {
		return
	}
	r.metrics.Dropped.WithLabelValues(dropQueueFull).Inc()
	slog.Warn("outbound queue full, frame dropped", "session_id", s.ID, "user_id", s.UserID, "event", env.Event)
}

func (r *Relay) ack(s *Session, req models.Envelope, errMsg string) {
	if req.AckID == 0 {
		return
	}
	reply, err := models.NewEnvelope(models.EventAck, models.Ack{Error: errMsg})
	if err != nil {
		slog.Error("failed to encode ack", "error", err)
		return
	}
	reply.AckID = req.AckID
	r.deliver(s, reply)
}

func (r *Relay) drop(s *Session, env models.Envelope, reason, msg string) {
	r.metrics.Dropped.WithLabelValues(reason).Inc()
	slog.Warn("event dropped", "reason", msg, "event", env.Event, "session_id", s.ID, "user_id", s.UserID)
}

func (r *Relay) isMember(userID, chatID string) bool {
	if r.members == nil {
		return true
	}
	ok, err := r.members.IsMember(userID, chatID)
	if err != nil {
		slog.Error("membership lookup failed", "user_id", userID, "chat_id", chatID, "error", err)
		return false
	}
	return ok
}

// Dispatch handles one inbound event. Malformed events are logged and
// ignored, never fatal to the session.
func (r *Relay) Dispatch(s *Session, env models.Envelope) {
	switch env.Event {
	case models.EventSetup:
		r.handleSetup(s, env)
	case models.EventJoinChat:
		r.handleJoin(s, env)
	case models.EventLeaveChat:
		r.handleLeave(s, env)
	case models.EventTyping, models.EventStopTyping:
		r.handleTyping(s, env)
	case models.EventNewMessage:
		r.handleNewMessage(s, env)
	default:
		r.drop(s, env, dropUnknownEvent, "unknown event")
	}
}

func (r *Relay) handleSetup(s *Session, env models.Envelope) {
	var p models.SetupPayload
	if err := json.Unmarshal(env.Data, &p); err != nil || strings.TrimSpace(p.ID) == "" {
		r.drop(s, env, dropMalformed, "setup without id")
		return
	}
	if p.ID != s.UserID {
		r.drop(s, env, dropMalformed, "setup id does not match the authenticated user")
		return
	}

	r.join(s, PersonalRoom(p.ID))
	connected, _ := models.NewEnvelope(models.EventConnected, nil)
	r.deliver(s, connected)
}

func (r *Relay) handleJoin(s *Session, env models.Envelope) {
	chatID, err := models.ParseRoomID(env.Data)
	if err != nil || chatID == "" {
		r.drop(s, env, dropMalformed, "join without room id")
		r.ack(s, env, "room id is required")
		return
	}
	if !r.isMember(s.UserID, chatID) {
		r.drop(s, env, dropForbidden, "join of a chat the user is not in")
		r.ack(s, env, "not a member of this chat")
		return
	}
	r.join(s, ChatRoom(chatID))
	r.ack(s, env, "")
}

func (r *Relay) handleLeave(s *Session, env models.Envelope) {
	chatID, err := models.ParseRoomID(env.Data)
	if err != nil || chatID == "" {
		r.drop(s, env, dropMalformed, "leave without room id")
		r.ack(s, env, "room id is required")
		return
	}
	r.leave(s, ChatRoom(chatID))
	r.ack(s, env, "")
}

func (r *Relay) handleTyping(s *Session, env models.Envelope) {
	chatID, err := models.ParseRoomID(env.Data)
	if err != nil || chatID == "" {
		r.drop(s, env, dropMalformed, "typing without room id")
		return
	}
	room := ChatRoom(chatID)
	if !r.inRoom(s, room) {
		r.drop(s, env, dropForbidden, "typing into a room the session has not joined")
		return
	}
	out, err := models.NewEnvelope(env.Event, models.TypingSignal{ChatID: chatID, UserID: s.UserID})
	if err != nil {
		slog.Error("failed to encode typing signal", "error", err)
		return
	}
	r.emit(room, roomKindChat, s, out)
}

func (r *Relay) handleNewMessage(s *Session, env models.Envelope) {
	var msg models.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		r.drop(s, env, dropMalformed, "message is not valid json")
		return
	}
	if msg.Chat == nil || len(msg.Chat.Users) == 0 {
		r.drop(s, env, dropMalformed, "message without chat users")
		return
	}

	senderID := msg.SenderID
	if msg.Sender != nil && msg.Sender.ID != "" {
		senderID = msg.Sender.ID
	}
	if senderID != s.UserID {
		r.drop(s, env, dropMalformed, "message sender does not match the authenticated user")
		return
	}

	chatID := msg.Chat.ID
	if chatID == "" {
		chatID = msg.ChatID
	}
	if chatID == "" {
		r.drop(s, env, dropMalformed, "message without chat id")
		return
	}
	if !r.isMember(s.UserID, chatID) {
		r.drop(s, env, dropForbidden, "message for a chat the user is not in")
		return
	}

	// Payload recipients must be stored members and get one copy each.
	recipients := mapset.NewThreadUnsafeSet[string]()
	for _, u := range msg.Chat.Users {
		if u.ID == "" || u.ID == senderID || recipients.Contains(u.ID) {
			continue
		}
		if !r.isMember(u.ID, chatID) {
			slog.Warn("message recipient is not a chat member", "chat_id", chatID, "user_id", u.ID, "session_id", s.ID)
			continue
		}
		recipients.Add(u.ID)
	}

	out := models.Envelope{Event: models.EventMessageReceived, Data: env.Data}
	for _, id := range recipients.ToSlice() {
		r.emit(PersonalRoom(id), roomKindPersonal, s, out)
	}
	r.emit(ChatRoom(chatID), roomKindChat, s, out)
}
