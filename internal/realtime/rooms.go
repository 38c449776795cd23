package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mechat/internal/models"
)

type connectionSource interface {
	current() *Socket
}

// Rooms tracks the one chat room the client has open. Joins and leaves
// never fail the caller: problems are logged and the chat keeps working
// over REST alone.
type Rooms struct {
	conns   connectionSource
	timeout time.Duration

	mu   sync.Mutex
	open string
}

func NewRooms(m *Manager) *Rooms {
	return &Rooms{conns: m, timeout: m.cfg.AckTimeout}
}

// Open returns the id of the chat whose room is joined, if any.
func (r *Rooms) Open() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

func (r *Rooms) request(ctx context.Context, event models.EventName, chatID string) {
	if chatID == "" {
		return
	}
	s := r.conns.current()
	if s == nil || !s.Connected() {
		slog.Warn("realtime unavailable, skipping room request", "event", event, "chat_id", chatID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ack, err := s.EmitWithAck(ctx, event, chatID)
	if err != nil {
		slog.Warn("room request not acknowledged", "event", event, "chat_id", chatID, "error", err)
		return
	}
	if ack.Error != "" {
		slog.Warn("room request rejected", "event", event, "chat_id", chatID, "error", ack.Error)
	}
}

// JoinChat returns within the ack timeout whatever the server does.
func (r *Rooms) JoinChat(ctx context.Context, chatID string) {
	r.request(ctx, models.EventJoinChat, chatID)
}

func (r *Rooms) LeaveChat(ctx context.Context, chatID string) {
	r.request(ctx, models.EventLeaveChat, chatID)
}

// Switch makes chatID the open chat, leaving the previous room while joining
// the new one. An empty chatID just leaves.
func (r *Rooms) Switch(ctx context.Context, chatID string) {
	r.mu.Lock()
	prev := r.open
	r.open = chatID
	r.mu.Unlock()

	var wg sync.WaitGroup
	if prev != "" && prev != chatID {
		wg.Go(func() { r.LeaveChat(ctx, prev) })
	}
	wg.Go(func() { r.JoinChat(ctx, chatID) })
	wg.Wait()
}

// Rejoin joins the open chat again. Rooms are lost on a transport
// reconnect, so it runs after every connect.
func (r *Rooms) Rejoin(ctx context.Context) {
	r.JoinChat(ctx, r.Open())
}
