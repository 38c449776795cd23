package chatstore

import (
	"slices"
	"sync"

	"mechat/internal/models"

	mapset "github.com/deckarep/golang-set/v2"
)

// Store is the client's view of its chats: the chat list ordered by latest
// activity, the thread of the open chat, unread markers and the queue of
// notifications for chats that are not open.
//
// Every message id appears at most once in the thread and at most once in
// the notification queue, however many times it is delivered.
type Store struct {
	selfID string

	mu            sync.Mutex
	chats         []models.Chat
	open          string
	thread        []models.Message
	seen          mapset.Set[string]
	unread        map[string]int
	notifications []models.Message
	// every message id applied so far, so late duplicates never notify
	known mapset.Set[string]
}

func New(selfID string) *Store {
	return &Store{
		selfID: selfID,
		seen:   mapset.NewThreadUnsafeSet[string](),
		unread: make(map[string]int),
		known:  mapset.NewThreadUnsafeSet[string](),
	}
}

// SetChats replaces the chat list, keeping the given order.
func (s *Store) SetChats(chats []models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = slices.Clone(chats)
}

// UpsertChat puts chat at the head of the list, replacing an older copy.
func (s *Store) UpsertChat(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moveToHeadLocked(chat.ID, &chat)
}

// RemoveChat drops a chat the user left or was removed from.
func (s *Store) RemoveChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = slices.DeleteFunc(s.chats, func(c models.Chat) bool { return c.ID == chatID })
	delete(s.unread, chatID)
	s.clearNotificationsLocked(chatID)
	if s.open == chatID {
		s.closeLocked()
	}
}

// moveToHeadLocked moves chatID to the front. When replacement is given it
// overwrites the stored chat, and it is inserted if the chat is unknown.
func (s *Store) moveToHeadLocked(chatID string, replacement *models.Chat) *models.Chat {
	idx := slices.IndexFunc(s.chats, func(c models.Chat) bool { return c.ID == chatID })
	var chat models.Chat
	switch {
	case replacement != nil:
		chat = *replacement
	case idx >= 0:
		chat = s.chats[idx]
	default:
		return nil
	}
	if idx >= 0 {
		s.chats = slices.Delete(s.chats, idx, idx+1)
	}
	s.chats = slices.Insert(s.chats, 0, chat)
	return &s.chats[0]
}

func (s *Store) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.chats)
}

// Open makes chatID the open chat with the given history as its thread,
// and clears its unread marker and notifications. Notifications for the
// chat that the history does not hold yet are appended after it.
func (s *Store) Open(chatID string, history []models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked()
	s.open = chatID
	for _, m := range history {
		s.appendLocked(m)
	}
	for _, m := range s.notifications {
		if m.ChatID == chatID {
			s.appendLocked(m)
		}
	}
	delete(s.unread, chatID)
	s.clearNotificationsLocked(chatID)
}

// Close leaves the open chat. Later messages for it count as unread.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Store) closeLocked() {
	s.open = ""
	s.thread = nil
	s.seen.Clear()
}

func (s *Store) appendLocked(m models.Message) bool {
	if !s.seen.Add(m.ID) {
		return false
	}
	s.known.Add(m.ID)
	s.thread = append(s.thread, m)
	return true
}

// Receive applies a delivered message. It reports whether the message was
// appended to the open thread.
func (s *Store) Receive(m models.Message) bool {
	return s.apply(m, false)
}

// AppendConfirmed applies the canonical message returned for the user's own
// send. It never marks anything unread.
func (s *Store) AppendConfirmed(m models.Message) bool {
	return s.apply(m, true)
}

func (s *Store) apply(m models.Message, own bool) bool {
	chatID := m.ChatID
	if chatID == "" && m.Chat != nil {
		chatID = m.Chat.ID
	}
	if m.ID == "" || chatID == "" {
		return false
	}
	m.ChatID = chatID

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.moveToHeadLocked(chatID, nil)
	if chat == nil && m.Chat != nil {
		fresh := *m.Chat
		fresh.LatestMessage = nil
		chat = s.moveToHeadLocked(chatID, &fresh)
	}
	if chat != nil {
		latest := m
		latest.Chat = nil
		chat.LatestMessage = &latest
	}

	if chatID == s.open {
		return s.appendLocked(m)
	}
	if own || m.SenderID == s.selfID {
		return false
	}
	if !s.known.Add(m.ID) {
		return false
	}
	s.notifications = append(s.notifications, m)
	s.unread[chatID]++
	return false
}

// Thread returns the open chat's messages in arrival order.
func (s *Store) Thread() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.thread)
}

func (s *Store) OpenChat() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

func (s *Store) Unread(chatID string) bool {
	return s.UnreadCount(chatID) > 0
}

func (s *Store) UnreadCount(chatID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[chatID]
}

// Notifications returns queued messages for chats that are not open, oldest first.
func (s *Store) Notifications() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notifications)
}

func (s *Store) clearNotificationsLocked(chatID string) {
	s.notifications = slices.DeleteFunc(s.notifications, func(m models.Message) bool {
		return m.ChatID == chatID
	})
}
