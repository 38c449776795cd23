package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"mechat/internal/content"
	"mechat/internal/models"
	"mechat/internal/storage"

	"github.com/google/uuid"
)

// MinGroupPeers is the number of users, besides the creator, a group needs.
const MinGroupPeers = 2

type Store interface {
	GetUser(id string) (storage.DBUser, error)
	UpsertChat(chat storage.DBChat) error
	GetChat(id string) (storage.DBChat, error)
	ListChats(userID string) ([]storage.DBChat, error)
	CreateMessage(message storage.DBMessage) (storage.DBMessage, error)
	GetMessage(id string) (storage.DBMessage, error)
	ListMessages(chatID string) ([]storage.DBMessage, error)
	SetLatestMessage(chatID, messageID string) error
}

// Service is the durable side of chatting: chats, groups and message history.
// Realtime delivery is not its concern.
type Service struct {
	store Store
	now   func() time.Time

	// serializes read-modify-write of chat records
	mu sync.Mutex
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func toUser(u storage.DBUser) models.User {
	return models.User{ID: u.ID, Name: u.Name, Email: u.Email, Pic: u.Pic}
}

func (s *Service) user(id string) (models.User, error) {
	u, err := s.store.GetUser(id)
	if err != nil {
		return models.User{}, err
	}
	return toUser(u), nil
}

func (s *Service) message(m storage.DBMessage) models.Message {
	msg := models.Message{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		ChatID:    m.ChatID,
		CreatedAt: time.Unix(0, m.CreatedAt).UTC(),
	}
	if sender, err := s.user(m.SenderID); err == nil {
		msg.Sender = &sender
	}
	if html, err := content.Render(m.Content); err == nil {
		msg.ContentHTML = html
	}
	return msg
}

// populate resolves member ids, the admin and the latest message.
func (s *Service) populate(c storage.DBChat) (models.Chat, error) {
	chat := models.Chat{
		ID:          c.ID,
		ChatName:    c.Name,
		IsGroupChat: c.IsGroup,
		Users:       make([]models.User, 0, len(c.UserIDs)),
		UpdatedAt:   time.Unix(0, c.UpdatedAt).UTC(),
	}
	for _, id := range c.UserIDs {
		u, err := s.user(id)
		if err != nil {
			return models.Chat{}, fmt.Errorf("chat %s member %s: %w", c.ID, id, err)
		}
		chat.Users = append(chat.Users, u)
	}
	if c.AdminID != "" {
		admin, err := s.user(c.AdminID)
		if err != nil {
			return models.Chat{}, fmt.Errorf("chat %s admin: %w", c.ID, err)
		}
		chat.GroupAdmin = &admin
	}
	if c.LatestMessageID != "" {
		m, err := s.store.GetMessage(c.LatestMessageID)
		if err != nil {
			slog.Warn("latest message missing", "chat_id", c.ID, "message_id", c.LatestMessageID, "error", err)
		} else {
			latest := s.message(m)
			chat.LatestMessage = &latest
		}
	}
	return chat, nil
}

func (s *Service) memberChat(selfID, chatID string) (storage.DBChat, error) {
	c, err := s.store.GetChat(chatID)
	if err != nil {
		return storage.DBChat{}, err
	}
	if !slices.Contains(c.UserIDs, selfID) {
		return storage.DBChat{}, fmt.Errorf("user %s is not a member of chat %s: %w", selfID, chatID, models.ErrForbidden)
	}
	return c, nil
}

// AccessChat returns the one-to-one chat between self and other,
// creating it on first access.
func (s *Service) AccessChat(selfID, otherID string) (models.Chat, error) {
	if otherID == "" {
		return models.Chat{}, invalid("userId is required")
	}
	if otherID == selfID {
		return models.Chat{}, invalid("cannot open a chat with yourself")
	}
	if _, err := s.store.GetUser(otherID); err != nil {
		return models.Chat{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chats, err := s.store.ListChats(selfID)
	if err != nil {
		return models.Chat{}, err
	}
	for _, c := range chats {
		if !c.IsGroup && len(c.UserIDs) == 2 && slices.Contains(c.UserIDs, otherID) {
			return s.populate(c)
		}
	}

	c := storage.DBChat{
		ID:        uuid.NewString(),
		UserIDs:   []string{selfID, otherID},
		UpdatedAt: s.now().UnixNano(),
	}
	if err := s.store.UpsertChat(c); err != nil {
		return models.Chat{}, err
	}
	return s.populate(c)
}

// ListChats returns the user's chats, most recently active first.
func (s *Service) ListChats(selfID string) ([]models.Chat, error) {
	chats, err := s.store.ListChats(selfID)
	if err != nil {
		return nil, err
	}
	result := make([]models.Chat, 0, len(chats))
	for _, c := range chats {
		chat, err := s.populate(c)
		if err != nil {
			return nil, err
		}
		result = append(result, chat)
	}
	return result, nil
}

// CreateGroup creates a group chat administered by self.
func (s *Service) CreateGroup(selfID, name string, userIDs []string) (models.Chat, error) {
	name = content.CleanName(name)
	if err := content.ValidateName(name); err != nil {
		return models.Chat{}, invalid("%v", err)
	}

	var members []string
	for _, id := range userIDs {
		if id == "" || id == selfID || slices.Contains(members, id) {
			continue
		}
		if _, err := s.store.GetUser(id); err != nil {
			return models.Chat{}, err
		}
		members = append(members, id)
	}
	if len(members) < MinGroupPeers {
		return models.Chat{}, invalid("more than %d users are required to form a group chat", MinGroupPeers)
	}

	c := storage.DBChat{
		ID:        uuid.NewString(),
		Name:      name,
		IsGroup:   true,
		UserIDs:   append(members, selfID),
		AdminID:   selfID,
		UpdatedAt: s.now().UnixNano(),
	}
	if err := s.store.UpsertChat(c); err != nil {
		return models.Chat{}, err
	}
	return s.populate(c)
}

func (s *Service) updateGroup(selfID, chatID string, update func(c *storage.DBChat) error) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.memberChat(selfID, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !c.IsGroup {
		return models.Chat{}, invalid("chat %s is not a group", chatID)
	}
	if err := update(&c); err != nil {
		return models.Chat{}, err
	}
	if err := s.store.UpsertChat(c); err != nil {
		return models.Chat{}, err
	}
	return s.populate(c)
}

// RenameGroup lets any member rename the group.
func (s *Service) RenameGroup(selfID, chatID, name string) (models.Chat, error) {
	name = content.CleanName(name)
	if err := content.ValidateName(name); err != nil {
		return models.Chat{}, invalid("%v", err)
	}
	return s.updateGroup(selfID, chatID, func(c *storage.DBChat) error {
		c.Name = name
		return nil
	})
}

// AddToGroup is restricted to the group admin.
func (s *Service) AddToGroup(selfID, chatID, userID string) (models.Chat, error) {
	if _, err := s.store.GetUser(userID); err != nil {
		return models.Chat{}, err
	}
	return s.updateGroup(selfID, chatID, func(c *storage.DBChat) error {
		if c.AdminID != selfID {
			return fmt.Errorf("only the group admin can add users: %w", models.ErrForbidden)
		}
		if slices.Contains(c.UserIDs, userID) {
			return fmt.Errorf("user %s is already in the group: %w", userID, models.ErrConflict)
		}
		c.UserIDs = append(c.UserIDs, userID)
		return nil
	})
}

// RemoveFromGroup lets the admin remove anyone and members remove themselves.
// When the admin leaves, the first remaining member becomes admin.
func (s *Service) RemoveFromGroup(selfID, chatID, userID string) (models.Chat, error) {
	return s.updateGroup(selfID, chatID, func(c *storage.DBChat) error {
		if c.AdminID != selfID && userID != selfID {
			return fmt.Errorf("only the group admin can remove other users: %w", models.ErrForbidden)
		}
		idx := slices.Index(c.UserIDs, userID)
		if idx < 0 {
			return fmt.Errorf("user %s is not in the group: %w", userID, models.ErrNotFound)
		}
		if len(c.UserIDs) == 1 {
			return invalid("the last member cannot leave the group")
		}
		c.UserIDs = slices.Delete(c.UserIDs, idx, idx+1)
		if c.AdminID == userID {
			c.AdminID = c.UserIDs[0]
		}
		return nil
	})
}

// SendMessage persists a message and returns its canonical form, with the
// sender and the chat's users populated for relaying.
func (s *Service) SendMessage(selfID, chatID, body string) (models.Message, error) {
	if chatID == "" {
		return models.Message{}, invalid("chatId is required")
	}
	body = content.Sanitize(body)
	if err := content.ValidateMessage(body); err != nil {
		return models.Message{}, invalid("%v", err)
	}

	c, err := s.memberChat(selfID, chatID)
	if err != nil {
		return models.Message{}, err
	}

	stored, err := s.store.CreateMessage(storage.DBMessage{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		SenderID:  selfID,
		Content:   body,
		CreatedAt: s.now().UnixNano(),
	})
	if err != nil {
		return models.Message{}, err
	}

	s.mu.Lock()
	err = s.store.SetLatestMessage(chatID, stored.ID)
	s.mu.Unlock()
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to update latest message: %w", err)
	}

	msg := s.message(stored)
	c.LatestMessageID = ""
	c.UpdatedAt = stored.CreatedAt
	chat, err := s.populate(c)
	if err != nil {
		return models.Message{}, err
	}
	msg.Chat = &chat
	return msg, nil
}

// ListMessages returns the chat history in creation order.
func (s *Service) ListMessages(selfID, chatID string) ([]models.Message, error) {
	if _, err := s.memberChat(selfID, chatID); err != nil {
		return nil, err
	}
	stored, err := s.store.ListMessages(chatID)
	if err != nil {
		return nil, err
	}
	result := make([]models.Message, 0, len(stored))
	for _, m := range stored {
		result = append(result, s.message(m))
	}
	return result, nil
}

// IsMember reports whether the user belongs to the chat.
// Unknown chats report false without an error.
func (s *Service) IsMember(userID, chatID string) (bool, error) {
	c, err := s.store.GetChat(chatID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return slices.Contains(c.UserIDs, userID), nil
}
