package models

import (
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// DefaultPic is assigned to users who register without a picture.
const DefaultPic = "https://icon-library.com/images/anonymous-avatar-icon/anonymous-avatar-icon-25.jpg"

// User represents a user in the system.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Pic   string `json:"pic"`
}

// Chat represents a one-to-one or group conversation.
type Chat struct {
	ID            string    `json:"id"`
	ChatName      string    `json:"chatName"`
	IsGroupChat   bool      `json:"isGroupChat"`
	Users         []User    `json:"users"`
	LatestMessage *Message  `json:"latestMessage,omitempty"` // weak reference, the chat does not own it
	GroupAdmin    *User     `json:"groupAdmin,omitempty"`    // only meaningful for group chats
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasMember reports whether userID is in the chat's user set.
func (c Chat) HasMember(userID string) bool {
	return slices.ContainsFunc(c.Users, func(u User) bool { return u.ID == userID })
}

// UserIDs returns member ids in chat order.
func (c Chat) UserIDs() []string {
	ids := make([]string, 0, len(c.Users))
	for _, u := range c.Users {
		ids = append(ids, u.ID)
	}
	return ids
}

// Validate checks the structural invariants of a chat.
func (c Chat) Validate() error {
	if c.ID == "" {
		return errors.New("chat id is required")
	}
	if len(c.Users) == 0 {
		return errors.New("chat has no users")
	}
	if c.GroupAdmin != nil {
		if !c.IsGroupChat {
			return errors.New("group admin set on a non-group chat")
		}
		if !c.HasMember(c.GroupAdmin.ID) {
			return errors.New("group admin is not a member of the chat")
		}
	}
	return nil
}

// Message is the canonical, server-persisted chat message.
// It is created once and never mutated.
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	Sender      *User     `json:"sender,omitempty"`
	Content     string    `json:"content"`
	ContentHTML string    `json:"contentHtml,omitempty"`
	ChatID      string    `json:"chatId"`
	Chat        *Chat     `json:"chat,omitempty"` // populated with users when sent over the relay
	CreatedAt   time.Time `json:"createdAt"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AuthResponse is returned by registration and login.
type AuthResponse struct {
	User
	Token       string `json:"token"`
	TokenExpiry int64  `json:"tokenExpiry"`
}
