package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mechat/internal/models"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers      = []byte("users")
	bucketEmails     = []byte("emails")
	bucketChats      = []byte("chats")
	bucketMessages   = []byte("messages")
	bucketMessageIDs = []byte("message_ids")
	bucketFiles      = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketUsers, bucketEmails, bucketChats, bucketMessages, bucketMessageIDs, bucketFiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

func normalizeEmail(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

// CreateUser stores a new user. Emails are unique, case-insensitively.
func (s *BboltStorage) CreateUser(user DBUser) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		emails := tx.Bucket(bucketEmails)
		emailKey := normalizeEmail(user.Email)
		if emails.Get(emailKey) != nil {
			return fmt.Errorf("email %s: %w", user.Email, models.ErrConflict)
		}

		users := tx.Bucket(bucketUsers)
		if users.Get(user.Key()) != nil {
			return fmt.Errorf("user %s: %w", user.ID, models.ErrConflict)
		}

		data, err := user.MarshalBinary()
		if err != nil {
			return err
		}
		if err := users.Put(user.Key(), data); err != nil {
			return err
		}
		return emails.Put(emailKey, user.Key())
	})
}

// UpdateUser replaces profile fields of an existing user. Email is immutable.
func (s *BboltStorage) UpdateUser(user DBUser) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		existing := b.Get(user.Key())
		if existing == nil {
			return fmt.Errorf("user %s: %w", user.ID, models.ErrNotFound)
		}
		var prev DBUser
		if err := prev.UnmarshalBinary(existing); err != nil {
			return err
		}
		user.Email = prev.Email
		data, err := user.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(user.Key(), data)
	})
}

func (s *BboltStorage) GetUser(id string) (DBUser, error) {
	var user DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
		}
		return user.UnmarshalBinary(data)
	})
	return user, err
}

func (s *BboltStorage) GetUserByEmail(email string) (DBUser, error) {
	var user DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get(normalizeEmail(email))
		if id == nil {
			return fmt.Errorf("email %s: %w", email, models.ErrNotFound)
		}
		data := tx.Bucket(bucketUsers).Get(id)
		if data == nil {
			return fmt.Errorf("user %s: %w", string(id), models.ErrNotFound)
		}
		return user.UnmarshalBinary(data)
	})
	return user, err
}

// ListUsers returns all users ordered by name.
func (s *BboltStorage) ListUsers() ([]DBUser, error) {
	var users []DBUser
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var u DBUser
			if err := u.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, u)
			return nil
		})
	})
	sort.Slice(users, func(i, j int) bool {
		return users[i].Name < users[j].Name
	})
	return users, err
}

// UpsertChat saves chat struct to the database.
func (s *BboltStorage) UpsertChat(chat DBChat) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := chat.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketChats).Put(chat.Key(), data)
	})
}

func (s *BboltStorage) GetChat(id string) (DBChat, error) {
	var chat DBChat
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketChats).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("chat %s: %w", id, models.ErrNotFound)
		}
		return chat.UnmarshalBinary(data)
	})
	return chat, err
}

// ListChats returns chats the user is a member of, most recently active first.
func (s *BboltStorage) ListChats(userID string) ([]DBChat, error) {
	var chats []DBChat
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketChats).ForEach(func(k, v []byte) error {
			var c DBChat
			if err := c.UnmarshalBinary(v); err != nil {
				return err
			}
			for _, id := range c.UserIDs {
				if id == userID {
					chats = append(chats, c)
					break
				}
			}
			return nil
		})
	})
	sort.SliceStable(chats, func(i, j int) bool {
		return chats[i].UpdatedAt > chats[j].UpdatedAt
	})
	return chats, err
}

// CreateMessage appends a message to its chat and assigns its sequence number.
func (s *BboltStorage) CreateMessage(message DBMessage) (DBMessage, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if message.ChatID == "" {
			return errors.New("message missing chatID")
		}
		if tx.Bucket(bucketChats).Get([]byte(message.ChatID)) == nil {
			return fmt.Errorf("chat %s: %w", message.ChatID, models.ErrNotFound)
		}

		chatBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.ChatID))
		if err != nil {
			return fmt.Errorf("failed to create chat bucket: %w", err)
		}

		seq, err := chatBucket.NextSequence()
		if err != nil {
			return err
		}
		message.Seq = seq

		data, err := message.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := chatBucket.Put(message.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		ref, err := msgpack.Marshal(messageRef{ChatID: message.ChatID, Seq: seq})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessageIDs).Put([]byte(message.ID), ref)
	})
	return message, err
}

func (s *BboltStorage) GetMessage(id string) (DBMessage, error) {
	var msg DBMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		return getMessage(tx, id, &msg)
	})
	return msg, err
}

func getMessage(tx *bbolt.Tx, id string, msg *DBMessage) error {
	refData := tx.Bucket(bucketMessageIDs).Get([]byte(id))
	if refData == nil {
		return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	var ref messageRef
	if err := msgpack.Unmarshal(refData, &ref); err != nil {
		return err
	}
	chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(ref.ChatID))
	if chatBucket == nil {
		return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	data := chatBucket.Get(seqKey(ref.Seq))
	if data == nil {
		return fmt.Errorf("message %s: %w", id, models.ErrNotFound)
	}
	return msg.UnmarshalBinary(data)
}

// ListMessages returns chat messages in creation order.
func (s *BboltStorage) ListMessages(chatID string) ([]DBMessage, error) {
	var messages []DBMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		chatBucket := tx.Bucket(bucketMessages).Bucket([]byte(chatID))
		if chatBucket == nil {
			return nil // No messages for this chat
		}
		return chatBucket.ForEach(func(k, v []byte) error {
			var m DBMessage
			if err := m.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, m)
			return nil
		})
	})
	return messages, err
}

// SetLatestMessage points the chat at messageID and bumps its activity time
// to the message's creation time.
func (s *BboltStorage) SetLatestMessage(chatID, messageID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		chats := tx.Bucket(bucketChats)
		data := chats.Get([]byte(chatID))
		if data == nil {
			return fmt.Errorf("chat %s: %w", chatID, models.ErrNotFound)
		}
		var chat DBChat
		if err := chat.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal chat: %w", err)
		}

		var msg DBMessage
		if err := getMessage(tx, messageID, &msg); err != nil {
			return err
		}
		if msg.ChatID != chatID {
			return fmt.Errorf("message %s belongs to chat %s: %w", messageID, msg.ChatID, models.ErrInvalidInput)
		}

		chat.LatestMessageID = messageID
		if msg.CreatedAt > chat.UpdatedAt {
			chat.UpdatedAt = msg.CreatedAt
		}
		newData, err := chat.MarshalBinary()
		if err != nil {
			return err
		}
		return chats.Put(chat.Key(), newData)
	})
}
