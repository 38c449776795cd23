package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string `msgpack:"id"`
	Name         string `msgpack:"name"`
	Email        string `msgpack:"email"`
	Pic          string `msgpack:"pic"`
	PasswordHash string `msgpack:"passwordHash"`
	CreatedAt    int64  `msgpack:"createdAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBChat struct {
	ID              string   `msgpack:"id"`
	Name            string   `msgpack:"name"`
	IsGroup         bool     `msgpack:"isGroup"`
	UserIDs         []string `msgpack:"userIds"`
	AdminID         string   `msgpack:"adminId"`
	LatestMessageID string   `msgpack:"latestMessageId"`
	UpdatedAt       int64    `msgpack:"updatedAt"` // Unix nanoseconds
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

type DBMessage struct {
	Seq       uint64 `msgpack:"seq"`
	ID        string `msgpack:"id"`
	ChatID    string `msgpack:"chatId"`
	SenderID  string `msgpack:"senderId"`
	Content   string `msgpack:"content"`
	CreatedAt int64  `msgpack:"createdAt"` // Unix nanoseconds
}

// Key orders messages inside their chat bucket by creation sequence.
func (m *DBMessage) Key() []byte {
	return seqKey(m.Seq)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

// messageRef locates a message by id without scanning chat buckets.
type messageRef struct {
	ChatID string `msgpack:"chatId"`
	Seq    uint64 `msgpack:"seq"`
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
