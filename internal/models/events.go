package models

import (
	"encoding/json"
	"errors"
	"strings"
)

// EventName identifies a realtime event on the wire.
type EventName string

const (
	EventSetup           EventName = "setup"
	EventConnected       EventName = "connected"
	EventJoinChat        EventName = "join chat"
	EventLeaveChat       EventName = "leave chat"
	EventTyping          EventName = "typing"
	EventStopTyping      EventName = "stop typing"
	EventNewMessage      EventName = "new message"
	EventMessageReceived EventName = "message received"
	EventAck             EventName = "ack"
)

// Envelope is a single realtime frame in either direction.
// AckID is set by the client when it wants an acknowledgment, and echoed
// back by the server on the matching "ack" frame.
type Envelope struct {
	Event EventName       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID int64           `json:"ackId,omitempty"`
}

// NewEnvelope marshals payload into a frame for event.
func NewEnvelope(event EventName, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Data = data
	return env, nil
}

// Ack answers a join/leave request.
type Ack struct {
	Error string `json:"error,omitempty"`
}

// TypingSignal is relayed for typing and stop typing.
type TypingSignal struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId,omitempty"`
}

// SetupPayload is the identity sent on setup. Extra user fields are ignored.
type SetupPayload struct {
	ID string `json:"id"`
}

// ParseRoomID accepts either a bare JSON string or an object with a chatId field.
func ParseRoomID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty payload")
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id), nil
	}
	var sig TypingSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return "", err
	}
	return strings.TrimSpace(sig.ChatID), nil
}

// ParseTypingSignal accepts the bare chat id form as well as the object form.
func ParseTypingSignal(data json.RawMessage) (TypingSignal, error) {
	var sig TypingSignal
	if err := json.Unmarshal(data, &sig); err == nil {
		sig.ChatID = strings.TrimSpace(sig.ChatID)
		return sig, nil
	}
	id, err := ParseRoomID(data)
	if err != nil {
		return TypingSignal{}, err
	}
	return TypingSignal{ChatID: id}, nil
}
