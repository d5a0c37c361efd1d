// Package wire defines the push channel's envelope format and the JSON
// records shared by the push channel and the REST collaborators.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/livesync/internal/model"
)

// Outbound push events.
const (
	EventJoinRoom   = "join_room"
	EventLeaveRoom  = "leave_room"
	EventTyping     = "typing"
	EventStopTyping = "stop_typing"
)

// Inbound push events.
const (
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventPresenceTyping     = "presence_typing"
	EventPresenceStopTyping = "presence_stop_typing"
	EventPresenceOnline     = "presence_online"
	EventPresenceOffline    = "presence_offline"
	EventNewNotification    = "new_notification"
)

// EventStateChanged is a local pseudo-event: handlers subscribed to it are
// called with a StateChangedPayload whenever the connection state changes.
const EventStateChanged = "$state_changed"

// Envelope is the wire format of every push channel frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload into an envelope of the given type.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// Decode parses a frame into an envelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals an envelope payload into T.
func DecodePayload[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("empty payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// RoomPayload is the payload of join_room and leave_room.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// TypingPayload is the payload of typing and stop_typing.
type TypingPayload struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// StateChangedPayload is passed to EventStateChanged handlers.
type StateChangedPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ReadReceiptPayload is the payload of message_read.
type ReadReceiptPayload struct {
	IDs    []string `json:"ids"`
	Reader string   `json:"reader"`
}

// PresencePayload is the payload of the inbound presence events.
type PresencePayload struct {
	PeerID string    `json:"peerId"`
	At     time.Time `json:"at,omitzero"`
}

// ToModel converts a presence payload of the given event type.
func (p PresencePayload) ToModel(eventType string, now time.Time) (model.PresenceEvent, error) {
	var kind model.PresenceKind
	switch eventType {
	case EventPresenceTyping:
		kind = model.PresenceTyping
	case EventPresenceStopTyping:
		kind = model.PresenceStopTyping
	case EventPresenceOnline:
		kind = model.PresenceOnline
	case EventPresenceOffline:
		kind = model.PresenceOffline
	default:
		return model.PresenceEvent{}, fmt.Errorf("not a presence event: %q", eventType)
	}
	ts := p.At
	if ts.IsZero() {
		ts = now
	}
	return model.PresenceEvent{PeerID: p.PeerID, Kind: kind, Timestamp: ts}, nil
}
