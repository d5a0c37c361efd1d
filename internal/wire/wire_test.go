package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/matheus3301/livesync/internal/model"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(EventJoinRoom, RoomPayload{RoomID: "a:b"})
	if err != nil {
		t.Fatal(err)
	}
	env, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if env.Type != EventJoinRoom {
		t.Errorf("Type = %q, want %q", env.Type, EventJoinRoom)
	}
	room, err := DecodePayload[RoomPayload](env.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if room.RoomID != "a:b" {
		t.Errorf("RoomID = %q, want a:b", room.RoomID)
	}
}

func TestEncodeWithoutPayload(t *testing.T) {
	data, err := Encode(EventLeaveRoom, nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"type":"leave_room"}` {
		t.Errorf("Encode = %s", data)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", "hello"},
		{"missing type", `{"payload":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.in)); err == nil {
				t.Errorf("Decode(%s) expected error", tt.in)
			}
		})
	}
	if _, err := DecodePayload[RoomPayload](nil); err == nil {
		t.Error("DecodePayload(nil) expected error")
	}
}

func TestMessageRecordToModel(t *testing.T) {
	ts := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	raw := `{"serverId":"m1","localId":"l1","senderId":"bob","recipientId":"alice","content":"gg","createdAt":"2025-01-15T12:00:00Z","readState":"read"}`

	var rec MessageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		t.Fatal(err)
	}
	m := rec.ToModel()

	if m.ConversationID != "alice:bob" {
		t.Errorf("ConversationID = %q, want alice:bob", m.ConversationID)
	}
	if m.DeliveryState != model.DeliverySent {
		t.Errorf("DeliveryState = %s, want sent", m.DeliveryState)
	}
	if m.ReadState != model.Read {
		t.Errorf("ReadState = %s, want read", m.ReadState)
	}
	if !m.CreatedAt.Equal(ts) {
		t.Errorf("CreatedAt = %v, want %v", m.CreatedAt, ts)
	}

	back := MessageRecordFrom(m)
	if back.ServerID != "m1" || back.LocalID != "l1" || back.ReadState != "read" {
		t.Errorf("MessageRecordFrom = %+v", back)
	}
}

func TestUnconfirmedRecordIsPending(t *testing.T) {
	m := MessageRecord{LocalID: "l1", SenderID: "a", RecipientID: "b"}.ToModel()
	if m.DeliveryState != model.DeliveryPending || m.ReadState != model.Unread {
		t.Errorf("got %+v", m)
	}
}

func TestNotificationRecordToModel(t *testing.T) {
	rec := NotificationRecord{ID: "n1", Type: "tournament", Title: "Finals", Payload: json.RawMessage(`{"tournamentId":"t9"}`)}
	n := rec.ToModel()
	if n.Type != model.NotifyTournament || n.ReadState != model.Unread {
		t.Errorf("got %+v", n)
	}
	if string(n.Payload) != `{"tournamentId":"t9"}` {
		t.Errorf("Payload = %s", n.Payload)
	}
}

func TestPresencePayloadToModel(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		event string
		want  model.PresenceKind
	}{
		{EventPresenceTyping, model.PresenceTyping},
		{EventPresenceStopTyping, model.PresenceStopTyping},
		{EventPresenceOnline, model.PresenceOnline},
		{EventPresenceOffline, model.PresenceOffline},
	}
	for _, tt := range tests {
		evt, err := PresencePayload{PeerID: "p1"}.ToModel(tt.event, now)
		if err != nil {
			t.Fatalf("%s: %v", tt.event, err)
		}
		if evt.Kind != tt.want || evt.PeerID != "p1" || !evt.Timestamp.Equal(now) {
			t.Errorf("%s: got %+v", tt.event, evt)
		}
	}
	if _, err := (PresencePayload{}).ToModel(EventNewMessage, now); err == nil {
		t.Error("expected error for non-presence event")
	}
}
