package wire

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/livesync/internal/model"
)

// MessageRecord is a message as the backend serializes it, both in REST
// responses and in new_message pushes. LocalID is set when the message
// originated from this identity's own send.
type MessageRecord struct {
	ServerID    string    `json:"serverId,omitempty"`
	LocalID     string    `json:"localId,omitempty"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	ReadState   string    `json:"readState,omitempty"`
}

// ToModel converts the record. The conversation key is always derived from
// the participants rather than trusted from the payload.
func (r MessageRecord) ToModel() model.Message {
	m := model.Message{
		ServerID:       r.ServerID,
		LocalID:        r.LocalID,
		ConversationID: model.ConversationKey(r.SenderID, r.RecipientID),
		SenderID:       r.SenderID,
		RecipientID:    r.RecipientID,
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
		ReadState:      model.Unread,
	}
	if r.ReadState == string(model.Read) {
		m.ReadState = model.Read
	}
	if m.ServerID != "" {
		m.DeliveryState = model.DeliverySent
	} else {
		m.DeliveryState = model.DeliveryPending
	}
	return m
}

// MessageRecordFrom converts a model message for the wire.
func MessageRecordFrom(m model.Message) MessageRecord {
	return MessageRecord{
		ServerID:    m.ServerID,
		LocalID:     m.LocalID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		CreatedAt:   m.CreatedAt,
		ReadState:   string(m.ReadState),
	}
}

// NotificationRecord is a notification as the backend serializes it.
type NotificationRecord struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	CreatedAt time.Time       `json:"createdAt"`
	ReadState string          `json:"readState,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ToModel converts the record. DayBucket is left for the feed to compute.
func (r NotificationRecord) ToModel() model.NotificationItem {
	n := model.NotificationItem{
		ID:        r.ID,
		Type:      model.ParseNotificationType(r.Type),
		Title:     r.Title,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
		ReadState: model.Unread,
		Payload:   r.Payload,
	}
	if r.ReadState == string(model.Read) {
		n.ReadState = model.Read
	}
	return n
}

// SendRequest is the body of the REST send call.
type SendRequest struct {
	RecipientID string `json:"recipientId"`
	Content     string `json:"content"`
	LocalID     string `json:"localId"`
}

// IDsRequest is the body of the batched mark-read calls.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// CountResponse is the body of the unread count call.
type CountResponse struct {
	Count int `json:"count"`
}
