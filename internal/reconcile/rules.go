package reconcile

import (
	"time"

	"github.com/matheus3301/livesync/internal/model"
)

// MessageKey returns the identity of a message: its server id once
// confirmed, its local id before.
func MessageKey(m model.Message) string {
	if m.ServerID != "" {
		return "s:" + m.ServerID
	}
	return LocalKey(m.LocalID)
}

// LocalKey returns the key a pending message with the given local id is held under.
func LocalKey(localID string) string {
	return "l:" + localID
}

// ServerKey returns the key a confirmed message with the given server id is held under.
func ServerKey(serverID string) string {
	return "s:" + serverID
}

func messageCorrelation(m model.Message) string {
	if m.ServerID == "" || m.LocalID == "" {
		return ""
	}
	return LocalKey(m.LocalID)
}

// NormalizeMessage fills defaulted states. Confirmed messages are always sent.
func NormalizeMessage(m model.Message) model.Message {
	if m.ServerID != "" {
		m.DeliveryState = model.DeliverySent
	}
	if m.DeliveryState == "" {
		m.DeliveryState = model.DeliveryPending
	}
	if m.ReadState == "" {
		m.ReadState = model.Unread
	}
	return m
}

func combineMessage(old, in model.Message) model.Message {
	in = NormalizeMessage(in)
	if old.Confirmed() && !in.Confirmed() {
		// Late optimistic update for a message the server already confirmed.
		old.ReadState = model.MaxReadState(old.ReadState, in.ReadState)
		return old
	}
	out := in
	if out.LocalID == "" {
		out.LocalID = old.LocalID
	}
	if out.ConversationID == "" {
		out.ConversationID = old.ConversationID
	}
	if out.SenderID == "" {
		out.SenderID = old.SenderID
	}
	if out.RecipientID == "" {
		out.RecipientID = old.RecipientID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = old.CreatedAt
	}
	out.ReadState = model.MaxReadState(old.ReadState, in.ReadState)
	return out
}

// Messages are keyed by server id or local id, correlated by the local id a
// confirmed message echoes back, and ordered by CreatedAt.
var Messages = Rules[model.Message]{
	Key:         MessageKey,
	Correlation: messageCorrelation,
	Time:        func(m model.Message) time.Time { return m.CreatedAt },
	Combine:     combineMessage,
}

// NotificationKey returns the identity of a notification.
func NotificationKey(id string) string {
	return "n:" + id
}

func combineNotification(old, in model.NotificationItem) model.NotificationItem {
	out := in
	out.ReadState = model.MaxReadState(old.ReadState, in.ReadState)
	if old.DayBucket != "" {
		out.DayBucket = old.DayBucket
	}
	if out.Payload == nil {
		out.Payload = old.Payload
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = old.CreatedAt
	}
	return out
}

// Notifications are keyed by id and ordered by CreatedAt.
var Notifications = Rules[model.NotificationItem]{
	Key:     func(n model.NotificationItem) string { return NotificationKey(n.ID) },
	Time:    func(n model.NotificationItem) time.Time { return n.CreatedAt },
	Combine: combineNotification,
}
