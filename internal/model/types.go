package model

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// DeliveryState tracks an outgoing message's progress towards the server.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "pending"
	DeliverySent    DeliveryState = "sent"
	DeliveryFailed  DeliveryState = "failed"
)

// ReadState is monotonic: unread may become read, never the reverse.
type ReadState string

const (
	Unread ReadState = "unread"
	Read   ReadState = "read"
)

// MaxReadState returns the later of two read states.
func MaxReadState(a, b ReadState) ReadState {
	if a == Read || b == Read {
		return Read
	}
	return Unread
}

// Message is a chat message as shown in a conversation.
type Message struct {
	ServerID       string
	LocalID        string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	CreatedAt      time.Time
	DeliveryState  DeliveryState
	ReadState      ReadState
}

// Confirmed reports whether the backend has acknowledged the message.
func (m Message) Confirmed() bool {
	return m.ServerID != ""
}

// PendingSend is the optimistic shadow of a message whose server id is not
// yet known. Attempts and LastError back the retry affordance.
type PendingSend struct {
	Message
	Attempts  int
	LastError string
}

// ConversationKey returns the order-independent key for a pair of participants.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, ":")
}

// NotificationType enumerates the kinds of notification the feed understands.
type NotificationType string

const (
	NotifyTournament NotificationType = "tournament"
	NotifyMatch      NotificationType = "match"
	NotifyFriend     NotificationType = "friend"
	NotifyMessage    NotificationType = "message"
	NotifyReward     NotificationType = "reward"
	NotifySystem     NotificationType = "system"
)

// ParseNotificationType maps unknown kinds to NotifySystem.
func ParseNotificationType(s string) NotificationType {
	switch t := NotificationType(strings.ToLower(s)); t {
	case NotifyTournament, NotifyMatch, NotifyFriend, NotifyMessage, NotifyReward, NotifySystem:
		return t
	default:
		return NotifySystem
	}
}

// NotificationItem is one entry of the user's notification feed.
type NotificationItem struct {
	ID        string
	Type      NotificationType
	Title     string
	Body      string
	CreatedAt time.Time
	ReadState ReadState
	Payload   json.RawMessage
	DayBucket string
}

// DayBucket returns the local calendar day of t in loc, formatted YYYY-MM-DD.
func DayBucket(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(time.DateOnly)
}

// PresenceKind is the kind of a presence signal.
type PresenceKind string

const (
	PresenceTyping     PresenceKind = "typing"
	PresenceStopTyping PresenceKind = "stop_typing"
	PresenceOnline     PresenceKind = "online"
	PresenceOffline    PresenceKind = "offline"
)

// PresenceEvent is a presence signal about a peer.
type PresenceEvent struct {
	PeerID    string
	Kind      PresenceKind
	Timestamp time.Time
}
