package bus

import "time"

// Event kinds published by the sync layer. Subscribers filter by prefix, so
// "conversation." receives every conversation event.
const (
	KindTransportState      = "transport.state_changed"
	KindConversationUpdated = "conversation.updated"
	KindConversationSwitch  = "conversation.switched"
	KindSendFailed          = "conversation.send_failed"
	KindNotificationUpdated = "notification.updated"
	KindPresenceChanged     = "presence.changed"
)

// Event is a change notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
