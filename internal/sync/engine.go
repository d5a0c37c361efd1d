// Package sync routes push channel events into the stores.
package sync

import (
	"encoding/json"
	"time"

	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/transport"
	"github.com/matheus3301/livesync/internal/wire"
	"go.uber.org/zap"
)

// Subscriber is the event side of the push session.
type Subscriber interface {
	Subscribe(event string, h transport.Handler) transport.Token
	Unsubscribe(tok transport.Token)
}

// MessageSink receives message events.
type MessageSink interface {
	ReceivePush(msg model.Message)
	ApplyReadReceipt(ids []string, reader string)
}

// NotificationSink receives notification events.
type NotificationSink interface {
	ReceivePush(item model.NotificationItem)
}

// PresenceSink receives presence events.
type PresenceSink interface {
	HandleRemote(evt model.PresenceEvent)
}

// Engine subscribes to the inbound push events and hands them to the store
// that owns them. Handlers run on the session's read loop, so events reach
// the stores in arrival order.
type Engine struct {
	sub           Subscriber
	messages      MessageSink
	notifications NotificationSink
	presence      PresenceSink
	logger        *zap.Logger
	now           func() time.Time
	tokens        []transport.Token
}

// NewEngine creates a new push router.
func NewEngine(sub Subscriber, m MessageSink, n NotificationSink, p PresenceSink, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		sub:           sub,
		messages:      m,
		notifications: n,
		presence:      p,
		logger:        logger.Named("sync"),
		now:           time.Now,
	}
}

// Start subscribes to inbound push events.
func (e *Engine) Start() {
	e.on(wire.EventNewMessage, e.handleMessage)
	e.on(wire.EventMessageRead, e.handleRead)
	e.on(wire.EventNewNotification, e.handleNotification)
	for _, evt := range []string{
		wire.EventPresenceTyping,
		wire.EventPresenceStopTyping,
		wire.EventPresenceOnline,
		wire.EventPresenceOffline,
	} {
		e.on(evt, e.presenceHandler(evt))
	}
}

// Stop removes the subscriptions.
func (e *Engine) Stop() {
	for _, tok := range e.tokens {
		e.sub.Unsubscribe(tok)
	}
	e.tokens = nil
}

func (e *Engine) on(event string, h transport.Handler) {
	e.tokens = append(e.tokens, e.sub.Subscribe(event, h))
}

func (e *Engine) handleMessage(raw json.RawMessage) {
	rec, err := wire.DecodePayload[wire.MessageRecord](raw)
	if err != nil {
		e.logger.Warn("dropping malformed new_message", zap.Error(err))
		return
	}
	if rec.ServerID == "" {
		e.logger.Warn("dropping new_message without server id", zap.String("local_id", rec.LocalID))
		return
	}
	e.messages.ReceivePush(rec.ToModel())
}

func (e *Engine) handleRead(raw json.RawMessage) {
	p, err := wire.DecodePayload[wire.ReadReceiptPayload](raw)
	if err != nil {
		e.logger.Warn("dropping malformed message_read", zap.Error(err))
		return
	}
	e.messages.ApplyReadReceipt(p.IDs, p.Reader)
}

func (e *Engine) handleNotification(raw json.RawMessage) {
	rec, err := wire.DecodePayload[wire.NotificationRecord](raw)
	if err != nil || rec.ID == "" {
		e.logger.Warn("dropping malformed new_notification", zap.Error(err))
		return
	}
	e.notifications.ReceivePush(rec.ToModel())
}

func (e *Engine) presenceHandler(event string) transport.Handler {
	return func(raw json.RawMessage) {
		p, err := wire.DecodePayload[wire.PresencePayload](raw)
		if err != nil {
			e.logger.Debug("dropping malformed presence event", zap.String("event", event), zap.Error(err))
			return
		}
		evt, err := p.ToModel(event, e.now())
		if err != nil {
			e.logger.Debug("dropping presence event", zap.Error(err))
			return
		}
		e.presence.HandleRemote(evt)
	}
}
