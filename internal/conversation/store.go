// Package conversation keeps the per-conversation message lists. History
// pages, push deliveries and local sends all go through the same reconcile
// path, so the visible list is deduplicated and ordered whatever order they
// arrive in.
package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/reconcile"
	"github.com/matheus3301/livesync/internal/status"
	"github.com/matheus3301/livesync/internal/wire"
	"github.com/raulk/clock"
	"go.uber.org/zap"
)

// ErrSuperseded is returned by LoadHistory when a newer request replaced it
// before it finished. Its result has been discarded.
var ErrSuperseded = errors.New("history request superseded")

// ErrUnknownMessage is returned by Retry for a local id with no failed send.
var ErrUnknownMessage = errors.New("no failed send with that id")

var errNoServerID = errors.New("send response carried no server id")

// MessageAPI is the REST message collaborator.
type MessageAPI interface {
	History(ctx context.Context, peerID string, limit int, before string) ([]model.Message, error)
	Send(ctx context.Context, req wire.SendRequest) (model.Message, error)
	MarkMessagesRead(ctx context.Context, ids []string) error
	UnreadCount(ctx context.Context) (int, error)
}

// Transport is the part of the push session the store needs.
type Transport interface {
	State() status.State
	JoinRoom(ctx context.Context, room string)
	LeaveRoom(ctx context.Context, room string)
}

// Options configures a Store.
type Options struct {
	SelfID   string
	PageSize int
	Clock    clock.Clock
	NewID    func() string
}

// Switch is the payload of conversation.switched events.
type Switch struct {
	From string
	To   string
}

// Store owns the message lists of every conversation the client has touched
// and the active conversation selection.
type Store struct {
	api       MessageAPI
	transport Transport
	outbox    *outbox.Outbox
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	lists      map[string]*reconcile.List[model.Message]
	sends      map[string]*model.PendingSend
	active     string
	activePeer string
	loadGen    uint64
	loadCancel context.CancelFunc

	// roomMu serializes room moves; joined is the room this store last
	// asked the transport to join.
	roomMu sync.Mutex
	joined string
}

// New creates a store and registers its deferred-write kinds with ob.
func New(api MessageAPI, tr Transport, ob *outbox.Outbox, b *bus.Bus, logger *zap.Logger, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		api:       api,
		transport: tr,
		outbox:    ob,
		bus:       b,
		logger:    logger.Named("conversation"),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		lists:     make(map[string]*reconcile.List[model.Message]),
		sends:     make(map[string]*model.PendingSend),
	}
	ob.Register(outbox.KindSend, s.deliverQueuedSend)
	ob.Register(outbox.KindMessageRead, s.deliverQueuedAck)
	return s
}

// Wait blocks until background sends and acknowledgements finish.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Close cancels background writes and waits for them.
func (s *Store) Close() {
	s.cancel()
	s.wg.Wait()
}

// Active returns the active conversation id and peer.
func (s *Store) Active() (conversationID, peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.activePeer
}

// Messages returns a snapshot of a conversation's visible list.
func (s *Store) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.lists[conversationID]; l != nil {
		return l.Items()
	}
	return nil
}

// PendingSend returns the tracking record of an unconfirmed send.
func (s *Store) PendingSend(localID string) (model.PendingSend, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sends[localID]
	if !ok {
		return model.PendingSend{}, false
	}
	return *ps, true
}

// LoadHistory makes the conversation with peerID active, moves room
// membership over to it and merges its most recent page. Only the latest
// call's result is applied.
func (s *Store) LoadHistory(ctx context.Context, peerID string) error {
	convID := model.ConversationKey(s.opts.SelfID, peerID)

	s.mu.Lock()
	s.loadGen++
	gen := s.loadGen
	if s.loadCancel != nil {
		s.loadCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.loadCancel = cancel
	prev := s.active
	s.active, s.activePeer = convID, peerID
	s.mu.Unlock()
	defer cancel()

	s.syncRoom()
	if prev != convID {
		s.bus.Publish(bus.NewEvent(bus.KindConversationSwitch, Switch{From: prev, To: convID}))
	}

	msgs, err := s.api.History(ctx, peerID, s.opts.PageSize, "")

	s.mu.Lock()
	if gen != s.loadGen {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded history", zap.String("conversation", convID))
		return ErrSuperseded
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("history fetch failed", zap.String("conversation", convID), zap.Error(err))
		return &model.FetchError{What: "history " + peerID, Err: err}
	}
	s.mergeLocked(convID, msgs...)
	s.mu.Unlock()

	s.logger.Debug("history loaded", zap.String("conversation", convID), zap.Int("count", len(msgs)))
	s.publishUpdated(convID)
	return nil
}

// syncRoom moves room membership to whatever conversation is active when it
// runs. Overlapping switches each converge on the newest selection.
func (s *Store) syncRoom() {
	s.roomMu.Lock()
	defer s.roomMu.Unlock()

	s.mu.Lock()
	want := s.active
	s.mu.Unlock()
	if want == s.joined {
		return
	}
	if s.joined != "" {
		s.transport.LeaveRoom(s.ctx, s.joined)
	}
	s.transport.JoinRoom(s.ctx, want)
	s.joined = want
}

// LoadOlder fetches the page before the oldest confirmed message of the
// active conversation and returns how many messages it contained.
func (s *Store) LoadOlder(ctx context.Context) (int, error) {
	s.mu.Lock()
	convID, peerID := s.active, s.activePeer
	var before string
	if l := s.lists[convID]; l != nil {
		for _, m := range l.Items() {
			if m.ServerID != "" {
				before = m.ServerID
				break
			}
		}
	}
	s.mu.Unlock()
	if convID == "" {
		return 0, &model.ValidationError{Field: "conversation", Reason: "no active conversation"}
	}

	msgs, err := s.api.History(ctx, peerID, s.opts.PageSize, before)
	if err != nil {
		return 0, &model.FetchError{What: "older history " + peerID, Err: err}
	}

	s.mu.Lock()
	s.mergeLocked(convID, msgs...)
	s.mu.Unlock()
	s.publishUpdated(convID)
	return len(msgs), nil
}

// SendMessage appends an optimistic message to the active conversation and
// sends it in the background, or queues it while the push channel is down.
// The returned message is the pending copy.
func (s *Store) SendMessage(ctx context.Context, content string) (model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return model.Message{}, &model.ValidationError{Field: "content", Reason: "must not be blank"}
	}

	s.mu.Lock()
	if s.active == "" {
		s.mu.Unlock()
		return model.Message{}, &model.ValidationError{Field: "conversation", Reason: "no active conversation"}
	}
	msg := reconcile.NormalizeMessage(model.Message{
		LocalID:        s.opts.NewID(),
		ConversationID: s.active,
		SenderID:       s.opts.SelfID,
		RecipientID:    s.activePeer,
		Content:        content,
		CreatedAt:      s.opts.Clock.Now(),
	})
	ps := &model.PendingSend{Message: msg}
	s.sends[msg.LocalID] = ps
	s.mergeLocked(msg.ConversationID, msg)
	s.mu.Unlock()

	s.publishUpdated(msg.ConversationID)
	s.dispatch(*ps)
	return msg, nil
}

// Retry re-attempts a failed send.
func (s *Store) Retry(ctx context.Context, localID string) error {
	s.mu.Lock()
	ps, ok := s.sends[localID]
	if !ok || ps.DeliveryState != model.DeliveryFailed {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	ps.DeliveryState = model.DeliveryPending
	snapshot := *ps
	s.updateLocked(ps.ConversationID, reconcile.LocalKey(localID), func(m model.Message) model.Message {
		if m.Confirmed() {
			return m
		}
		m.DeliveryState = model.DeliveryPending
		return m
	})
	s.mu.Unlock()

	s.publishUpdated(snapshot.ConversationID)
	s.dispatch(snapshot)
	return nil
}

func (s *Store) dispatch(ps model.PendingSend) {
	if s.transport.State() != status.Connected {
		s.logger.Info("push channel down, queuing send", zap.String("local_id", ps.LocalID))
		s.outbox.Enqueue(outbox.Entry{ID: ps.LocalID, Kind: outbox.KindSend, Payload: ps})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.send(s.ctx, ps)
	}()
}

func (s *Store) deliverQueuedSend(ctx context.Context, e outbox.Entry) error {
	ps, ok := e.Payload.(model.PendingSend)
	if !ok {
		return nil
	}
	if _, tracked := s.PendingSend(ps.LocalID); !tracked {
		s.logger.Debug("queued send already confirmed", zap.String("local_id", ps.LocalID))
		return nil
	}
	return s.send(ctx, ps)
}

// send performs the REST call. A cancelled context leaves the message
// pending and reports the error; any other failure marks it failed.
func (s *Store) send(ctx context.Context, ps model.PendingSend) error {
	confirmed, err := s.api.Send(ctx, wire.SendRequest{
		RecipientID: ps.RecipientID,
		Content:     ps.Content,
		LocalID:     ps.LocalID,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.markFailed(ps, err)
		return nil
	}
	if confirmed.ServerID == "" {
		s.markFailed(ps, errNoServerID)
		return nil
	}
	if confirmed.LocalID == "" {
		confirmed.LocalID = ps.LocalID
	}
	confirmed.ConversationID = ps.ConversationID

	s.mu.Lock()
	s.mergeLocked(ps.ConversationID, confirmed)
	s.mu.Unlock()

	s.logger.Info("message sent", zap.String("local_id", ps.LocalID), zap.String("server_id", confirmed.ServerID))
	s.publishUpdated(ps.ConversationID)
	return nil
}

func (s *Store) markFailed(ps model.PendingSend, err error) {
	sendErr := &model.SendError{LocalID: ps.LocalID, Err: err}

	s.mu.Lock()
	if tracked, ok := s.sends[ps.LocalID]; ok {
		tracked.Attempts++
		tracked.LastError = err.Error()
		tracked.DeliveryState = model.DeliveryFailed
	}
	s.updateLocked(ps.ConversationID, reconcile.LocalKey(ps.LocalID), func(m model.Message) model.Message {
		if m.Confirmed() {
			return m
		}
		m.DeliveryState = model.DeliveryFailed
		return m
	})
	s.mu.Unlock()

	s.logger.Error("failed to send message", zap.String("local_id", ps.LocalID), zap.Error(err))
	s.bus.Publish(bus.NewEvent(bus.KindSendFailed, sendErr))
	s.publishUpdated(ps.ConversationID)
}

// ReceivePush merges a message delivered over the push channel.
func (s *Store) ReceivePush(msg model.Message) {
	msg = reconcile.NormalizeMessage(msg)
	if msg.ConversationID == "" {
		msg.ConversationID = model.ConversationKey(msg.SenderID, msg.RecipientID)
	}

	s.mu.Lock()
	s.mergeLocked(msg.ConversationID, msg)
	s.mu.Unlock()

	s.publishUpdated(msg.ConversationID)
}

// MarkRead flips the given messages to read immediately and acknowledges
// them in one batch. A failed acknowledgement is logged and never reverts
// the local state; while the push channel is down it is queued instead.
func (s *Store) MarkRead(ctx context.Context, ids []string) {
	flipped, touched := s.setRead(ids)
	for _, convID := range touched {
		s.publishUpdated(convID)
	}
	if len(flipped) == 0 {
		return
	}

	if s.transport.State() != status.Connected {
		s.outbox.Enqueue(outbox.Entry{ID: "read:" + s.opts.NewID(), Kind: outbox.KindMessageRead, Payload: flipped})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.api.MarkMessagesRead(s.ctx, flipped); err != nil {
			s.logger.Warn("read acknowledgement failed", zap.Strings("ids", flipped), zap.Error(err))
		}
	}()
}

func (s *Store) deliverQueuedAck(ctx context.Context, e outbox.Entry) error {
	ids, ok := e.Payload.([]string)
	if !ok || len(ids) == 0 {
		return nil
	}
	return s.api.MarkMessagesRead(ctx, ids)
}

// ApplyReadReceipt marks messages read after reader has seen them.
func (s *Store) ApplyReadReceipt(ids []string, reader string) {
	flipped, touched := s.setRead(ids)
	if len(flipped) > 0 {
		s.logger.Debug("read receipt", zap.String("reader", reader), zap.Strings("ids", flipped))
	}
	for _, convID := range touched {
		s.publishUpdated(convID)
	}
}

// setRead marks the messages with the given server ids read. It returns the
// ids that changed and the conversations they belong to.
func (s *Store) setRead(ids []string) (flipped, touched []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, id := range ids {
		key := reconcile.ServerKey(id)
		for convID, l := range s.lists {
			m, ok := l.Get(key)
			if !ok {
				continue
			}
			if m.ReadState != model.Read {
				l.Update(key, reconcile.Messages, func(m model.Message) model.Message {
					m.ReadState = model.Read
					return m
				})
				flipped = append(flipped, id)
				if !seen[convID] {
					seen[convID] = true
					touched = append(touched, convID)
				}
			}
			break
		}
	}
	return flipped, touched
}

// UnreadCount asks the backend for the identity's unread message count.
func (s *Store) UnreadCount(ctx context.Context) (int, error) {
	n, err := s.api.UnreadCount(ctx)
	if err != nil {
		return 0, &model.FetchError{What: "unread count", Err: err}
	}
	return n, nil
}

// mergeLocked folds msgs into a conversation. A confirmed message settles
// the tracked send with the same local id, whichever path delivered it.
func (s *Store) mergeLocked(convID string, msgs ...model.Message) {
	for i := range msgs {
		msgs[i] = reconcile.NormalizeMessage(msgs[i])
		if msgs[i].Confirmed() && msgs[i].LocalID != "" {
			delete(s.sends, msgs[i].LocalID)
		}
	}
	s.lists[convID] = reconcile.Merge(s.lists[convID], reconcile.Messages, msgs...)
}

func (s *Store) updateLocked(convID, key string, fn func(model.Message) model.Message) {
	if l := s.lists[convID]; l != nil {
		l.Update(key, reconcile.Messages, fn)
	}
}

func (s *Store) publishUpdated(convID string) {
	s.bus.Publish(bus.NewEvent(bus.KindConversationUpdated, convID))
}
