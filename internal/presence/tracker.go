// Package presence tracks typing and online indicators. Everything here is
// advisory: emits are fire-and-forget and lost events only hide an
// indicator.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/wire"
	"github.com/raulk/clock"
	"go.uber.org/zap"
)

// Emitter sends push channel events.
type Emitter interface {
	Emit(ctx context.Context, event string, payload any) error
}

// Options configures a Tracker.
type Options struct {
	SelfID        string
	Debounce      time.Duration
	StopTimeout   time.Duration
	RemoteTimeout time.Duration
	EmitTimeout   time.Duration
	Clock         clock.Clock
}

func (o *Options) defaults() {
	if o.Debounce <= 0 {
		o.Debounce = 2 * time.Second
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 2 * time.Second
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 3 * time.Second
	}
	if o.EmitTimeout <= 0 {
		o.EmitTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Change is the payload of presence.changed events.
type Change struct {
	PeerID string
	Typing bool
	Online bool
}

// local is our own typing signal towards one peer. announced is true for the
// debounce window after a typing emit; pending records input seen inside it.
type local struct {
	announced bool
	pending   bool
	windowSeq uint64
	stopSeq   uint64
	window    *clock.Timer
	stop      *clock.Timer
}

type remote struct {
	seq   uint64
	timer *clock.Timer
}

// Tracker runs the per-peer typing state machines and the online set.
type Tracker struct {
	emitter Emitter
	bus     *bus.Bus
	logger  *zap.Logger
	opts    Options

	mu     sync.Mutex
	seq    uint64
	local  map[string]*local
	typing map[string]*remote
	online map[string]bool
}

// New creates a tracker.
func New(e Emitter, b *bus.Bus, logger *zap.Logger, opts Options) *Tracker {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		emitter: e,
		bus:     b,
		logger:  logger.Named("presence"),
		opts:    opts,
		local:   make(map[string]*local),
		typing:  make(map[string]*remote),
		online:  make(map[string]bool),
	}
}

func (t *Tracker) next() uint64 {
	t.seq++
	return t.seq
}

// InputChanged records a local keystroke in the conversation with peerID.
// The first keystroke emits typing at once; keystrokes inside the debounce
// window are folded into one heartbeat emitted when it ends; stop_typing is
// emitted once after StopTimeout without input.
func (t *Tracker) InputChanged(peerID string) {
	t.mu.Lock()
	st := t.local[peerID]
	if st == nil {
		st = &local{}
		t.local[peerID] = st
	}
	announce := !st.announced
	if announce {
		st.announced = true
		st.pending = false
		t.armWindow(peerID, st)
	} else {
		st.pending = true
	}

	if st.stop != nil {
		st.stop.Stop()
	}
	st.stopSeq = t.next()
	seq := st.stopSeq
	st.stop = t.opts.Clock.AfterFunc(t.opts.StopTimeout, func() { t.stopElapsed(peerID, seq) })
	t.mu.Unlock()

	if announce {
		t.emit(wire.EventTyping, peerID)
	}
}

func (t *Tracker) armWindow(peerID string, st *local) {
	st.windowSeq = t.next()
	seq := st.windowSeq
	st.window = t.opts.Clock.AfterFunc(t.opts.Debounce, func() { t.windowElapsed(peerID, seq) })
}

func (t *Tracker) windowElapsed(peerID string, seq uint64) {
	t.mu.Lock()
	st := t.local[peerID]
	if st == nil || st.windowSeq != seq {
		t.mu.Unlock()
		return
	}
	heartbeat := st.pending
	if heartbeat {
		st.pending = false
		t.armWindow(peerID, st)
	} else {
		st.announced = false
		st.window = nil
	}
	t.mu.Unlock()

	if heartbeat {
		t.emit(wire.EventTyping, peerID)
	}
}

func (t *Tracker) stopElapsed(peerID string, seq uint64) {
	t.mu.Lock()
	st := t.local[peerID]
	if st == nil || st.stopSeq != seq {
		t.mu.Unlock()
		return
	}
	t.resetLocked(peerID, st)
	t.mu.Unlock()

	t.emit(wire.EventStopTyping, peerID)
}

// StopTyping ends the local typing signal towards peerID right away, for
// example after the message was sent. It is a no-op when idle.
func (t *Tracker) StopTyping(peerID string) {
	t.mu.Lock()
	st := t.local[peerID]
	if st == nil {
		t.mu.Unlock()
		return
	}
	t.resetLocked(peerID, st)
	t.mu.Unlock()

	t.emit(wire.EventStopTyping, peerID)
}

func (t *Tracker) resetLocked(peerID string, st *local) {
	if st.window != nil {
		st.window.Stop()
	}
	if st.stop != nil {
		st.stop.Stop()
	}
	delete(t.local, peerID)
}

func (t *Tracker) emit(event, peerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.EmitTimeout)
	defer cancel()
	if err := t.emitter.Emit(ctx, event, wire.TypingPayload{To: peerID, From: t.opts.SelfID}); err != nil {
		t.logger.Debug("presence emit dropped", zap.String("event", event), zap.String("peer", peerID), zap.Error(err))
	}
}

// HandleRemote applies an inbound presence event. A typing peer clears on
// its own after RemoteTimeout unless refreshed.
func (t *Tracker) HandleRemote(evt model.PresenceEvent) {
	if evt.PeerID == "" || evt.PeerID == t.opts.SelfID {
		return
	}

	t.mu.Lock()
	changed := false
	switch evt.Kind {
	case model.PresenceTyping:
		st := t.typing[evt.PeerID]
		if st == nil {
			st = &remote{}
			t.typing[evt.PeerID] = st
			changed = true
		} else if st.timer != nil {
			st.timer.Stop()
		}
		st.seq = t.next()
		seq := st.seq
		peer := evt.PeerID
		st.timer = t.opts.Clock.AfterFunc(t.opts.RemoteTimeout, func() { t.remoteElapsed(peer, seq) })
	case model.PresenceStopTyping:
		changed = t.clearTypingLocked(evt.PeerID)
	case model.PresenceOnline:
		if !t.online[evt.PeerID] {
			t.online[evt.PeerID] = true
			changed = true
		}
	case model.PresenceOffline:
		if t.online[evt.PeerID] {
			delete(t.online, evt.PeerID)
			changed = true
		}
		if t.clearTypingLocked(evt.PeerID) {
			changed = true
		}
	}
	change := t.changeLocked(evt.PeerID)
	t.mu.Unlock()

	if changed {
		t.bus.Publish(bus.NewEvent(bus.KindPresenceChanged, change))
	}
}

func (t *Tracker) remoteElapsed(peerID string, seq uint64) {
	t.mu.Lock()
	st := t.typing[peerID]
	if st == nil || st.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.typing, peerID)
	change := t.changeLocked(peerID)
	t.mu.Unlock()

	t.logger.Debug("remote typing timed out", zap.String("peer", peerID))
	t.bus.Publish(bus.NewEvent(bus.KindPresenceChanged, change))
}

func (t *Tracker) clearTypingLocked(peerID string) bool {
	st := t.typing[peerID]
	if st == nil {
		return false
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(t.typing, peerID)
	return true
}

func (t *Tracker) changeLocked(peerID string) Change {
	_, typing := t.typing[peerID]
	return Change{PeerID: peerID, Typing: typing, Online: t.online[peerID]}
}

// IsTyping reports whether peerID is currently shown as typing.
func (t *Tracker) IsTyping(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[peerID]
	return ok
}

// IsOnline reports whether peerID is online.
func (t *Tracker) IsOnline(peerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[peerID]
}

// TypingPeers returns the peers currently shown as typing, sorted.
func (t *Tracker) TypingPeers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typing))
	for p := range t.typing {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close stops every pending timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for peer, st := range t.local {
		t.resetLocked(peer, st)
	}
	for peer := range t.typing {
		t.clearTypingLocked(peer)
	}
}
