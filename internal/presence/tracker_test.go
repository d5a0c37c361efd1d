package presence

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/wire"
	"github.com/raulk/clock"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (r *recordingEmitter) Emit(_ context.Context, event string, payload any) error {
	p := payload.(wire.TypingPayload)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event+">"+p.To)
	return r.err
}

func (r *recordingEmitter) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newTestTracker(b *bus.Bus) (*Tracker, *recordingEmitter, *clock.Mock) {
	mock := clock.NewMock()
	e := &recordingEmitter{}
	tr := New(e, b, nil, Options{
		SelfID:        "alice",
		Debounce:      2000 * time.Millisecond,
		StopTimeout:   2000 * time.Millisecond,
		RemoteTimeout: 3000 * time.Millisecond,
		Clock:         mock,
	})
	return tr, e, mock
}

func TestKeystrokesInsideWindowEmitOnce(t *testing.T) {
	tr, e, mock := newTestTracker(nil)
	defer tr.Close()

	tr.InputChanged("bob")
	mock.Add(50 * time.Millisecond)
	tr.InputChanged("bob")

	if got := e.snapshot(); !reflect.DeepEqual(got, []string{"typing>bob"}) {
		t.Errorf("events = %v, want one typing", got)
	}
}

func TestStopTypingAfterInactivity(t *testing.T) {
	tr, e, mock := newTestTracker(nil)
	defer tr.Close()

	tr.InputChanged("bob")
	mock.Add(2000 * time.Millisecond)

	want := []string{"typing>bob", "stop_typing>bob"}
	waitFor(t, "stop_typing", func() bool { return len(e.snapshot()) >= 2 })
	if got := e.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}

	// Exactly once: more time passing emits nothing.
	mock.Add(10 * time.Second)
	time.Sleep(10 * time.Millisecond)
	if got := e.snapshot(); len(got) != 2 {
		t.Errorf("events = %v, want no more", got)
	}
}

func TestContinuedInputHeartbeats(t *testing.T) {
	tr, e, mock := newTestTracker(nil)
	defer tr.Close()

	tr.InputChanged("bob")
	mock.Add(1500 * time.Millisecond)
	tr.InputChanged("bob")

	mock.Add(500 * time.Millisecond)
	waitFor(t, "heartbeat", func() bool { return len(e.snapshot()) >= 2 })

	mock.Add(1600 * time.Millisecond)
	waitFor(t, "stop_typing", func() bool { return len(e.snapshot()) >= 3 })

	want := []string{"typing>bob", "typing>bob", "stop_typing>bob"}
	if got := e.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestInputAfterQuietWindowAnnouncesAgain(t *testing.T) {
	tr, e, mock := newTestTracker(nil)
	tr.opts.StopTimeout = 5 * time.Second
	defer tr.Close()

	tr.InputChanged("bob")
	mock.Add(2500 * time.Millisecond)
	tr.InputChanged("bob")

	waitFor(t, "second typing", func() bool { return len(e.snapshot()) >= 2 })
	want := []string{"typing>bob", "typing>bob"}
	if got := e.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestExplicitStopTyping(t *testing.T) {
	tr, e, mock := newTestTracker(nil)
	defer tr.Close()

	tr.InputChanged("bob")
	tr.StopTyping("bob")
	tr.StopTyping("bob")
	mock.Add(5 * time.Second)
	time.Sleep(10 * time.Millisecond)

	want := []string{"typing>bob", "stop_typing>bob"}
	if got := e.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestEmitErrorsAreIgnored(t *testing.T) {
	tr, e, _ := newTestTracker(nil)
	defer tr.Close()
	e.err = &model.TransportError{Op: "emit typing"}

	tr.InputChanged("bob")
	if len(e.snapshot()) != 1 {
		t.Error("emit not attempted")
	}
}

func TestRemoteTypingSelfHeals(t *testing.T) {
	b := bus.New()
	defer b.Close()
	changes, unsubscribe := b.Subscribe(bus.KindPresenceChanged, 8)
	defer unsubscribe()

	tr, _, mock := newTestTracker(b)
	defer tr.Close()

	tr.HandleRemote(model.PresenceEvent{PeerID: "bob", Kind: model.PresenceTyping})
	if !tr.IsTyping("bob") {
		t.Fatal("bob should be typing")
	}

	mock.Add(2000 * time.Millisecond)
	tr.HandleRemote(model.PresenceEvent{PeerID: "bob", Kind: model.PresenceTyping})
	mock.Add(2000 * time.Millisecond)
	if !tr.IsTyping("bob") {
		t.Fatal("refresh should extend the timeout")
	}

	mock.Add(1000 * time.Millisecond)
	waitFor(t, "typing to clear", func() bool { return !tr.IsTyping("bob") })

	var got []bool
	waitFor(t, "two changes", func() bool {
		for {
			select {
			case evt := <-changes:
				got = append(got, evt.Payload.(Change).Typing)
			default:
				return len(got) >= 2
			}
		}
	})
	if !reflect.DeepEqual(got, []bool{true, false}) {
		t.Errorf("typing changes = %v, want [true false]", got)
	}
}

func TestRemoteStopAndOnline(t *testing.T) {
	tr, _, _ := newTestTracker(nil)
	defer tr.Close()

	tr.HandleRemote(model.PresenceEvent{PeerID: "bob", Kind: model.PresenceOnline})
	tr.HandleRemote(model.PresenceEvent{PeerID: "carol", Kind: model.PresenceTyping})
	tr.HandleRemote(model.PresenceEvent{PeerID: "bob", Kind: model.PresenceTyping})
	tr.HandleRemote(model.PresenceEvent{PeerID: "alice", Kind: model.PresenceTyping})

	if got := tr.TypingPeers(); !reflect.DeepEqual(got, []string{"bob", "carol"}) {
		t.Errorf("TypingPeers = %v", got)
	}

	tr.HandleRemote(model.PresenceEvent{PeerID: "carol", Kind: model.PresenceStopTyping})
	if tr.IsTyping("carol") {
		t.Error("carol still typing after stop_typing")
	}

	tr.HandleRemote(model.PresenceEvent{PeerID: "bob", Kind: model.PresenceOffline})
	if tr.IsOnline("bob") || tr.IsTyping("bob") {
		t.Error("offline should clear online and typing")
	}
}
