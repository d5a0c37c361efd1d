// Package outbox queues writes that could not be delivered while the push
// channel was down and replays them once it is connected again.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/status"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Entry kinds registered by the stores.
const (
	KindSend             = "message.send"
	KindMessageRead      = "message.read"
	KindNotificationRead = "notification.read"
)

// DefaultMaxAttempts bounds how often a failing entry is replayed.
const DefaultMaxAttempts = 5

// Entry is one deferred write. Payload is owned by the kind's deliverer.
type Entry struct {
	ID         string
	Kind       string
	Payload    any
	Attempts   int
	LastError  string
	EnqueuedAt time.Time
}

// DeliverFunc performs a deferred write. Returning an error keeps the entry
// queued for the next flush.
type DeliverFunc func(ctx context.Context, e Entry) error

// StateSource reports the push channel's connection state.
type StateSource interface {
	State() status.State
}

// Outbox is a FIFO of deferred writes.
type Outbox struct {
	state       StateSource
	bus         *bus.Bus
	logger      *zap.Logger
	maxAttempts int
	interval    time.Duration

	mu       sync.Mutex
	entries  []Entry
	handlers map[string]DeliverFunc

	flushMu sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates an empty outbox.
func New(state StateSource, b *bus.Bus, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		state:       state,
		bus:         b,
		logger:      logger.Named("outbox"),
		maxAttempts: DefaultMaxAttempts,
		interval:    5 * time.Second,
		handlers:    make(map[string]DeliverFunc),
	}
}

// Register sets the deliverer for a kind.
func (o *Outbox) Register(kind string, fn DeliverFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[kind] = fn
}

// Enqueue appends an entry. An entry with the ID of one already queued
// replaces it in place.
func (o *Outbox) Enqueue(e Entry) {
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ID == e.ID {
			o.entries[i] = e
			return
		}
	}
	o.entries = append(o.entries, e)
	o.logger.Debug("queued", zap.String("kind", e.Kind), zap.String("id", e.ID))
}

// Len returns the number of queued entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// Pending returns a snapshot of the queue in order.
func (o *Outbox) Pending() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Entry(nil), o.entries...)
}

// Flush delivers every queued entry in order. Delivered entries are removed;
// failed ones stay queued until they exhaust their attempts.
func (o *Outbox) Flush(ctx context.Context) error {
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	var errs error
	for _, e := range o.Pending() {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}

		o.mu.Lock()
		fn := o.handlers[e.Kind]
		o.mu.Unlock()
		if fn == nil {
			o.logger.Error("no deliverer for kind, dropping", zap.String("kind", e.Kind), zap.String("id", e.ID))
			o.remove(e.ID)
			continue
		}

		err := fn(ctx, e)
		if err == nil {
			o.remove(e.ID)
			continue
		}

		errs = multierr.Append(errs, fmt.Errorf("%s %s: %w", e.Kind, e.ID, err))
		e.Attempts++
		e.LastError = err.Error()
		if e.Attempts >= o.maxAttempts {
			o.logger.Error("giving up on queued write",
				zap.String("kind", e.Kind), zap.String("id", e.ID), zap.Int("attempts", e.Attempts), zap.Error(err))
			o.remove(e.ID)
			continue
		}
		o.logger.Warn("queued write failed",
			zap.String("kind", e.Kind), zap.String("id", e.ID), zap.Int("attempts", e.Attempts), zap.Error(err))
		o.update(e)
	}
	return errs
}

func (o *Outbox) remove(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ID == id {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			return
		}
	}
}

func (o *Outbox) update(e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.entries {
		if o.entries[i].ID == e.ID {
			o.entries[i] = e
			return
		}
	}
}

// Start flushes whenever the push channel becomes connected, and
// periodically while it stays connected.
func (o *Outbox) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	var events <-chan bus.Event
	unsubscribe := func() {}
	if o.bus != nil {
		events, unsubscribe = o.bus.Subscribe(bus.KindTransportState, 16)
	}
	go o.loop(ctx, events, unsubscribe)
}

// Stop stops the flush loop and waits for it to exit.
func (o *Outbox) Stop() {
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
}

func (o *Outbox) loop(ctx context.Context, events <-chan bus.Event, unsubscribe func()) {
	defer close(o.done)
	defer unsubscribe()

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if change, _ := evt.Payload.(status.Change); change.To == status.Connected {
				o.flushLogged(ctx)
			}
		case <-ticker.C:
			if o.Len() > 0 && o.state.State() == status.Connected {
				o.flushLogged(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (o *Outbox) flushLogged(ctx context.Context) {
	n := o.Len()
	if n == 0 {
		return
	}
	if err := o.Flush(ctx); err != nil {
		o.logger.Warn("flush incomplete", zap.Int("queued", n), zap.Int("remaining", o.Len()),
			zap.Errors("errors", multierr.Errors(err)))
		return
	}
	o.logger.Info("flushed queued writes", zap.Int("count", n))
}
