// Package notification keeps the user's notification feed.
package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/livesync/internal/api"
	"github.com/matheus3301/livesync/internal/bus"
	"github.com/matheus3301/livesync/internal/model"
	"github.com/matheus3301/livesync/internal/outbox"
	"github.com/matheus3301/livesync/internal/reconcile"
	"github.com/matheus3301/livesync/internal/status"
	"go.uber.org/zap"
)

// API is the REST notification collaborator.
type API interface {
	Notifications(ctx context.Context, q api.NotificationQuery) ([]model.NotificationItem, error)
	MarkNotificationsRead(ctx context.Context, ids []string) error
	DeleteNotification(ctx context.Context, id string) error
}

// Group is one calendar day of the feed.
type Group struct {
	Day   string
	Items []model.NotificationItem
}

// Feed is the notification list. Items are bucketed into local calendar days
// when they are first merged.
type Feed struct {
	api    API
	state  outbox.StateSource
	outbox *outbox.Outbox
	bus    *bus.Bus
	logger *zap.Logger
	loc    *time.Location
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	list       *reconcile.List[model.NotificationItem]
	loadGen    uint64
	loadCancel context.CancelFunc
}

// New creates an empty feed. A nil loc means time.Local.
func New(a API, state outbox.StateSource, ob *outbox.Outbox, b *bus.Bus, logger *zap.Logger, loc *time.Location) *Feed {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &Feed{
		api:    a,
		state:  state,
		outbox: ob,
		bus:    b,
		logger: logger.Named("notification"),
		loc:    loc,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		list:   reconcile.NewList[model.NotificationItem](),
	}
	ob.Register(outbox.KindNotificationRead, f.deliverQueuedAck)
	return f
}

// Wait blocks until background acknowledgements finish.
func (f *Feed) Wait() {
	f.wg.Wait()
}

// Close cancels background acknowledgements and waits for them.
func (f *Feed) Close() {
	f.cancel()
	f.wg.Wait()
}

// Load fetches a page and merges it. A failed fetch leaves the feed as it
// was; a fetch overtaken by a newer Load is cancelled and dropped.
func (f *Feed) Load(ctx context.Context, q api.NotificationQuery) error {
	f.mu.Lock()
	f.loadGen++
	gen := f.loadGen
	if f.loadCancel != nil {
		f.loadCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	f.loadCancel = cancel
	f.mu.Unlock()
	defer cancel()

	items, err := f.api.Notifications(ctx, q)

	f.mu.Lock()
	if gen != f.loadGen {
		f.mu.Unlock()
		return nil
	}
	if err != nil {
		f.mu.Unlock()
		f.logger.Warn("notification fetch failed", zap.Error(err))
		return &model.FetchError{What: "notifications", Err: err}
	}
	f.mergeLocked(items...)
	f.mu.Unlock()

	f.publish()
	return nil
}

// ReceivePush merges a notification delivered over the push channel.
func (f *Feed) ReceivePush(item model.NotificationItem) {
	f.mu.Lock()
	f.mergeLocked(item)
	f.mu.Unlock()
	f.publish()
}

// MarkRead flips the given notifications to read and acknowledges them in
// one batch. Failures are logged and never revert the local state.
func (f *Feed) MarkRead(ctx context.Context, ids []string) {
	var flipped []string
	f.mu.Lock()
	for _, id := range ids {
		key := reconcile.NotificationKey(id)
		n, ok := f.list.Get(key)
		if !ok || n.ReadState == model.Read {
			continue
		}
		f.list.Update(key, reconcile.Notifications, func(n model.NotificationItem) model.NotificationItem {
			n.ReadState = model.Read
			return n
		})
		flipped = append(flipped, id)
	}
	f.mu.Unlock()
	if len(flipped) == 0 {
		return
	}
	f.publish()

	if f.state.State() != status.Connected {
		f.outbox.Enqueue(outbox.Entry{ID: "notification-read:" + uuid.NewString(), Kind: outbox.KindNotificationRead, Payload: flipped})
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := f.api.MarkNotificationsRead(f.ctx, flipped); err != nil {
			f.logger.Warn("notification read acknowledgement failed", zap.Strings("ids", flipped), zap.Error(err))
		}
	}()
}

// MarkAllRead marks every unread notification read.
func (f *Feed) MarkAllRead(ctx context.Context) {
	var ids []string
	for _, n := range f.Items() {
		if n.ReadState != model.Read {
			ids = append(ids, n.ID)
		}
	}
	f.MarkRead(ctx, ids)
}

func (f *Feed) deliverQueuedAck(ctx context.Context, e outbox.Entry) error {
	ids, ok := e.Payload.([]string)
	if !ok || len(ids) == 0 {
		return nil
	}
	return f.api.MarkNotificationsRead(ctx, ids)
}

// Delete removes a notification on the backend, then locally.
func (f *Feed) Delete(ctx context.Context, id string) error {
	if err := f.api.DeleteNotification(ctx, id); err != nil {
		return err
	}
	f.mu.Lock()
	removed := f.list.Remove(reconcile.NotificationKey(id))
	f.mu.Unlock()
	if removed {
		f.publish()
	}
	return nil
}

// Items returns the feed in list order, oldest first.
func (f *Feed) Items() []model.NotificationItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list.Items()
}

// UnreadCount returns the number of unread notifications held locally.
func (f *Feed) UnreadCount() int {
	n := 0
	for _, item := range f.Items() {
		if item.ReadState != model.Read {
			n++
		}
	}
	return n
}

// Groups buckets the feed by day, newest day first. A non-empty kind
// restricts the view to that type without touching the feed.
func (f *Feed) Groups(kind model.NotificationType) []Group {
	byDay := make(map[string]*Group)
	var days []string
	for _, item := range f.Items() {
		if kind != "" && item.Type != kind {
			continue
		}
		g, ok := byDay[item.DayBucket]
		if !ok {
			g = &Group{Day: item.DayBucket}
			byDay[item.DayBucket] = g
			days = append(days, item.DayBucket)
		}
		g.Items = append(g.Items, item)
	}

	slices.Sort(days)
	slices.Reverse(days)
	out := make([]Group, 0, len(days))
	for _, d := range days {
		out = append(out, *byDay[d])
	}
	return out
}

// mergeLocked folds items into the feed. An item without a timestamp takes
// the one already held for its id, or the arrival time if it is new.
func (f *Feed) mergeLocked(items ...model.NotificationItem) {
	for i := range items {
		if items[i].CreatedAt.IsZero() {
			if held, ok := f.list.Get(reconcile.NotificationKey(items[i].ID)); ok {
				items[i].CreatedAt, items[i].DayBucket = held.CreatedAt, held.DayBucket
			} else {
				items[i].CreatedAt = f.now()
			}
		}
		if items[i].ReadState == "" {
			items[i].ReadState = model.Unread
		}
		if items[i].Type == "" {
			items[i].Type = model.NotifySystem
		}
		if items[i].DayBucket == "" {
			items[i].DayBucket = model.DayBucket(items[i].CreatedAt, f.loc)
		}
	}
	f.list = reconcile.Merge(f.list, reconcile.Notifications, items...)
}

func (f *Feed) publish() {
	f.bus.Publish(bus.NewEvent(bus.KindNotificationUpdated, f.UnreadCount()))
}
