package reconcile

import (
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/livesync/internal/model"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func confirmed(serverID, localID string, sec int) model.Message {
	return NormalizeMessage(model.Message{
		ServerID: serverID, LocalID: localID, ConversationID: "a:b",
		SenderID: "a", RecipientID: "b", Content: serverID, CreatedAt: at(sec),
	})
}

func pending(localID string, sec int) model.Message {
	return NormalizeMessage(model.Message{
		LocalID: localID, ConversationID: "a:b",
		SenderID: "a", RecipientID: "b", Content: localID, CreatedAt: at(sec),
	})
}

func keys(l *List[model.Message]) []string {
	var out []string
	for _, m := range l.Items() {
		out = append(out, MessageKey(m))
	}
	return out
}

func assertSorted(t *testing.T, msgs []model.Message) {
	t.Helper()
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Fatalf("list not sorted at %d: %v before %v", i, msgs[i].CreatedAt, msgs[i-1].CreatedAt)
		}
	}
}

func TestMergeInsertsSorted(t *testing.T) {
	l := Merge(nil, Messages, confirmed("m3", "", 30), confirmed("m1", "", 10), confirmed("m2", "", 20))

	want := []string{"s:m1", "s:m2", "s:m3"}
	if got := keys(l); !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
}

func TestMergeTiesKeepArrivalOrder(t *testing.T) {
	l := Merge(nil, Messages, confirmed("b", "", 10), confirmed("a", "", 10), confirmed("c", "", 10))

	want := []string{"s:b", "s:a", "s:c"}
	if got := keys(l); !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}

	// Updating a mutable field must not reorder ties.
	read := confirmed("b", "", 10)
	read.ReadState = model.Read
	Merge(l, Messages, read)
	if got := keys(l); !reflect.DeepEqual(got, want) {
		t.Errorf("keys after update = %v, want %v", got, want)
	}
}

func TestMergeIdempotent(t *testing.T) {
	msg := confirmed("m1", "l1", 10)
	once := Merge(nil, Messages, confirmed("m0", "", 5), msg)
	twice := Merge(once.Clone(), Messages, msg)

	if !reflect.DeepEqual(once.Items(), twice.Items()) {
		t.Errorf("second application changed state:\n once=%v\ntwice=%v", once.Items(), twice.Items())
	}
}

func TestFetchedThenPushedSameServerID(t *testing.T) {
	l := Merge(nil, Messages, confirmed("m1", "", 10))

	push := confirmed("m1", "", 10)
	push.ReadState = model.Read
	Merge(l, Messages, push)

	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	got, _ := l.Get(ServerKey("m1"))
	if got.ReadState != model.Read {
		t.Errorf("ReadState = %s, want read", got.ReadState)
	}
}

func TestPendingReplacedByConfirmedTwin(t *testing.T) {
	l := Merge(nil, Messages, confirmed("m1", "", 10), pending("l1", 20), confirmed("m2", "", 30))

	Merge(l, Messages, confirmed("s-l1", "l1", 40))

	want := []string{"s:m1", "s:m2", "s:s-l1"}
	if got := keys(l); !reflect.DeepEqual(got, want) {
		t.Errorf("keys = %v, want %v", got, want)
	}
	if _, ok := l.Get(LocalKey("l1")); !ok {
		t.Error("local key should resolve to the confirmed twin through the alias table")
	}
}

func TestLatePendingUpdateDoesNotResurrect(t *testing.T) {
	l := Merge(nil, Messages, pending("l1", 20))
	Merge(l, Messages, confirmed("s1", "l1", 21))

	failed := pending("l1", 20)
	failed.DeliveryState = model.DeliveryFailed
	Merge(l, Messages, failed)

	if l.Len() != 1 {
		t.Fatalf("Len = %d, want 1", l.Len())
	}
	got := l.Items()[0]
	if got.ServerID != "s1" || got.DeliveryState != model.DeliverySent {
		t.Errorf("got %+v, want confirmed s1 in sent state", got)
	}
}

func TestConfirmedDropsEarlierTwin(t *testing.T) {
	// History without correlation first, then the send response carrying it.
	l := Merge(nil, Messages, pending("l1", 20), confirmed("s1", "", 21))
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2 before correlation is known", l.Len())
	}

	Merge(l, Messages, confirmed("s1", "l1", 21))
	if got := keys(l); !reflect.DeepEqual(got, []string{"s:s1"}) {
		t.Errorf("keys = %v, want [s:s1]", got)
	}
}

func TestReadStateMonotonic(t *testing.T) {
	read := confirmed("m1", "", 10)
	read.ReadState = model.Read
	l := Merge(nil, Messages, read)

	Merge(l, Messages, confirmed("m1", "", 10))

	got, _ := l.Get(ServerKey("m1"))
	if got.ReadState != model.Read {
		t.Errorf("ReadState regressed to %s", got.ReadState)
	}
}

func TestTimestampChangeRepositions(t *testing.T) {
	l := Merge(nil, Messages, confirmed("m1", "", 10), confirmed("m2", "", 20))

	moved := confirmed("m1", "", 30)
	Merge(l, Messages, moved)

	if got := keys(l); !reflect.DeepEqual(got, []string{"s:m2", "s:m1"}) {
		t.Errorf("keys = %v, want [s:m2 s:m1]", got)
	}
}

func TestUpdateAndRemove(t *testing.T) {
	l := Merge(nil, Messages, pending("l1", 10), pending("l2", 20))

	ok := l.Update(LocalKey("l1"), Messages, func(m model.Message) model.Message {
		m.DeliveryState = model.DeliveryFailed
		return m
	})
	if !ok {
		t.Fatal("Update returned false")
	}
	got, _ := l.Get(LocalKey("l1"))
	if got.DeliveryState != model.DeliveryFailed {
		t.Errorf("DeliveryState = %s, want failed", got.DeliveryState)
	}
	if keys(l)[0] != "l:l1" {
		t.Error("Update must keep position")
	}

	if !l.Remove(LocalKey("l2")) {
		t.Fatal("Remove returned false")
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	if l.Remove("missing") {
		t.Error("Remove(missing) = true")
	}
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

// Every interleaving of history fetch, push delivery and local send must
// converge on the same deduplicated, sorted list.
func TestAllInterleavingsConverge(t *testing.T) {
	readPush := confirmed("m1", "", 10)
	readPush.ReadState = model.Read

	sources := [][]model.Message{
		{confirmed("m1", "", 10), confirmed("m2", "", 30)}, // history page
		{pending("l1", 20)},                                // optimistic send
		{confirmed("m3", "l1", 40)},                        // send ack / own push echo
		{readPush, confirmed("m2", "", 30)},                // push, with duplicates
		{confirmed("m4", "", 35)},                          // unrelated push
	}
	want := []string{"s:m1", "s:m2", "s:m4", "s:m3"}

	for _, order := range permutations(len(sources)) {
		var l *List[model.Message]
		for _, i := range order {
			l = Merge(l, Messages, sources[i]...)
		}
		if got := keys(l); !reflect.DeepEqual(got, want) {
			t.Fatalf("order %v: keys = %v, want %v", order, got, want)
		}
		assertSorted(t, l.Items())
		m1, _ := l.Get(ServerKey("m1"))
		if m1.ReadState != model.Read {
			t.Fatalf("order %v: m1 read state = %s, want read", order, m1.ReadState)
		}
	}
}

func TestNotificationRulesKeepDayBucket(t *testing.T) {
	n := model.NotificationItem{ID: "n1", Title: "v1", CreatedAt: at(0), ReadState: model.Unread, DayBucket: "2025-06-01"}
	l := Merge(nil, Notifications, n)

	update := n
	update.Title = "v2"
	update.DayBucket = "2030-01-01"
	update.ReadState = model.Read
	Merge(l, Notifications, update)

	got, _ := l.Get(NotificationKey("n1"))
	if got.Title != "v2" || got.DayBucket != "2025-06-01" || got.ReadState != model.Read {
		t.Errorf("got %+v", got)
	}
}
