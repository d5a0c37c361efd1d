// Package reconcile merges records from several racing sources (REST pages,
// push events, optimistic local writes) into one deduplicated list ordered by
// timestamp. The package owns no state: every function works on a List that
// belongs to the caller.
package reconcile

import (
	"slices"
	"sort"
	"time"
)

// Rules tells Merge how to identify, order and combine records of type T.
type Rules[T any] struct {
	// Key returns the stable identity of a record.
	Key func(T) string
	// Correlation returns the key of the optimistic twin a confirmed record
	// supersedes, or "". Optional.
	Correlation func(T) string
	// Time returns the sort timestamp of a record.
	Time func(T) time.Time
	// Combine merges an incoming record into the one already held under the
	// same identity. Optional; when nil the incoming record replaces the old.
	// Combine(x, x) must equal x.
	Combine func(old, incoming T) T
}

func (r Rules[T]) combine(old, incoming T) T {
	if r.Combine == nil {
		return incoming
	}
	return r.Combine(old, incoming)
}

type entry[T any] struct {
	key string
	val T
	at  time.Time
	seq uint64
}

func (e *entry[T]) less(o *entry[T]) bool {
	if e.at.Equal(o.at) {
		return e.seq < o.seq
	}
	return e.at.Before(o.at)
}

// List is an ordered, keyed collection of records. Entries are kept sorted by
// timestamp, ties broken by arrival order. The zero value is not usable; call
// NewList.
type List[T any] struct {
	items   []*entry[T]
	index   map[string]*entry[T]
	aliases map[string]string
	seq     uint64
}

// NewList returns an empty list.
func NewList[T any]() *List[T] {
	return &List[T]{
		index:   make(map[string]*entry[T]),
		aliases: make(map[string]string),
	}
}

// Merge folds incoming records into l and returns it. A nil l starts a new list.
//
// For each record: an entry with the same key is replaced in place; otherwise,
// if the record confirms a pending twin (Rules.Correlation), the twin is
// dropped and the record inserted at its own position; otherwise the record is
// inserted. Applying the same record twice leaves l unchanged.
func Merge[T any](l *List[T], rules Rules[T], incoming ...T) *List[T] {
	if l == nil {
		l = NewList[T]()
	}
	for _, in := range incoming {
		l.mergeOne(rules, in)
	}
	return l
}

func (l *List[T]) mergeOne(rules Rules[T], in T) {
	key := l.resolve(rules.Key(in))
	var corr string
	if rules.Correlation != nil {
		if c := rules.Correlation(in); c != key {
			corr = c
		}
	}

	switch e, ok := l.index[key]; {
	case ok:
		l.replace(e, rules.combine(e.val, in), rules.Time)
	case corr != "" && l.index[corr] != nil:
		twin := l.index[corr]
		l.detach(twin)
		l.insert(key, rules.combine(twin.val, in), rules.Time)
	default:
		l.insert(key, in, rules.Time)
	}

	if corr != "" {
		if twin, ok := l.index[corr]; ok {
			l.detach(twin)
		}
		l.aliases[corr] = key
	}
}

// resolve follows the alias table so that late updates addressed to a
// superseded key land on the entry that replaced it.
func (l *List[T]) resolve(key string) string {
	if target, ok := l.aliases[key]; ok {
		return target
	}
	return key
}

func (l *List[T]) insert(key string, v T, timeOf func(T) time.Time) {
	l.seq++
	e := &entry[T]{key: key, val: v, at: timeOf(v), seq: l.seq}
	l.place(e)
}

func (l *List[T]) place(e *entry[T]) {
	i := sort.Search(len(l.items), func(i int) bool { return e.less(l.items[i]) })
	l.items = slices.Insert(l.items, i, e)
	l.index[e.key] = e
}

func (l *List[T]) replace(e *entry[T], v T, timeOf func(T) time.Time) {
	at := timeOf(v)
	if at.Equal(e.at) {
		e.val = v
		return
	}
	l.detach(e)
	e.val = v
	e.at = at
	l.place(e)
}

func (l *List[T]) detach(e *entry[T]) {
	i := sort.Search(len(l.items), func(i int) bool { return !l.items[i].less(e) })
	if i >= len(l.items) || l.items[i] != e {
		i = slices.Index(l.items, e)
	}
	if i >= 0 {
		l.items = slices.Delete(l.items, i, i+1)
	}
	delete(l.index, e.key)
}

// Len returns the number of visible entries.
func (l *List[T]) Len() int {
	if l == nil {
		return 0
	}
	return len(l.items)
}

// Items returns a snapshot of the entries in order.
func (l *List[T]) Items() []T {
	if l == nil {
		return nil
	}
	out := make([]T, len(l.items))
	for i, e := range l.items {
		out[i] = e.val
	}
	return out
}

// Get returns the record held under key, following aliases.
func (l *List[T]) Get(key string) (T, bool) {
	var zero T
	if l == nil {
		return zero, false
	}
	e, ok := l.index[l.resolve(key)]
	if !ok {
		return zero, false
	}
	return e.val, true
}

// Update applies fn to the record held under key. The entry keeps its
// position unless fn changes its timestamp.
func (l *List[T]) Update(key string, rules Rules[T], fn func(T) T) bool {
	if l == nil {
		return false
	}
	e, ok := l.index[l.resolve(key)]
	if !ok {
		return false
	}
	l.replace(e, fn(e.val), rules.Time)
	return true
}

// Remove deletes the record held under key.
func (l *List[T]) Remove(key string) bool {
	if l == nil {
		return false
	}
	e, ok := l.index[l.resolve(key)]
	if !ok {
		return false
	}
	l.detach(e)
	return true
}

// Clone returns an independent copy of l.
func (l *List[T]) Clone() *List[T] {
	c := NewList[T]()
	if l == nil {
		return c
	}
	c.seq = l.seq
	c.items = make([]*entry[T], len(l.items))
	for i, e := range l.items {
		cp := *e
		c.items[i] = &cp
		c.index[cp.key] = &cp
	}
	for k, v := range l.aliases {
		c.aliases[k] = v
	}
	return c
}
