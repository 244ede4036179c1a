// README: Notification queue; a min-heap of scheduled ledger items keyed by owner, kind and id.
package simulator

import (
	"cmp"
	"container/heap"
	"fmt"
	"slices"
	"time"

	"ridesim/internal/modules/ledger"
	"ridesim/internal/types"
)

type Kind uint8

const (
	KindRide Kind = iota
	KindRequest
)

func (k Kind) String() string {
	if k == KindRequest {
		return "request"
	}
	return "ride"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Key names one scheduled item in the ledger.
type Key struct {
	Owner types.ID `json:"owner"`
	Kind  Kind     `json:"kind"`
	ID    types.ID `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Owner, k.Kind, k.ID)
}

type entry struct {
	key   Key
	at    time.Time
	index int
}

type queue struct {
	items []*entry
	byKey map[Key]*entry
}

func newQueue() *queue {
	return &queue{byKey: make(map[Key]*entry)}
}

func (q *queue) Len() int { return len(q.items) }

func (q *queue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	return compareScheduled(Scheduled{a.key, a.at}, Scheduled{b.key, b.at}) < 0
}

func (q *queue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(q.items)
	q.items = append(q.items, e)
}

func (q *queue) Pop() any {
	old := q.items
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	q.items = old[:n-1]
	e.index = -1
	return e
}

// set schedules key at t, moving it if it is already queued.
func (q *queue) set(key Key, at time.Time) {
	if e, ok := q.byKey[key]; ok {
		e.at = at
		heap.Fix(q, e.index)
		return
	}
	e := &entry{key: key, at: at}
	q.byKey[key] = e
	heap.Push(q, e)
}

func (q *queue) remove(key Key) bool {
	e, ok := q.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(q, e.index)
	delete(q.byKey, key)
	return true
}

func (q *queue) peek() (Key, time.Time, bool) {
	if len(q.items) == 0 {
		return Key{}, time.Time{}, false
	}
	return q.items[0].key, q.items[0].at, true
}

// syncOwner makes the queue hold exactly the scheduled items of pr.
func (q *queue) syncOwner(pr *ledger.PersonRides) {
	keep := make(map[Key]bool, len(pr.Rides)+len(pr.Requests))
	for _, r := range pr.Rides {
		if !r.Scheduled() {
			continue
		}
		k := Key{Owner: pr.Owner, Kind: KindRide, ID: r.ID}
		keep[k] = true
		q.set(k, r.NotificationTime)
	}
	for _, r := range pr.Requests {
		if r.NotificationTime.IsZero() {
			continue
		}
		k := Key{Owner: pr.Owner, Kind: KindRequest, ID: r.ID}
		keep[k] = true
		q.set(k, r.NotificationTime)
	}
	var stale []Key
	for k := range q.byKey {
		if k.Owner == pr.Owner && !keep[k] {
			stale = append(stale, k)
		}
	}
	for _, k := range stale {
		q.remove(k)
	}
}

// entries lists the queue in notification order.
func (q *queue) entries() []Scheduled {
	out := make([]Scheduled, 0, len(q.items))
	for _, e := range q.items {
		out = append(out, Scheduled{Key: e.key, At: e.at})
	}
	slices.SortFunc(out, compareScheduled)
	return out
}

// compareScheduled orders by due time, then key, so equal times pop in a
// stable order.
func compareScheduled(a, b Scheduled) int {
	if c := a.At.Compare(b.At); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Key.Owner, b.Key.Owner); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Key.Kind, b.Key.Kind); c != 0 {
		return c
	}
	return cmp.Compare(a.Key.ID, b.Key.ID)
}

// Scheduled is a queued item and the time it is due.
type Scheduled struct {
	Key Key       `json:"key"`
	At  time.Time `json:"at"`
}
