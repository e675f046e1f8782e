package scheduler

import (
	"container/heap"
	"time"

	"remindbot/internal/storage"
)

type wakeKind uint8

const (
	wakeFire   wakeKind = iota // deliver the reminder
	wakeCommit                 // retry a firing commit held in memory
	wakeAlarm                  // re-notify a ringing alarm
)

func (k wakeKind) String() string {
	switch k {
	case wakeFire:
		return "fire"
	case wakeCommit:
		return "commit"
	case wakeAlarm:
		return "alarm"
	}
	return "unknown"
}

// wakeup is one heap entry. Fire and commit wakeups share the reminder's
// primary slot; an alarm wakeup lives next to them.
type wakeup struct {
	id       string
	kind     wakeKind
	at       time.Time
	attempts int
	commit   *storage.FireUpdate
	room     string // alarm only
	text     string // alarm only
	index    int
}

func (w *wakeup) key() string {
	if w.kind == wakeAlarm {
		return "alarm:" + w.id
	}
	return w.id
}

// wakeHeap orders by (at, id, kind).
type wakeHeap []*wakeup

func (h wakeHeap) Len() int { return len(h) }

func (h wakeHeap) Less(i, j int) bool {
	if c := h[i].at.Compare(h[j].at); c != 0 {
		return c < 0
	}
	if h[i].id != h[j].id {
		return h[i].id < h[j].id
	}
	return h[i].kind < h[j].kind
}

func (h wakeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *wakeHeap) Push(x any) {
	w := x.(*wakeup)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *wakeHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}

// queue is a keyed heap: at most one wakeup per key.
type queue struct {
	h     wakeHeap
	byKey map[string]*wakeup
}

func newQueue() *queue { return &queue{byKey: map[string]*wakeup{}} }

func (q *queue) Len() int { return len(q.h) }

// upsert replaces any wakeup with the same key.
func (q *queue) upsert(w *wakeup) {
	if old, ok := q.byKey[w.key()]; ok {
		heap.Remove(&q.h, old.index)
	}
	q.byKey[w.key()] = w
	heap.Push(&q.h, w)
}

func (q *queue) remove(key string) *wakeup {
	w, ok := q.byKey[key]
	if !ok {
		return nil
	}
	heap.Remove(&q.h, w.index)
	delete(q.byKey, key)
	return w
}

func (q *queue) peek() *wakeup {
	if len(q.h) == 0 {
		return nil
	}
	return q.h[0]
}

func (q *queue) pop() *wakeup {
	w := heap.Pop(&q.h).(*wakeup)
	delete(q.byKey, w.key())
	return w
}
