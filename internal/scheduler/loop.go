package scheduler

import (
	"context"
	"time"

	"remindbot/internal/metrics"
	logx "remindbot/pkg/logx"
)

// backlogRetry is how soon the loop retries dispatch when the job queue is full.
const backlogRetry = 20 * time.Millisecond

type loopState struct {
	q          *queue
	inflight   map[string]bool // reminder ids with a fire/commit job out
	tombstones map[string]bool // cancelled while in flight: drop the result
	alarms     map[string]*Alarm
	backlogged bool
}

func newLoopState() *loopState {
	return &loopState{
		q:          newQueue(),
		inflight:   map[string]bool{},
		tombstones: map[string]bool{},
		alarms:     map[string]*Alarm{},
	}
}

func (st *loopState) stopAlarm(id string) {
	delete(st.alarms, id)
	st.q.remove("alarm:" + id)
}

// result is what a worker reports back for one job.
type result struct {
	id    string
	kind  wakeKind
	next  *wakeup // wakeup to arm, nil to drop
	alarm *Alarm  // start ringing
}

func (s *Scheduler) loop(ctx context.Context) error {
	st := s.state
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.dispatchDue(st)
		s.armTimer(timer, st)
		metrics.PendingWakeups.Set(float64(st.q.Len()))
		metrics.InFlight.Set(float64(len(st.inflight)))
		metrics.AlarmsRinging.Set(float64(len(st.alarms)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-s.reqs:
			fn(st)
		case res := <-s.results:
			s.apply(st, res)
		case <-timer.C:
		case <-s.wake:
		}
	}
}

// dispatchDue hands every wakeup with at <= now to the workers, in heap
// order. It never blocks: a full job queue leaves the rest in the heap.
func (s *Scheduler) dispatchDue(st *loopState) {
	st.backlogged = false
	now := s.now()
	for {
		w := st.q.peek()
		if w == nil || w.at.After(now) {
			return
		}
		select {
		case s.jobs <- *w:
			st.q.pop()
			if w.kind != wakeAlarm {
				st.inflight[w.id] = true
			}
		default:
			st.backlogged = true
			return
		}
	}
}

func (s *Scheduler) armTimer(timer *time.Timer, st *loopState) {
	d := time.Hour
	if st.backlogged {
		d = backlogRetry
	} else if w := st.q.peek(); w != nil {
		d = w.at.Sub(s.now())
		if d < 0 {
			d = 0
		}
		if d > time.Hour {
			// Re-check hourly so wall-clock jumps are noticed.
			d = time.Hour
		}
	}
	timer.Reset(d)
}

func (s *Scheduler) apply(st *loopState, res result) {
	if res.kind == wakeAlarm {
		if a, ok := st.alarms[res.id]; ok && res.next != nil {
			a.Rings++
			st.q.upsert(res.next)
		}
		return
	}

	delete(st.inflight, res.id)
	if st.tombstones[res.id] {
		delete(st.tombstones, res.id)
		s.log.Debug("dropping result of cancelled firing", logx.ID(res.id))
		return
	}
	if res.next != nil {
		st.q.upsert(res.next)
	}
	if res.alarm != nil {
		st.alarms[res.id] = res.alarm
		st.q.upsert(&wakeup{
			id:   res.id,
			kind: wakeAlarm,
			at:   res.alarm.Since.Add(s.config().AlarmInterval),
			room: res.alarm.Room,
			text: res.alarm.notification,
		})
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-s.jobs:
			res := s.handle(ctx, w)
			select {
			case s.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}
