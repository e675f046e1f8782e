package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/metrics"
	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// handle runs one job. A panic turns into a retry so the id never stays in
// flight.
func (s *Scheduler) handle(ctx context.Context, w wakeup) (res result) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("firing panicked", logx.ID(w.id), logx.String("kind", w.kind.String()), logx.Any("panic", p))
			res = result{id: w.id, kind: w.kind, next: s.retryLater(w)}
		}
	}()
	switch w.kind {
	case wakeAlarm:
		return s.ring(ctx, w)
	case wakeCommit:
		return s.recommit(ctx, w)
	default:
		return s.fire(ctx, w)
	}
}

func (s *Scheduler) retryLater(w wakeup) *wakeup {
	cfg := s.config()
	w.attempts++
	w.at = s.now().Add(storage.Backoff(cfg.SendRetryBase, cfg.SendRetryMaxDelay, 0.2, w.attempts))
	w.index = 0
	return &w
}

// fire delivers one occurrence: claim (pending -> firing), send, commit.
func (s *Scheduler) fire(ctx context.Context, w wakeup) result {
	res := result{id: w.id, kind: wakeFire}
	log := s.log.With(logx.ID(w.id))

	var r *reminder.Reminder
	err := storage.Retry(ctx, s.config().StorageRetry, func(ctx context.Context) error {
		var err error
		r, err = s.store.Get(ctx, w.id)
		return err
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Debug("reminder vanished before firing")
		return res
	case err != nil:
		log.Warn("load before firing failed", logx.Err(err))
		res.next = s.retryLater(w)
		return res
	case r.State.Terminal():
		return res
	}

	// A committed cancel makes the claim fail and suppresses the send. A
	// record already in firing was claimed by an earlier attempt of this
	// process whose release did not reach the store.
	err = s.write(ctx, "claim", w.id, func(ctx context.Context) error {
		return s.store.UpdateState(ctx, w.id, reminder.StateFiring, reminder.StatePending, reminder.StateFiring)
	})
	if err != nil {
		if storage.Permanent(err) {
			return res
		}
		res.next = s.retryLater(w)
		return res
	}

	if err := s.send(ctx, r.Room, r.Notification()); err != nil {
		return s.sendFailed(ctx, w, r, err)
	}

	now := s.now()
	update, skipped := nextCommit(r, now)
	s.noteFired(r, now, skipped)
	if r.Alarm {
		res.alarm = &Alarm{ID: r.ID, Room: r.Room, Text: r.Text, Since: now, notification: r.Notification()}
	}
	return s.commit(ctx, w.id, update, res, 0)
}

// nextCommit computes the durable effect of a successful send. The next
// occurrence is counted from the scheduled instant, so a missed recurring
// reminder fires once and then resumes its original cadence.
func nextCommit(r *reminder.Reminder, now time.Time) (storage.FireUpdate, int) {
	u := storage.FireUpdate{
		State:       reminder.StateCompleted,
		FireAt:      r.FireAt,
		LastFiredAt: now,
		Fired:       r.Fired + 1,
	}
	if !r.Recurring() || (r.Rule.EndAfter > 0 && u.Fired >= r.Rule.EndAfter) {
		return u, 0
	}
	next, skipped, ok := recurrence.NextAfter(r.Rule, r.FireAt, now)
	if !ok {
		return u, skipped
	}
	u.State = reminder.StatePending
	u.FireAt = next
	return u, skipped
}

func (s *Scheduler) commit(ctx context.Context, id string, u storage.FireUpdate, res result, attempts int) result {
	err := s.write(ctx, "commit", id, func(ctx context.Context) error {
		return s.store.UpdateFireAt(ctx, id, u)
	})
	switch {
	case err == nil:
	case storage.Permanent(err):
		// Cancelled (or deleted) while the send was in progress.
		res.alarm = nil
		return res
	default:
		// Keep the decision in memory and retry only the commit; the
		// notification is not sent again.
		res.next = s.retryLater(wakeup{id: id, kind: wakeCommit, commit: &u, attempts: attempts})
		return res
	}

	if u.State == reminder.StatePending {
		res.next = &wakeup{id: id, kind: wakeFire, at: u.FireAt}
	} else {
		s.publish(eventbus.ReminderCompleted, eventbus.ReminderEvent{ID: id})
	}
	return res
}

func (s *Scheduler) recommit(ctx context.Context, w wakeup) result {
	res := result{id: w.id, kind: wakeCommit}
	if w.commit == nil {
		return res
	}
	return s.commit(ctx, w.id, *w.commit, res, w.attempts)
}

func (s *Scheduler) sendFailed(ctx context.Context, w wakeup, r *reminder.Reminder, sendErr error) result {
	res := result{id: w.id, kind: wakeFire}
	cfg := s.config()
	attempts := w.attempts + 1
	metrics.SendFailures.Inc()

	// Back to pending with fire_at untouched. If this write fails the record
	// stays firing; the next attempt claims it from there.
	err := s.write(ctx, "release", w.id, func(ctx context.Context) error {
		return s.store.UpdateState(ctx, w.id, reminder.StatePending, reminder.StateFiring)
	})
	if err != nil && storage.Permanent(err) {
		return res
	}

	failure := &reminder.SendFailure{Room: r.Room, Attempts: attempts, Err: sendErr}
	if attempts == cfg.SendRetryMax {
		s.log.Error("reminder delivery keeps failing", logx.ID(w.id), logx.Int("attempts", attempts), logx.Err(failure))
		s.publish(eventbus.SendFailed, eventbus.ReminderEvent{ID: w.id, Room: r.Room, Attempts: attempts, Err: sendErr.Error()})
	} else {
		s.log.Warn("reminder delivery failed", logx.ID(w.id), logx.Int("attempts", attempts), logx.Err(sendErr))
	}

	next := w
	next.attempts = attempts
	next.at = s.now().Add(storage.Backoff(cfg.SendRetryBase, cfg.SendRetryMaxDelay, 0.2, attempts))
	res.next = &next
	return res
}

// ring re-sends a ringing alarm.
func (s *Scheduler) ring(ctx context.Context, w wakeup) result {
	res := result{id: w.id, kind: wakeAlarm}
	if err := s.send(ctx, w.room, w.text); err != nil {
		s.log.Warn("alarm re-notify failed", logx.ID(w.id), logx.Err(err))
	} else {
		s.publish(eventbus.AlarmRang, eventbus.ReminderEvent{ID: w.id, Room: w.room})
	}
	next := w
	next.at = s.now().Add(s.config().AlarmInterval)
	res.next = &next
	return res
}

func (s *Scheduler) send(ctx context.Context, room, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, s.config().SendTimeout)
	defer cancel()
	if err := s.messenger.SendText(sctx, room, text); err != nil {
		return fmt.Errorf("send to %s: %w", room, err)
	}
	return nil
}

func (s *Scheduler) noteFired(r *reminder.Reminder, now time.Time, skipped int) {
	kind := "once"
	if r.Recurring() {
		kind = "recurring"
	}
	metrics.RemindersFired.WithLabelValues(kind).Inc()
	metrics.FireLag.Observe(now.Sub(r.FireAt).Seconds())
	if skipped > 0 {
		metrics.CatchUpSkipped.Add(float64(skipped))
	}
	s.publish(eventbus.ReminderFired, eventbus.ReminderEvent{ID: r.ID, Room: r.Room, FireAt: r.FireAt, Skipped: skipped})
	s.log.Info("reminder fired",
		logx.ID(r.ID),
		logx.Room(r.Room),
		logx.Time("scheduled", r.FireAt),
		logx.Int("skipped", skipped),
	)
}
