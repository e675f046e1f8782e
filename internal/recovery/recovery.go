// Package recovery rebuilds the scheduler's wakeups from the store on start.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Scheduler is the part of the scheduler the loader drives.
type Scheduler interface {
	Schedule(ctx context.Context, r *reminder.Reminder) error
}

type Loader struct {
	store  storage.Store
	sched  Scheduler
	log    logx.Logger
	bus    eventbus.Bus
	policy storage.Policy
	now    func() time.Time
}

type Option func(*Loader)

func WithLogger(log logx.Logger) Option { return func(l *Loader) { l.log = log } }
func WithBus(bus eventbus.Bus) Option { return func(l *Loader) { l.bus = bus } }
func WithRetry(p storage.Policy) Option { return func(l *Loader) { l.policy = p } }
func WithClock(now func() time.Time) Option { return func(l *Loader) { l.now = now } }

func New(store storage.Store, sched Scheduler, opts ...Option) *Loader {
	l := &Loader{store: store, sched: sched, log: logx.Nop(), now: time.Now}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.With(logx.Comp("recovery"))
	return l
}

// Recover schedules every active reminder and returns how many were handed
// to the scheduler. Records a crash left in firing go back to pending, so a
// firing that may or may not have reached the room is delivered again.
// Running it twice schedules the same set with the same fire instants.
func (l *Loader) Recover(ctx context.Context) (int, error) {
	var active []*reminder.Reminder
	err := storage.Retry(ctx, l.policy, func(ctx context.Context) error {
		var err error
		active, err = l.store.ListActive(ctx, "")
		return err
	})
	if err != nil {
		return 0, &reminder.StoreError{Op: "recover", Err: err}
	}

	now := l.now()
	var (
		scheduled, reset, overdue int
		errs                      []error
	)
	for _, r := range active {
		if r.State == reminder.StateFiring {
			err := storage.Retry(ctx, l.policy, func(ctx context.Context) error {
				return l.store.UpdateState(ctx, r.ID, reminder.StatePending, reminder.StateFiring)
			})
			switch {
			case err == nil:
				r.State = reminder.StatePending
				reset++
			case storage.IsConflict(err), errors.Is(err, storage.ErrNotFound):
				// Changed underneath us (cancelled by a command already).
				continue
			default:
				errs = append(errs, fmt.Errorf("reset %s: %w", r.ID, err))
				continue
			}
		}
		if err := l.sched.Schedule(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("schedule %s: %w", r.ID, err))
			continue
		}
		scheduled++
		if !r.FireAt.After(now) {
			overdue++
		}
		if l.bus != nil {
			l.bus.Publish(eventbus.Event{
				Type: eventbus.ReminderRecovered,
				Time: now,
				Data: eventbus.ReminderEvent{ID: r.ID, Room: r.Room, FireAt: r.FireAt},
			})
		}
	}

	l.log.Info("reminders recovered",
		logx.Int("active", len(active)),
		logx.Int("scheduled", scheduled),
		logx.Int("reset_from_firing", reset),
		logx.Int("overdue", overdue),
	)
	return scheduled, errors.Join(errs...)
}
