// Package scheduler fires reminders at their due instant.
//
// A single loop goroutine owns the wakeup heap; every other goroutine talks
// to it through channels. Due wakeups are handed to a bounded pool of firing
// workers, which do all Store and Messenger I/O. Per-id atomicity comes from
// the loop's in-flight set (one firing per id at a time) and the Store's
// compare-and-set transitions (a committed cancel always wins over a firing
// that has not yet claimed the record).
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/internal/eventbus"
	"remindbot/internal/metrics"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

var (
	ErrNotStarted = errors.New("scheduler not started")
	ErrStopped    = errors.New("scheduler stopped")
)

type Config struct {
	Workers           int           // firing workers; 1 gives strictly ordered sends
	SendRatePerSec    float64       // <= 0 means unlimited
	SendTimeout       time.Duration // per send attempt
	SendRetryMax      int           // attempts before the failure is reported
	SendRetryBase     time.Duration
	SendRetryMaxDelay time.Duration
	AlarmInterval     time.Duration
	StorageRetry      storage.Policy
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.SendRetryMax <= 0 {
		c.SendRetryMax = 5
	}
	if c.SendRetryBase <= 0 {
		c.SendRetryBase = time.Second
	}
	if c.SendRetryMaxDelay <= 0 {
		c.SendRetryMaxDelay = 5 * time.Minute
	}
	if c.AlarmInterval <= 0 {
		c.AlarmInterval = 5 * time.Minute
	}
	return c
}

// Alarm is a fired alarm reminder that keeps ringing until silenced.
type Alarm struct {
	ID    string
	Room  string
	Text  string
	Since time.Time
	Rings int

	notification string
}

type Stats struct {
	Wakeups  int `json:"wakeups"`
	InFlight int `json:"in_flight"`
	Alarms   int `json:"alarms"`
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithClock replaces time.Now. Timers still run on the real clock; call
// Wake after moving a fake clock forward.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func WithBus(bus eventbus.Bus) Option { return func(s *Scheduler) { s.bus = bus } }

type Scheduler struct {
	store     storage.Store
	messenger transport.Messenger
	log       logx.Logger
	bus       eventbus.Bus
	now       func() time.Time

	cfgMu   sync.RWMutex
	cfg     Config
	limiter *rate.Limiter

	reqs    chan func(*loopState)
	jobs    chan wakeup
	results chan result
	wake    chan struct{}

	// state is touched only by the loop goroutine; it lives here so a
	// restarted loop keeps its heap.
	state *loopState

	startMu sync.Mutex
	sup     *supervisor.Supervisor
}

func New(store storage.Store, messenger transport.Messenger, cfg Config, opts ...Option) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		store:     store,
		messenger: messenger,
		log:       logx.Nop(),
		now:       time.Now,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limitOf(cfg.SendRatePerSec), 1),
		reqs:      make(chan func(*loopState)),
		jobs:      make(chan wakeup, cfg.Workers*64),
		results:   make(chan result, cfg.Workers*4),
		wake:      make(chan struct{}, 1),
		state:     newLoopState(),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(logx.Comp("scheduler"))
	return s
}

func limitOf(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// Start launches the timer loop and the firing workers.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	if s.sup != nil {
		return errors.New("scheduler already started")
	}
	cfg := s.config()
	s.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("scheduler.loop", s.loop, supervisor.WithPublishFirstError(true))
	for i := 0; i < cfg.Workers; i++ {
		s.sup.GoRestart0(fmt.Sprintf("scheduler.worker.%d", i+1), s.worker)
	}
	s.log.Info("scheduler started", logx.Int("workers", cfg.Workers))
	return nil
}

// Stop cancels the loop and waits for workers. Firings interrupted here
// leave their record in state firing; recovery resets it on the next start.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.startMu.Lock()
	sup := s.sup
	s.startMu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("scheduler stopped")
	return err
}

// Reconfigure applies the hot-reloadable settings: send rate, retry and
// alarm timing. Worker count and storage policy need a restart.
func (s *Scheduler) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfgMu.Lock()
	old := s.cfg
	cfg.Workers = old.Workers
	s.cfg = cfg
	s.cfgMu.Unlock()
	if cfg.SendRatePerSec != old.SendRatePerSec {
		s.limiter.SetLimit(limitOf(cfg.SendRatePerSec))
	}
}

func (s *Scheduler) config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// Wake makes the loop re-evaluate due wakeups now.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Scheduler) do(ctx context.Context, fn func(*loopState)) error {
	s.startMu.Lock()
	sup := s.sup
	s.startMu.Unlock()
	if sup == nil {
		return ErrNotStarted
	}
	stopped := sup.Context().Done()
	done := make(chan struct{})
	select {
	case s.reqs <- func(st *loopState) { fn(st); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stopped:
		return ErrStopped
	}
}

// Schedule upserts the wakeup for r. A reminder that is being fired right
// now is left alone: the firing reschedules it from the committed record.
func (s *Scheduler) Schedule(ctx context.Context, r *reminder.Reminder) error {
	if r == nil || r.State.Terminal() {
		return nil
	}
	id, at := r.ID, r.FireAt
	return s.do(ctx, func(st *loopState) {
		if st.inflight[id] {
			return
		}
		delete(st.tombstones, id)
		st.q.upsert(&wakeup{id: id, kind: wakeFire, at: at})
	})
}

// Cancel removes the wakeup and commits the cancellation. It returns
// reminder.ErrAlreadyTerminal when the record was already completed or
// cancelled, and a *reminder.StoreError when the Store write kept failing;
// in that case the wakeup is restored from the last durable record.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	var removed *wakeup
	err := s.do(ctx, func(st *loopState) {
		removed = st.q.remove(id)
		st.stopAlarm(id)
		if st.inflight[id] {
			st.tombstones[id] = true
		}
	})
	if err != nil {
		return err
	}

	err = s.write(ctx, "cancel", id, func(ctx context.Context) error {
		return s.store.UpdateState(ctx, id, reminder.StateCancelled, reminder.StatePending, reminder.StateFiring)
	})
	switch {
	case err == nil:
		s.publish(eventbus.ReminderCancelled, eventbus.ReminderEvent{ID: id})
		s.log.Info("reminder cancelled", logx.ID(id))
		return nil
	case storage.IsConflict(err):
		_ = s.do(ctx, func(st *loopState) { delete(st.tombstones, id) })
		return reminder.ErrAlreadyTerminal
	case errors.Is(err, storage.ErrNotFound):
		_ = s.do(ctx, func(st *loopState) { delete(st.tombstones, id) })
		return err
	}

	// Roll back to the durable record.
	var restore *wakeup
	if removed != nil && removed.kind == wakeCommit {
		// Already sent; only the commit is owed.
		restore = removed
	} else if rec, gerr := s.store.Get(ctx, id); gerr == nil && !rec.State.Terminal() {
		restore = &wakeup{id: id, kind: wakeFire, at: rec.FireAt}
	} else if gerr != nil && removed != nil {
		restore = removed
	}
	_ = s.do(context.WithoutCancel(ctx), func(st *loopState) {
		delete(st.tombstones, id)
		if restore != nil && !st.inflight[id] {
			st.q.upsert(restore)
		}
	})
	return err
}

// Silence stops ringing alarms in room whose text contains match
// (case-insensitive); an empty match silences every alarm in the room.
func (s *Scheduler) Silence(ctx context.Context, room, match string) ([]Alarm, error) {
	match = strings.ToLower(strings.TrimSpace(match))
	var out []Alarm
	err := s.do(ctx, func(st *loopState) {
		for id, a := range st.alarms {
			if a.Room != room {
				continue
			}
			if match != "" && !strings.Contains(strings.ToLower(a.Text), match) {
				continue
			}
			out = append(out, *a)
			st.stopAlarm(id)
		}
	})
	sortAlarms(out)
	for _, a := range out {
		s.publish(eventbus.AlarmSilenced, eventbus.ReminderEvent{ID: a.ID, Room: a.Room})
	}
	return out, err
}

// Alarms lists ringing alarms in room, oldest first. An empty room lists all.
func (s *Scheduler) Alarms(ctx context.Context, room string) ([]Alarm, error) {
	var out []Alarm
	err := s.do(ctx, func(st *loopState) {
		for _, a := range st.alarms {
			if room == "" || a.Room == room {
				out = append(out, *a)
			}
		}
	})
	sortAlarms(out)
	return out, err
}

func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := s.do(ctx, func(st *loopState) {
		out = Stats{Wakeups: st.q.Len(), InFlight: len(st.inflight), Alarms: len(st.alarms)}
	})
	return out, err
}

func sortAlarms(as []Alarm) {
	slices.SortFunc(as, func(a, b Alarm) int {
		if c := a.Since.Compare(b.Since); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// write runs one Store mutation under the storage retry policy. Failures
// that survive the retries are counted and wrapped in *reminder.StoreError.
func (s *Scheduler) write(ctx context.Context, op, id string, fn func(ctx context.Context) error) error {
	err := storage.Retry(ctx, s.config().StorageRetry, fn)
	if err == nil || storage.Permanent(err) {
		return err
	}
	metrics.StoreFailures.WithLabelValues(op).Inc()
	s.publish(eventbus.StoreFailed, eventbus.ReminderEvent{ID: id, Err: err.Error()})
	s.log.Warn("store write failed", logx.String("op", op), logx.ID(id), logx.Err(err))
	return &reminder.StoreError{Op: op, ID: id, Err: err}
}

func (s *Scheduler) publish(typ string, data eventbus.ReminderEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
