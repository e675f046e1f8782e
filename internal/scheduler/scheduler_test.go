package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

type sentMsg struct {
	room, text string
}

// recorder is an in-memory Messenger. The first failFirst sends fail.
type recorder struct {
	mu        sync.Mutex
	sent      []sentMsg
	calls     int
	failFirst int
}

func (r *recorder) SendText(_ context.Context, room, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls <= r.failFirst {
		return errors.New("network down")
	}
	r.sent = append(r.sent, sentMsg{room: room, text: text})
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func (r *recorder) messages() []sentMsg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMsg(nil), r.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func startScheduler(t *testing.T, st storage.Store, m *recorder, cfg Config, opts ...Option) *Scheduler {
	t.Helper()
	if cfg.StorageRetry.Base == 0 {
		cfg.StorageRetry = storage.Policy{Max: 2, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond}
	}
	s := New(st, m, cfg, opts...)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

func create(t *testing.T, st storage.Store, r *reminder.Reminder) *reminder.Reminder {
	t.Helper()
	if r.State == "" {
		r.State = reminder.StatePending
	}
	if r.Room == "" {
		r.Room = "room"
	}
	if r.Text == "" {
		r.Text = "text"
	}
	r.Requester = "u1"
	r.Target = reminder.TargetRequester
	require.NoError(t, st.Create(context.Background(), r))
	return r
}

func stateOf(t *testing.T, st storage.Store, id string) *reminder.Reminder {
	t.Helper()
	r, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	return r
}

const wait, tick = 3 * time.Second, 5 * time.Millisecond

func TestOneShotFiresOnceAndCompletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", Text: "buy milk", FireAt: clock.Now().Add(time.Minute)})
	require.NoError(t, s.Schedule(ctx, r))

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, m.count())

	clock.Advance(time.Minute)
	s.Wake()
	require.Eventually(t, func() bool {
		return stateOf(t, st, "r1").State == reminder.StateCompleted
	}, wait, tick)

	got := stateOf(t, st, "r1")
	require.Equal(t, 1, got.Fired)
	require.True(t, got.LastFiredAt.Equal(clock.Now()))
	require.Equal(t, []sentMsg{{room: "room", text: "🔔 buy milk"}}, m.messages())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Wakeups)
	require.Zero(t, stats.InFlight)
}

func TestCancelBeforeFireSuppressesSend(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: clock.Now().Add(time.Minute)})
	require.NoError(t, s.Schedule(ctx, r))
	require.NoError(t, s.Cancel(ctx, "r1"))
	require.ErrorIs(t, s.Cancel(ctx, "r1"), reminder.ErrAlreadyTerminal)

	clock.Advance(time.Hour)
	s.Wake()
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, m.count())
	require.Equal(t, reminder.StateCancelled, stateOf(t, st, "r1").State)
}

func TestCommittedCancelWinsOverDueWakeup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: clock.Now().Add(time.Minute)})
	require.NoError(t, s.Schedule(ctx, r))

	// The cancel reached the store but the heap still holds the wakeup.
	require.NoError(t, st.UpdateState(ctx, "r1", reminder.StateCancelled, reminder.StatePending))
	clock.Advance(time.Minute)
	s.Wake()

	require.Eventually(t, func() bool {
		stats, err := s.Stats(ctx)
		return err == nil && stats.Wakeups == 0 && stats.InFlight == 0
	}, wait, tick)
	require.Zero(t, m.count())
}

func TestCatchUpFiresOnceAndKeepsCadence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	scheduled := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: scheduled.Add(3*24*time.Hour + 12*time.Hour)}
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{
		ID:     "daily",
		FireAt: scheduled,
		Rule:   reminder.Rule{Kind: reminder.KindCalendar, Hour: 9, Timezone: "UTC"},
	})
	require.NoError(t, s.Schedule(ctx, r))

	require.Eventually(t, func() bool {
		return stateOf(t, st, "daily").Fired == 1
	}, wait, tick)
	got := stateOf(t, st, "daily")
	require.Equal(t, reminder.StatePending, got.State)
	require.Equal(t, scheduled.Add(4*24*time.Hour), got.FireAt)

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, 1, m.count())

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Wakeups)
}

func TestEndAfterCompletesRecurring(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{
		ID:     "twice",
		FireAt: clock.Now(),
		Rule:   reminder.Rule{Kind: reminder.KindInterval, Every: 60, Unit: reminder.UnitSecond, EndAfter: 2},
	})
	require.NoError(t, s.Schedule(ctx, r))
	require.Eventually(t, func() bool { return stateOf(t, st, "twice").Fired == 1 }, wait, tick)
	require.Equal(t, reminder.StatePending, stateOf(t, st, "twice").State)

	clock.Advance(time.Minute)
	s.Wake()
	require.Eventually(t, func() bool {
		return stateOf(t, st, "twice").State == reminder.StateCompleted
	}, wait, tick)
	require.Equal(t, 2, m.count())
}

func TestSendFailureRetriesWithoutAdvancing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	m := &recorder{failFirst: 2}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(32)
	defer unsub()
	s := startScheduler(t, st, m, Config{
		SendRetryMax:      2,
		SendRetryBase:     time.Millisecond,
		SendRetryMaxDelay: 5 * time.Millisecond,
	}, WithBus(bus))

	due := time.Now().Add(-time.Second).UTC()
	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: due})
	require.NoError(t, s.Schedule(ctx, r))

	require.Eventually(t, func() bool {
		return stateOf(t, st, "r1").State == reminder.StateCompleted
	}, wait, tick)
	got := stateOf(t, st, "r1")
	require.Equal(t, 1, got.Fired)
	require.True(t, got.FireAt.Equal(due))
	require.Equal(t, 1, m.count())

	var failed int
	for len(events) > 0 {
		if e := <-events; e.Type == eventbus.SendFailed {
			failed++
			require.Equal(t, 2, e.Data.(eventbus.ReminderEvent).Attempts)
		}
	}
	require.Equal(t, 1, failed)
}

func TestSingleWorkerSendsInFireOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	m := &recorder{}
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	s := startScheduler(t, st, m, Config{Workers: 1}, WithClock(clock.Now))

	base := clock.Now()
	for _, r := range []*reminder.Reminder{
		{ID: "c", Text: "third", FireAt: base.Add(3 * time.Second)},
		{ID: "a", Text: "first", FireAt: base.Add(time.Second)},
		{ID: "b", Text: "second", FireAt: base.Add(2 * time.Second)},
	} {
		require.NoError(t, s.Schedule(ctx, create(t, st, r)))
	}
	clock.Advance(time.Minute)
	s.Wake()

	require.Eventually(t, func() bool { return m.count() == 3 }, wait, tick)
	msgs := m.messages()
	require.Equal(t, "🔔 first", msgs[0].text)
	require.Equal(t, "🔔 second", msgs[1].text)
	require.Equal(t, "🔔 third", msgs[2].text)
}

func TestScheduleIsUpsert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := storage.OpenMemory()
	s := startScheduler(t, st, &recorder{}, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: clock.Now().Add(time.Hour)})
	require.NoError(t, s.Schedule(ctx, r))
	require.NoError(t, s.Schedule(ctx, r))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Wakeups)
}

func TestAlarmRingsUntilSilenced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.OpenMemory()
	m := &recorder{}
	s := startScheduler(t, st, m, Config{AlarmInterval: 10 * time.Millisecond})

	r := create(t, st, &reminder.Reminder{ID: "al", Text: "stretch", Alarm: true, FireAt: time.Now().Add(-time.Second).UTC()})
	require.NoError(t, s.Schedule(ctx, r))

	require.Eventually(t, func() bool { return m.count() >= 3 }, wait, tick)
	alarms, err := s.Alarms(ctx, "room")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	require.Equal(t, "stretch", alarms[0].Text)

	none, err := s.Silence(ctx, "room", "other text")
	require.NoError(t, err)
	require.Empty(t, none)

	silenced, err := s.Silence(ctx, "room", "STRETCH")
	require.NoError(t, err)
	require.Len(t, silenced, 1)

	alarms, err = s.Alarms(ctx, "")
	require.NoError(t, err)
	require.Empty(t, alarms)

	time.Sleep(30 * time.Millisecond)
	n := m.count()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, m.count())
	require.Equal(t, reminder.StateCompleted, stateOf(t, st, "al").State)
}

// failingCancel fails every write that would cancel a reminder.
type failingCancel struct {
	storage.Store
}

func (f failingCancel) UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error {
	if to == reminder.StateCancelled {
		return errors.New("disk full")
	}
	return f.Store.UpdateState(ctx, id, to, from...)
}

func TestCancelStoreFailureRestoresWakeup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := failingCancel{Store: storage.OpenMemory()}
	s := startScheduler(t, st, &recorder{}, Config{}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: clock.Now().Add(time.Hour)})
	require.NoError(t, s.Schedule(ctx, r))

	err := s.Cancel(ctx, "r1")
	var se *reminder.StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "cancel", se.Op)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.Wakeups)
	require.Equal(t, reminder.StatePending, stateOf(t, st, "r1").State)
}

// stuckCommit fails fire commits while stuck is set and every cancel write.
type stuckCommit struct {
	storage.Store
	stuck *atomic.Bool
}

func (f stuckCommit) UpdateFireAt(ctx context.Context, id string, u storage.FireUpdate) error {
	if f.stuck.Load() {
		return errors.New("disk full")
	}
	return f.Store.UpdateFireAt(ctx, id, u)
}

func (f stuckCommit) UpdateState(ctx context.Context, id string, to reminder.State, from ...reminder.State) error {
	if to == reminder.StateCancelled {
		return errors.New("disk full")
	}
	return f.Store.UpdateState(ctx, id, to, from...)
}

func TestFailedCancelKeepsPendingCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	st := stuckCommit{Store: storage.OpenMemory(), stuck: &atomic.Bool{}}
	st.stuck.Store(true)
	m := &recorder{}
	s := startScheduler(t, st, m, Config{
		SendRetryBase:     time.Minute,
		SendRetryMaxDelay: time.Minute,
	}, WithClock(clock.Now))

	r := create(t, st, &reminder.Reminder{ID: "r1", FireAt: clock.Now().Add(-time.Second)})
	require.NoError(t, s.Schedule(ctx, r))

	// Sent once, commit parked in memory.
	require.Eventually(t, func() bool {
		stats, err := s.Stats(ctx)
		return err == nil && m.count() == 1 && stats.InFlight == 0 && stats.Wakeups == 1
	}, wait, tick)
	require.Equal(t, reminder.StateFiring, stateOf(t, st, "r1").State)

	var se *reminder.StoreError
	require.ErrorAs(t, s.Cancel(ctx, "r1"), &se)

	st.stuck.Store(false)
	clock.Advance(time.Hour)
	s.Wake()
	require.Eventually(t, func() bool {
		return stateOf(t, st, "r1").State == reminder.StateCompleted
	}, wait, tick)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, m.count())
	require.Equal(t, 1, stateOf(t, st, "r1").Fired)
}

func TestNotStarted(t *testing.T) {
	t.Parallel()
	s := New(storage.OpenMemory(), &recorder{}, Config{})
	require.ErrorIs(t, s.Schedule(context.Background(), &reminder.Reminder{ID: "x", State: reminder.StatePending}), ErrNotStarted)
}

func TestNextCommit(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	once := &reminder.Reminder{FireAt: at}
	u, skipped := nextCommit(once, at.Add(time.Second))
	require.Equal(t, reminder.StateCompleted, u.State)
	require.Equal(t, at, u.FireAt)
	require.Equal(t, 1, u.Fired)
	require.Zero(t, skipped)

	until := &reminder.Reminder{
		FireAt: at,
		Rule:   reminder.Rule{Kind: reminder.KindCalendar, Hour: 9, EndBy: at.Add(12 * time.Hour)},
	}
	u, _ = nextCommit(until, at)
	require.Equal(t, reminder.StateCompleted, u.State)
}
