package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

type recordingScheduler struct {
	mu  sync.Mutex
	got map[string]time.Time
}

func (s *recordingScheduler) Schedule(_ context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.got == nil {
		s.got = map[string]time.Time{}
	}
	s.got[r.ID] = r.FireAt
	return nil
}

func seed(t *testing.T, st storage.Store, id string, at time.Time, state reminder.State) {
	t.Helper()
	r := &reminder.Reminder{
		ID:        id,
		Room:      "room",
		Requester: "u1",
		Target:    reminder.TargetRequester,
		Text:      "text " + id,
		FireAt:    at,
		State:     reminder.StatePending,
		CreatedAt: at.Add(-time.Hour),
	}
	require.NoError(t, st.Create(context.Background(), r))
	if state != reminder.StatePending {
		require.NoError(t, st.UpdateState(context.Background(), id, state, reminder.StatePending))
	}
}

func TestRecoverIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	st := storage.OpenMemory()
	seed(t, st, "future", now.Add(time.Hour), reminder.StatePending)
	seed(t, st, "overdue", now.Add(-3*time.Hour), reminder.StatePending)
	seed(t, st, "crashed", now.Add(-time.Minute), reminder.StateFiring)
	seed(t, st, "done", now.Add(-time.Hour), reminder.StateCompleted)
	seed(t, st, "gone", now.Add(time.Hour), reminder.StateCancelled)

	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()

	first := &recordingScheduler{}
	n, err := New(st, first, WithBus(bus), WithClock(func() time.Time { return now })).Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, first.got, 3)
	require.NotContains(t, first.got, "done")
	require.NotContains(t, first.got, "gone")
	require.Len(t, events, 3)

	crashed, err := st.Get(ctx, "crashed")
	require.NoError(t, err)
	require.Equal(t, reminder.StatePending, crashed.State)

	second := &recordingScheduler{}
	n, err = New(st, second, WithClock(func() time.Time { return now })).Recover(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, first.got, second.got)
}

func TestRecoverEmptyStore(t *testing.T) {
	t.Parallel()
	n, err := New(storage.OpenMemory(), &recordingScheduler{}).Recover(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}
