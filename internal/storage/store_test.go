package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func newReminder(id, room string, fireAt time.Time) *reminder.Reminder {
	return &reminder.Reminder{
		ID:        id,
		Room:      room,
		Requester: "u1",
		Target:    reminder.TargetRequester,
		Text:      "text " + id,
		FireAt:    fireAt,
		State:     reminder.StatePending,
		CreatedAt: fireAt.Add(-time.Hour),
	}
}

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return OpenMemory() },
		"file": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "file", Path: filepath.Join(t.TempDir(), "rem.json")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(context.Background(), Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "rem.db")}, logx.Nop())
			require.NoError(t, err)
			return st
		},
	}
}

func TestStoreContract(t *testing.T) {
	t.Parallel()
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := open(t)
			defer st.Close()

			base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
			r := newReminder("b", "room1", base.Add(2*time.Hour))
			r.Rule = reminder.Rule{Kind: reminder.KindCalendar, Weekdays: []time.Weekday{time.Monday}, Hour: 9, Timezone: "UTC"}
			require.NoError(t, st.Create(ctx, r))
			require.NoError(t, st.Create(ctx, newReminder("a", "room1", base.Add(2*time.Hour))))
			require.NoError(t, st.Create(ctx, newReminder("c", "room2", base.Add(time.Hour))))
			require.Error(t, st.Create(ctx, newReminder("a", "room1", base)))

			got, err := st.Get(ctx, "b")
			require.NoError(t, err)
			require.Equal(t, r.Rule, got.Rule)
			require.True(t, r.FireAt.Equal(got.FireAt))
			require.Equal(t, reminder.StatePending, got.State)
			require.False(t, got.UpdatedAt.IsZero())

			_, err = st.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			all, err := st.ListActive(ctx, "")
			require.NoError(t, err)
			require.Equal(t, []string{"c", "a", "b"}, ids(all))

			room1, err := st.ListActive(ctx, "room1")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, ids(room1))

			// CAS
			require.NoError(t, st.UpdateState(ctx, "a", reminder.StateFiring, reminder.StatePending))
			err = st.UpdateState(ctx, "a", reminder.StateFiring, reminder.StatePending)
			var sc *StateConflictError
			require.ErrorAs(t, err, &sc)
			require.Equal(t, reminder.StateFiring, sc.Current)
			require.ErrorIs(t, st.UpdateState(ctx, "missing", reminder.StateCancelled), ErrNotFound)

			next := base.Add(24 * time.Hour)
			fired := base.Add(2 * time.Hour)
			require.NoError(t, st.UpdateFireAt(ctx, "a", FireUpdate{State: reminder.StatePending, FireAt: next, LastFiredAt: fired, Fired: 1}))
			got, err = st.Get(ctx, "a")
			require.NoError(t, err)
			require.True(t, got.FireAt.Equal(next))
			require.True(t, got.LastFiredAt.Equal(fired))
			require.Equal(t, 1, got.Fired)
			require.Equal(t, reminder.StatePending, got.State)

			// Only a firing record accepts a fire commit.
			require.True(t, IsConflict(st.UpdateFireAt(ctx, "a", FireUpdate{State: reminder.StateCompleted, FireAt: next})))

			require.NoError(t, st.UpdateState(ctx, "c", reminder.StateCancelled, reminder.StatePending, reminder.StateFiring))
			active, err := st.ListActive(ctx, "")
			require.NoError(t, err)
			require.Equal(t, []string{"b", "a"}, ids(active))

			n, err := st.PurgeTerminal(ctx, time.Now().Add(time.Minute))
			require.NoError(t, err)
			require.Equal(t, 1, n)
			_, err = st.Get(ctx, "c")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, st.Delete(ctx, "b"))
			require.ErrorIs(t, st.Delete(ctx, "b"), ErrNotFound)

			require.NoError(t, st.AppendAudit(ctx, AuditEntry{Action: "create", Room: "room1", ReminderID: "a", OK: true}))
		})
	}
}

func TestSQLiteRefusesUnencodableInstants(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	n, err := toNanos(reminder.MaxFireAt)
	require.NoError(t, err)
	require.True(t, fromNanos(n).Equal(reminder.MaxFireAt))
	_, err = toNanos(time.Date(2326, 1, 1, 12, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = toNanos(time.Date(1600, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, ErrOutOfRange)

	st, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "rem.db")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	at := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, st.Create(ctx, newReminder("far", "room", at)))
	require.NoError(t, st.UpdateState(ctx, "far", reminder.StateFiring, reminder.StatePending))

	err = st.UpdateFireAt(ctx, "far", FireUpdate{State: reminder.StatePending, FireAt: time.Date(2300, 1, 1, 0, 0, 0, 0, time.UTC), LastFiredAt: at, Fired: 1})
	require.ErrorIs(t, err, ErrOutOfRange)
	require.True(t, Permanent(err))

	got, err := st.Get(ctx, "far")
	require.NoError(t, err)
	require.True(t, got.FireAt.Equal(at))
	require.Equal(t, reminder.StateFiring, got.State)

	require.Error(t, st.Create(ctx, newReminder("later", "room", reminder.MaxFireAt.Add(time.Hour))))
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := OpenMemory()
	r := newReminder("x", "room", time.Now().Add(time.Hour))
	require.NoError(t, st.Create(ctx, r))

	r.Text = "mutated"
	got, err := st.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "text x", got.Text)

	got.State = reminder.StateCancelled
	again, err := st.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, reminder.StatePending, again.State)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "data", "rem.json")}
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	st, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Create(ctx, newReminder("keep", "r", at)))
	require.NoError(t, st.Create(ctx, newReminder("gone", "r", at)))
	require.NoError(t, st.UpdateState(ctx, "keep", reminder.StateFiring, reminder.StatePending))
	require.NoError(t, st.Delete(ctx, "gone"))

	// Simulate a crash: the journal is not compacted.
	fs := st.(*fileStore)
	fs.mu.Lock()
	fs.closed = true
	_ = fs.journal.Close()
	_ = fs.auditFile.Close()
	fs.journal, fs.auditFile = nil, nil
	fs.mu.Unlock()

	st2, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st2.Close()
	got, err := st2.Get(ctx, "keep")
	require.NoError(t, err)
	require.Equal(t, reminder.StateFiring, got.State)
	_, err = st2.Get(ctx, "gone")
	require.ErrorIs(t, err, ErrNotFound)

	// Clean close compacts into the snapshot.
	require.NoError(t, st2.Close())
	st3, err := Open(ctx, cfg, logx.Nop())
	require.NoError(t, err)
	defer st3.Close()
	list, err := st3.ListActive(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"keep"}, ids(list))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p := Policy{Max: 4, Base: time.Millisecond, MaxDelay: 2 * time.Millisecond}

	calls := 0
	err := Retry(ctx, p, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = Retry(ctx, p, func(context.Context) error {
		calls++
		return errors.New("always")
	})
	require.EqualError(t, err, "always")
	require.Equal(t, 4, calls)

	calls = 0
	err = Retry(ctx, p, func(context.Context) error {
		calls++
		return &StateConflictError{ID: "x", Current: reminder.StateCancelled}
	})
	require.True(t, IsConflict(err))
	require.Equal(t, 1, calls)
}

func TestBackoffIsCapped(t *testing.T) {
	t.Parallel()
	for retry := 1; retry < 20; retry++ {
		d := Backoff(100*time.Millisecond, time.Second, 0.2, retry)
		require.LessOrEqual(t, d, time.Second)
		require.GreaterOrEqual(t, d, 80*time.Millisecond)
	}
	require.Equal(t, 400*time.Millisecond, Backoff(100*time.Millisecond, time.Second, 0, 3))
}

func ids(rs []*reminder.Reminder) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}
