package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueOrdersByTimeThenID(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newQueue()
	q.upsert(&wakeup{id: "b", at: base.Add(time.Minute)})
	q.upsert(&wakeup{id: "c", at: base})
	q.upsert(&wakeup{id: "a", at: base.Add(time.Minute)})
	q.upsert(&wakeup{id: "a", kind: wakeAlarm, at: base.Add(time.Minute)})

	var got []string
	for q.Len() > 0 {
		w := q.pop()
		got = append(got, w.key())
	}
	require.Equal(t, []string{"c", "a", "alarm:a", "b"}, got)
}

func TestQueueUpsertReplaces(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := newQueue()
	q.upsert(&wakeup{id: "x", at: base.Add(time.Hour)})
	q.upsert(&wakeup{id: "y", at: base.Add(30 * time.Minute)})
	q.upsert(&wakeup{id: "x", kind: wakeCommit, at: base})

	require.Equal(t, 2, q.Len())
	top := q.peek()
	require.Equal(t, "x", top.id)
	require.Equal(t, wakeCommit, top.kind)

	require.NotNil(t, q.remove("x"))
	require.Nil(t, q.remove("x"))
	require.Equal(t, "y", q.pop().id)
	require.Nil(t, q.peek())
}
