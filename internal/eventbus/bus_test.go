package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFansOutWithoutBlocking(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: ReminderFired, Data: ReminderEvent{ID: "1"}})
	b.Publish(Event{Type: ReminderCompleted, Data: ReminderEvent{ID: "1"}}) // dropped for a

	e := <-a
	require.Equal(t, ReminderFired, e.Type)
	require.False(t, e.Time.IsZero())
	require.Len(t, a, 0)
	require.Len(t, c, 2)

	unsubA()
	unsubA()
	b.Publish(Event{Type: ReminderCancelled})
	_, open := <-a
	require.False(t, open)
}

func TestSubscribeFiltersByType(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(2, SendFailed, StoreFailed)
	defer unsub()

	b.Publish(Event{Type: ReminderFired})
	b.Publish(Event{Type: SendFailed, Data: ReminderEvent{ID: "a", Attempts: 5}})
	b.Publish(Event{Type: StoreFailed})
	b.Publish(Event{Type: SendFailed}) // full

	require.Len(t, ch, 2)
	e := <-ch
	require.Equal(t, SendFailed, e.Type)
	require.Equal(t, 5, e.Data.(ReminderEvent).Attempts)
	require.Equal(t, uint64(1), b.Dropped())
}
