package command

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	logx "remindbot/pkg/logx"
)

type sentMsg struct{ room, text string }

type recorder struct {
	mu   sync.Mutex
	sent []sentMsg
}

func (r *recorder) SendText(_ context.Context, room, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMsg{room, text})
	return nil
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

type harness struct {
	clock *fakeClock
	store storage.Store
	sched *scheduler.Scheduler
	sent  *recorder
	proc  *Processor
}

// Thursday 2026-01-15 10:00 UTC.
var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{t: t0}, store: storage.OpenMemory(), sent: &recorder{}}
	h.sched = scheduler.New(h.store, h.sent, scheduler.Config{}, scheduler.WithClock(h.clock.Now))
	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.sched.Stop(ctx)
	})
	h.proc = New(h.store, h.sched, Config{Location: time.UTC}, WithClock(h.clock.Now))
	return h
}

func (h *harness) say(text string) Reply {
	return h.proc.Handle(context.Background(), transport.Message{
		Room:       "100",
		SenderID:   "7",
		SenderName: "alice",
		Text:       text,
	})
}

func (h *harness) only(t *testing.T) *reminder.Reminder {
	t.Helper()
	rs, err := h.store.ListActive(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	return rs[0]
}

func TestRemindInOneMinuteFiresOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say("!remind in 1 minute: buy milk")
	require.NoError(t, reply.Err)
	require.Equal(t, "100", reply.Room)
	require.Contains(t, reply.Text, "I'll remind you Thu 15 Jan 2026 10:01 UTC (1 minute from now): buy milk")
	r := h.only(t)
	require.Equal(t, t0.Add(time.Minute), r.FireAt)
	require.Equal(t, reminder.TargetRequester, r.Target)
	require.Equal(t, "7", r.Requester)

	h.clock.Advance(time.Minute)
	h.sched.Wake()
	require.Eventually(t, func() bool {
		got, err := h.store.Get(context.Background(), r.ID)
		return err == nil && got.State == reminder.StateCompleted
	}, 3*time.Second, 5*time.Millisecond)
	require.Equal(t, []sentMsg{{"100", "🔔 @alice buy milk"}}, h.sent.messages())
}

func TestCancelledDailyNeverFires(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say("!remind every day at 09:00: standup")
	require.NoError(t, reply.Err)
	require.Contains(t, reply.Text, "every day at 09:00")
	r := h.only(t)
	require.Equal(t, time.Date(2026, 1, 16, 9, 0, 0, 0, time.UTC), r.FireAt)

	reply = h.say("!cancel standup")
	require.NoError(t, reply.Err)
	require.Equal(t, "🗑 Cancelled "+reminder.ShortID(r.ID)+": standup", reply.Text)

	h.clock.Advance(48 * time.Hour)
	h.sched.Wake()
	time.Sleep(50 * time.Millisecond)
	require.Empty(t, h.sent.messages())

	got, err := h.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, reminder.StateCancelled, got.State)

	reply = h.say("!cancel standup")
	require.ErrorIs(t, reply.Err, reminder.ErrNoMatch)
}

func TestCancelFinishedReminderByID(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.say("!remind in 1 minute: tea").Err)
	r := h.only(t)
	h.clock.Advance(time.Minute)
	h.sched.Wake()
	require.Eventually(t, func() bool {
		got, err := h.store.Get(context.Background(), r.ID)
		return err == nil && got.State == reminder.StateCompleted
	}, 3*time.Second, 5*time.Millisecond)

	tests := []struct {
		name string
		room string
		args string
		want error
	}{
		{name: "full id", room: "100", args: r.ID, want: reminder.ErrAlreadyTerminal},
		{name: "upper case id", room: "100", args: strings.ToUpper(r.ID), want: reminder.ErrAlreadyTerminal},
		{name: "other room", room: "200", args: r.ID, want: reminder.ErrNoMatch},
		{name: "short id", room: "100", args: reminder.ShortID(r.ID), want: reminder.ErrNoMatch},
		{name: "text", room: "100", args: "tea", want: reminder.ErrNoMatch},
	}
	for _, tt := range tests {
		reply := h.proc.Handle(context.Background(), transport.Message{
			Room: tt.room, SenderID: "7", SenderName: "alice", Text: "!cancel " + tt.args,
		})
		require.ErrorIs(t, reply.Err, tt.want, tt.name)
	}
	reply := h.say("!cancel " + r.ID)
	require.Equal(t, "⚠️ that reminder already fired or was cancelled", reply.Text)
}

func TestParseFailureLeavesStoreUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, text := range []string{
		"!remind at 5: call mom",
		"!remind tomorrow: call mom",
		"!remind yesterday at 9am: call mom",
	} {
		reply := h.say(text)
		var pe *reminder.ParseError
		require.ErrorAs(t, reply.Err, &pe, text)
		require.True(t, strings.HasPrefix(reply.Text, "⚠️ "), reply.Text)
	}
	rs, err := h.store.ListActive(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, rs)
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	reply := h.say("!remind in 5 minutes")
	require.Error(t, reply.Err)
	require.Contains(t, reply.Text, "usage: !remind <when>: <text>")

	reply = h.say("!cancel")
	require.Error(t, reply.Err)
	require.Contains(t, reply.Text, "usage: !cancel <id|text>")
}

func TestDuplicateTextRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.say("!remind in 1 hour: Water plants").Err)
	reply := h.say("!r in 2 hours; water plants")
	require.ErrorIs(t, reply.Err, reminder.ErrDuplicate)
	h.only(t)
}

func TestCancelAmbiguousListsCandidates(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.NoError(t, h.say("!remind in 1 hour: buy milk").Err)
	require.NoError(t, h.say("!remind in 2 hours: buy eggs").Err)

	reply := h.say("!c buy")
	require.ErrorIs(t, reply.Err, reminder.ErrAmbiguousTarget)
	require.Contains(t, reply.Text, "buy milk")
	require.Contains(t, reply.Text, "buy eggs")

	reply = h.say("!c buy eggs")
	require.NoError(t, reply.Err)
	rs, err := h.store.ListActive(context.Background(), "100")
	require.NoError(t, err)
	require.Len(t, rs, 1)
	require.Equal(t, "buy milk", rs[0].Text)
}

func TestListOrdersByNextFire(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	require.Contains(t, h.say("!list").Text, "No reminders")

	require.NoError(t, h.say("!remind in 5 days: dentist").Err)
	require.NoError(t, h.say("!remindroom every monday at 09:30: standup").Err)
	require.NoError(t, h.say("!remind in 30 minutes: tea").Err)

	text := h.say("!ls").Text
	tests := []struct {
		before, after string
	}{
		{before: "tea", after: "standup"},
		{before: "standup", after: "dentist"},
	}
	for _, tt := range tests {
		require.Less(t, strings.Index(text, tt.before), strings.Index(text, tt.after), text)
	}
	require.Contains(t, text, "standup\n  🔁 every Monday at 09:30")
	require.Equal(t, 1, strings.Count(text, "🔁"))
}

func TestAlarmCommandAndSilence(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	reply := h.say("!alarmroom in 1 minute: stretch")
	require.NoError(t, reply.Err)
	require.Contains(t, reply.Text, "Alarm set")
	r := h.only(t)
	require.True(t, r.Alarm)
	require.Equal(t, reminder.TargetRoom, r.Target)

	h.clock.Advance(time.Minute)
	h.sched.Wake()
	require.Eventually(t, func() bool {
		alarms, err := h.sched.Alarms(context.Background(), "100")
		return err == nil && len(alarms) == 1
	}, 3*time.Second, 5*time.Millisecond)
	require.Contains(t, h.say("!list").Text, "Ringing alarms:")

	reply = h.say("!silence")
	require.NoError(t, reply.Err)
	require.Equal(t, "🔕 Silenced: stretch", reply.Text)
	require.Contains(t, h.say("!s").Text, "No alarm is ringing")
}

func TestNonCommandsAreIgnored(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	for _, text := range []string{"hello there", "", "!", "!unknown thing", "remind in 1 minute: x"} {
		reply := h.say(text)
		require.Empty(t, reply.Text, text)
		require.NoError(t, reply.Err)
	}
	require.NotEmpty(t, h.say("/help@remind_bot").Text)
	require.Contains(t, h.say("!HELP").Text, "!remind <when>: <text>")
}

func TestSplitWhen(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, when, text string
		ok             bool
	}{
		{"in 1 minute: buy milk", "in 1 minute", "buy milk", true},
		{"at 17:30: leave", "at 17:30", "leave", true},
		{"tomorrow at 9am; call: the bank", "tomorrow at 9am", "call: the bank", true},
		{"in 1h; a; b", "in 1h", "a; b", true},
		{"every 2 weeks; monday at 10:00; review", "every 2 weeks starting monday at 10:00", "review", true},
		{"cron 0 9 * * 1-5: standup", "cron 0 9 * * 1-5", "standup", true},
		{"in 5 minutes", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			w, text, ok := splitWhen(tc.in)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.when, w)
			require.Equal(t, tc.text, text)
		})
	}
}

func TestMatchTarget(t *testing.T) {
	t.Parallel()
	active := []*reminder.Reminder{
		{ID: "abcd1234-0000-4000-8000-000000000001", Text: "Buy milk"},
		{ID: "abce5678-0000-4000-8000-000000000002", Text: "buy milk and eggs"},
		{ID: "ffff0000-0000-4000-8000-000000000003", Text: "call mom"},
	}
	cases := []struct {
		query string
		want  string
		err   error
	}{
		{"ffff0000-0000-4000-8000-000000000003", "ffff0000-0000-4000-8000-000000000003", nil},
		{"ABCD", "abcd1234-0000-4000-8000-000000000001", nil},
		{"abc", "", reminder.ErrNoMatch},
		{"abc1", "", reminder.ErrNoMatch},
		{"buy milk", "abcd1234-0000-4000-8000-000000000001", nil},
		{"eggs", "abce5678-0000-4000-8000-000000000002", nil},
		{"milk", "", reminder.ErrAmbiguousTarget},
		{"dentist", "", reminder.ErrNoMatch},
	}
	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			t.Parallel()
			r, err := matchTarget(active, tc.query)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, r.ID)
		})
	}
}

func TestDispatcherReplies(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	out := &recorder{}
	d := NewDispatcher(h.proc, out, 2, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan transport.Update, 4)
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, updates) }()

	updates <- transport.Update{Message: &transport.Message{Room: "100", SenderID: "7", Text: "!help"}}
	updates <- transport.Update{Message: &transport.Message{Room: "100", SenderID: "7", Text: "just chatting"}}
	require.Eventually(t, func() bool { return len(out.messages()) == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Contains(t, out.messages()[0].text, "Commands")

	cancel()
	require.NoError(t, <-done)
}
