package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	"remindbot/internal/transport"
)

type fakeAdapter struct {
	mu    sync.Mutex
	out   chan<- transport.Update
	sent  []string
	menus int
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, room, text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, room+"|"+text)
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) UpdateMenuCommands(context.Context, []transport.BotCommand) error {
	f.mu.Lock()
	f.menus++
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) say(text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- transport.Update{Message: &transport.Message{Room: "100", SenderID: "7", SenderName: "alice", Text: text}}
}

func (f *fakeAdapter) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeAdapter) contains(sub string) bool {
	for _, m := range f.messages() {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

const testConfig = `
telegram:
  token: "test-token"
logging:
  level: error
storage:
  driver: memory
commands:
  prefix: "!"
scheduler:
  send_retry_base: 10ms
`

func TestAppRemindsEndToEnd(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ad := &fakeAdapter{}
	a, err := New(ctx, path, WithAdapter(ad))
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	ad.say("!list")
	require.Eventually(t, func() bool { return ad.contains("No reminders in this room") }, 3*time.Second, 10*time.Millisecond)

	ad.say("!remind in 1 second: tea")
	require.Eventually(t, func() bool { return ad.contains("100|✅ I'll remind you") }, 3*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return ad.contains("100|🔔 @alice tea") }, 5*time.Second, 20*time.Millisecond)

	ad.mu.Lock()
	menus := ad.menus
	ad.mu.Unlock()
	require.Equal(t, 1, menus)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, a.Stop(stopCtx, StopSignal))
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: floppy\n"), 0o600))
	_, err := New(context.Background(), path, WithAdapter(&fakeAdapter{}))
	require.ErrorContains(t, err, "storage.driver")
}

func TestMappingDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Scheduler:    config.SchedulerConfig{Timezone: "Asia/Jakarta", SendTimeout: "3s", StorageRetryMax: 4},
		Commands:     config.CommandsConfig{AlarmInterval: "2m", Timeout: "20s"},
		Housekeeping: config.HousekeepingConfig{Enabled: true, Retention: "48h"},
	}

	sc, err := mapStorage(cfg)
	require.NoError(t, err)
	require.Equal(t, "sqlite", sc.Driver)
	require.Equal(t, defaultStorePath, sc.Path)

	sched, err := mapScheduler(cfg)
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, sched.SendTimeout)
	require.Equal(t, 2*time.Minute, sched.AlarmInterval)
	require.Equal(t, 4, sched.StorageRetry.Max)

	cc, err := mapCommands(cfg)
	require.NoError(t, err)
	require.Equal(t, "Asia/Jakarta", cc.Location.String())
	require.Equal(t, 20*time.Second, cc.Timeout)

	hc, err := mapHousekeeping(cfg)
	require.NoError(t, err)
	require.Equal(t, 48*time.Hour, hc.Retention)

	cfg.Scheduler.SendRetryBase = "fast"
	_, err = mapScheduler(cfg)
	require.ErrorContains(t, err, "scheduler.send_retry_base")
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	e := auditEntry(eventbus.Event{Type: eventbus.SendFailed, Time: at, Data: eventbus.ReminderEvent{ID: "r1", Room: "100", Attempts: 5, Err: "timeout"}})
	require.Equal(t, "r1", e.ReminderID)
	require.False(t, e.OK)
	require.Equal(t, "timeout", e.Error)

	e = auditEntry(eventbus.Event{Type: eventbus.ReminderFired, Time: at, Data: eventbus.ReminderEvent{ID: "r2", Skipped: 3}})
	require.True(t, e.OK)
	require.Equal(t, "skipped occurrences: 3", e.Detail)
}
