package app

import (
	"context"
	"strconv"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

// Lifecycle events written to the audit trail. Command outcomes are
// audited by the command processor itself.
var auditedEvents = []string{
	eventbus.ReminderFired,
	eventbus.ReminderCompleted,
	eventbus.ReminderCancelled,
	eventbus.ReminderRecovered,
	eventbus.SendFailed,
	eventbus.StoreFailed,
	eventbus.AlarmSilenced,
}

func (a *App) auditLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(256, auditedEvents...)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.audit(ctx, e)
		}
	}
}

func (a *App) audit(ctx context.Context, e eventbus.Event) {
	entry := auditEntry(e)
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(actx, entry); err != nil {
		a.log.Debug("audit append failed", logx.String("type", e.Type), logx.Err(err))
	}
}

func auditEntry(e eventbus.Event) storage.AuditEntry {
	entry := storage.AuditEntry{At: e.Time, Actor: "scheduler", Action: e.Type, OK: true}
	if re, ok := e.Data.(eventbus.ReminderEvent); ok {
		entry.Room = re.Room
		entry.ReminderID = re.ID
		if re.Err != "" {
			entry.OK = false
			entry.Error = re.Err
		}
		if re.Skipped > 0 {
			entry.Detail = "skipped occurrences: " + strconv.Itoa(re.Skipped)
		}
	}
	if e.Type == eventbus.SendFailed || e.Type == eventbus.StoreFailed {
		entry.OK = false
	}
	return entry
}
