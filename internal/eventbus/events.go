package eventbus

import "time"

// Reminder lifecycle event types.
const (
	ReminderCreated   = "reminder.created"
	ReminderFired     = "reminder.fired"
	ReminderCompleted = "reminder.completed"
	ReminderCancelled = "reminder.cancelled"
	ReminderRecovered = "reminder.recovered"
	SendFailed        = "reminder.send_failed"
	StoreFailed       = "reminder.store_failed"
	AlarmRang         = "alarm.rang"
	AlarmSilenced     = "alarm.silenced"
)

// ReminderEvent is the Data payload of reminder.* and alarm.* events.
type ReminderEvent struct {
	ID       string    `json:"id"`
	Room     string    `json:"room"`
	FireAt   time.Time `json:"fire_at,omitzero"`
	Attempts int       `json:"attempts,omitempty"`
	Skipped  int       `json:"skipped,omitempty"`
	Err      string    `json:"err,omitempty"`
}
