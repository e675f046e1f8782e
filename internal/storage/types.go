package storage

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrNotFound = errors.New("reminder not found")
	ErrClosed   = errors.New("storage closed")
	// ErrOutOfRange rejects instants the SQL drivers cannot encode.
	ErrOutOfRange = errors.New("instant out of storable range")
)

// Config configures storage.
//
// Driver values: "file", "memory", "sqlite", "postgres". An empty driver
// means "file".
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// AuditEntry records a handled command or a lifecycle decision.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At         time.Time `json:"at"`
	Room       string    `json:"room,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	Action     string    `json:"action"`
	ReminderID string    `json:"reminder_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
}

// FireUpdate is the commit of one firing. It is applied only while the
// record is in state firing.
type FireUpdate struct {
	State       reminder.State // pending (recurring, more to come) or completed
	FireAt      time.Time
	LastFiredAt time.Time
	Fired       int
}

func (u FireUpdate) validate() error {
	if u.State != reminder.StatePending && u.State != reminder.StateCompleted {
		return fmt.Errorf("fire update: invalid target state %q", u.State)
	}
	if u.FireAt.IsZero() {
		return fmt.Errorf("fire update: fire_at is zero")
	}
	return nil
}

// StateConflictError is returned by compare-and-set writes when the record
// is not in any of the expected states.
type StateConflictError struct {
	ID       string
	Current  reminder.State
	Expected []reminder.State
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("reminder %s: state is %s, expected one of %v", e.ID, e.Current, e.Expected)
}

// IsConflict reports whether err is a *StateConflictError.
func IsConflict(err error) bool {
	var sc *StateConflictError
	return errors.As(err, &sc)
}

// checkTransition is the shared CAS rule used by the in-process drivers.
func checkTransition(id string, cur reminder.State, from []reminder.State) error {
	if len(from) == 0 || slices.Contains(from, cur) {
		return nil
	}
	return &StateConflictError{ID: id, Current: cur, Expected: slices.Clone(from)}
}

func activeStates() []string {
	return []string{string(reminder.StatePending), string(reminder.StateFiring)}
}

func terminalStates() []string {
	return []string{string(reminder.StateCancelled), string(reminder.StateCompleted)}
}
