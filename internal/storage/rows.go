package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"remindbot/internal/reminder"
)

// reminderColumns is the column list shared by the SQL drivers.
const reminderColumns = `id, room, requester, requester_name, target, text, alarm, fire_at, rule, state, fired, created_at, last_fired_at, updated_at`

// rowScanner is satisfied by *sql.Row, *sql.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*reminder.Reminder, error) {
	var (
		r                                          reminder.Reminder
		target, state, rule                        string
		fireAt, createdAt, lastFiredAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.Room, &r.Requester, &r.RequesterName, &target, &r.Text, &r.Alarm,
		&fireAt, &rule, &state, &r.Fired, &createdAt, &lastFiredAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Target = reminder.Target(target)
	r.State = reminder.State(state)
	r.FireAt = fromNanos(fireAt)
	r.CreatedAt = fromNanos(createdAt)
	r.LastFiredAt = fromNanos(lastFiredAt)
	r.UpdatedAt = fromNanos(updatedAt)
	if strings.TrimSpace(rule) != "" {
		if err := json.Unmarshal([]byte(rule), &r.Rule); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

// reminderArgs returns the values for reminderColumns, in order.
func reminderArgs(r *reminder.Reminder) ([]any, error) {
	rule := ""
	if !r.Rule.IsZero() {
		b, err := json.Marshal(r.Rule)
		if err != nil {
			return nil, err
		}
		rule = string(b)
	}
	var stamps [4]int64
	for i, t := range []time.Time{r.FireAt, r.CreatedAt, r.LastFiredAt, r.UpdatedAt} {
		n, err := toNanos(t)
		if err != nil {
			return nil, err
		}
		stamps[i] = n
	}
	return []any{
		r.ID, r.Room, r.Requester, r.RequesterName, string(r.Target), r.Text, r.Alarm,
		stamps[0], rule, string(r.State), r.Fired, stamps[1], stamps[2], stamps[3],
	}, nil
}

var (
	minNanos = time.Unix(0, math.MinInt64+1)
	maxNanos = time.Unix(0, math.MaxInt64)
)

// Instants are stored as Unix nanoseconds; 0 is the zero time. Instants
// outside the int64 range (roughly 1678 to 2262) are refused, not wrapped.
func toNanos(t time.Time) (int64, error) {
	if t.IsZero() {
		return 0, nil
	}
	if t.Before(minNanos) || t.After(maxNanos) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, t.UTC().Format(time.RFC3339))
	}
	return t.UnixNano(), nil
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
