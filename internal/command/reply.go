package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/reminder"
)

type usageError struct {
	usage string
	msg   string
}

func (e *usageError) Error() string {
	if e.msg == "" {
		return "usage: " + e.usage
	}
	return e.msg + "; usage: " + e.usage
}

// ambiguousError lists the candidates of an ambiguous cancel target.
type ambiguousError struct {
	query   string
	matches []*reminder.Reminder
}

func (e *ambiguousError) Error() string {
	return fmt.Sprintf("%q matches %d reminders", e.query, len(e.matches))
}

func (e *ambiguousError) Unwrap() error { return reminder.ErrAmbiguousTarget }

// userError reports errors caused by the request rather than the service.
func userError(err error) bool {
	var pe *reminder.ParseError
	var ue *usageError
	return errors.As(err, &pe) || errors.As(err, &ue) ||
		errors.Is(err, reminder.ErrAmbiguousTarget) ||
		errors.Is(err, reminder.ErrNoMatch) ||
		errors.Is(err, reminder.ErrDuplicate) ||
		errors.Is(err, reminder.ErrAlreadyTerminal)
}

func userMessage(err error, prefix string) string {
	var (
		pe *reminder.ParseError
		ue *usageError
		ae *ambiguousError
		se *reminder.StoreError
	)
	switch {
	case errors.As(err, &pe):
		return "⚠️ " + pe.Error()
	case errors.As(err, &ue):
		msg := "⚠️ usage: " + prefix + ue.usage
		if ue.msg != "" {
			msg = "⚠️ " + ue.msg + "\nusage: " + prefix + ue.usage
		}
		return msg
	case errors.As(err, &ae):
		lines := []string{fmt.Sprintf("⚠️ %q matches more than one reminder; cancel it by id:", ae.query)}
		for _, r := range ae.matches {
			lines = append(lines, fmt.Sprintf("• %s %s", reminder.ShortID(r.ID), r.Text))
		}
		return strings.Join(lines, "\n")
	case errors.Is(err, reminder.ErrAmbiguousTarget):
		return "⚠️ that matches more than one reminder; use its id"
	case errors.Is(err, reminder.ErrNoMatch):
		return "⚠️ no matching reminder in this room"
	case errors.Is(err, reminder.ErrAlreadyTerminal):
		return "⚠️ that reminder already fired or was cancelled"
	case errors.Is(err, reminder.ErrDuplicate):
		return "⚠️ " + reminder.ErrDuplicate.Error()
	case errors.As(err, &se):
		return "⚠️ could not reach storage, please try again"
	default:
		return "⚠️ something went wrong, please try again"
	}
}

const timeLayout = "Mon 02 Jan 2006 15:04 MST"

// when renders t in loc with a relative phrase, e.g.
// "Mon 19 Jan 2026 09:00 UTC (3 days from now)".
func when(t, now time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s (%s)", t.In(loc).Format(timeLayout), humanize.RelTime(t, now, "ago", "from now"))
}
