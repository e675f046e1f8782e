package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

func (p *Processor) list(ctx context.Context, req *Request) (string, error) {
	active, err := p.active(ctx, req.Msg.Room)
	if err != nil {
		return "", err
	}
	alarms, err := p.sched.Alarms(ctx, req.Msg.Room)
	if err != nil {
		return "", err
	}
	if len(active) == 0 && len(alarms) == 0 {
		return "📭 No reminders in this room.", nil
	}

	loc := p.config().Location
	slices.SortStableFunc(active, func(a, b *reminder.Reminder) int { return a.FireAt.Compare(b.FireAt) })
	lines := []string{"📋 Reminders in this room"}
	if len(active) > 0 {
		lines = append(lines, "")
	}
	for _, r := range active {
		line := fmt.Sprintf("• %s %s: %s", reminder.ShortID(r.ID), when(r.FireAt, req.Now, loc), r.Text)
		if r.Alarm {
			line += " ⏰"
		}
		if r.Recurring() {
			line += "\n  🔁 " + r.Rule.Describe()
		}
		lines = append(lines, line)
	}
	if len(alarms) > 0 {
		lines = append(lines, "", "Ringing alarms:")
		for _, a := range alarms {
			lines = append(lines, fmt.Sprintf("• %s (ringing since %s)", a.Text, a.Since.In(loc).Format("15:04")))
		}
	}
	return strings.Join(lines, "\n"), nil
}

func (p *Processor) cancel(ctx context.Context, req *Request) (string, error) {
	r, err := p.cancelTarget(ctx, req)
	id := ""
	if r != nil {
		id = r.ID
	}
	p.audit(ctx, req, id, err)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🗑 Cancelled %s: %s", reminder.ShortID(r.ID), r.Text), nil
}

func (p *Processor) cancelTarget(ctx context.Context, req *Request) (*reminder.Reminder, error) {
	if req.Args == "" {
		return nil, &usageError{usage: req.Command + " <id|text>"}
	}
	active, err := p.active(ctx, req.Msg.Room)
	if err != nil {
		return nil, err
	}
	r, err := matchTarget(active, req.Args)
	if errors.Is(err, reminder.ErrNoMatch) {
		return p.finishedTarget(ctx, req.Msg.Room, req.Args)
	}
	if err != nil {
		return nil, err
	}
	err = p.sched.Cancel(ctx, r.ID)
	if errors.Is(err, storage.ErrNotFound) {
		err = reminder.ErrNoMatch
	}
	return r, err
}

// finishedTarget looks up a full id that is no longer active, so cancelling
// a reminder that already fired says so instead of reporting no match.
func (p *Processor) finishedTarget(ctx context.Context, room, query string) (*reminder.Reminder, error) {
	id, err := uuid.Parse(strings.TrimSpace(query))
	if err != nil {
		return nil, reminder.ErrNoMatch
	}
	r, err := p.store.Get(ctx, id.String())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, reminder.ErrNoMatch
	case err != nil:
		return nil, err
	case r.Room != room || !r.State.Terminal():
		return nil, reminder.ErrNoMatch
	}
	return r, reminder.ErrAlreadyTerminal
}

// matchTarget resolves a cancel target among active reminders: full id, then
// a unique id prefix of at least four characters, then the exact text
// (case-insensitive), then a text substring. Each tier that matches more
// than one reminder is ambiguous.
func matchTarget(active []*reminder.Reminder, query string) (*reminder.Reminder, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	tiers := []func(r *reminder.Reminder) bool{
		func(r *reminder.Reminder) bool { return strings.ToLower(r.ID) == q },
		func(r *reminder.Reminder) bool {
			return len(q) >= 4 && !strings.Contains(q, " ") && strings.HasPrefix(strings.ToLower(r.ID), q)
		},
		func(r *reminder.Reminder) bool { return strings.ToLower(strings.TrimSpace(r.Text)) == q },
		func(r *reminder.Reminder) bool { return strings.Contains(strings.ToLower(r.Text), q) },
	}
	for _, match := range tiers {
		var hits []*reminder.Reminder
		for _, r := range active {
			if match(r) {
				hits = append(hits, r)
			}
		}
		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], nil
		default:
			return nil, &ambiguousError{query: query, matches: hits}
		}
	}
	return nil, reminder.ErrNoMatch
}

func (p *Processor) silence(ctx context.Context, req *Request) (string, error) {
	silenced, err := p.sched.Silence(ctx, req.Msg.Room, req.Args)
	p.audit(ctx, req, "", err)
	if err != nil {
		return "", err
	}
	if len(silenced) == 0 {
		if req.Args == "" {
			return "🔕 No alarm is ringing in this room.", nil
		}
		return "", reminder.ErrNoMatch
	}
	lines := make([]string, 0, len(silenced))
	for _, a := range silenced {
		lines = append(lines, "🔕 Silenced: "+a.Text)
	}
	return strings.Join(lines, "\n"), nil
}
