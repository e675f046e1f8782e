package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeparse"
	logx "remindbot/pkg/logx"
)

const createUsage = "%s <when>: <text>"

func (p *Processor) createHandler(target reminder.Target, alarm bool) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		id, text, err := p.create(ctx, req, target, alarm)
		p.audit(ctx, req, id, err)
		return text, err
	}
}

func (p *Processor) create(ctx context.Context, req *Request, target reminder.Target, alarm bool) (string, error) {
	usage := fmt.Sprintf(createUsage, req.Command)
	whenText, body, ok := splitWhen(req.Args)
	if !ok {
		return "", &usageError{usage: usage, msg: "separate the time from the text with \": \" or \";\""}
	}
	if whenText == "" || body == "" {
		return "", &usageError{usage: usage}
	}

	loc := p.config().Location
	res, err := timeparse.Parse(whenText, req.Now, loc)
	if err != nil {
		return "", err
	}

	r := &reminder.Reminder{
		ID:            reminder.NewID(),
		Room:          req.Msg.Room,
		Requester:     req.Msg.SenderID,
		RequesterName: req.Msg.SenderName,
		Target:        target,
		Text:          body,
		Alarm:         alarm,
		FireAt:        res.At,
		State:         reminder.StatePending,
		CreatedAt:     req.Now.UTC(),
	}
	if res.Recurring() {
		r.Rule = res.Rule
	}

	if err := p.insert(ctx, r); err != nil {
		return r.ID, err
	}
	if err := p.sched.Schedule(ctx, r); err != nil {
		// The record is durable; recovery schedules it on the next start.
		req.Log.Warn("reminder saved but not scheduled", logx.ID(r.ID), logx.Err(err))
	}
	p.publish(eventbus.ReminderCreated, eventbus.ReminderEvent{ID: r.ID, Room: r.Room, FireAt: r.FireAt})
	req.Log.Info("reminder created",
		logx.ID(r.ID),
		logx.Time("fire_at", r.FireAt),
		logx.String("rule", r.Rule.Describe()),
	)
	return confirmation(r, req.Now, loc), nil
}

// insert rejects a duplicate text in the room, then stores r.
func (p *Processor) insert(ctx context.Context, r *reminder.Reminder) error {
	p.createMu.Lock()
	defer p.createMu.Unlock()

	active, err := p.active(ctx, r.Room)
	if err != nil {
		return err
	}
	for _, other := range active {
		if strings.EqualFold(strings.TrimSpace(other.Text), strings.TrimSpace(r.Text)) {
			return reminder.ErrDuplicate
		}
	}
	err = storage.Retry(ctx, p.config().StorageRetry, func(ctx context.Context) error {
		return p.store.Create(ctx, r)
	})
	if err != nil {
		return &reminder.StoreError{Op: "create", ID: r.ID, Err: err}
	}
	return nil
}

// splitWhen separates "<when>; <text>" or "<when>: <text>". The three-part
// form "every <interval>; <start>; <text>" becomes a recurrence with a start.
func splitWhen(args string) (whenText, text string, ok bool) {
	if i := strings.IndexByte(args, ';'); i >= 0 {
		whenText, text = strings.TrimSpace(args[:i]), args[i+1:]
		lower := strings.ToLower(whenText)
		if strings.HasPrefix(lower, "every ") || strings.HasPrefix(lower, "each ") {
			if start, rest, found := strings.Cut(text, ";"); found && strings.TrimSpace(start) != "" {
				whenText += " starting " + strings.TrimSpace(start)
				text = rest
			}
		}
		return whenText, strings.TrimSpace(text), true
	}
	if i := strings.Index(args, ": "); i >= 0 {
		return strings.TrimSpace(args[:i]), strings.TrimSpace(args[i+2:]), true
	}
	return "", "", false
}

func confirmation(r *reminder.Reminder, now time.Time, loc *time.Location) string {
	var b strings.Builder
	switch {
	case r.Alarm:
		b.WriteString("⏰ Alarm set for ")
	case r.Target == reminder.TargetRoom:
		b.WriteString("✅ I'll remind the room ")
	default:
		b.WriteString("✅ I'll remind you ")
	}
	b.WriteString(when(r.FireAt, now, loc))
	b.WriteString(": ")
	b.WriteString(r.Text)
	if r.Recurring() {
		b.WriteString("\n🔁 ")
		b.WriteString(r.Rule.Describe())
		if next := recurrence.Occurrences(r.Rule, r.FireAt, 2); len(next) > 0 {
			parts := make([]string, 0, len(next))
			for _, t := range next {
				parts = append(parts, t.In(loc).Format(timeLayout))
			}
			b.WriteString("; then ")
			b.WriteString(strings.Join(parts, ", "))
		}
	}
	b.WriteString("\nid: ")
	b.WriteString(reminder.ShortID(r.ID))
	return b.String()
}
