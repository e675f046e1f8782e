package timeparse

import (
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronExpr maps a five-field cron expression onto a reminder rule. Only the
// shapes a rule can hold are accepted: one fire time per day restricted by
// weekday or by day of month, an hourly minute, or "@every <duration>".
func (p *parser) cronExpr(spec string) (Result, error) {
	if spec == "" {
		return Result{}, p.fail(reminder.ReasonEmpty, "e.g. \"cron 30 9 * * 1-5\"")
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return Result{}, p.fail(reminder.ReasonUnsupported, err.Error())
	}

	switch s := sched.(type) {
	case cron.ConstantDelaySchedule:
		rule := reminder.Rule{
			Kind:     reminder.KindInterval,
			Every:    int(s.Delay / time.Second),
			Unit:     reminder.UnitSecond,
			Timezone: p.loc.String(),
		}
		first, _ := recurrence.Next(rule, p.ref)
		return Result{Kind: KindRecurring, At: first, Rule: rule}, nil
	case *cron.SpecSchedule:
		return p.cronSpec(s)
	}
	return Result{}, p.fail(reminder.ReasonUnsupported, "unrecognised cron schedule")
}

func (p *parser) cronSpec(s *cron.SpecSchedule) (Result, error) {
	loc := p.loc
	if s.Location != nil && s.Location != time.Local {
		loc = s.Location
	}
	if !fullField(s.Month, 1, 12) {
		return Result{}, p.fail(reminder.ReasonUnsupported, "cron month restrictions are not supported")
	}
	domAll, dowAll := fullField(s.Dom, 1, 31), fullField(s.Dow, 0, 6)
	if !domAll && !dowAll {
		return Result{}, p.fail(reminder.ReasonUnsupported, "restrict either the day of month or the weekday, not both")
	}
	minutes, hours := setBits(s.Minute, 0, 59), setBits(s.Hour, 0, 23)
	if len(minutes) != 1 {
		return Result{}, p.fail(reminder.ReasonUnsupported, "cron schedules must fire at a single minute")
	}
	minute := minutes[0]

	if len(hours) == 24 && domAll && dowAll {
		rule := reminder.Rule{Kind: reminder.KindInterval, Every: 3600, Unit: reminder.UnitSecond, Timezone: loc.String()}
		l := p.ref.In(loc)
		first := time.Date(l.Year(), l.Month(), l.Day(), l.Hour(), minute, 0, 0, loc)
		if !first.After(p.ref) {
			first = first.Add(time.Hour)
		}
		return Result{Kind: KindRecurring, At: first.UTC(), Rule: rule}, nil
	}
	if len(hours) != 1 {
		return Result{}, p.fail(reminder.ReasonUnsupported, "cron schedules must fire at a single hour or every hour")
	}

	rule := reminder.Rule{
		Kind:     reminder.KindCalendar,
		Hour:     hours[0],
		Minute:   minute,
		Timezone: loc.String(),
	}
	if !dowAll {
		for _, d := range setBits(s.Dow, 0, 6) {
			rule.Weekdays = append(rule.Weekdays, time.Weekday(d))
		}
	}
	if !domAll {
		rule.MonthDays = setBits(s.Dom, 1, 31)
	}
	first, ok := recurrence.Next(rule, p.ref)
	if !ok {
		return Result{}, p.fail(reminder.ReasonUnsupported, "cron schedule never fires")
	}
	return Result{Kind: KindRecurring, At: first, Rule: rule}, nil
}

func setBits(field uint64, lo, hi int) []int {
	var out []int
	for i := lo; i <= hi; i++ {
		if field&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func fullField(field uint64, lo, hi int) bool {
	return len(setBits(field, lo, hi)) == hi-lo+1
}
