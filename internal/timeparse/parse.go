// Package timeparse turns natural-language time phrases into either a single
// instant or a recurrence rule with its first fire time.
//
// The parser never guesses: phrases that admit more than one reading are
// rejected with a ParseError carrying ReasonAmbiguous and a hint.
package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
)

type Kind int

const (
	KindInstant Kind = iota + 1
	KindRecurring
)

// Result is either an instant (Kind == KindInstant, Rule zero) or a
// recurrence (Kind == KindRecurring). At is always the first fire instant,
// in UTC and strictly after the reference time.
type Result struct {
	Kind Kind
	At   time.Time
	Rule reminder.Rule
}

func (r Result) Recurring() bool { return r.Kind == KindRecurring }

// Parse interprets text relative to ref. Wall-clock phrases are read in loc;
// loc == nil means UTC.
func Parse(text string, ref time.Time, loc *time.Location) (Result, error) {
	if loc == nil {
		loc = time.UTC
	}
	p := &parser{input: strings.TrimSpace(text), ref: ref, loc: loc}
	toks := tokenize(text)
	if len(toks) == 0 {
		return Result{}, p.fail(reminder.ReasonEmpty, "")
	}

	switch toks[0] {
	case "cron":
		return p.cronExpr(strings.TrimSpace(p.input[len("cron"):]))
	case "every", "each":
		return p.recurring(toks[1:])
	}

	m, err := p.moment(toks)
	if err != nil {
		return Result{}, err
	}
	if m.dateOnly {
		return Result{}, p.fail(reminder.ReasonAmbiguous, "add a time of day, e.g. \"tomorrow at 9am\"")
	}
	if !m.at.After(ref) {
		return Result{}, p.fail(reminder.ReasonPast, "pick a time in the future")
	}
	if err := p.checkHorizon(m.at); err != nil {
		return Result{}, err
	}
	return Result{Kind: KindInstant, At: m.at.UTC()}, nil
}

// maxAmount bounds a single number in a duration ("in N hours"), so the
// arithmetic below cannot overflow before the horizon check sees it.
const maxAmount = 1_000_000_000

// maxSpanSeconds keeps the fixed part of a span below the time.Duration
// limit (about 292 years).
const maxSpanSeconds = 250 * 366 * 86400

// checkHorizon rejects instants after reminder.MaxFireAt.
func (p *parser) checkHorizon(t time.Time) error {
	if t.After(reminder.MaxFireAt) {
		return p.tooFar()
	}
	return nil
}

func (p *parser) tooFar() error {
	return p.fail(reminder.ReasonUnsupported, "that is too far in the future (limit: year "+strconv.Itoa(reminder.MaxFireAt.Year())+")")
}

type parser struct {
	input string
	ref   time.Time
	loc   *time.Location
}

func (p *parser) fail(reason reminder.ParseReason, hint string) error {
	return &reminder.ParseError{Reason: reason, Input: p.input, Hint: hint}
}

// clock is a time of day.
type clock struct {
	hour, minute int
}

// moment is the outcome of reading an instant phrase. A date-only phrase
// carries the start of that day in at.
type moment struct {
	at       time.Time
	dateOnly bool
	relative bool
}

// moment reads a complete instant phrase; every token must be consumed.
func (p *parser) moment(toks []string) (moment, error) {
	if len(toks) == 0 {
		return moment{}, p.fail(reminder.ReasonEmpty, "")
	}
	if toks[0] == "in" || looksRelative(toks) {
		rest := toks
		if rest[0] == "in" {
			rest = rest[1:]
		}
		span, err := p.span(trimRelativeTail(rest))
		if err != nil {
			return moment{}, err
		}
		return moment{at: span.addTo(p.ref, p.loc), relative: true}, nil
	}
	return p.absolute(toks)
}

func looksRelative(toks []string) bool {
	if len(toks) >= 2 {
		if _, ok := numberOf(toks[0]); ok {
			if _, ok := units[toks[1]]; ok {
				return true
			}
		}
	}
	if compactRe.MatchString(toks[0]) {
		_, ok := parseCompact(toks[0])
		return ok
	}
	return false
}

func trimRelativeTail(toks []string) []string {
	n := len(toks)
	switch {
	case n >= 2 && toks[n-2] == "from" && toks[n-1] == "now":
		return toks[:n-2]
	case n >= 1 && (toks[n-1] == "later" || toks[n-1] == "ahead"):
		return toks[:n-1]
	}
	return toks
}

// span is a duration split into calendar and fixed parts so that day and
// month arithmetic follows the wall clock.
type span struct {
	seconds int64
	days    int
	weeks   int
	months  int
	// dominant is the single unit used when only one unit was given.
	dominant unit
	mixed    bool
}

func (s span) isZero() bool {
	return s.seconds == 0 && s.days == 0 && s.weeks == 0 && s.months == 0
}

func (s span) addTo(t time.Time, loc *time.Location) time.Time {
	out := t
	if s.days != 0 || s.weeks != 0 || s.months != 0 {
		l := t.In(loc)
		y, m, d := l.Date()
		h, mi, sec := l.Clock()
		first := time.Date(y, m+time.Month(s.months), 1, 0, 0, 0, 0, time.UTC)
		day := d
		if s.months != 0 {
			day = min(d, daysIn(first.Year(), first.Month()))
		}
		out = recurrence.WallTime(loc, first.Year(), first.Month(), day+s.days+7*s.weeks, h, mi, sec).
			Add(time.Duration(l.Nanosecond()))
	}
	return out.Add(time.Duration(s.seconds) * time.Second)
}

func (s *span) add(n int, u unit) {
	if s.dominant != unitNone && s.dominant != u {
		s.mixed = true
	}
	s.dominant = u
	switch u {
	case unitSecond:
		s.seconds += int64(n)
	case unitMinute:
		s.seconds += int64(n) * 60
	case unitHour:
		s.seconds += int64(n) * 3600
	case unitDay:
		s.days += n
	case unitWeek:
		s.weeks += n
	case unitMonth:
		s.months += n
	case unitYear:
		s.months += 12 * n
	}
}

// span reads "2 hours and 15 minutes", "an hour", "1h30m", "3 days".
func (p *parser) span(toks []string) (span, error) {
	var s span
	i := 0
	for i < len(toks) {
		tok := toks[i]
		if tok == "and" || tok == "," {
			i++
			continue
		}
		if compactRe.MatchString(tok) {
			c, ok := parseCompact(tok)
			if !ok {
				return span{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("unknown duration %q", tok))
			}
			for _, part := range c {
				if part.n > maxAmount {
					return span{}, p.tooFar()
				}
				s.add(part.n, part.u)
			}
			i++
			continue
		}
		n, ok := numberOf(tok)
		if !ok || i+1 >= len(toks) {
			return span{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("expected an amount and a unit near %q", tok))
		}
		u, ok := units[toks[i+1]]
		if !ok {
			return span{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("unknown unit %q", toks[i+1]))
		}
		if n > maxAmount {
			return span{}, p.tooFar()
		}
		s.add(n, u)
		i += 2
	}
	if s.isZero() {
		return span{}, p.fail(reminder.ReasonUnsupported, "duration must be greater than zero")
	}
	if s.seconds > maxSpanSeconds {
		return span{}, p.tooFar()
	}
	return s, nil
}

type compactPart struct {
	n int
	u unit
}

func parseCompact(tok string) ([]compactPart, bool) {
	segs := compactSegRe.FindAllStringSubmatch(tok, -1)
	if len(segs) == 0 {
		return nil, false
	}
	out := make([]compactPart, 0, len(segs))
	for _, seg := range segs {
		n, err := strconv.Atoi(seg[1])
		if err != nil {
			return nil, false
		}
		u, ok := units[seg[2]]
		if !ok {
			return nil, false
		}
		out = append(out, compactPart{n: n, u: u})
	}
	return out, true
}

// dateSpec collects the date parts of an absolute phrase.
type dateSpec struct {
	set      bool
	year     int
	month    time.Month
	day      int
	hasYear  bool
	relative bool // today/tomorrow: date is fixed, never rolled forward

	weekday    time.Weekday
	hasWeekday bool
	next       bool
}

func (d *dateSpec) setDay(y int, m time.Month, day int) {
	d.set, d.year, d.month, d.day, d.hasYear = true, y, m, day, true
}

// absolute reads phrases such as "tomorrow at 5pm", "on march 3rd at 17:00",
// "next friday 10:30am", "2026-03-03 17:00" or "noon".
func (p *parser) absolute(toks []string) (moment, error) {
	var (
		date     dateSpec
		tod      clock
		hasTime  bool
		pendDay  int
		pendNext bool
	)
	now := p.ref.In(p.loc)

	for i := 0; i < len(toks); i++ {
		tok := toks[i]
		switch {
		case isFiller(tok):
			continue
		case tok == "today":
			date.setDay(now.Date())
			date.relative = true
			continue
		case tok == "tomorrow":
			date.setDay(now.AddDate(0, 0, 1).Date())
			date.relative = true
			continue
		case tok == "next":
			pendNext = true
			continue
		}

		if wd, ok := weekdays[tok]; ok {
			date.hasWeekday, date.weekday, date.next = true, wd, pendNext
			pendNext = false
			continue
		}
		if m, ok := months[tok]; ok {
			date.set, date.month = true, m
			switch {
			case pendDay > 0:
				date.day, pendDay = pendDay, 0
			case i+1 < len(toks):
				if d, ok := dayNumber(toks[i+1]); ok {
					date.day = d
					i++
				}
			}
			if date.day == 0 {
				return moment{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("which day of %s?", m))
			}
			j := i + 1
			if j < len(toks) && toks[j] == "," {
				j++
			}
			if j < len(toks) && yearRe.MatchString(toks[j]) {
				date.year, _ = strconv.Atoi(toks[j])
				date.hasYear = true
				i = j
			}
			continue
		}
		if m := isoDateRe.FindStringSubmatch(tok); m != nil {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			date.setDay(y, time.Month(mo), d)
			continue
		}
		if slashDateRe.MatchString(tok) {
			return moment{}, p.fail(reminder.ReasonAmbiguous, "day/month order is unclear; write the month name or use YYYY-MM-DD")
		}
		if d, ok := ordinalOf(tok); ok {
			pendDay = d
			continue
		}
		// "3 march": a bare number directly followed by a month name.
		if i+1 < len(toks) {
			if _, isMonth := months[toks[i+1]]; isMonth {
				if d, ok := dayNumber(tok); ok {
					pendDay = d
					continue
				}
			}
		}

		c, used, err := p.clockAt(toks, i)
		if err != nil {
			return moment{}, err
		}
		if used > 0 {
			if hasTime {
				return moment{}, p.fail(reminder.ReasonAmbiguous, "more than one time of day given")
			}
			tod, hasTime = c, true
			i += used - 1
			continue
		}
		return moment{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("did not understand %q", tok))
	}

	if pendDay > 0 {
		if date.set || date.hasWeekday {
			return moment{}, p.fail(reminder.ReasonUnsupported, "which month?")
		}
		return moment{}, p.fail(reminder.ReasonAmbiguous, "which month? e.g. \"on the 15th of march at 9am\"")
	}
	if pendNext {
		return moment{}, p.fail(reminder.ReasonUnsupported, "\"next\" must be followed by a weekday")
	}
	if !date.set && !date.hasWeekday && !hasTime {
		return moment{}, p.fail(reminder.ReasonUnsupported, "no date or time found")
	}
	if date.set && date.hasWeekday {
		return p.checkWeekdayMatch(date, tod, hasTime)
	}
	return p.resolve(date, tod, hasTime)
}

func (p *parser) checkWeekdayMatch(date dateSpec, tod clock, hasTime bool) (moment, error) {
	m, err := p.resolve(dateSpec{set: true, year: date.year, month: date.month, day: date.day, hasYear: date.hasYear, relative: date.relative}, tod, hasTime)
	if err != nil {
		return m, err
	}
	if m.at.In(p.loc).Weekday() != date.weekday {
		return moment{}, p.fail(reminder.ReasonAmbiguous, fmt.Sprintf("that date is not a %s", date.weekday))
	}
	return m, nil
}

// resolve turns collected parts into an instant in p.loc.
func (p *parser) resolve(date dateSpec, tod clock, hasTime bool) (moment, error) {
	now := p.ref.In(p.loc)
	at := func(y int, m time.Month, d int) time.Time {
		return recurrence.WallTime(p.loc, y, m, d, tod.hour, tod.minute, 0)
	}

	switch {
	case date.hasWeekday:
		y, m, d := now.Date()
		offset := (int(date.weekday) - int(now.Weekday()) + 7) % 7
		if date.next && offset == 0 {
			offset = 7
		}
		if !hasTime {
			return moment{at: at(y, m, d+offset), dateOnly: true}, nil
		}
		t := at(y, m, d+offset)
		if !t.After(p.ref) {
			t = at(y, m, d+offset+7)
		}
		return moment{at: t}, nil

	case date.set:
		y := date.year
		if !date.hasYear {
			y = now.Year()
		}
		if date.day < 1 || date.day > daysIn(y, date.month) {
			return moment{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("%s has no day %d", date.month, date.day))
		}
		if !hasTime {
			start := recurrence.WallTime(p.loc, y, date.month, date.day, 0, 0, 0)
			if !date.hasYear && start.AddDate(0, 0, 1).Before(p.ref) {
				start = recurrence.WallTime(p.loc, y+1, date.month, date.day, 0, 0, 0)
			}
			return moment{at: start, dateOnly: true}, nil
		}
		t := at(y, date.month, date.day)
		if !date.hasYear && !t.After(p.ref) {
			if date.day > daysIn(y+1, date.month) {
				return moment{}, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("%s has no day %d next year", date.month, date.day))
			}
			t = at(y+1, date.month, date.day)
		}
		return moment{at: t}, nil

	default:
		y, m, d := now.Date()
		t := at(y, m, d)
		if !t.After(p.ref) {
			t = at(y, m, d+1)
		}
		return moment{at: t}, nil
	}
}

// clockAt tries to read a time of day at toks[i]. used is 0 when the token
// is not a time.
func (p *parser) clockAt(toks []string, i int) (clock, int, error) {
	tok := toks[i]
	switch tok {
	case "noon", "midday":
		return clock{hour: 12}, 1, nil
	case "midnight":
		return clock{}, 1, nil
	}
	m := clockRe.FindStringSubmatch(tok)
	if m == nil {
		return clock{}, 0, nil
	}
	used := 1
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	hasMinute := m[2] != ""
	if hasMinute {
		minute, _ = strconv.Atoi(m[2])
	}
	suffix := m[3]
	if suffix == "" && i+1 < len(toks) && (toks[i+1] == "am" || toks[i+1] == "pm") {
		suffix = toks[i+1]
		used = 2
	}
	if minute > 59 {
		return clock{}, 0, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("invalid minute in %q", tok))
	}

	switch {
	case suffix != "":
		if hour < 1 || hour > 12 {
			return clock{}, 0, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("invalid 12-hour time %q", tok))
		}
		hour %= 12
		if suffix == "pm" {
			hour += 12
		}
	case hasMinute:
		if hour > 23 {
			return clock{}, 0, p.fail(reminder.ReasonUnsupported, fmt.Sprintf("invalid time %q", tok))
		}
	default:
		if hour >= 1 && hour <= 12 {
			return clock{}, 0, p.fail(reminder.ReasonAmbiguous,
				fmt.Sprintf("say %dam or %dpm, or use 24-hour time like %02d:00", hour, hour, hour%12+12))
		}
		if hour > 23 {
			return clock{}, 0, nil
		}
	}
	return clock{hour: hour, minute: minute}, used, nil
}

// dayNumber accepts "3", "03" or "3rd" as a day of month.
func dayNumber(tok string) (int, bool) {
	if d, ok := ordinalOf(tok); ok {
		return d, true
	}
	if len(tok) > 2 {
		return 0, false
	}
	d, err := strconv.Atoi(tok)
	if err != nil || d < 1 || d > 31 {
		return 0, false
	}
	return d, true
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
