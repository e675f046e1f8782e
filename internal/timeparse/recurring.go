package timeparse

import (
	"fmt"
	"slices"
	"time"

	"remindbot/internal/recurrence"
	"remindbot/internal/reminder"
)

// recurringPhrase is the split form of an "every ..." phrase.
type recurringPhrase struct {
	lead  []string // what repeats: "2 weeks", "monday and friday", "15th"
	anchr []string // after "on": "friday", "the 15th"
	tod   clock
	hasAt bool
	start []string
	until []string
	count []string
}

// recurring reads the tokens that follow "every".
func (p *parser) recurring(toks []string) (Result, error) {
	ph, err := p.splitRecurring(toks)
	if err != nil {
		return Result{}, err
	}
	if len(ph.lead) == 0 {
		return Result{}, p.fail(reminder.ReasonUnsupported, "every what? e.g. \"every day at 9am\"")
	}

	var rule reminder.Rule
	days, isDayList := weekdayList(ph.lead)
	ords, isOrdList := ordinalList(ph.lead)
	switch {
	case isDayList:
		if len(ph.anchr) > 0 {
			return Result{}, p.fail(reminder.ReasonUnsupported, "unexpected \"on\" after weekdays")
		}
		rule = reminder.Rule{Kind: reminder.KindCalendar, Weekdays: days}
	case isOrdList:
		if len(ph.anchr) > 0 {
			return Result{}, p.fail(reminder.ReasonUnsupported, "unexpected \"on\" after days of month")
		}
		rule = reminder.Rule{Kind: reminder.KindCalendar, MonthDays: ords}
	default:
		rule, err = p.intervalRule(ph)
		if err != nil {
			return Result{}, err
		}
	}
	rule.Timezone = p.loc.String()
	if rule.Kind == reminder.KindCalendar {
		rule.Hour, rule.Minute = ph.tod.hour, ph.tod.minute
	}

	if err := p.applyEnd(&rule, ph); err != nil {
		return Result{}, err
	}

	first, err := p.firstFire(&rule, ph)
	if err != nil {
		return Result{}, err
	}
	if !first.After(p.ref) {
		return Result{}, p.fail(reminder.ReasonPast, "the first occurrence must be in the future")
	}
	if err := p.checkHorizon(first); err != nil {
		return Result{}, err
	}
	if !rule.EndBy.IsZero() && first.After(rule.EndBy) {
		return Result{}, p.fail(reminder.ReasonPast, "the end is before the first occurrence")
	}
	if rule.Kind == reminder.KindInterval && rule.Unit == reminder.UnitMonth && rule.AnchorDay == 0 {
		rule.AnchorDay = first.In(p.loc).Day()
	}
	if err := rule.Validate(); err != nil {
		return Result{}, p.fail(reminder.ReasonUnsupported, err.Error())
	}
	return Result{Kind: KindRecurring, At: first.UTC(), Rule: rule}, nil
}

func (p *parser) splitRecurring(toks []string) (recurringPhrase, error) {
	var (
		ph      recurringPhrase
		main    []string
		current *[]string
		seen    = map[string]bool{}
	)
	current = &main
	for _, tok := range toks {
		var target *[]string
		switch tok {
		case "until", "till", "through":
			target = &ph.until
			tok = "until"
		case "starting", "from", "beginning":
			target = &ph.start
			tok = "starting"
		case "for":
			target = &ph.count
		}
		if target != nil {
			if seen[tok] {
				return ph, p.fail(reminder.ReasonAmbiguous, fmt.Sprintf("%q given twice", tok))
			}
			seen[tok] = true
			current = target
			continue
		}
		*current = append(*current, tok)
	}
	if seen["until"] && len(ph.until) == 0 || seen["starting"] && len(ph.start) == 0 || seen["for"] && len(ph.count) == 0 {
		return ph, p.fail(reminder.ReasonUnsupported, "incomplete phrase")
	}

	if len(ph.start) == 1 && ph.start[0] == "now" {
		ph.start = nil
	}

	lead, timeToks := splitTime(main)
	if len(timeToks) > 0 {
		c, used, err := p.clockAt(timeToks, 0)
		if err != nil {
			return ph, err
		}
		if used == 0 || used != len(timeToks) {
			return ph, p.fail(reminder.ReasonUnsupported, "could not read the time of day")
		}
		ph.tod, ph.hasAt = c, true
	}
	if i := slices.Index(lead, "on"); i >= 0 {
		ph.lead = lead[:i]
		for _, t := range lead[i+1:] {
			if t != "the" {
				ph.anchr = append(ph.anchr, t)
			}
		}
	} else {
		ph.lead = lead
	}
	return ph, nil
}

// splitTime separates a trailing time of day: "... at 9am", "... 9am",
// "... 9 am", "... 17:30".
func splitTime(toks []string) (lead, tod []string) {
	if i := slices.Index(toks, "at"); i >= 0 {
		return toks[:i], toks[i+1:]
	}
	n := len(toks)
	if n >= 2 && (toks[n-1] == "am" || toks[n-1] == "pm") {
		return toks[:n-2], toks[n-2:]
	}
	if n >= 2 {
		last := toks[n-1]
		if last == "noon" || last == "midnight" {
			return toks[:n-1], toks[n-1:]
		}
		if m := clockRe.FindStringSubmatch(last); m != nil && (m[2] != "" || m[3] != "") {
			return toks[:n-1], toks[n-1:]
		}
	}
	return toks, nil
}

func weekdayList(toks []string) ([]time.Weekday, bool) {
	var out []time.Weekday
	addDay := func(d time.Weekday) {
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	for _, t := range toks {
		switch t {
		case "and", ",":
			continue
		case "weekday", "weekdays":
			for d := time.Monday; d <= time.Friday; d++ {
				addDay(d)
			}
			continue
		case "weekend", "weekends":
			addDay(time.Saturday)
			addDay(time.Sunday)
			continue
		}
		d, ok := weekdayOf(t)
		if !ok {
			return nil, false
		}
		addDay(d)
	}
	slices.Sort(out)
	return out, len(out) > 0
}

func ordinalList(toks []string) ([]int, bool) {
	var out []int
	for _, t := range toks {
		switch t {
		case "and", ",", "of", "the", "month", "each", "every":
			continue
		}
		d, ok := ordinalOf(t)
		if !ok {
			return nil, false
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out, len(out) > 0
}

// intervalRule reads "2 weeks", "other day", "hour", "90m" and any "on"
// anchor that comes with it.
func (p *parser) intervalRule(ph recurringPhrase) (reminder.Rule, error) {
	toks := slices.Clone(ph.lead)
	switch {
	case toks[0] == "other":
		toks[0] = "2"
	case isUnit(toks[0]):
		toks = append([]string{"1"}, toks...)
	}
	s, err := p.span(toks)
	if err != nil {
		return reminder.Rule{}, err
	}

	rule := reminder.Rule{Kind: reminder.KindInterval}
	switch {
	case !s.mixed && s.days > 0:
		rule.Every, rule.Unit = s.days, reminder.UnitDay
	case !s.mixed && s.weeks > 0:
		rule.Every, rule.Unit = s.weeks, reminder.UnitWeek
	case !s.mixed && s.months > 0:
		rule.Every, rule.Unit = s.months, reminder.UnitMonth
	case s.months > 0:
		return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "months cannot be combined with other units")
	default:
		secs := s.seconds + int64(s.days+7*s.weeks)*86400
		if secs > maxSpanSeconds {
			return reminder.Rule{}, p.tooFar()
		}
		rule.Every, rule.Unit = int(secs), reminder.UnitSecond
	}

	if len(ph.anchr) == 0 {
		// "every day at 9am" is the plain daily calendar rule.
		if rule.Unit == reminder.UnitDay && rule.Every == 1 && ph.hasAt {
			return reminder.Rule{Kind: reminder.KindCalendar}, nil
		}
		return rule, nil
	}

	if !ph.hasAt {
		return reminder.Rule{}, p.fail(reminder.ReasonAmbiguous, "add a time of day, e.g. \"every month on the 1st at 9am\"")
	}
	switch rule.Unit {
	case reminder.UnitWeek:
		days, ok := weekdayList(ph.anchr)
		if !ok {
			return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "expected a weekday after \"on\"")
		}
		if rule.Every == 1 {
			return reminder.Rule{Kind: reminder.KindCalendar, Weekdays: days}, nil
		}
		if len(days) != 1 {
			return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "only one weekday can anchor a multi-week interval")
		}
		rule.Weekdays = days
		return rule, nil
	case reminder.UnitMonth:
		ords, ok := ordinalList(ph.anchr)
		if !ok {
			return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "expected a day such as \"the 15th\" after \"on\"")
		}
		if rule.Every == 1 {
			return reminder.Rule{Kind: reminder.KindCalendar, MonthDays: ords}, nil
		}
		if len(ords) != 1 {
			return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "only one day can anchor a multi-month interval")
		}
		rule.AnchorDay = ords[0]
		return rule, nil
	}
	return reminder.Rule{}, p.fail(reminder.ReasonUnsupported, "\"on\" only works with weeks or months")
}

func isUnit(tok string) bool {
	_, ok := units[tok]
	return ok
}

func (p *parser) applyEnd(rule *reminder.Rule, ph recurringPhrase) error {
	if len(ph.count) > 0 {
		n, ok := numberOf(ph.count[0])
		valid := ok && n > 0 && len(ph.count) <= 3
		for _, t := range ph.count[1:] {
			switch t {
			case "times", "time", "occurrences", "more", "x":
			default:
				valid = false
			}
		}
		if !valid {
			return p.fail(reminder.ReasonUnsupported, "use \"for N times\"")
		}
		rule.EndAfter = n
	}
	if len(ph.until) > 0 {
		m, err := p.moment(ph.until)
		if err != nil {
			return err
		}
		end := m.at
		if m.dateOnly {
			l := m.at.In(p.loc)
			end = recurrence.WallTime(p.loc, l.Year(), l.Month(), l.Day()+1, 0, 0, 0).Add(-time.Second)
		}
		if !end.After(p.ref) {
			return p.fail(reminder.ReasonPast, "the end is in the past")
		}
		if err := p.checkHorizon(end); err != nil {
			return err
		}
		rule.EndBy = end.UTC()
	}
	return nil
}

// firstFire picks the first occurrence and, for interval rules, fixes the
// anchor the cadence is counted from.
func (p *parser) firstFire(rule *reminder.Rule, ph recurringPhrase) (time.Time, error) {
	bound := p.ref
	startHasTime := false
	if len(ph.start) > 0 {
		m, err := p.moment(ph.start)
		if err != nil {
			return time.Time{}, err
		}
		startHasTime = !m.dateOnly
		switch {
		case m.dateOnly:
			dayEnd := m.at.In(p.loc).AddDate(0, 0, 1)
			if !dayEnd.After(p.ref) {
				return time.Time{}, p.fail(reminder.ReasonPast, "the start is in the past")
			}
			if m.at.After(bound) {
				bound = m.at.Add(-time.Nanosecond)
			}
		default:
			if !m.at.After(p.ref) {
				return time.Time{}, p.fail(reminder.ReasonPast, "the start is in the past")
			}
			bound = m.at.Add(-time.Nanosecond)
		}
	}

	if rule.Kind == reminder.KindCalendar {
		if !ph.hasAt {
			return time.Time{}, p.fail(reminder.ReasonAmbiguous, "add a time of day, e.g. \"every monday at 9am\"")
		}
		first, ok := recurrence.Next(*rule, bound)
		if !ok {
			return time.Time{}, p.fail(reminder.ReasonPast, "no occurrence before the end")
		}
		return first, nil
	}

	// Interval rules.
	if ph.hasAt && startHasTime {
		return time.Time{}, p.fail(reminder.ReasonAmbiguous, "give the start time either with \"at\" or with \"starting\", not both")
	}
	if ph.hasAt || len(rule.Weekdays) > 0 || rule.AnchorDay > 0 {
		anchor := reminder.Rule{
			Kind:     reminder.KindCalendar,
			Weekdays: rule.Weekdays,
			Hour:     ph.tod.hour,
			Minute:   ph.tod.minute,
			Timezone: rule.Timezone,
		}
		if rule.AnchorDay > 0 {
			anchor.MonthDays = []int{rule.AnchorDay}
		}
		rule.Weekdays = nil
		pinClock(rule, ph.tod.hour, ph.tod.minute, 0)
		first, ok := recurrence.Next(anchor, bound)
		if !ok {
			return time.Time{}, p.fail(reminder.ReasonUnsupported, "no matching day found")
		}
		return first, nil
	}
	if startHasTime {
		first := bound.Add(time.Nanosecond)
		h, mi, sec := first.In(p.loc).Clock()
		pinClock(rule, h, mi, sec)
		return first, nil
	}
	if len(ph.start) > 0 {
		return time.Time{}, p.fail(reminder.ReasonAmbiguous, "add a time to the start, e.g. \"starting tomorrow at 8am\"")
	}
	h, mi, sec := p.ref.In(p.loc).Clock()
	pinClock(rule, h, mi, sec)
	first, ok := recurrence.Next(*rule, p.ref)
	if !ok {
		if rule.EndBy.IsZero() {
			return time.Time{}, p.tooFar()
		}
		return time.Time{}, p.fail(reminder.ReasonPast, "no occurrence before the end")
	}
	return first, nil
}

// pinClock records the local time of day a day, week or month interval
// fires at. Second-based intervals step by duration and keep no clock.
func pinClock(rule *reminder.Rule, hour, minute, sec int) {
	if rule.Kind != reminder.KindInterval || rule.Unit == reminder.UnitSecond {
		return
	}
	rule.WallClock = true
	rule.Hour, rule.Minute, rule.Second = hour, minute, sec
}
