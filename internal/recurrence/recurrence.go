// Package recurrence computes the next fire instant of a reminder rule.
//
// Everything here is pure: the same rule and instant always give the same
// answer, independent of the process clock or time zone.
package recurrence

import (
	"slices"
	"time"

	"remindbot/internal/reminder"
)

// searchDays bounds the calendar scan. Any satisfiable calendar rule
// matches within a year (the 29th of February aside, which repeats every
// four years).
const searchDays = 366*4 + 1

// Next returns the smallest occurrence of rule strictly after last.
// ok is false for non-recurring rules and when the occurrence would fall
// after rule.EndBy or reminder.MaxFireAt. EndAfter is a firing count and is enforced by callers.
func Next(rule reminder.Rule, last time.Time) (time.Time, bool) {
	var next time.Time
	switch rule.Kind {
	case reminder.KindInterval:
		next = nextInterval(rule, last)
	case reminder.KindCalendar:
		var found bool
		next, found = nextCalendar(rule, last)
		if !found {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}
	if next.IsZero() || !next.After(last) {
		return time.Time{}, false
	}
	if !rule.EndBy.IsZero() && next.After(rule.EndBy) {
		return time.Time{}, false
	}
	if next.After(reminder.MaxFireAt) {
		return time.Time{}, false
	}
	return next.UTC(), true
}

// NextAfter advances from scheduled until the occurrence is strictly after
// now and reports how many occurrences were passed over on the way. It is
// what a scheduler uses to fire a missed reminder once and then resume the
// original cadence.
func NextAfter(rule reminder.Rule, scheduled, now time.Time) (next time.Time, skipped int, ok bool) {
	cur := scheduled
	if step := rule.Step(); step > 0 && now.Sub(cur) > step {
		// Jump straight to the last occurrence <= now.
		n := int(now.Sub(cur) / step)
		if n > 1 {
			cur = cur.Add(time.Duration(n-1) * step)
			skipped = n - 1
		}
	}
	for i := 0; i < 1_000_000; i++ {
		nx, okNext := Next(rule, cur)
		if !okNext {
			return time.Time{}, skipped, false
		}
		if nx.After(now) {
			return nx, skipped, true
		}
		cur = nx
		skipped++
	}
	return time.Time{}, skipped, false
}

// Occurrences lists up to n occurrences after from.
func Occurrences(rule reminder.Rule, from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	cur := from
	for len(out) < n {
		nx, ok := Next(rule, cur)
		if !ok {
			break
		}
		out = append(out, nx)
		cur = nx
	}
	return out
}

func nextInterval(rule reminder.Rule, last time.Time) time.Time {
	if rule.Every <= 0 {
		return time.Time{}
	}
	if rule.Unit == reminder.UnitSecond {
		return last.Add(rule.Step())
	}

	loc := rule.Location()
	l := last.In(loc)
	y, m, d := l.Date()
	h, mi, s := l.Clock()
	if rule.WallClock {
		h, mi, s = rule.Hour, rule.Minute, rule.Second
	}

	switch rule.Unit {
	case reminder.UnitDay:
		return WallTime(loc, y, m, d+rule.Every, h, mi, s)
	case reminder.UnitWeek:
		return WallTime(loc, y, m, d+7*rule.Every, h, mi, s)
	case reminder.UnitMonth:
		anchor := rule.AnchorDay
		if anchor <= 0 {
			anchor = d
		}
		first := time.Date(y, m+time.Month(rule.Every), 1, 0, 0, 0, 0, time.UTC)
		day := min(anchor, daysIn(first.Year(), first.Month()))
		return WallTime(loc, first.Year(), first.Month(), day, h, mi, s)
	}
	return time.Time{}
}

func nextCalendar(rule reminder.Rule, last time.Time) (time.Time, bool) {
	loc := rule.Location()
	l := last.In(loc)
	y, m, d := l.Date()
	for i := 0; i < searchDays; i++ {
		day := time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC)
		if !dayMatches(rule, day) {
			continue
		}
		cand := WallTime(loc, day.Year(), day.Month(), day.Day(), rule.Hour, rule.Minute, 0)
		if cand.After(last) {
			return cand, true
		}
	}
	return time.Time{}, false
}

// dayMatches evaluates the day filters on a date carried in UTC at noon.
func dayMatches(rule reminder.Rule, day time.Time) bool {
	if len(rule.Weekdays) > 0 && !slices.Contains(rule.Weekdays, day.Weekday()) {
		return false
	}
	if len(rule.MonthDays) > 0 && !slices.Contains(rule.MonthDays, day.Day()) {
		return false
	}
	return true
}

// WallTime returns the instant at which clocks in loc show the given wall
// time. Inside a DST gap it returns the first instant after the gap; inside
// an overlap it returns the earlier of the two instants.
func WallTime(loc *time.Location, year int, month time.Month, day, hour, minute, sec int) time.Time {
	norm := time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
	year, month, day = norm.Date()
	hour, minute, sec = norm.Clock()

	guess := time.Date(year, month, day, hour, minute, sec, 0, loc)
	offsets := make([]int, 0, 3)
	for _, probe := range []time.Time{guess.Add(-6 * time.Hour), guess, guess.Add(6 * time.Hour)} {
		_, off := probe.Zone()
		if !slices.Contains(offsets, off) {
			offsets = append(offsets, off)
		}
	}

	var best time.Time
	for _, off := range offsets {
		u := norm.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWall(u, norm) && (best.IsZero() || u.Before(best)) {
			best = u
		}
	}
	if !best.IsZero() {
		return best
	}
	return gapEnd(guess)
}

func sameWall(t, wall time.Time) bool {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := wall.Date()
	h1, mi1, s1 := t.Clock()
	h2, mi2, s2 := wall.Clock()
	return y1 == y2 && m1 == m2 && d1 == d2 && h1 == h2 && mi1 == mi2 && s1 == s2
}

// gapEnd finds the zone transition closest to t, to the second.
func gapEnd(t time.Time) time.Time {
	lo := t.Add(-6 * time.Hour)
	hi := t.Add(6 * time.Hour)
	_, offLo := lo.Zone()
	_, offHi := hi.Zone()
	if offLo == offHi {
		return t
	}
	for hi.Sub(lo) > time.Second {
		mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
		if _, off := mid.Zone(); off == offLo {
			lo = mid
		} else {
			hi = mid
		}
	}
	return hi
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
