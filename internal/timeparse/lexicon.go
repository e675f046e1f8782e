package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	clockRe      = regexp.MustCompile(`^(\d{1,2})(?:[:.](\d{2}))?(am|pm)?$`)
	isoDateRe    = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	slashDateRe  = regexp.MustCompile(`^\d{1,2}[/.]\d{1,2}([/.]\d{2,4})?$`)
	ordinalRe    = regexp.MustCompile(`^(\d{1,2})(st|nd|rd|th)$`)
	yearRe       = regexp.MustCompile(`^\d{4}$`)
	compactRe    = regexp.MustCompile(`^(?:\d+[a-z]+)+$`)
	compactSegRe = regexp.MustCompile(`(\d+)([a-z]+)`)
	isoJoinedRe  = regexp.MustCompile(`(\d{4}-\d{1,2}-\d{1,2})t(\d{1,2}:\d{2})`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
	"fifteen": 15, "twenty": 20, "thirty": 30,
}

type unit int

const (
	unitNone unit = iota
	unitSecond
	unitMinute
	unitHour
	unitDay
	unitWeek
	unitMonth
	unitYear
)

var units = map[string]unit{
	"s": unitSecond, "sec": unitSecond, "secs": unitSecond, "second": unitSecond, "seconds": unitSecond,
	"m": unitMinute, "min": unitMinute, "mins": unitMinute, "minute": unitMinute, "minutes": unitMinute,
	"h": unitHour, "hr": unitHour, "hrs": unitHour, "hour": unitHour, "hours": unitHour,
	"d": unitDay, "day": unitDay, "days": unitDay,
	"w": unitWeek, "wk": unitWeek, "wks": unitWeek, "week": unitWeek, "weeks": unitWeek,
	"mo": unitMonth, "month": unitMonth, "months": unitMonth,
	"y": unitYear, "yr": unitYear, "yrs": unitYear, "year": unitYear, "years": unitYear,
}

// tokenize lowercases the input, normalises a.m./p.m. and splits commas
// into their own tokens.
func tokenize(s string) []string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimRight(s, ".!?")
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", "o'clock", "", ",", " , ").Replace(s)
	s = isoJoinedRe.ReplaceAllString(s, "$1 $2")
	return strings.Fields(s)
}

func weekdayOf(tok string) (time.Weekday, bool) {
	if d, ok := weekdays[tok]; ok {
		return d, true
	}
	// "mondays", "fridays"
	if strings.HasSuffix(tok, "s") {
		d, ok := weekdays[strings.TrimSuffix(tok, "s")]
		return d, ok
	}
	return 0, false
}

func numberOf(tok string) (int, bool) {
	if n, ok := numberWords[tok]; ok {
		return n, true
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func ordinalOf(tok string) (int, bool) {
	m := ordinalRe.FindStringSubmatch(tok)
	if m == nil {
		return 0, false
	}
	n, _ := strconv.Atoi(m[1])
	if n < 1 || n > 31 {
		return 0, false
	}
	return n, true
}

func isFiller(tok string) bool {
	switch tok {
	case "at", "on", "the", "of", ",", "this":
		return true
	}
	return false
}
