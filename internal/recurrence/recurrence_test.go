package recurrence

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"

	"remindbot/internal/reminder"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNextIntervalIsAlwaysAfter(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
	rules := []reminder.Rule{
		{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitSecond},
		{Kind: reminder.KindInterval, Every: 90, Unit: reminder.UnitSecond},
		{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitDay, Timezone: "America/New_York"},
		{Kind: reminder.KindInterval, Every: 2, Unit: reminder.UnitWeek, Timezone: "Asia/Tokyo"},
		{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitMonth, Timezone: "Europe/Berlin"},
	}
	for _, rule := range rules {
		cur := base
		for i := 0; i < 50; i++ {
			next, ok := Next(rule, cur)
			require.True(t, ok)
			require.True(t, next.After(cur), "rule %+v: %s is not after %s", rule, next, cur)
			cur = next
		}
	}
}

func TestNextNonRecurring(t *testing.T) {
	t.Parallel()
	_, ok := Next(reminder.Rule{}, time.Now())
	require.False(t, ok)
}

func TestDailyKeepsLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	rule := reminder.Rule{Kind: reminder.KindCalendar, Hour: 9, Timezone: "America/New_York"}

	// Spring forward on 2026-03-08, fall back on 2026-11-01.
	for _, start := range []time.Time{
		time.Date(2026, 3, 5, 9, 0, 0, 0, ny),
		time.Date(2026, 10, 29, 9, 0, 0, 0, ny),
	} {
		cur := start
		for i := 0; i < 7; i++ {
			next, ok := Next(rule, cur)
			require.True(t, ok)
			local := next.In(ny)
			require.Equal(t, 9, local.Hour())
			require.Equal(t, 0, local.Minute())
			require.Equal(t, cur.In(ny).AddDate(0, 0, 1).Day(), local.Day())
			cur = next
		}
	}
}

func TestDailyIntervalKeepsLocalTimeAcrossDST(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	rule := reminder.Rule{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitDay, Timezone: "America/New_York"}
	last := time.Date(2026, 3, 7, 18, 30, 0, 0, ny)
	next, ok := Next(rule, last)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 8, 18, 30, 0, 0, ny).UTC(), next)
	require.Equal(t, 23*time.Hour, next.Sub(last))
}

func TestWallTimeInGapResolvesAfterGap(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	rule := reminder.Rule{Kind: reminder.KindCalendar, Hour: 2, Minute: 30, Timezone: "America/New_York"}

	next, ok := Next(rule, time.Date(2026, 3, 7, 2, 30, 0, 0, ny))
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC), next)

	after, ok := Next(rule, next)
	require.True(t, ok)
	local := after.In(ny)
	require.Equal(t, 9, local.Day())
	require.Equal(t, 2, local.Hour())
	require.Equal(t, 30, local.Minute())
}

func TestIntervalFirstFireInGapKeepsWallClock(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	cases := []struct {
		name string
		rule reminder.Rule
		last time.Time // first fire, pushed to 03:00 by the gap
		want []time.Time
	}{
		{
			name: "days",
			rule: reminder.Rule{Kind: reminder.KindInterval, Every: 2, Unit: reminder.UnitDay, WallClock: true, Hour: 2, Minute: 30, Timezone: "America/New_York"},
			last: time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC),
			want: []time.Time{
				time.Date(2026, 3, 10, 2, 30, 0, 0, ny),
				time.Date(2026, 3, 12, 2, 30, 0, 0, ny),
				time.Date(2026, 3, 14, 2, 30, 0, 0, ny),
				time.Date(2026, 3, 16, 2, 30, 0, 0, ny),
			},
		},
		{
			name: "weeks",
			rule: reminder.Rule{Kind: reminder.KindInterval, Every: 2, Unit: reminder.UnitWeek, WallClock: true, Hour: 2, Minute: 30, Timezone: "America/New_York"},
			last: time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC),
			want: []time.Time{
				time.Date(2026, 3, 22, 2, 30, 0, 0, ny),
				time.Date(2026, 4, 5, 2, 30, 0, 0, ny),
			},
		},
		{
			name: "months",
			rule: reminder.Rule{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitMonth, AnchorDay: 8, WallClock: true, Hour: 2, Minute: 30, Timezone: "America/New_York"},
			last: time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC),
			want: []time.Time{
				time.Date(2026, 4, 8, 2, 30, 0, 0, ny),
				time.Date(2026, 5, 8, 2, 30, 0, 0, ny),
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, time.Date(2026, 3, 8, 3, 0, 0, 0, ny).UTC(), tc.last)
			cur := tc.last
			for _, want := range tc.want {
				next, ok := Next(tc.rule, cur)
				require.True(t, ok)
				require.Equal(t, want.UTC(), next)
				cur = next
			}
		})
	}
}

func TestWallTimeInOverlapFiresOnce(t *testing.T) {
	t.Parallel()
	ny := mustLoc(t, "America/New_York")
	rule := reminder.Rule{Kind: reminder.KindCalendar, Hour: 1, Minute: 30, Timezone: "America/New_York"}

	first, ok := Next(rule, time.Date(2026, 10, 31, 1, 30, 0, 0, ny))
	require.True(t, ok)
	// First 01:30 on 2026-11-01 is still EDT (UTC-4).
	require.Equal(t, time.Date(2026, 11, 1, 5, 30, 0, 0, time.UTC), first)

	second, ok := Next(rule, first)
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 11, 2, 6, 30, 0, 0, time.UTC), second)
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitMonth, AnchorDay: 31}
	got := Occurrences(rule, time.Date(2026, 1, 31, 10, 0, 0, 0, time.UTC), 4)
	require.Equal(t, []time.Time{
		time.Date(2026, 2, 28, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 30, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 31, 10, 0, 0, 0, time.UTC),
	}, got)
}

func TestCalendarWeekdays(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{
		Kind:     reminder.KindCalendar,
		Weekdays: []time.Weekday{time.Monday, time.Wednesday},
		Hour:     18,
	}
	// 2026-01-01 is a Thursday.
	got := Occurrences(rule, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	require.Equal(t, []time.Time{
		time.Date(2026, 1, 5, 18, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 7, 18, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 12, 18, 0, 0, 0, time.UTC),
	}, got)
}

func TestCalendarMonthDaySkipsShortMonths(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindCalendar, MonthDays: []int{31}, Hour: 8}
	next, ok := Next(rule, time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), next)
}

func TestEndByExhausts(t *testing.T) {
	t.Parallel()
	end := time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC)
	rule := reminder.Rule{Kind: reminder.KindCalendar, Hour: 9, EndBy: end}
	got := Occurrences(rule, time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC), 10)
	require.Len(t, got, 2)

	_, ok := Next(rule, got[1])
	require.False(t, ok)
}

func TestNextAfterCatchUpFiresOnce(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindCalendar, Hour: 9}
	scheduled := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	now := scheduled.Add(3*24*time.Hour + 12*time.Hour)

	next, skipped, ok := NextAfter(rule, scheduled, now)
	require.True(t, ok)
	require.Equal(t, scheduled.Add(4*24*time.Hour), next)
	require.Equal(t, 3, skipped)
}

func TestNextAfterLongIntervalGap(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindInterval, Every: 60, Unit: reminder.UnitSecond}
	scheduled := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := scheduled.Add(365 * 24 * time.Hour).Add(30 * time.Second)

	next, skipped, ok := NextAfter(rule, scheduled, now)
	require.True(t, ok)
	require.Equal(t, scheduled.Add(365*24*time.Hour+time.Minute), next)
	require.Equal(t, 365*24*60, skipped)
}

func TestNextStopsAtHorizon(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindInterval, Every: 1200, Unit: reminder.UnitMonth}
	last := time.Date(2150, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := Next(rule, last)
	require.False(t, ok)

	next, ok := Next(rule, time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	require.Equal(t, time.Date(2150, 1, 1, 0, 0, 0, 0, time.UTC), next)
}

func TestNextAfterFuture(t *testing.T) {
	t.Parallel()
	rule := reminder.Rule{Kind: reminder.KindInterval, Every: 1, Unit: reminder.UnitWeek}
	scheduled := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, skipped, ok := NextAfter(rule, scheduled, scheduled)
	require.True(t, ok)
	require.Equal(t, scheduled.AddDate(0, 0, 7), next)
	require.Zero(t, skipped)
}
