package reminder

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StatePending   State = "pending"
	StateFiring    State = "firing"
	StateCancelled State = "cancelled"
	StateCompleted State = "completed"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool { return s == StateCancelled || s == StateCompleted }

func (s State) Valid() bool {
	switch s {
	case StatePending, StateFiring, StateCancelled, StateCompleted:
		return true
	}
	return false
}

// Target selects who a fired reminder addresses.
type Target string

const (
	TargetRequester Target = "requester"
	TargetRoom      Target = "room"
)

// Reminder is the durable record. The store owns it; schedulers only hold
// copies keyed by ID.
type Reminder struct {
	ID            string    `json:"id"`
	Room          string    `json:"room"`
	Requester     string    `json:"requester"`
	RequesterName string    `json:"requester_name,omitempty"`
	Target        Target    `json:"target"`
	Text          string    `json:"text"`
	Alarm         bool      `json:"alarm,omitempty"`
	FireAt        time.Time `json:"fire_at"`
	Rule          Rule      `json:"rule,omitzero"`
	State         State     `json:"state"`
	Fired         int       `json:"fired,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastFiredAt   time.Time `json:"last_fired_at,omitzero"`
	// UpdatedAt is maintained by the store on every write.
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// MaxFireAt is the latest instant a reminder may be scheduled for. It keeps
// every stored instant well inside the range of int64 Unix nanoseconds.
var MaxFireAt = time.Date(2200, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewID returns a fresh opaque reminder identifier.
func NewID() string { return uuid.NewString() }

// ShortID is the prefix shown to users; cancel accepts any unique prefix.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func (r *Reminder) Clone() *Reminder {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Rule = r.Rule.Clone()
	return &cp
}

func (r *Reminder) Recurring() bool { return r != nil && r.Rule.Recurring() }

// Validate checks the invariants a record must hold before it is persisted.
func (r *Reminder) Validate() error {
	if r == nil {
		return fmt.Errorf("reminder is nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("reminder id is empty")
	}
	if strings.TrimSpace(r.Room) == "" {
		return fmt.Errorf("reminder %s: room is empty", r.ID)
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("reminder %s: text is empty", r.ID)
	}
	if r.FireAt.IsZero() {
		return fmt.Errorf("reminder %s: fire_at is zero", r.ID)
	}
	if r.FireAt.After(MaxFireAt) {
		return fmt.Errorf("reminder %s: fire_at %s is after %s", r.ID, r.FireAt.UTC().Format(time.RFC3339), MaxFireAt.Format("2006"))
	}
	if !r.State.Valid() {
		return fmt.Errorf("reminder %s: invalid state %q", r.ID, r.State)
	}
	return r.Rule.Validate()
}

// Notification renders the text delivered to the room when the reminder fires.
func (r *Reminder) Notification() string {
	var b strings.Builder
	if r.Alarm {
		b.WriteString("⏰ ")
	} else {
		b.WriteString("🔔 ")
	}
	switch r.Target {
	case TargetRoom:
		b.WriteString("@room ")
	default:
		if name := strings.TrimSpace(r.RequesterName); name != "" {
			if !strings.HasPrefix(name, "@") {
				b.WriteString("@")
			}
			b.WriteString(name)
			b.WriteString(" ")
		}
	}
	b.WriteString(r.Text)
	if r.Alarm {
		b.WriteString("\n(alarm: reply with silence to stop it)")
	}
	return b.String()
}

type Kind string

const (
	KindNone     Kind = ""
	KindInterval Kind = "interval"
	KindCalendar Kind = "calendar"
)

type Unit string

const (
	UnitSecond Unit = "second"
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
)

// Rule is the recurrence description embedded in a reminder. The zero value
// means "fires once".
//
// Interval rules step by Every*Unit from the previous fire instant. With
// WallClock set, day, week and month steps land on Hour:Minute:Second local
// time instead of the previous instant's clock, so a first fire moved by a
// DST gap does not shift later ones. Calendar rules fire at Hour:Minute local
// time on days matching Weekdays or MonthDays (empty sets match every day).
type Rule struct {
	Kind Kind `json:"kind,omitempty"`

	Every     int  `json:"every,omitempty"`
	Unit      Unit `json:"unit,omitempty"`
	AnchorDay int  `json:"anchor_day,omitempty"`

	Weekdays  []time.Weekday `json:"weekdays,omitempty"`
	MonthDays []int          `json:"month_days,omitempty"`
	Hour      int            `json:"hour,omitempty"`
	Minute    int            `json:"minute,omitempty"`
	Second    int            `json:"second,omitempty"`
	WallClock bool           `json:"wall_clock,omitempty"`

	Timezone string `json:"tz,omitempty"`

	EndAfter int       `json:"end_after,omitempty"`
	EndBy    time.Time `json:"end_by,omitzero"`
}

func (r Rule) Recurring() bool { return r.Kind == KindInterval || r.Kind == KindCalendar }

func (r Rule) IsZero() bool { return r.Kind == KindNone && r.EndAfter == 0 && r.EndBy.IsZero() }

func (r Rule) Clone() Rule {
	cp := r
	cp.Weekdays = slices.Clone(r.Weekdays)
	cp.MonthDays = slices.Clone(r.MonthDays)
	return cp
}

// Location resolves Timezone, falling back to UTC for empty or unknown names.
func (r Rule) Location() *time.Location {
	tz := strings.TrimSpace(r.Timezone)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Step returns the fixed duration of a second-based interval.
func (r Rule) Step() time.Duration {
	if r.Kind != KindInterval || r.Unit != UnitSecond {
		return 0
	}
	return time.Duration(r.Every) * time.Second
}

func (r Rule) Validate() error {
	switch r.Kind {
	case KindNone:
		return nil
	case KindInterval:
		if r.Every <= 0 {
			return fmt.Errorf("interval step must be > 0")
		}
		switch r.Unit {
		case UnitSecond, UnitDay, UnitWeek, UnitMonth:
		default:
			return fmt.Errorf("unknown interval unit %q", r.Unit)
		}
		if r.AnchorDay < 0 || r.AnchorDay > 31 {
			return fmt.Errorf("anchor day out of range: %d", r.AnchorDay)
		}
		if r.WallClock && (r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 || r.Second < 0 || r.Second > 59) {
			return fmt.Errorf("interval time out of range: %02d:%02d:%02d", r.Hour, r.Minute, r.Second)
		}
	case KindCalendar:
		if r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
			return fmt.Errorf("calendar time out of range: %02d:%02d", r.Hour, r.Minute)
		}
		if len(r.Weekdays) > 0 && len(r.MonthDays) > 0 {
			return fmt.Errorf("calendar rule cannot restrict both weekdays and month days")
		}
		for _, d := range r.MonthDays {
			if d < 1 || d > 31 {
				return fmt.Errorf("month day out of range: %d", d)
			}
		}
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				return fmt.Errorf("weekday out of range: %d", d)
			}
		}
	default:
		return fmt.Errorf("unknown recurrence kind %q", r.Kind)
	}
	if r.EndAfter < 0 {
		return fmt.Errorf("end_after must be >= 0")
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("timezone %q: %w", tz, err)
		}
	}
	return nil
}

// Describe renders the rule for listings and confirmations.
func (r Rule) Describe() string {
	var b strings.Builder
	switch r.Kind {
	case KindNone:
		return "once"
	case KindInterval:
		b.WriteString("every ")
		b.WriteString(describeInterval(r))
		if r.WallClock && r.Unit != UnitSecond {
			fmt.Fprintf(&b, " at %02d:%02d", r.Hour, r.Minute)
		}
	case KindCalendar:
		b.WriteString("every ")
		switch {
		case len(r.MonthDays) > 0:
			b.WriteString("month on the ")
			parts := make([]string, 0, len(r.MonthDays))
			for _, d := range r.MonthDays {
				parts = append(parts, Ordinal(d))
			}
			b.WriteString(strings.Join(parts, ", "))
		case len(r.Weekdays) > 0:
			b.WriteString(describeWeekdays(r.Weekdays))
		default:
			b.WriteString("day")
		}
		fmt.Fprintf(&b, " at %02d:%02d", r.Hour, r.Minute)
	}
	if r.EndAfter > 0 {
		fmt.Fprintf(&b, ", %d times", r.EndAfter)
	}
	if !r.EndBy.IsZero() {
		b.WriteString(", until ")
		b.WriteString(r.EndBy.In(r.Location()).Format("2006-01-02 15:04"))
	}
	return b.String()
}

func describeInterval(r Rule) string {
	if r.Unit == UnitSecond {
		d := time.Duration(r.Every) * time.Second
		switch {
		case d%time.Hour == 0:
			return plural(int(d/time.Hour), "hour")
		case d%time.Minute == 0:
			return plural(int(d/time.Minute), "minute")
		default:
			return plural(r.Every, "second")
		}
	}
	return plural(r.Every, string(r.Unit))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func describeWeekdays(days []time.Weekday) string {
	set := map[time.Weekday]bool{}
	for _, d := range days {
		set[d] = true
	}
	if len(set) == 5 && !set[time.Saturday] && !set[time.Sunday] {
		return "weekday"
	}
	if len(set) == 2 && set[time.Saturday] && set[time.Sunday] {
		return "weekend day"
	}
	sorted := slices.Clone(days)
	slices.Sort(sorted)
	names := make([]string, 0, len(sorted))
	for _, d := range sorted {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

// Ordinal renders 1 as "1st", 22 as "22nd" and so on.
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
