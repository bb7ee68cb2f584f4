package models

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// LocalDateTimeLayout is the wall-clock rendering used in activity guids.
const LocalDateTimeLayout = "2006-01-02T15:04:05.000"

var (
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrInvalidLocalTime = errors.New("invalid local time")
)

// LocalDateTime is a date and time of day without a time zone. The wall clock
// is held in a UTC time.Time so arithmetic never crosses a DST transition.
type LocalDateTime struct {
	wall time.Time
}

// NewLocalDateTime builds a local date-time from its fields.
func NewLocalDateTime(year int, month time.Month, day, hour, minute, sec, millis int) LocalDateTime {
	return LocalDateTime{wall: time.Date(year, month, day, hour, minute, sec, millis*int(time.Millisecond), time.UTC)}
}

// LocalDateTimeOf returns the wall clock reading of t in its own location,
// truncated to milliseconds.
func LocalDateTimeOf(t time.Time) LocalDateTime {
	y, m, d := t.Date()
	return NewLocalDateTime(y, m, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/int(time.Millisecond))
}

// ParseLocalDateTime parses the guid rendering (fractional seconds optional).
func ParseLocalDateTime(s string) (LocalDateTime, error) {
	t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
	if err != nil {
		return LocalDateTime{}, fmt.Errorf("parsing local date-time %q: %w", s, err)
	}
	return LocalDateTime{wall: t.Truncate(time.Millisecond)}, nil
}

func (l LocalDateTime) String() string {
	return l.wall.Format(LocalDateTimeLayout)
}

func (l LocalDateTime) IsZero() bool {
	return l.wall.IsZero()
}

// In anchors the wall clock in loc. A nil location means UTC.
func (l LocalDateTime) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := l.wall.Date()
	return time.Date(y, m, d, l.wall.Hour(), l.wall.Minute(), l.wall.Second(), l.wall.Nanosecond(), loc)
}

func (l LocalDateTime) Before(o LocalDateTime) bool { return l.wall.Before(o.wall) }
func (l LocalDateTime) After(o LocalDateTime) bool  { return l.wall.After(o.wall) }
func (l LocalDateTime) Equal(o LocalDateTime) bool  { return l.wall.Equal(o.wall) }
func (l LocalDateTime) Compare(o LocalDateTime) int { return l.wall.Compare(o.wall) }

// StartOfDay returns midnight of the same date.
func (l LocalDateTime) StartOfDay() LocalDateTime {
	y, m, d := l.wall.Date()
	return NewLocalDateTime(y, m, d, 0, 0, 0, 0)
}

// WithTime replaces the time of day.
func (l LocalDateTime) WithTime(t LocalTime) LocalDateTime {
	y, m, d := l.wall.Date()
	return NewLocalDateTime(y, m, d, t.Hour, t.Minute, t.Second, t.Millis)
}

// Plus adds p field by field: years and months first (clamping the day of
// month), then weeks and days, then the clock fields.
func (l LocalDateTime) Plus(p Period) LocalDateTime {
	return LocalDateTime{wall: p.addTo(l.wall, 1)}
}

// Add moves the wall clock by d.
func (l LocalDateTime) Add(d time.Duration) LocalDateTime {
	return LocalDateTime{wall: l.wall.Add(d)}
}

// Sub returns the wall clock duration l-o.
func (l LocalDateTime) Sub(o LocalDateTime) time.Duration {
	return l.wall.Sub(o.wall)
}

// Minus subtracts p using the same field order as Plus.
func (l LocalDateTime) Minus(p Period) LocalDateTime {
	return LocalDateTime{wall: p.addTo(l.wall, -1)}
}

func (l LocalDateTime) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *LocalDateTime) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalDateTime(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// LocalTime is a time of day, e.g. "10:00".
type LocalTime struct {
	Hour   int
	Minute int
	Second int
	Millis int
}

var localTimePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2})(?:\.(\d{1,3}))?)?$`)

// ParseLocalTime accepts HH:MM, HH:MM:SS and HH:MM:SS.mmm.
func ParseLocalTime(s string) (LocalTime, error) {
	m := localTimePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}

	var t LocalTime
	t.Hour, _ = strconv.Atoi(m[1])
	t.Minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		t.Second, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		frac := m[4] + strings.Repeat("0", 3-len(m[4]))
		t.Millis, _ = strconv.Atoi(frac)
	}

	if t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
		return LocalTime{}, fmt.Errorf("%w: %q", ErrInvalidLocalTime, s)
	}
	return t, nil
}

// MustParseLocalTime is ParseLocalTime for literals.
func MustParseLocalTime(s string) LocalTime {
	t, err := ParseLocalTime(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (t LocalTime) String() string {
	return fmt.Sprintf("%02d:%02d:%02d.%03d", t.Hour, t.Minute, t.Second, t.Millis)
}

// Before reports whether t is earlier in the day than o.
func (t LocalTime) Before(o LocalTime) bool {
	return t.millisOfDay() < o.millisOfDay()
}

func (t LocalTime) millisOfDay() int {
	return ((t.Hour*60+t.Minute)*60+t.Second)*1000 + t.Millis
}

func (t LocalTime) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *LocalTime) UnmarshalText(b []byte) error {
	parsed, err := ParseLocalTime(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Period is an ISO-8601 period such as P1D, PT24H or P1M2DT3H. Only
// non-negative whole-number fields are supported.
type Period struct {
	Years   int
	Months  int
	Weeks   int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

var periodPattern = regexp.MustCompile(`^P(?:(\d+)Y)?(?:(\d+)M)?(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// ParsePeriod parses an ISO-8601 period.
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	m := periodPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || strings.HasSuffix(s, "T") {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}

	fields := make([]int, 7)
	for i := range fields {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
		}
		fields[i] = n
	}

	return Period{
		Years:   fields[0],
		Months:  fields[1],
		Weeks:   fields[2],
		Days:    fields[3],
		Hours:   fields[4],
		Minutes: fields[5],
		Seconds: fields[6],
	}, nil
}

// MustParsePeriod is ParsePeriod for literals.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether the period adds nothing.
func (p Period) IsZero() bool {
	return p == Period{}
}

// Fixed returns the length of a period without year or month fields. Such a
// period always adds the same wall clock duration.
func (p Period) Fixed() (time.Duration, bool) {
	if p.Years != 0 || p.Months != 0 {
		return 0, false
	}
	return time.Duration(p.Weeks*7+p.Days)*24*time.Hour +
		time.Duration(p.Hours)*time.Hour +
		time.Duration(p.Minutes)*time.Minute +
		time.Duration(p.Seconds)*time.Second, true
}

func (p Period) String() string {
	if p.IsZero() {
		return "PT0S"
	}

	var sb strings.Builder
	sb.WriteString("P")
	writeField := func(n int, unit string) {
		if n != 0 {
			sb.WriteString(strconv.Itoa(n))
			sb.WriteString(unit)
		}
	}
	writeField(p.Years, "Y")
	writeField(p.Months, "M")
	writeField(p.Weeks, "W")
	writeField(p.Days, "D")
	if p.Hours != 0 || p.Minutes != 0 || p.Seconds != 0 {
		sb.WriteString("T")
		writeField(p.Hours, "H")
		writeField(p.Minutes, "M")
		writeField(p.Seconds, "S")
	}
	return sb.String()
}

func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Period) addTo(t time.Time, sign int) time.Time {
	t = addMonths(t, sign*(p.Years*12+p.Months))
	t = t.AddDate(0, 0, sign*(p.Weeks*7+p.Days))
	clock := time.Duration(p.Hours)*time.Hour +
		time.Duration(p.Minutes)*time.Minute +
		time.Duration(p.Seconds)*time.Second
	return t.Add(time.Duration(sign) * clock)
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	y, m, d := t.Date()
	total := int(m) - 1 + months
	yearShift := total / 12
	monthIndex := total % 12
	if monthIndex < 0 {
		monthIndex += 12
		yearShift--
	}
	y += yearShift
	month := time.Month(monthIndex + 1)

	if last := daysIn(y, month); d > last {
		d = last
	}
	return time.Date(y, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
