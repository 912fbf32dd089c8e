// Package dates provides a calendar-date value type with moment-style format
// tokens, multi-format parsing and day/month/year arithmetic.
//
// [Date] is an immutable value. Every operation returns a new [Date]; no
// method mutates its receiver, so a base date can be reused freely across
// window and streak computations.
package dates

import (
	"strings"
	"time"
)

// Unit selects the granularity for arithmetic and [Date.StartOf].
type Unit uint8

// Supported units.
const (
	Day Unit = iota
	Month
	Year
)

// Format is a moment-style layout such as "YYYY-MM-DD" or "DD.MM.YYYY".
//
// Recognized tokens: YYYY, YY, MMMM, MMM, MM, M, DD, D, dddd, ddd. Anything
// else is copied literally.
type Format string

// ISO is the canonical ledger key format.
const ISO Format = "YYYY-MM-DD"

// FallbackFormats are tried after the configured display format when a date
// string has to be parsed or a ledger key looked up.
var FallbackFormats = []Format{ISO, "DD.MM.YYYY", "MM/DD/YYYY", "DD/MM/YYYY", "YYYY/MM/DD"}

// Date is a calendar date in UTC, normalized to midnight.
type Date struct {
	t time.Time
}

// New returns the date for year, month and day. Out-of-range values are
// normalized the way [time.Date] does.
func New(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime returns the calendar date of t in t's own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()

	return New(y, m, d)
}

// Today returns the current date according to now. A nil now uses [time.Now].
func Today(now func() time.Time) Date {
	if now == nil {
		now = time.Now
	}

	return FromTime(now())
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.t.IsZero()
}

// Time returns d as a UTC midnight [time.Time].
func (d Date) Time() time.Time {
	return d.t
}

// Clone returns a copy of d. Dates are values, so this is the same as
// assignment; it exists to make reuse of a base date explicit at call sites.
func (d Date) Clone() Date {
	return d
}

// Add returns d moved forward by n units. Month and year arithmetic clamps to
// the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func (d Date) Add(n int, unit Unit) Date {
	switch unit {
	case Month:
		return d.addMonths(n)
	case Year:
		return d.addMonths(n * 12)
	default:
		return Date{t: d.t.AddDate(0, 0, n)}
	}
}

// Subtract returns d moved backward by n units.
func (d Date) Subtract(n int, unit Unit) Date {
	return d.Add(-n, unit)
}

func (d Date) addMonths(n int) Date {
	y, m, day := d.t.Date()

	total := int(m) - 1 + n
	year := y + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)

	last := daysIn(year, month)
	if day > last {
		day = last
	}

	return New(year, month, day)
}

// StartOf returns the first day of d's unit. StartOf(Day) is d itself.
func (d Date) StartOf(unit Unit) Date {
	y, m, day := d.t.Date()

	switch unit {
	case Month:
		return New(y, m, 1)
	case Year:
		return New(y, time.January, 1)
	default:
		return New(y, m, day)
	}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool {
	return d.t.Before(o.t)
}

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool {
	return d.t.After(o.t)
}

// Equal reports whether d and o are the same calendar day.
func (d Date) Equal(o Date) bool {
	return d.t.Equal(o.t)
}

// Compare returns -1, 0 or 1 like [time.Time.Compare].
func (d Date) Compare(o Date) int {
	return d.t.Compare(o.t)
}

// DaysUntil returns the number of whole days from d to o (negative when o is
// before d).
func (d Date) DaysUntil(o Date) int {
	return int(o.t.Sub(d.t).Hours() / 24)
}

// Format renders d using a moment-style format.
func (d Date) Format(f Format) string {
	return d.t.Format(f.Layout())
}

// Key renders d in the canonical ledger key format.
func (d Date) Key() string {
	return d.Format(ISO)
}

// String implements fmt.Stringer.
func (d Date) String() string {
	return d.Key()
}

// Parse tries each format in order and returns the first date that parses.
// When no format matches it returns def. With no formats given,
// [FallbackFormats] are used.
func Parse(s string, def Date, formats ...Format) Date {
	parsed, ok := ParseStrict(s, formats...)
	if !ok {
		return def
	}

	return parsed
}

// ParseStrict is like [Parse] but reports whether any format matched.
func ParseStrict(s string, formats ...Format) (Date, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, false
	}

	if len(formats) == 0 {
		formats = FallbackFormats
	}

	for _, f := range formats {
		if f == "" {
			continue
		}

		t, err := time.Parse(f.Layout(), s)
		if err == nil {
			return FromTime(t), true
		}
	}

	return Date{}, false
}

// WithFallbacks returns f followed by every [FallbackFormats] entry not equal
// to f. An empty f yields just the fallbacks.
func WithFallbacks(f Format) []Format {
	out := make([]Format, 0, len(FallbackFormats)+1)
	if f != "" {
		out = append(out, f)
	}

	for _, fb := range FallbackFormats {
		if fb != f {
			out = append(out, fb)
		}
	}

	return out
}

// tokens are matched longest first at each position.
var tokens = []struct {
	moment string
	layout string
}{
	{"YYYY", "2006"},
	{"YY", "06"},
	{"MMMM", "January"},
	{"MMM", "Jan"},
	{"MM", "01"},
	{"M", "1"},
	{"DD", "02"},
	{"D", "2"},
	{"dddd", "Monday"},
	{"ddd", "Mon"},
}

// Layout translates f into a Go reference layout.
func (f Format) Layout() string {
	src := string(f)

	var b strings.Builder

	b.Grow(len(src) + 4)

	for i := 0; i < len(src); {
		matched := false

		for _, tok := range tokens {
			if strings.HasPrefix(src[i:], tok.moment) {
				b.WriteString(tok.layout)
				i += len(tok.moment)
				matched = true

				break
			}
		}

		if !matched {
			b.WriteByte(src[i])
			i++
		}
	}

	return b.String()
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}
