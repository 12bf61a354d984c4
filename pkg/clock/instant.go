package clock

import "time"

// Instant is an absolute point in time carrying the business timezone for
// civil projections. Comparisons (Before, After, Between) are always on the
// absolute instant; day and week boundaries are computed on the civil fields
// and converted back, so a day spanning a DST transition is 23 or 25 hours
// long rather than breaking the projection.
type Instant struct {
	t   time.Time
	loc *time.Location
}

// Time returns the absolute time in UTC.
func (i Instant) Time() time.Time {
	return i.t.UTC()
}

// IsZero reports whether the instant is the zero value.
func (i Instant) IsZero() bool {
	return i.t.IsZero()
}

// Weekday returns the civil weekday.
func (i Instant) Weekday() time.Weekday {
	return i.t.Weekday()
}

// Date returns the civil date.
func (i Instant) Date() (year int, month time.Month, day int) {
	return i.t.Date()
}

// TimeOfDay returns the civil wall time as HH:MM.
func (i Instant) TimeOfDay() string {
	return i.t.Format("15:04")
}

// ISOWeek returns the ISO 8601 year and week of the civil date.
func (i Instant) ISOWeek() (year, week int) {
	return i.t.ISOWeek()
}

// StartOfDay returns midnight of the civil day.
func (i Instant) StartOfDay() Instant {
	year, month, day := i.t.Date()
	return Instant{t: time.Date(year, month, day, 0, 0, 0, 0, i.loc), loc: i.loc}
}

// EndOfDay returns the last nanosecond of the civil day.
func (i Instant) EndOfDay() Instant {
	year, month, day := i.t.Date()
	return Instant{t: time.Date(year, month, day, 23, 59, 59, int(time.Second-time.Nanosecond), i.loc), loc: i.loc}
}

// StartOfWeek returns Monday midnight of the civil ISO week.
func (i Instant) StartOfWeek() Instant {
	year, month, day := i.t.Date()
	offset := (int(i.t.Weekday()) + 6) % 7 // Monday == 0
	return Instant{t: time.Date(year, month, day-offset, 0, 0, 0, 0, i.loc), loc: i.loc}
}

// EndOfWeek returns the last nanosecond of Sunday in the civil ISO week.
func (i Instant) EndOfWeek() Instant {
	year, month, day := i.t.Date()
	offset := 6 - (int(i.t.Weekday())+6)%7
	return Instant{t: time.Date(year, month, day+offset, 23, 59, 59, int(time.Second-time.Nanosecond), i.loc), loc: i.loc}
}

// Add shifts the instant by an absolute duration.
func (i Instant) Add(d time.Duration) Instant {
	return Instant{t: i.t.Add(d), loc: i.loc}
}

// Sub returns the absolute duration between two instants.
func (i Instant) Sub(other Instant) time.Duration {
	return i.t.Sub(other.t)
}

// Before reports whether i is strictly before other on the absolute timeline.
func (i Instant) Before(other Instant) bool {
	return i.t.Before(other.t)
}

// After reports whether i is strictly after other on the absolute timeline.
func (i Instant) After(other Instant) bool {
	return i.t.After(other.t)
}

// Equal reports whether both instants are the same absolute time.
func (i Instant) Equal(other Instant) bool {
	return i.t.Equal(other.t)
}

// Between reports whether i lies in [start, end] on the absolute timeline.
func (i Instant) Between(start, end Instant) bool {
	return !i.t.Before(start.t) && !i.t.After(end.t)
}

// Format renders the instant in the business timezone.
func (i Instant) Format(layout string) string {
	return i.t.Format(layout)
}
