// Package datetime provides the date-time and duration values used by tasks and instances.
//
// A DateTime is one of three kinds:
//   - Zoned: an instant bound to a location.
//   - Floating: a wall-clock time without a location.
//   - AllDay: a calendar date without a time of day.
//
// Floating and all-day values keep their wall clock in a UTC time.Time, so their
// Timestamp is the wall clock interpreted as UTC. All-day state is carried by the
// value itself and survives every operation in this package.
package datetime

import (
	"time"
)

// Kind tells how a DateTime relates to a time zone.
type Kind uint8

const (
	Zoned Kind = iota
	Floating
	AllDay
)

// String provides a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case Floating:
		return "Floating"
	case AllDay:
		return "AllDay"
	default:
		return "Zoned"
	}
}

// DateTime is an immutable point in time, see the package documentation for its kinds.
type DateTime struct {
	t    time.Time
	kind Kind
}

// In returns a zoned DateTime for t, keeping t's location.
func In(t time.Time) DateTime {
	return DateTime{t: t.Truncate(time.Second), kind: Zoned}
}

// NewFloating returns a floating DateTime with the given wall clock.
func NewFloating(year int, month time.Month, day, hour, min, sec int) DateTime {
	return DateTime{t: time.Date(year, month, day, hour, min, sec, 0, time.UTC), kind: Floating}
}

// NewAllDay returns an all-day DateTime for the given date.
func NewAllDay(year int, month time.Month, day int) DateTime {
	return DateTime{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), kind: AllDay}
}

// FromTimestamp returns the DateTime at the given millisecond timestamp. A nil location
// yields a floating value whose wall clock is the UTC wall clock of the timestamp.
func FromTimestamp(ms int64, loc *time.Location) DateTime {
	t := time.UnixMilli(ms).UTC()
	if loc == nil {
		return DateTime{t: t, kind: Floating}
	}
	return In(t.In(loc))
}

// Time returns the underlying time. Floating and all-day values are returned in UTC.
func (d DateTime) Time() time.Time { return d.t }

// Kind returns the kind of d.
func (d DateTime) Kind() Kind { return d.kind }

// IsAllDay reports whether d is a date without time of day.
func (d DateTime) IsAllDay() bool { return d.kind == AllDay }

// IsFloating reports whether d is a wall-clock time without a location.
func (d DateTime) IsFloating() bool { return d.kind == Floating }

// IsZero reports whether d is the zero value.
func (d DateTime) IsZero() bool { return d.t.IsZero() }

// Location returns the location of a zoned value and nil otherwise.
func (d DateTime) Location() *time.Location {
	if d.kind != Zoned {
		return nil
	}
	return d.t.Location()
}

// TZID returns the time zone identifier of a zoned, non-UTC value, or "".
func (d DateTime) TZID() string {
	if d.kind != Zoned || d.t.Location() == time.UTC {
		return ""
	}
	return d.t.Location().String()
}

// Timestamp returns the value in milliseconds since the epoch.
func (d DateTime) Timestamp() int64 { return d.t.UnixMilli() }

// Before reports whether d is earlier than o.
func (d DateTime) Before(o DateTime) bool { return d.Timestamp() < o.Timestamp() }

// After reports whether d is later than o.
func (d DateTime) After(o DateTime) bool { return d.Timestamp() > o.Timestamp() }

// Equal reports whether d and o have the same timestamp.
func (d DateTime) Equal(o DateTime) bool { return d.Timestamp() == o.Timestamp() }

// AddDuration adds dur to d. Days are added on the wall clock, seconds on the time line.
// An all-day value only moves by whole days.
func (d DateTime) AddDuration(dur Duration) DateTime {
	if d.kind == AllDay {
		days := dur.Days + dur.Seconds/secondsPerDay
		return DateTime{t: d.t.AddDate(0, 0, days), kind: AllDay}
	}
	t := d.t
	if dur.Days != 0 {
		t = t.AddDate(0, 0, dur.Days)
	}
	t = t.Add(time.Duration(dur.Seconds) * time.Second)
	return DateTime{t: t, kind: d.kind}
}

// ShiftZone moves a zoned value into loc without changing the instant. A floating value
// gets loc as its zone while keeping its wall clock. All-day values are returned unchanged.
func (d DateTime) ShiftZone(loc *time.Location) DateTime {
	switch d.kind {
	case AllDay:
		return d
	case Floating:
		return d.SwapZone(loc)
	default:
		if loc == nil {
			return d.SwapZone(nil)
		}
		return DateTime{t: d.t.In(loc), kind: Zoned}
	}
}

// SwapZone keeps the wall clock of d and binds it to loc. A nil loc makes the value floating.
func (d DateTime) SwapZone(loc *time.Location) DateTime {
	if d.kind == AllDay {
		return d
	}
	y, mo, day := d.t.Date()
	h, mi, s := d.t.Clock()
	if loc == nil {
		return NewFloating(y, mo, day, h, mi, s)
	}
	return DateTime{t: time.Date(y, mo, day, h, mi, s, 0, loc), kind: Zoned}
}

// ToAllDay drops the time of day, keeping the date of the wall clock.
func (d DateTime) ToAllDay() DateTime {
	y, mo, day := d.t.Date()
	return NewAllDay(y, mo, day)
}

// Sorting returns a value which orders all-day, floating and zoned values in a single pass.
// Zoned values are shifted into local first; the result is the wall clock encoded as
// milliseconds since the epoch in UTC.
func (d DateTime) Sorting(local *time.Location) int64 {
	if d.kind != Zoned {
		return d.t.UnixMilli()
	}
	if local == nil {
		local = time.Local
	}
	lt := d.t.In(local)
	y, mo, day := lt.Date()
	h, mi, s := lt.Clock()
	return time.Date(y, mo, day, h, mi, s, 0, time.UTC).UnixMilli()
}

// Normalize maps an instant produced by a recurrence iteration seeded with seed back to
// seed's kind: all-day seeds yield dates, floating seeds yield wall clocks and zoned seeds
// yield values in the seed's location.
func Normalize(t time.Time, seed DateTime) DateTime {
	switch seed.kind {
	case AllDay:
		u := t.UTC()
		return NewAllDay(u.Year(), u.Month(), u.Day())
	case Floating:
		u := t.UTC()
		return NewFloating(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second())
	default:
		return In(t.In(seed.t.Location()))
	}
}
