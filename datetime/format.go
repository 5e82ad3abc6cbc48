package datetime

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	layoutDate     = "20060102"
	layoutDateTime = "20060102T150405"
	layoutUTC      = "20060102T150405Z"
	tzidPrefix     = "TZID="
)

// ErrInvalidDateTime is returned when a date-time value can not be parsed.
var ErrInvalidDateTime = errors.New("invalid date-time")

// Parse parses an RFC 5545 DATE or DATE-TIME value. tzid binds a local time to a
// location; without it a local time is floating. UTC values ignore tzid.
func Parse(value, tzid string) (DateTime, error) {
	value = strings.TrimSpace(value)
	switch {
	case len(value) == len(layoutDate):
		t, err := time.Parse(layoutDate, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
		}
		return DateTime{t: t, kind: AllDay}, nil
	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse(layoutUTC, value)
		if err != nil {
			return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
		}
		return In(t), nil
	}

	t, err := time.Parse(layoutDateTime, value)
	if err != nil {
		return DateTime{}, fmt.Errorf("%w: %q", ErrInvalidDateTime, value)
	}
	if tzid == "" {
		return DateTime{t: t, kind: Floating}, nil
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return DateTime{}, fmt.Errorf("%w: unknown TZID %q: %v", ErrInvalidDateTime, tzid, err)
	}
	return DateTime{t: t, kind: Floating}.SwapZone(loc), nil
}

// MustParse is like Parse but panics on error. It is meant for tests and constants.
func MustParse(value, tzid string) DateTime {
	d, err := Parse(value, tzid)
	if err != nil {
		panic(err)
	}
	return d
}

// Value returns the RFC 5545 value of d without its TZID.
func (d DateTime) Value() string {
	switch {
	case d.kind == AllDay:
		return d.t.Format(layoutDate)
	case d.kind == Floating:
		return d.t.Format(layoutDateTime)
	case d.t.Location() == time.UTC:
		return d.t.Format(layoutUTC)
	default:
		return d.t.Format(layoutDateTime)
	}
}

// String returns d as "TZID=<zone>:<value>" for zoned non-UTC values and "<value>" otherwise.
func (d DateTime) String() string {
	if tzid := d.TZID(); tzid != "" {
		return tzidPrefix + tzid + ":" + d.Value()
	}
	return d.Value()
}

// MarshalText implements encoding.TextMarshaler using the String form.
func (d DateTime) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the String form.
func (d *DateTime) UnmarshalText(text []byte) error {
	s := string(text)
	tzid := ""
	if strings.HasPrefix(s, tzidPrefix) {
		i := strings.LastIndex(s, ":")
		if i < 0 {
			return fmt.Errorf("%w: %q", ErrInvalidDateTime, s)
		}
		tzid, s = s[len(tzidPrefix):i], s[i+1:]
	}
	parsed, err := Parse(s, tzid)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
