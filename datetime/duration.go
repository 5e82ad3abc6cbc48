package datetime

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	secondsPerDay = 24 * 60 * 60
	millisPerDay  = secondsPerDay * 1000
)

// ErrInvalidDuration is returned when a duration string can not be parsed.
var ErrInvalidDuration = errors.New("invalid duration")

// Duration is a nominal duration made of days and seconds. Both fields carry the same sign.
type Duration struct {
	Days    int
	Seconds int
}

// Days returns a duration of n days.
func Days(n int) Duration { return Duration{Days: n} }

// Seconds returns a duration of n seconds.
func Seconds(n int) Duration { return Duration{Seconds: n} }

// FromMillis splits ms into whole days and the remaining seconds.
func FromMillis(ms int64) Duration {
	return Duration{
		Days:    int(ms / millisPerDay),
		Seconds: int((ms % millisPerDay) / 1000),
	}
}

// Between returns the exact duration from start to end in seconds.
func Between(start, end DateTime) Duration {
	return Duration{Seconds: int((end.Timestamp() - start.Timestamp()) / 1000)}
}

// Millis returns the nominal length of d, counting every day as 24 hours.
func (d Duration) Millis() int64 {
	return int64(d.Days)*millisPerDay + int64(d.Seconds)*1000
}

// IsZero reports whether d has no length.
func (d Duration) IsZero() bool { return d.Days == 0 && d.Seconds == 0 }

// Neg returns -d.
func (d Duration) Neg() Duration { return Duration{Days: -d.Days, Seconds: -d.Seconds} }

// String formats d as an RFC 5545 duration, e.g. "P1D", "PT1H30M" or "-P2W".
func (d Duration) String() string {
	days, secs := d.Days, d.Seconds
	var sb strings.Builder
	if days < 0 || secs < 0 {
		sb.WriteByte('-')
		days, secs = -days, -secs
	}
	sb.WriteByte('P')
	if secs == 0 && days != 0 && days%7 == 0 {
		sb.WriteString(strconv.Itoa(days / 7))
		sb.WriteByte('W')
		return sb.String()
	}
	if days != 0 {
		sb.WriteString(strconv.Itoa(days))
		sb.WriteByte('D')
	}
	if secs != 0 || days == 0 {
		sb.WriteByte('T')
		h, m, s := secs/3600, secs%3600/60, secs%60
		if h != 0 {
			sb.WriteString(strconv.Itoa(h))
			sb.WriteByte('H')
		}
		if m != 0 {
			sb.WriteString(strconv.Itoa(m))
			sb.WriteByte('M')
		}
		if s != 0 || (h == 0 && m == 0) {
			sb.WriteString(strconv.Itoa(s))
			sb.WriteByte('S')
		}
	}
	return sb.String()
}

// ParseDuration parses an RFC 5545 duration value.
func ParseDuration(s string) (Duration, error) {
	in := s
	sign := 1
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, in)
	}
	s = s[1:]

	var d Duration
	inTime := false
	num := 0
	digits := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num = num*10 + int(r-'0')
			digits++
			continue
		case r == 'T' && !inTime && digits == 0:
			inTime = true
			continue
		}
		if digits == 0 {
			return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, in)
		}
		switch {
		case r == 'W' && !inTime:
			d.Days += num * 7
		case r == 'D' && !inTime:
			d.Days += num
		case r == 'H' && inTime:
			d.Seconds += num * 3600
		case r == 'M' && inTime:
			d.Seconds += num * 60
		case r == 'S' && inTime:
			d.Seconds += num
		default:
			return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, in)
		}
		num, digits = 0, 0
	}
	if digits != 0 {
		return Duration{}, fmt.Errorf("%w: %q", ErrInvalidDuration, in)
	}
	if sign < 0 {
		d = d.Neg()
	}
	return d, nil
}
