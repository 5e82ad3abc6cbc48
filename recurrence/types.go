package recurrence

import (
	"time"
)

// RecurrenceInfo contains the recurrence set of a master task
type RecurrenceInfo struct {
	RRULE  string      // The RRULE string (without "RRULE:" prefix)
	RDATE  []time.Time // Additional recurrence dates
	EXDATE []time.Time // Exception dates (excluded occurrences)
}

// IsEmpty reports whether the set yields nothing besides its seed.
func (r RecurrenceInfo) IsEmpty() bool {
	return r.RRULE == "" && len(r.RDATE) == 0
}

// Iterator yields occurrence start times in ascending order. ok is false once the
// sequence is exhausted.
type Iterator func() (t time.Time, ok bool)

// Evaluator expands a recurrence set into its occurrences.
//
// Iterate returns the ordered, deduplicated occurrences of info seeded at seed. The
// sequence may be unbounded; callers stop pulling when they have seen enough.
type Evaluator interface {
	Iterate(info RecurrenceInfo, seed time.Time) (Iterator, error)
}

// Collect pulls up to limit occurrences from next that are not after until.
// A zero until means no upper bound.
func Collect(next Iterator, until time.Time, limit int) []time.Time {
	var out []time.Time
	for len(out) < limit {
		t, ok := next()
		if !ok || (!until.IsZero() && t.After(until)) {
			break
		}
		out = append(out, t)
	}
	return out
}
