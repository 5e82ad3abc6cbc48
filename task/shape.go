package task

import (
	"slices"

	"github.com/cyp0633/libtaskinst/datetime"
)

// Kind classifies a task by its recurrence shape.
type Kind int

const (
	KindPlain Kind = iota
	KindMaster
	KindOverride
)

// String provides a human-readable representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindMaster:
		return "Master"
	case KindOverride:
		return "Override"
	default:
		return "Plain"
	}
}

// Shape is the recurrence variant of a task. It is implemented by Plain, Master and
// Override only; each carries the fields valid for that variant.
type Shape interface {
	Kind() Kind
	shape()
}

// Plain is a single occurrence without recurrence or linkage.
type Plain struct{}

// Master is a recurring series. At least one of Rule and RDates is set.
type Master struct {
	// Rule is an RRULE value without the "RRULE:" prefix, e.g. "FREQ=DAILY;COUNT=3".
	Rule    string
	RDates  []datetime.DateTime
	ExDates []datetime.DateTime
}

// Override is one occurrence of a master stored as its own task.
type Override struct {
	MasterID       ID
	OriginalTime   datetime.DateTime
	OriginalAllDay bool
	OriginalSyncID string
}

func (Plain) Kind() Kind    { return KindPlain }
func (Master) Kind() Kind   { return KindMaster }
func (Override) Kind() Kind { return KindOverride }

func (Plain) shape()    {}
func (Master) shape()   {}
func (Override) shape() {}

// Recurring returns a Master for the given recurrence set, or Plain if the set has
// neither a rule nor recurrence dates.
func Recurring(rule string, rdates, exdates []datetime.DateTime) Shape {
	if rule == "" && len(rdates) == 0 {
		return Plain{}
	}
	return Master{Rule: rule, RDates: slices.Clone(rdates), ExDates: slices.Clone(exdates)}
}

// WithExDate excludes dt from the series and drops it from the recurrence dates.
func (m Master) WithExDate(dt datetime.DateTime) Master {
	return Master{
		Rule:    m.Rule,
		RDates:  without(m.RDates, dt),
		ExDates: append(without(m.ExDates, dt), dt),
	}
}

// WithRDate adds dt to the recurrence dates and drops it from the exclusions.
func (m Master) WithRDate(dt datetime.DateTime) Master {
	return Master{
		Rule:    m.Rule,
		RDates:  append(without(m.RDates, dt), dt),
		ExDates: without(m.ExDates, dt),
	}
}

func (m Master) clone() Master {
	return Master{Rule: m.Rule, RDates: slices.Clone(m.RDates), ExDates: slices.Clone(m.ExDates)}
}

func without(dates []datetime.DateTime, dt datetime.DateTime) []datetime.DateTime {
	out := make([]datetime.DateTime, 0, len(dates)+1)
	for _, d := range dates {
		if !d.Equal(dt) {
			out = append(out, d)
		}
	}
	return out
}
