package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// Engine evaluates recurrence sets with rrule-go. It implements Evaluator.
type Engine struct {
	cache  *ruleCache
	config EngineConfig
}

var _ Evaluator = (*Engine)(nil)

// NewEngine creates a new recurrence engine with the default configuration
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig)
}

// Close drops the cached rules.
func (e *Engine) Close() {
	if e.cache != nil {
		e.cache.reset()
	}
}

// Iterate implements Evaluator. RRULE occurrences and RDATEs are merged in order;
// EXDATEs remove the single occurrence they name.
func (e *Engine) Iterate(info RecurrenceInfo, seed time.Time) (Iterator, error) {
	set := &rrule.Set{}
	if info.RRULE != "" {
		r, err := e.rule(info.RRULE, seed)
		if err != nil {
			return nil, err
		}
		set.RRule(r)
	} else {
		// a set made of RDATEs still starts at its seed
		set.RDate(seed)
	}
	for _, rdate := range info.RDATE {
		set.RDate(rdate)
	}
	for _, exdate := range info.EXDATE {
		set.ExDate(exdate)
	}

	next := set.Iterator()
	var last time.Time
	emitted := false
	return func() (time.Time, bool) {
		for {
			t, ok := next()
			if !ok {
				return time.Time{}, false
			}
			if emitted && !t.After(last) {
				continue
			}
			if e.isExcluded(t, info.EXDATE) {
				continue
			}
			last, emitted = t, true
			return t, true
		}
	}, nil
}

// rule builds the rrule for rruleStr seeded at seed. Floating UNTIL values are read in
// the seed's location.
func (e *Engine) rule(rruleStr string, seed time.Time) (*rrule.RRule, error) {
	opt, err := e.options(rruleStr, seed.Location())
	if err != nil {
		return nil, err
	}
	opt.Dtstart = seed
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to build RRULE '%s': %w", rruleStr, err)
	}
	return r, nil
}

func (e *Engine) options(rruleStr string, loc *time.Location) (rrule.ROption, error) {
	if e.cache != nil {
		if opt, ok := e.cache.get(rruleStr, loc); ok {
			return opt, nil
		}
	}

	opt, err := rrule.StrToROptionInLocation(rruleStr, loc)
	if err != nil {
		return rrule.ROption{}, fmt.Errorf("failed to parse RRULE '%s': %w", rruleStr, err)
	}

	if e.cache != nil {
		e.cache.put(rruleStr, loc, *opt)
	}
	return *opt, nil
}

// isExcluded reports whether t is one of exdates. Callers bring EXDATEs to the kind of
// the seed, so an exact match suffices.
func (e *Engine) isExcluded(t time.Time, exdates []time.Time) bool {
	for _, exdate := range exdates {
		if t.Equal(exdate) {
			return true
		}
	}
	return false
}
