package instance

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/recurrence"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

const (
	// DefaultHorizonYears bounds open-ended series, counted from now.
	DefaultHorizonYears = 10
	// DefaultLimit is the most instances built for one series.
	DefaultLimit = 10000
)

// ErrNoEvaluator is returned by NewBuilder without an evaluator.
var ErrNoEvaluator = errors.New("instance: nil recurrence evaluator")

// Builder expands tasks into instance rows.
type Builder struct {
	evaluator    recurrence.Evaluator
	now          func() time.Time
	horizonYears int
	local        *time.Location
	limit        int
	logger       *slog.Logger
}

// Option represents a configuration option for the Builder
type Option func(*Builder)

// WithClock sets the source of "now" used for the forward horizon.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithHorizon sets how many years past now a series is expanded.
func WithHorizon(years int) Option {
	return func(b *Builder) {
		if years > 0 {
			b.horizonYears = years
		}
	}
}

// WithLocation sets the zone sorting values are computed in.
func WithLocation(loc *time.Location) Option {
	return func(b *Builder) {
		if loc != nil {
			b.local = loc
		}
	}
}

// WithLimit caps the number of instances of a single series.
func WithLimit(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.limit = n
		}
	}
}

// WithLogger sets the logger for the builder
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBuilder creates a builder which expands series with ev.
func NewBuilder(ev recurrence.Evaluator, opts ...Option) (*Builder, error) {
	if ev == nil {
		return nil, ErrNoEvaluator
	}
	b := &Builder{
		evaluator:    ev,
		now:          time.Now,
		horizonYears: DefaultHorizonYears,
		local:        time.Local,
		limit:        DefaultLimit,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Location returns the zone sorting values are computed in.
func (b *Builder) Location() *time.Location {
	return b.local
}

// Instances returns the instances of t in original-time order. Plain tasks and overrides
// have exactly one instance; a master has one per occurrence up to the horizon. Deleted
// tasks have none.
func (b *Builder) Instances(t *task.Task) (iter.Seq[task.Instance], error) {
	if t.Deleted {
		return func(func(task.Instance) bool) {}, nil
	}

	m, ok := t.MasterShape()
	if !ok {
		return b.single(t), nil
	}

	seed, ok := t.Anchor().Get()
	if !ok {
		b.logger.Warn("recurring task without start or due, building a single instance",
			"task_id", t.ID)
		return b.single(t), nil
	}

	next, err := b.evaluator.Iterate(SeriesInfo(m, seed, true), seed.Time())
	if err != nil {
		return nil, fmt.Errorf("expanding task %d: %w", t.ID, err)
	}

	hasStart := t.Start.IsPresent()
	dur := mo.None[datetime.Duration]()
	if hasStart {
		dur = seriesDuration(t)
	}
	until := b.now().AddDate(b.horizonYears, 0, 0)

	return func(yield func(task.Instance) bool) {
		for n := 0; ; n++ {
			occ, ok := next()
			if !ok || occ.After(until) {
				return
			}
			if n >= b.limit {
				b.logger.Warn("instance limit reached", "task_id", t.ID, "limit", b.limit)
				return
			}
			dt := datetime.Normalize(occ, seed)
			in := Input{
				TaskID:       t.ID,
				OriginalTime: mo.Some(dt),
				Status:       t.Status,
			}
			if hasStart {
				in.Start = mo.Some(dt)
				if d, ok := dur.Get(); ok {
					in.Due = mo.Some(dt.AddDuration(d))
				}
			} else {
				in.Due = mo.Some(dt)
			}
			if !yield(Project(in, b.local)) {
				return
			}
		}
	}, nil
}

func (b *Builder) single(t *task.Task) iter.Seq[task.Instance] {
	in := Input{
		TaskID:   t.ID,
		Start:    t.Start,
		Due:      t.Due,
		Duration: t.Duration,
		Status:   t.Status,
	}
	if o, ok := t.OverrideShape(); ok {
		in.MasterID = o.MasterID
		in.OriginalTime = mo.Some(o.OriginalTime)
	}
	row := Project(in, b.local)
	return func(yield func(task.Instance) bool) {
		yield(row)
	}
}

// seriesDuration is the explicit duration of t, else due minus start.
func seriesDuration(t *task.Task) mo.Option[datetime.Duration] {
	if t.Duration.IsPresent() {
		return t.Duration
	}
	start, hasStart := t.Start.Get()
	due, hasDue := t.Due.Get()
	if hasStart && hasDue {
		return mo.Some(datetime.Between(start, due))
	}
	return mo.None[datetime.Duration]()
}

// SeriesInfo converts the recurrence set of m into evaluator input seeded at seed.
// Dates of another kind than seed are brought to seed's kind. EXDATEs are left out
// when withExDates is false.
func SeriesInfo(m task.Master, seed datetime.DateTime, withExDates bool) recurrence.RecurrenceInfo {
	info := recurrence.RecurrenceInfo{RRULE: m.Rule}
	for _, d := range m.RDates {
		info.RDATE = append(info.RDATE, SeedTime(d, seed))
	}
	if withExDates {
		for _, d := range m.ExDates {
			info.EXDATE = append(info.EXDATE, SeedTime(d, seed))
		}
	}
	return info
}

// SeedTime returns d as a time comparable with the iteration of a series seeded at seed.
// An all-day d names the occurrence on that date at the seed's time of day.
func SeedTime(d, seed datetime.DateTime) time.Time {
	switch {
	case seed.IsAllDay():
		return d.ToAllDay().Time()
	case d.IsAllDay():
		st, dt := seed.Time(), d.Time()
		return time.Date(dt.Year(), dt.Month(), dt.Day(), st.Hour(), st.Minute(), st.Second(), 0, st.Location())
	case seed.IsFloating():
		return d.SwapZone(nil).Time()
	case d.IsFloating():
		return d.SwapZone(seed.Location()).Time()
	}
	return d.Time()
}
