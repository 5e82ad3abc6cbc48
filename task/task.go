// Package task defines the task and instance records shared by the instance builder,
// the engine and the stores.
package task

import (
	"slices"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/google/uuid"
	"github.com/samber/mo"
)

// ID identifies a task row. Stores assign it on insert; zero means "not stored yet".
type ID int64

// Provenance holds the sync state a sync adapter keeps on a task. It is read-only
// provenance, not occurrence data.
type Provenance struct {
	SyncID      string
	SyncVersion string
	Sync        [8]string
	// Dirty marks local changes that still need to be synced.
	Dirty bool
}

// ListInfo is the list and account data joined onto a task. Stores fill it when reading;
// it is never written through a task.
type ListInfo struct {
	Name        string
	Color       string
	Owner       string
	Visible     bool
	AccessLevel int
	AccountName string
	AccountType string
}

// Task is a recurring or non-recurring unit of work.
type Task struct {
	ID          ID
	UID         string
	Title       string
	Description string

	Start mo.Option[datetime.DateTime]
	Due   mo.Option[datetime.DateTime]
	// Duration is used when Due is absent.
	Duration mo.Option[datetime.Duration]

	Status    Status
	Completed mo.Option[time.Time]
	// TimeZone is an IANA zone id; empty means floating.
	TimeZone string

	// Shape is one of Plain, Master or Override. A nil Shape is treated as Plain.
	Shape Shape

	Sync   Provenance
	ListID int64
	List   ListInfo

	// Deleted marks a tombstone kept for the sync adapter.
	Deleted      bool
	Created      time.Time
	LastModified time.Time
}

// NewUID returns a fresh sync UID.
func NewUID() string {
	return uuid.NewString()
}

// Kind returns the recurrence kind of t.
func (t *Task) Kind() Kind {
	if t.Shape == nil {
		return KindPlain
	}
	return t.Shape.Kind()
}

// MasterShape returns the Master shape of t, if any.
func (t *Task) MasterShape() (Master, bool) {
	m, ok := t.Shape.(Master)
	return m, ok
}

// OverrideShape returns the Override shape of t, if any.
func (t *Task) OverrideShape() (Override, bool) {
	o, ok := t.Shape.(Override)
	return o, ok
}

// IsClosed reports whether the task is completed or cancelled.
func (t *Task) IsClosed() bool {
	return t.Status.IsClosed()
}

// IsAllDay reports whether the task's dates are all-day values.
func (t *Task) IsAllDay() bool {
	return t.Anchor().OrEmpty().IsAllDay()
}

// Anchor returns the start of the task, or its due date if it has no start.
func (t *Task) Anchor() mo.Option[datetime.DateTime] {
	if t.Start.IsPresent() {
		return t.Start
	}
	return t.Due
}

// EffectiveDue returns Due, or Start+Duration when only those are known.
func (t *Task) EffectiveDue() mo.Option[datetime.DateTime] {
	if t.Due.IsPresent() {
		return t.Due
	}
	start, ok := t.Start.Get()
	if !ok {
		return mo.None[datetime.DateTime]()
	}
	dur, ok := t.Duration.Get()
	if !ok {
		return mo.None[datetime.DateTime]()
	}
	return mo.Some(start.AddDuration(dur))
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if m, ok := t.Shape.(Master); ok {
		c.Shape = m.clone()
	}
	return &c
}

// Instance is the materialised projection of one occurrence of a task.
type Instance struct {
	ID int64
	// TaskID is the task the occurrence comes from: the master for synthesised
	// occurrences, the plain or override task otherwise.
	TaskID ID
	// MasterID is the master an override occurrence belongs to, zero otherwise.
	MasterID ID

	Start        mo.Option[datetime.DateTime]
	StartSorting mo.Option[int64]
	Due          mo.Option[datetime.DateTime]
	DueSorting   mo.Option[int64]
	// Duration is Due minus Start in milliseconds.
	Duration mo.Option[int64]

	OriginalTime mo.Option[datetime.DateTime]
	// Distance is 0 for the current occurrence, negative for closed ones before it and
	// positive for later ones.
	Distance int
	Status   Status
}

// Owner returns the task whose instance set contains the row.
func (i Instance) Owner() ID {
	if i.MasterID != 0 {
		return i.MasterID
	}
	return i.TaskID
}

// IsClosed reports whether the occurrence is completed or cancelled.
func (i Instance) IsClosed() bool {
	return i.Status.IsClosed()
}

// SortInstances orders rows by original time, keeping the relative order of equal keys.
func SortInstances(rows []Instance) {
	slices.SortStableFunc(rows, func(a, b Instance) int {
		ta, tb := a.OriginalTime.OrEmpty().Timestamp(), b.OriginalTime.OrEmpty().Timestamp()
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	})
}
