package task

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/samber/mo"
)

// ErrInvalidChange is returned when a change set can not be applied to a task.
var ErrInvalidChange = errors.New("invalid change")

// Field names a column of a task or instance row.
type Field string

// Task fields.
const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldStart       Field = "dtstart"
	FieldDue         Field = "due"
	FieldDuration    Field = "duration"
	FieldStatus      Field = "status"
	FieldCompleted   Field = "completed"
	FieldTimeZone    Field = "tz"
	FieldUID         Field = "_uid"
	FieldSync        Field = "sync"
	FieldListID      Field = "list_id"
	FieldDeleted     Field = "_deleted"

	// FieldShape replaces the recurrence shape as a whole.
	FieldShape Field = "shape"
)

// Recurrence fields. They may only change through a master-level edit.
const (
	FieldRRule  Field = "rrule"
	FieldRDate  Field = "rdate"
	FieldExDate Field = "exdate"
)

// Override linkage fields. They are read-only once an override exists.
const (
	FieldOriginalInstanceID     Field = "original_instance_id"
	FieldOriginalInstanceTime   Field = "original_instance_time"
	FieldOriginalInstanceAllDay Field = "original_instance_allday"
	FieldOriginalInstanceSyncID Field = "original_instance_sync_id"
)

// Instance fields. They are computed and can never be written.
const (
	FieldInstanceID           Field = "_id"
	FieldTaskID               Field = "task_id"
	FieldInstanceStart        Field = "instance_start"
	FieldInstanceStartSorting Field = "instance_start_sorting"
	FieldInstanceDue          Field = "instance_due"
	FieldInstanceDueSorting   Field = "instance_due_sorting"
	FieldInstanceDuration     Field = "instance_duration"
	FieldInstanceOriginalTime Field = "instance_original_time"
	FieldDistance             Field = "distance_from_current"
)

// InstanceFields lists the computed instance columns.
var InstanceFields = []Field{
	FieldInstanceID, FieldTaskID,
	FieldInstanceStart, FieldInstanceStartSorting,
	FieldInstanceDue, FieldInstanceDueSorting,
	FieldInstanceDuration, FieldInstanceOriginalTime,
	FieldDistance,
}

// RecurrenceFields lists the recurrence set columns.
var RecurrenceFields = []Field{FieldRRule, FieldRDate, FieldExDate}

// OriginalInstanceFields lists the override linkage columns.
var OriginalInstanceFields = []Field{
	FieldOriginalInstanceID, FieldOriginalInstanceTime,
	FieldOriginalInstanceAllDay, FieldOriginalInstanceSyncID,
}

// Changes is a set of new field values. A field is touched if it is a key of the map,
// so a nil value clears an optional field.
//
// Values by field:
//   - title, description, tz, _uid: string
//   - dtstart, due: datetime.DateTime, mo.Option[datetime.DateTime] or nil
//   - duration: datetime.Duration, mo.Option[datetime.Duration] or nil
//   - status: Status
//   - completed: time.Time, mo.Option[time.Time] or nil
//   - sync: Provenance
//   - list_id: int64
//   - _deleted: bool
//   - rrule: string; rdate, exdate: []datetime.DateTime
//   - shape: Shape
type Changes map[Field]any

// Touched reports whether f is part of the change set.
func (c Changes) Touched(f Field) bool {
	_, ok := c[f]
	return ok
}

// TouchedAny reports whether any of fields is part of the change set.
func (c Changes) TouchedAny(fields ...Field) bool {
	return slices.ContainsFunc(fields, c.Touched)
}

// Clone returns a shallow copy of c.
func (c Changes) Clone() Changes {
	return maps.Clone(c)
}

// Apply writes the change set into t. Either every change is applied or t is left as it was.
func (c Changes) Apply(t *Task) error {
	next := t.Clone()

	for _, f := range slices.Sorted(maps.Keys(c)) {
		v := c[f]
		var err error
		switch f {
		case FieldTitle:
			next.Title, err = stringValue(f, v)
		case FieldDescription:
			next.Description, err = stringValue(f, v)
		case FieldTimeZone:
			next.TimeZone, err = stringValue(f, v)
		case FieldUID:
			next.UID, err = stringValue(f, v)
		case FieldStart:
			next.Start, err = dateValue(f, v)
		case FieldDue:
			next.Due, err = dateValue(f, v)
		case FieldDuration:
			next.Duration, err = durationValue(f, v)
		case FieldStatus:
			s, ok := v.(Status)
			if !ok {
				err = typeError(f, v)
			}
			next.Status = s
		case FieldCompleted:
			next.Completed, err = timeValue(f, v)
		case FieldSync:
			p, ok := v.(Provenance)
			if !ok {
				err = typeError(f, v)
			}
			next.Sync = p
		case FieldListID:
			id, ok := v.(int64)
			if !ok {
				err = typeError(f, v)
			}
			next.ListID = id
		case FieldDeleted:
			d, ok := v.(bool)
			if !ok {
				err = typeError(f, v)
			}
			next.Deleted = d
		case FieldShape:
			s, ok := v.(Shape)
			if !ok && v != nil {
				err = typeError(f, v)
			}
			next.Shape = s
		case FieldRRule, FieldRDate, FieldExDate:
			// applied together below
		default:
			err = fmt.Errorf("%w: field %q is read-only", ErrInvalidChange, f)
		}
		if err != nil {
			return err
		}
	}

	if c.TouchedAny(RecurrenceFields...) {
		if err := c.applyRecurrence(next); err != nil {
			return err
		}
	}

	if next.Due.IsPresent() && next.Duration.IsPresent() {
		if c.Touched(FieldDuration) && !c.Touched(FieldDue) {
			next.Due = mo.None[datetime.DateTime]()
		} else {
			next.Duration = mo.None[datetime.Duration]()
		}
	}

	*t = *next
	return nil
}

func (c Changes) applyRecurrence(t *Task) error {
	if _, ok := t.Shape.(Override); ok {
		return fmt.Errorf("%w: an override can not carry recurrence fields", ErrInvalidChange)
	}
	m, _ := t.Shape.(Master)
	if v, ok := c[FieldRRule]; ok {
		rule, err := stringValue(FieldRRule, v)
		if err != nil {
			return err
		}
		m.Rule = rule
	}
	if v, ok := c[FieldRDate]; ok {
		dates, err := datesValue(FieldRDate, v)
		if err != nil {
			return err
		}
		m.RDates = dates
	}
	if v, ok := c[FieldExDate]; ok {
		dates, err := datesValue(FieldExDate, v)
		if err != nil {
			return err
		}
		m.ExDates = dates
	}
	t.Shape = Recurring(m.Rule, m.RDates, m.ExDates)
	return nil
}

func typeError(f Field, v any) error {
	return fmt.Errorf("%w: unexpected %T for %q", ErrInvalidChange, v, f)
}

func stringValue(f Field, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", nil
	}
	return "", typeError(f, v)
}

func dateValue(f Field, v any) (mo.Option[datetime.DateTime], error) {
	switch d := v.(type) {
	case datetime.DateTime:
		return mo.Some(d), nil
	case mo.Option[datetime.DateTime]:
		return d, nil
	case nil:
		return mo.None[datetime.DateTime](), nil
	}
	return mo.None[datetime.DateTime](), typeError(f, v)
}

func durationValue(f Field, v any) (mo.Option[datetime.Duration], error) {
	switch d := v.(type) {
	case datetime.Duration:
		return mo.Some(d), nil
	case mo.Option[datetime.Duration]:
		return d, nil
	case nil:
		return mo.None[datetime.Duration](), nil
	}
	return mo.None[datetime.Duration](), typeError(f, v)
}

func timeValue(f Field, v any) (mo.Option[time.Time], error) {
	switch d := v.(type) {
	case time.Time:
		return mo.Some(d), nil
	case mo.Option[time.Time]:
		return d, nil
	case nil:
		return mo.None[time.Time](), nil
	}
	return mo.None[time.Time](), typeError(f, v)
}

func datesValue(f Field, v any) ([]datetime.DateTime, error) {
	switch d := v.(type) {
	case []datetime.DateTime:
		return slices.Clone(d), nil
	case nil:
		return nil, nil
	}
	return nil, typeError(f, v)
}
