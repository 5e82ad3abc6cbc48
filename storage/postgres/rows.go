package postgres

import (
	"fmt"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

const taskColumns = `t.id, t.uid, t.title, t.description, t.dtstart, t.due, t.duration,
	t.status, t.completed, t.tz, t.kind, t.rrule, t.rdate, t.exdate,
	t.original_instance_id, t.original_instance_time, t.original_instance_allday,
	t.original_instance_sync_id, t.sync_id, t.sync_version, t.sync, t.dirty, t.list_id,
	l.name AS list_name, l.color AS list_color, l.owner AS list_owner,
	l.visible AS list_visible, l.access_level AS list_access_level,
	l.account_name, l.account_type,
	t.deleted, t.created, t.last_modified`

const taskFrom = `FROM tasks t LEFT JOIN lists l ON l.id = t.list_id`

type taskRow struct {
	ID                     int64      `db:"id"`
	UID                    string     `db:"uid"`
	Title                  string     `db:"title"`
	Description            string     `db:"description"`
	DTStart                *string    `db:"dtstart"`
	Due                    *string    `db:"due"`
	Duration               *string    `db:"duration"`
	Status                 int16      `db:"status"`
	Completed              *time.Time `db:"completed"`
	TZ                     string     `db:"tz"`
	Kind                   int16      `db:"kind"`
	RRule                  string     `db:"rrule"`
	RDate                  []string   `db:"rdate"`
	ExDate                 []string   `db:"exdate"`
	OriginalInstanceID     *int64     `db:"original_instance_id"`
	OriginalInstanceTime   *string    `db:"original_instance_time"`
	OriginalInstanceAllDay bool       `db:"original_instance_allday"`
	OriginalInstanceSyncID string     `db:"original_instance_sync_id"`
	SyncID                 string     `db:"sync_id"`
	SyncVersion            string     `db:"sync_version"`
	Sync                   []string   `db:"sync"`
	Dirty                  bool       `db:"dirty"`
	ListID                 int64      `db:"list_id"`
	ListName               *string    `db:"list_name"`
	ListColor              *string    `db:"list_color"`
	ListOwner              *string    `db:"list_owner"`
	ListVisible            *bool      `db:"list_visible"`
	ListAccessLevel        *int16     `db:"list_access_level"`
	AccountName            *string    `db:"account_name"`
	AccountType            *string    `db:"account_type"`
	Deleted                bool       `db:"deleted"`
	Created                time.Time  `db:"created"`
	LastModified           time.Time  `db:"last_modified"`
}

func fromTask(t *task.Task) taskRow {
	r := taskRow{
		ID:          int64(t.ID),
		UID:         t.UID,
		Title:       t.Title,
		Description: t.Description,
		DTStart:     dateText(t.Start),
		Due:         dateText(t.Due),
		Status:      int16(t.Status),
		TZ:          t.TimeZone,
		Kind:        int16(t.Kind()),
		RDate:       []string{},
		ExDate:      []string{},
		SyncID:      t.Sync.SyncID,
		SyncVersion: t.Sync.SyncVersion,
		Sync:        t.Sync.Sync[:],
		Dirty:       t.Sync.Dirty,
		ListID:      t.ListID,
		Deleted:     t.Deleted,
	}
	if d, ok := t.Duration.Get(); ok {
		s := d.String()
		r.Duration = &s
	}
	if c, ok := t.Completed.Get(); ok {
		r.Completed = &c
	}
	switch shape := t.Shape.(type) {
	case task.Master:
		r.RRule = shape.Rule
		r.RDate = datesText(shape.RDates)
		r.ExDate = datesText(shape.ExDates)
	case task.Override:
		id := int64(shape.MasterID)
		ot := shape.OriginalTime.String()
		r.OriginalInstanceID = &id
		r.OriginalInstanceTime = &ot
		r.OriginalInstanceAllDay = shape.OriginalAllDay
		r.OriginalInstanceSyncID = shape.OriginalSyncID
	}
	return r
}

func (r taskRow) toTask() (*task.Task, error) {
	t := &task.Task{
		ID:          task.ID(r.ID),
		UID:         r.UID,
		Title:       r.Title,
		Description: r.Description,
		Status:      task.Status(r.Status),
		TimeZone:    r.TZ,
		Sync: task.Provenance{
			SyncID:      r.SyncID,
			SyncVersion: r.SyncVersion,
			Dirty:       r.Dirty,
		},
		ListID:       r.ListID,
		Deleted:      r.Deleted,
		Created:      r.Created,
		LastModified: r.LastModified,
	}
	copy(t.Sync.Sync[:], r.Sync)

	var err error
	if t.Start, err = parseDateText(r.DTStart); err != nil {
		return nil, fmt.Errorf("task %d dtstart: %w", r.ID, err)
	}
	if t.Due, err = parseDateText(r.Due); err != nil {
		return nil, fmt.Errorf("task %d due: %w", r.ID, err)
	}
	if r.Duration != nil {
		d, err := datetime.ParseDuration(*r.Duration)
		if err != nil {
			return nil, fmt.Errorf("task %d duration: %w", r.ID, err)
		}
		t.Duration = mo.Some(d)
	}
	if r.Completed != nil {
		t.Completed = mo.Some(*r.Completed)
	}

	switch task.Kind(r.Kind) {
	case task.KindMaster:
		rdates, err := parseDatesText(r.RDate)
		if err != nil {
			return nil, fmt.Errorf("task %d rdate: %w", r.ID, err)
		}
		exdates, err := parseDatesText(r.ExDate)
		if err != nil {
			return nil, fmt.Errorf("task %d exdate: %w", r.ID, err)
		}
		t.Shape = task.Recurring(r.RRule, rdates, exdates)
	case task.KindOverride:
		if r.OriginalInstanceID == nil || r.OriginalInstanceTime == nil {
			return nil, fmt.Errorf("task %d: override without original instance", r.ID)
		}
		var ot datetime.DateTime
		if err := ot.UnmarshalText([]byte(*r.OriginalInstanceTime)); err != nil {
			return nil, fmt.Errorf("task %d original instance time: %w", r.ID, err)
		}
		t.Shape = task.Override{
			MasterID:       task.ID(*r.OriginalInstanceID),
			OriginalTime:   ot,
			OriginalAllDay: r.OriginalInstanceAllDay,
			OriginalSyncID: r.OriginalInstanceSyncID,
		}
	default:
		t.Shape = task.Plain{}
	}

	t.List = task.ListInfo{
		Name:        deref(r.ListName),
		Color:       deref(r.ListColor),
		Owner:       deref(r.ListOwner),
		Visible:     deref(r.ListVisible),
		AccessLevel: int(deref(r.ListAccessLevel)),
		AccountName: deref(r.AccountName),
		AccountType: deref(r.AccountType),
	}
	return t, nil
}

const instanceColumns = `id, task_id, master_id, instance_start, instance_start_sorting,
	instance_due, instance_due_sorting, instance_duration, instance_original_time,
	original_time_sorting, distance_from_current, status`

type instanceRow struct {
	ID                   int64   `db:"id"`
	TaskID               int64   `db:"task_id"`
	MasterID             int64   `db:"master_id"`
	InstanceStart        *string `db:"instance_start"`
	InstanceStartSorting *int64  `db:"instance_start_sorting"`
	InstanceDue          *string `db:"instance_due"`
	InstanceDueSorting   *int64  `db:"instance_due_sorting"`
	InstanceDuration     *int64  `db:"instance_duration"`
	InstanceOriginalTime *string `db:"instance_original_time"`
	OriginalTimeSorting  *int64  `db:"original_time_sorting"`
	Distance             int32   `db:"distance_from_current"`
	Status               int16   `db:"status"`
}

func fromInstance(i task.Instance) instanceRow {
	r := instanceRow{
		ID:                   i.ID,
		TaskID:               int64(i.TaskID),
		MasterID:             int64(i.MasterID),
		InstanceStart:        dateText(i.Start),
		InstanceStartSorting: i.StartSorting.ToPointer(),
		InstanceDue:          dateText(i.Due),
		InstanceDueSorting:   i.DueSorting.ToPointer(),
		InstanceDuration:     i.Duration.ToPointer(),
		InstanceOriginalTime: dateText(i.OriginalTime),
		Distance:             int32(i.Distance),
		Status:               int16(i.Status),
	}
	if ot, ok := i.OriginalTime.Get(); ok {
		ts := ot.Timestamp()
		r.OriginalTimeSorting = &ts
	}
	return r
}

func (r instanceRow) toInstance() (task.Instance, error) {
	i := task.Instance{
		ID:           r.ID,
		TaskID:       task.ID(r.TaskID),
		MasterID:     task.ID(r.MasterID),
		StartSorting: mo.PointerToOption(r.InstanceStartSorting),
		DueSorting:   mo.PointerToOption(r.InstanceDueSorting),
		Duration:     mo.PointerToOption(r.InstanceDuration),
		Distance:     int(r.Distance),
		Status:       task.Status(r.Status),
	}
	var err error
	if i.Start, err = parseDateText(r.InstanceStart); err != nil {
		return task.Instance{}, fmt.Errorf("instance %d start: %w", r.ID, err)
	}
	if i.Due, err = parseDateText(r.InstanceDue); err != nil {
		return task.Instance{}, fmt.Errorf("instance %d due: %w", r.ID, err)
	}
	if i.OriginalTime, err = parseDateText(r.InstanceOriginalTime); err != nil {
		return task.Instance{}, fmt.Errorf("instance %d original time: %w", r.ID, err)
	}
	return i, nil
}

func dateText(d mo.Option[datetime.DateTime]) *string {
	v, ok := d.Get()
	if !ok {
		return nil
	}
	s := v.String()
	return &s
}

func parseDateText(s *string) (mo.Option[datetime.DateTime], error) {
	if s == nil {
		return mo.None[datetime.DateTime](), nil
	}
	var d datetime.DateTime
	if err := d.UnmarshalText([]byte(*s)); err != nil {
		return mo.None[datetime.DateTime](), err
	}
	return mo.Some(d), nil
}

func datesText(dates []datetime.DateTime) []string {
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		out = append(out, d.String())
	}
	return out
}

func parseDatesText(values []string) ([]datetime.DateTime, error) {
	var out []datetime.DateTime
	for _, v := range values {
		var d datetime.DateTime
		if err := d.UnmarshalText([]byte(v)); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
