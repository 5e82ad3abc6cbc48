// Package instance computes the materialised instance rows of tasks.
package instance

import (
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

// Input describes one occurrence to project.
type Input struct {
	TaskID   task.ID
	MasterID task.ID

	Start    mo.Option[datetime.DateTime]
	Due      mo.Option[datetime.DateTime]
	Duration mo.Option[datetime.Duration]
	// OriginalTime is the nominal occurrence time, if known.
	OriginalTime mo.Option[datetime.DateTime]
	Status       task.Status
}

// epoch is the original time of an occurrence without any date.
var epoch = datetime.FromTimestamp(0, time.UTC)

// Project computes the instance row of one occurrence. Every field of the result is set;
// missing dates are mo.None. Sorting values of zoned dates are taken in local.
func Project(in Input, local *time.Location) task.Instance {
	due := in.Due
	if !due.IsPresent() {
		start, hasStart := in.Start.Get()
		dur, hasDur := in.Duration.Get()
		if hasStart && hasDur {
			due = mo.Some(start.AddDuration(dur))
		}
	}

	row := task.Instance{
		TaskID:       in.TaskID,
		MasterID:     in.MasterID,
		Start:        in.Start,
		StartSorting: sorting(in.Start, local),
		Due:          due,
		DueSorting:   sorting(due, local),
		Duration:     mo.None[int64](),
		Status:       in.Status,
	}

	start, hasStart := in.Start.Get()
	end, hasDue := due.Get()
	if hasStart && hasDue {
		// negative durations are kept as they are
		row.Duration = mo.Some(end.Timestamp() - start.Timestamp())
	}

	switch {
	case in.OriginalTime.IsPresent():
		row.OriginalTime = in.OriginalTime
	case hasStart:
		row.OriginalTime = in.Start
	case hasDue:
		row.OriginalTime = due
	default:
		row.OriginalTime = mo.Some(epoch)
	}

	if in.Status.IsClosed() {
		row.Distance = -1
	}
	return row
}

func sorting(d mo.Option[datetime.DateTime], local *time.Location) mo.Option[int64] {
	v, ok := d.Get()
	if !ok {
		return mo.None[int64]()
	}
	return mo.Some(v.Sorting(local))
}
