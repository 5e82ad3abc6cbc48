package instance

import (
	"fmt"

	"github.com/cyp0633/libtaskinst/task"
)

// Merge replaces the synthesised occurrences of a series by the override rows with the
// same original time and numbers the distances. Overrides without a matching occurrence
// are kept. The result is ordered by original time.
func Merge(series, overrides []task.Instance) []task.Instance {
	byTime := make(map[int64]task.Instance, len(overrides))
	for _, o := range overrides {
		if ot, ok := o.OriginalTime.Get(); ok {
			byTime[ot.Timestamp()] = o
		}
	}

	out := make([]task.Instance, 0, len(series)+len(overrides))
	for _, row := range series {
		key := row.OriginalTime.OrEmpty().Timestamp()
		if o, ok := byTime[key]; ok {
			out = append(out, o)
			delete(byTime, key)
			continue
		}
		out = append(out, row)
	}
	for _, o := range overrides {
		ot, ok := o.OriginalTime.Get()
		if !ok {
			out = append(out, o)
			continue
		}
		if _, orphan := byTime[ot.Timestamp()]; orphan {
			out = append(out, o)
			delete(byTime, ot.Timestamp())
		}
	}

	task.SortInstances(out)
	Number(out)
	return out
}

// Number assigns distances: closed rows before the first open one get -1, the first
// open row gets 0 and every later row counts up from there.
func Number(rows []task.Instance) {
	distance := -1
	for i := range rows {
		if distance >= 0 || !rows[i].IsClosed() {
			distance++
			rows[i].Distance = distance
			continue
		}
		rows[i].Distance = -1
	}
}

// Series builds the merged instance rows of a master and its live overrides.
func (b *Builder) Series(master *task.Task, overrides []*task.Task) ([]task.Instance, error) {
	seq, err := b.Instances(master)
	if err != nil {
		return nil, err
	}
	var rows []task.Instance
	for row := range seq {
		rows = append(rows, row)
	}

	var overrideRows []task.Instance
	for _, o := range overrides {
		if o.Deleted {
			continue
		}
		if shape, ok := o.OverrideShape(); !ok || shape.MasterID != master.ID {
			return nil, fmt.Errorf("task %d is not an override of %d", o.ID, master.ID)
		}
		seq, err := b.Instances(o)
		if err != nil {
			return nil, err
		}
		for row := range seq {
			overrideRows = append(overrideRows, row)
		}
	}

	if len(overrideRows) == 0 && master.Kind() != task.KindMaster {
		return rows, nil
	}
	return Merge(rows, overrideRows), nil
}
