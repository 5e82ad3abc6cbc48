package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/instance"
	"github.com/cyp0633/libtaskinst/recurrence"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

// detach splits the closed head of a series off its master and moves the master past
// completed, the original time of the occurrence that was just closed, or past the
// latest closed occurrence of the head when that comes later.
func (e *Engine) detach(ctx context.Context, masterID task.ID, completed datetime.DateTime) error {
	// closing an occurrence of the master creates an override, so the head is all overrides
	rows, err := e.store.QueryInstances(ctx, storage.InstanceFilter{
		MasterID:      masterID,
		DistanceBelow: mo.Some(0),
	})
	if err != nil {
		return fmt.Errorf("querying closed instances of %d: %w", masterID, err)
	}
	for _, row := range rows {
		if ot, ok := row.OriginalTime.Get(); ok && completed.Before(ot) {
			completed = ot
		}
		if err := e.detachOne(ctx, row); err != nil {
			return err
		}
	}

	alive, err := e.advanceMaster(ctx, masterID, completed)
	if err != nil {
		return err
	}
	if !alive {
		return nil
	}
	return e.rebuild(ctx, masterID)
}

// detachOne turns the override behind a closed instance into a standalone unsynced task
// and leaves a deleted copy of the former override behind.
func (e *Engine) detachOne(ctx context.Context, row task.Instance) error {
	t, err := e.store.GetTask(ctx, row.TaskID)
	if err != nil {
		return fmt.Errorf("loading task %d: %w", row.TaskID, err)
	}

	tombstone := t.Clone()
	tombstone.ID = 0
	tombstone.Deleted = true
	tombstone.List = task.ListInfo{}
	if _, err := e.store.InsertTask(ctx, tombstone); err != nil {
		return fmt.Errorf("inserting tombstone of %d: %w", t.ID, err)
	}

	if err := e.store.UpdateTask(ctx, t.ID, task.Changes{
		task.FieldSync:  task.Provenance{Dirty: true},
		task.FieldUID:   task.NewUID(),
		task.FieldShape: task.Plain{},
	}); err != nil {
		return fmt.Errorf("detaching task %d: %w", t.ID, err)
	}
	if err := e.store.UnlinkInstance(ctx, row.ID); err != nil {
		return fmt.Errorf("unlinking instance %d: %w", row.ID, err)
	}

	e.metrics.detached.Inc()
	e.logger.Info("occurrence detached", "task_id", t.ID, "instance_id", row.ID)
	return nil
}

// advanceMaster moves the anchor of a master to its first occurrence after completed and
// drops the recurrence data that can no longer produce an occurrence. A master without
// any occurrence left is deleted; the result reports whether it still exists.
func (e *Engine) advanceMaster(ctx context.Context, masterID task.ID, completed datetime.DateTime) (bool, error) {
	master, err := e.store.GetTask(ctx, masterID)
	if storage.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("loading master %d: %w", masterID, err)
	}
	shape, ok := master.MasterShape()
	if !ok || master.Deleted {
		return !master.Deleted, nil
	}
	oldAnchor, ok := master.Anchor().Get()
	if !ok {
		e.logger.Warn("master without start or due not advanced", "task_id", masterID)
		return true, nil
	}

	next := master.Clone()
	rule := shape.Rule
	exdates := slices.Clone(shape.ExDates)
	ruleLeft := false

	if rule != "" {
		count, hasCount, err := recurrence.RuleCount(rule)
		if err != nil {
			return false, fmt.Errorf("master %d: %w", masterID, err)
		}
		ruleOnly := task.Master{Rule: rule}
		// EXDATEs are counted by COUNT, so they may only be skipped without one
		if !hasCount {
			ruleOnly.ExDates = exdates
		}
		occurrences, err := e.evaluator.Iterate(instance.SeriesInfo(ruleOnly, oldAnchor, true), oldAnchor.Time())
		if err != nil {
			return false, fmt.Errorf("master %d: %w", masterID, err)
		}

		skipped := 0
		for skipped < e.scanLimit {
			occ, ok := occurrences()
			if !ok {
				break
			}
			dt := datetime.Normalize(occ, oldAnchor)
			if completed.Before(dt) {
				moveAnchor(next, dt)
				ruleLeft = true
				break
			}
			skipped++
		}

		switch {
		case !ruleLeft:
			exdates = append([]datetime.DateTime{oldAnchor}, slices.DeleteFunc(exdates, oldAnchor.Equal)...)
			rule = ""
		case hasCount:
			if rule, err = recurrence.WithCount(rule, count-skipped); err != nil {
				return false, fmt.Errorf("master %d: %w", masterID, err)
			}
		}
	}

	newAnchor := next.Anchor().MustGet()
	rdates := slices.DeleteFunc(slices.Clone(shape.RDates), func(d datetime.DateTime) bool {
		return !completed.Before(d)
	})
	exdates = slices.DeleteFunc(exdates, func(d datetime.DateTime) bool {
		return !completed.Before(d) && !d.Equal(newAnchor)
	})

	first, rdateLeft := firstIncluded(rdates, exdates)
	if !ruleLeft && !rdateLeft {
		if err := e.store.DeleteTask(ctx, masterID); err != nil {
			return false, fmt.Errorf("deleting master %d: %w", masterID, err)
		}
		e.metrics.mastersDeleted.Inc()
		e.logger.Info("master deleted", "task_id", masterID)
		return false, nil
	}
	if rule == "" {
		moveAnchor(next, datetime.Normalize(instance.SeedTime(first, oldAnchor), oldAnchor))
	}

	changes := task.Changes{
		task.FieldRRule:  rule,
		task.FieldRDate:  rdates,
		task.FieldExDate: exdates,
		task.FieldStart:  next.Start,
	}
	if next.Due.IsPresent() {
		changes[task.FieldDue] = next.Due
	}
	if err := e.store.UpdateTask(ctx, masterID, changes); err != nil {
		return false, fmt.Errorf("updating master %d: %w", masterID, err)
	}

	e.metrics.mastersAdvanced.Inc()
	e.logger.Info("master advanced", "task_id", masterID, "anchor", next.Anchor().MustGet().String(), "rrule", rule)
	return true, nil
}

// moveAnchor makes at the new start of t, keeping the distance from start to due. A task
// without start gets at as its due.
func moveAnchor(t *task.Task, at datetime.DateTime) {
	start, ok := t.Start.Get()
	if !ok {
		t.Due = mo.Some(at)
		return
	}
	if due, ok := t.Due.Get(); ok {
		t.Due = mo.Some(at.AddDuration(datetime.FromMillis(due.Timestamp() - start.Timestamp())))
	}
	t.Start = mo.Some(at)
}

// firstIncluded returns the earliest RDATE that is not excluded.
func firstIncluded(rdates, exdates []datetime.DateTime) (datetime.DateTime, bool) {
	var first datetime.DateTime
	found := false
	for _, d := range rdates {
		if slices.ContainsFunc(exdates, d.Equal) {
			continue
		}
		if !found || d.Before(first) {
			first, found = d, true
		}
	}
	return first, found
}
