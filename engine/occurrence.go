package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

// fields an occurrence edit may never carry
var occurrenceReadOnly = slices.Concat(
	task.InstanceFields,
	task.RecurrenceFields,
	task.OriginalInstanceFields,
	[]task.Field{task.FieldShape},
)

func checkOccurrenceChanges(changes task.Changes) error {
	for _, f := range occurrenceReadOnly {
		if changes.Touched(f) {
			return invalidInput(task.ErrInvalidChange, "field %q can not be changed on a single occurrence", f)
		}
	}
	return nil
}

// UpdateOccurrence applies changes to one occurrence. Editing an occurrence of a master
// creates an override for it; plain tasks and overrides are updated in place. Completing
// the current occurrence of a series detaches the completed head of the series.
func (e *Engine) UpdateOccurrence(ctx context.Context, instanceID int64, changes task.Changes) (Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkOccurrenceChanges(changes); err != nil {
		return Ref{}, err
	}
	row, owner, err := e.occurrence(ctx, instanceID)
	if err != nil {
		return Ref{}, err
	}
	if err := changes.Apply(owner.Clone()); err != nil {
		return Ref{}, invalidInput(err, "update of instance %d rejected", instanceID)
	}

	var ref Ref
	switch owner.Kind() {
	case task.KindMaster:
		ref, err = e.updateMasterOccurrence(ctx, owner, row, changes)
	default:
		ref, err = e.updateTask(ctx, owner.ID, changes)
	}
	if err != nil {
		return Ref{}, err
	}
	e.metrics.occurrences.WithLabelValues("update", owner.Kind().String()).Inc()

	updated, err := e.store.GetTask(ctx, ref.TaskID)
	if err != nil {
		return Ref{}, fmt.Errorf("loading task %d: %w", ref.TaskID, err)
	}
	if !detachable(owner, row, updated.Status) {
		return ref, nil
	}

	masterID := owner.ID
	if o, ok := owner.OverrideShape(); ok {
		masterID = o.MasterID
	}
	if err := e.detach(ctx, masterID, row.OriginalTime.MustGet()); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// detachable reports whether closing row starts a detachment: the row is the current
// occurrence of a series and its task is closed now.
func detachable(owner *task.Task, row task.Instance, status task.Status) bool {
	return owner.Kind() != task.KindPlain &&
		row.OriginalTime.IsPresent() &&
		row.Distance == 0 &&
		status.IsClosed()
}

func (e *Engine) occurrence(ctx context.Context, instanceID int64) (task.Instance, *task.Task, error) {
	row, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return task.Instance{}, nil, fmt.Errorf("loading instance %d: %w", instanceID, err)
	}
	owner, err := e.store.GetTask(ctx, row.TaskID)
	if err != nil {
		return task.Instance{}, nil, fmt.Errorf("loading task %d: %w", row.TaskID, err)
	}
	if owner.Deleted {
		return task.Instance{}, nil, storage.NotFound("task", owner.ID)
	}
	return *row, owner, nil
}

func (e *Engine) updateTask(ctx context.Context, id task.ID, changes task.Changes) (Ref, error) {
	if err := e.store.UpdateTask(ctx, id, changes); err != nil {
		return Ref{}, fmt.Errorf("updating task %d: %w", id, err)
	}
	if err := e.rebuild(ctx, id); err != nil {
		return Ref{}, err
	}
	return e.ref(ctx, id)
}

func (e *Engine) updateMasterOccurrence(ctx context.Context, master *task.Task, row task.Instance, changes task.Changes) (Ref, error) {
	ot, ok := row.OriginalTime.Get()
	if !ok {
		return Ref{}, invalidInput(nil, "instance %d of master %d has no original time", row.ID, master.ID)
	}

	existing, err := e.findOverride(ctx, master.ID, ot)
	if err != nil {
		return Ref{}, err
	}
	if existing != nil {
		return e.updateTask(ctx, existing.ID, changes)
	}
	return e.createOverride(ctx, master, row, changes)
}

func (e *Engine) findOverride(ctx context.Context, masterID task.ID, ot datetime.DateTime) (*task.Task, error) {
	overrides, err := e.store.ListOverrides(ctx, masterID)
	if err != nil {
		return nil, fmt.Errorf("listing overrides of %d: %w", masterID, err)
	}
	for _, o := range overrides {
		if shape, _ := o.OverrideShape(); shape.OriginalTime.Equal(ot) {
			return o, nil
		}
	}
	return nil, nil
}

// createOverride stores a new override of master for the occurrence row. Dates the caller
// does not touch are taken from the occurrence so the override is self-contained.
func (e *Engine) createOverride(ctx context.Context, master *task.Task, row task.Instance, changes task.Changes) (Ref, error) {
	ot := row.OriginalTime.MustGet()

	o := master.Clone()
	o.ID = 0
	o.Shape = task.Override{
		MasterID:       master.ID,
		OriginalTime:   ot,
		OriginalAllDay: master.IsAllDay(),
		OriginalSyncID: master.Sync.SyncID,
	}
	o.Sync = task.Provenance{}
	o.List = task.ListInfo{}
	if !changes.Touched(task.FieldStart) {
		o.Start = row.Start
	}
	if !changes.TouchedAny(task.FieldDue, task.FieldDuration) {
		o.Due = row.Due
		o.Duration = mo.None[datetime.Duration]()
	}
	if err := changes.Apply(o); err != nil {
		return Ref{}, invalidInput(err, "override of master %d rejected", master.ID)
	}

	id, err := e.store.InsertTask(ctx, o)
	if err != nil {
		return Ref{}, fmt.Errorf("inserting override of %d: %w", master.ID, err)
	}
	if err := e.rebuild(ctx, master.ID); err != nil {
		return Ref{}, err
	}

	e.metrics.overridesCreated.Inc()
	e.logger.Info("override created", "task_id", id, "master_id", master.ID, "original_time", ot.String())
	return e.ref(ctx, id)
}

// ref returns the first instance row of a task.
func (e *Engine) ref(ctx context.Context, id task.ID) (Ref, error) {
	rows, err := e.store.QueryInstances(ctx, storage.InstanceFilter{TaskID: id})
	if err != nil {
		return Ref{}, fmt.Errorf("querying instances of %d: %w", id, err)
	}
	ref := Ref{TaskID: id}
	if len(rows) > 0 {
		ref.InstanceID = rows[0].ID
	}
	return ref, nil
}

// DeleteOccurrence removes one occurrence. A plain task is deleted. An occurrence of a
// master becomes an exclusion date; an override is deleted and its original time
// excluded from the master.
func (e *Engine) DeleteOccurrence(ctx context.Context, instanceID int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	row, owner, err := e.occurrence(ctx, instanceID)
	if err != nil {
		return err
	}

	switch owner.Kind() {
	case task.KindPlain:
		if err := e.store.DeleteTask(ctx, owner.ID); err != nil {
			return fmt.Errorf("deleting task %d: %w", owner.ID, err)
		}

	case task.KindOverride:
		o, _ := owner.OverrideShape()
		if err := e.store.DeleteTask(ctx, owner.ID); err != nil {
			return fmt.Errorf("deleting override %d: %w", owner.ID, err)
		}
		master, err := e.store.GetTask(ctx, o.MasterID)
		if storage.IsNotFound(err) {
			e.logger.Warn("deleted override without master", "task_id", owner.ID, "master_id", o.MasterID)
			break
		}
		if err != nil {
			return fmt.Errorf("loading master %d: %w", o.MasterID, err)
		}
		if err := e.exclude(ctx, master, o.OriginalTime); err != nil {
			return err
		}

	case task.KindMaster:
		ot, ok := row.OriginalTime.Get()
		if !ok {
			return invalidInput(nil, "instance %d of master %d has no original time", row.ID, owner.ID)
		}
		if err := e.exclude(ctx, owner, ot); err != nil {
			return err
		}
	}

	e.metrics.occurrences.WithLabelValues("delete", owner.Kind().String()).Inc()
	e.logger.Info("occurrence deleted", "instance_id", instanceID, "task_id", owner.ID, "kind", owner.Kind())
	return nil
}

// exclude adds ot to the EXDATEs of master and rebuilds it.
func (e *Engine) exclude(ctx context.Context, master *task.Task, ot datetime.DateTime) error {
	shape, ok := master.MasterShape()
	if !ok {
		return e.rebuild(ctx, master.ID)
	}
	if err := e.store.UpdateTask(ctx, master.ID, recurrenceChanges(shape.WithExDate(ot))); err != nil {
		return fmt.Errorf("updating master %d: %w", master.ID, err)
	}
	return e.rebuild(ctx, master.ID)
}

func recurrenceChanges(m task.Master) task.Changes {
	return task.Changes{
		task.FieldRRule:  m.Rule,
		task.FieldRDate:  m.RDates,
		task.FieldExDate: m.ExDates,
	}
}

// AddOccurrence adds an occurrence at the given time to a task and stores it as an
// override carrying changes. The time becomes an RDATE of the task; a plain task turns
// into a master with its own anchor as the first RDATE.
func (e *Engine) AddOccurrence(ctx context.Context, taskID task.ID, at datetime.DateTime, changes task.Changes) (Ref, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkOccurrenceChanges(changes); err != nil {
		return Ref{}, err
	}
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return Ref{}, fmt.Errorf("loading task %d: %w", taskID, err)
	}
	if t.Deleted {
		return Ref{}, storage.NotFound("task", taskID)
	}
	if err := changes.Apply(t.Clone()); err != nil {
		return Ref{}, invalidInput(err, "new occurrence of %d rejected", taskID)
	}

	var shape task.Master
	switch t.Kind() {
	case task.KindOverride:
		return Ref{}, invalidInput(nil, "can not add an occurrence to override %d", taskID)
	case task.KindMaster:
		shape, _ = t.MasterShape()
		rows, err := e.store.QueryInstances(ctx, storage.InstanceFilter{Owner: taskID})
		if err != nil {
			return Ref{}, fmt.Errorf("querying instances of %d: %w", taskID, err)
		}
		if slices.ContainsFunc(rows, atTime(at)) {
			return Ref{}, &storage.Error{Type: storage.ErrAlreadyExists, Message: fmt.Sprintf("task %d already has an occurrence at %s", taskID, at)}
		}
	default:
		anchor, ok := t.Anchor().Get()
		if !ok {
			return Ref{}, invalidInput(nil, "task %d has neither start nor due", taskID)
		}
		if anchor.Equal(at) {
			return Ref{}, &storage.Error{Type: storage.ErrAlreadyExists, Message: fmt.Sprintf("task %d already has an occurrence at %s", taskID, at)}
		}
		shape = task.Master{RDates: []datetime.DateTime{anchor}}
	}
	prev, _ := t.MasterShape()

	candidate := t.Clone()
	candidate.Shape = shape.WithRDate(at)
	if err := e.expands(candidate, at); err != nil {
		return Ref{}, err
	}

	if err := e.store.UpdateTask(ctx, taskID, recurrenceChanges(shape.WithRDate(at))); err != nil {
		return Ref{}, fmt.Errorf("updating task %d: %w", taskID, err)
	}
	if err := e.rebuild(ctx, taskID); err != nil {
		return Ref{}, err
	}

	master, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return Ref{}, fmt.Errorf("loading task %d: %w", taskID, err)
	}
	rows, err := e.store.QueryInstances(ctx, storage.InstanceFilter{TaskID: taskID})
	if err != nil {
		return Ref{}, fmt.Errorf("querying instances of %d: %w", taskID, err)
	}
	var ref Ref
	if i := slices.IndexFunc(rows, atTime(at)); i < 0 {
		err = invalidInput(nil, "occurrence %s of task %d is outside the expanded range", at, taskID)
	} else {
		ref, err = e.createOverride(ctx, master, rows[i], changes)
	}
	if err != nil {
		if rerr := e.restoreRecurrence(ctx, taskID, prev); rerr != nil {
			e.logger.Error("failed to restore recurrence after a rejected occurrence",
				"task_id", taskID, "error", rerr)
		}
		return Ref{}, err
	}
	e.metrics.occurrences.WithLabelValues("add", t.Kind().String()).Inc()
	return ref, nil
}

// expands checks that t, as it would be stored, yields an occurrence at at.
func (e *Engine) expands(t *task.Task, at datetime.DateTime) error {
	seq, err := e.builder.Instances(t)
	if err != nil {
		return invalidInput(err, "expanding task %d", t.ID)
	}
	for row := range seq {
		if atTime(at)(row) {
			return nil
		}
	}
	return invalidInput(nil, "occurrence %s of task %d is outside the expanded range", at, t.ID)
}

// restoreRecurrence puts back the recurrence a task had before AddOccurrence. An empty
// shape turns the task back into a plain one.
func (e *Engine) restoreRecurrence(ctx context.Context, taskID task.ID, prev task.Master) error {
	if err := e.store.UpdateTask(ctx, taskID, recurrenceChanges(prev)); err != nil {
		return fmt.Errorf("restoring task %d: %w", taskID, err)
	}
	return e.rebuild(ctx, taskID)
}

func atTime(at datetime.DateTime) func(task.Instance) bool {
	return func(row task.Instance) bool {
		ot, ok := row.OriginalTime.Get()
		return ok && ot.Equal(at)
	}
}
