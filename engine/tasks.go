package engine

import (
	"context"
	"fmt"
	"slices"

	"github.com/cyp0633/libtaskinst/recurrence"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
)

// fields a task-level edit may never carry
var taskReadOnly = slices.Concat(task.InstanceFields, task.OriginalInstanceFields)

// CreateTask stores a new task and materialises its instances. An override must refer to
// an existing master.
func (e *Engine) CreateTask(ctx context.Context, t *task.Task) (task.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t == nil {
		return 0, invalidInput(nil, "nil task")
	}
	if err := e.validateShape(ctx, t); err != nil {
		return 0, err
	}

	id, err := e.store.InsertTask(ctx, t)
	if err != nil {
		return 0, fmt.Errorf("inserting task: %w", err)
	}
	if err := e.rebuild(ctx, id); err != nil {
		return 0, err
	}

	e.logger.Debug("task created", "task_id", id, "kind", t.Kind())
	return id, nil
}

// UpdateTask applies a task-level edit. Unlike an occurrence edit it may change the
// recurrence fields of a master.
func (e *Engine) UpdateTask(ctx context.Context, id task.ID, changes task.Changes) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, f := range taskReadOnly {
		if changes.Touched(f) {
			return invalidInput(task.ErrInvalidChange, "field %q is read-only", f)
		}
	}
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("loading task %d: %w", id, err)
	}
	next := t.Clone()
	if err := changes.Apply(next); err != nil {
		return invalidInput(err, "update of task %d rejected", id)
	}
	if err := e.validateShape(ctx, next); err != nil {
		return err
	}

	if _, err := e.updateTask(ctx, id, changes); err != nil {
		return err
	}
	return nil
}

// DeleteTask removes a task and its instances. Deleting a master removes its overrides;
// deleting an override brings back the occurrence it replaced.
func (e *Engine) DeleteTask(ctx context.Context, id task.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("loading task %d: %w", id, err)
	}

	if t.Kind() == task.KindMaster {
		overrides, err := e.store.ListOverrides(ctx, id)
		if err != nil {
			return fmt.Errorf("listing overrides of %d: %w", id, err)
		}
		for _, o := range overrides {
			if err := e.store.DeleteTask(ctx, o.ID); err != nil {
				return fmt.Errorf("deleting override %d: %w", o.ID, err)
			}
		}
	}
	if err := e.store.DeleteTask(ctx, id); err != nil {
		return fmt.Errorf("deleting task %d: %w", id, err)
	}
	if o, ok := t.OverrideShape(); ok {
		if err := e.rebuild(ctx, o.MasterID); err != nil && !storage.IsNotFound(err) {
			return err
		}
	}

	e.logger.Debug("task deleted", "task_id", id, "kind", t.Kind())
	return nil
}

// RebuildAll recomputes the instances of every live task.
func (e *Engine) RebuildAll(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tasks, err := e.store.ListTasks(ctx, false)
	if err != nil {
		return fmt.Errorf("listing tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Kind() == task.KindOverride {
			continue
		}
		if err := e.rebuild(ctx, t.ID); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) validateShape(ctx context.Context, t *task.Task) error {
	switch shape := t.Shape.(type) {
	case task.Master:
		if shape.Rule == "" {
			return nil
		}
		if err := recurrence.Validate(shape.Rule); err != nil {
			return invalidInput(err, "invalid rule %q", shape.Rule)
		}
	case task.Override:
		master, err := e.store.GetTask(ctx, shape.MasterID)
		if storage.IsNotFound(err) {
			return invalidInput(err, "master %d of override does not exist", shape.MasterID)
		}
		if err != nil {
			return fmt.Errorf("loading master %d: %w", shape.MasterID, err)
		}
		if master.Kind() != task.KindMaster || master.Deleted {
			return invalidInput(nil, "task %d is not a recurring task", shape.MasterID)
		}
	}
	return nil
}
