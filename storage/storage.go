// Package storage defines the row store the instance engine works against. Please use the
// error types provided.
package storage

import (
	"context"

	"github.com/cyp0633/libtaskinst/task"
)

// Store is the interface that must be implemented by storage backends. Implementations
// must make their own writes visible to later calls within one engine operation.
type Store interface {
	// GetTask returns the task with the given id, including tombstones.
	GetTask(ctx context.Context, id task.ID) (*task.Task, error)
	// InsertTask stores a new task and returns its id. An empty UID is filled with a fresh one.
	InsertTask(ctx context.Context, t *task.Task) (task.ID, error)
	// UpdateTask applies changes to an existing task.
	UpdateTask(ctx context.Context, id task.ID, changes task.Changes) error
	// DeleteTask removes a task together with the instance rows it owns.
	DeleteTask(ctx context.Context, id task.ID) error
	// ListOverrides returns the live overrides of a master.
	ListOverrides(ctx context.Context, masterID task.ID) ([]*task.Task, error)
	// ListTasks returns all tasks ordered by id, tombstones only if includeDeleted is set.
	ListTasks(ctx context.Context, includeDeleted bool) ([]*task.Task, error)

	// GetInstance returns the instance row with the given id.
	GetInstance(ctx context.Context, id int64) (*task.Instance, error)
	// QueryInstances returns the rows matching filter in original-time order.
	QueryInstances(ctx context.Context, filter InstanceFilter) ([]task.Instance, error)
	// ReplaceInstances atomically replaces every row owned by ownerID (TaskID or MasterID)
	// with rows and assigns them fresh ids.
	ReplaceInstances(ctx context.Context, ownerID task.ID, rows []task.Instance) error
	// UnlinkInstance clears the original time and master of a row.
	UnlinkInstance(ctx context.Context, id int64) error
}
