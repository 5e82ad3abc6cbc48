package storage

import (
	"context"

	"github.com/cyp0633/libtaskinst/task"
	"github.com/stretchr/testify/mock"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

var _ Store = (*MockStore)(nil)

func (m *MockStore) GetTask(ctx context.Context, id task.ID) (*task.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Task), args.Error(1)
}

func (m *MockStore) InsertTask(ctx context.Context, t *task.Task) (task.ID, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(task.ID), args.Error(1)
}

func (m *MockStore) UpdateTask(ctx context.Context, id task.ID, changes task.Changes) error {
	args := m.Called(ctx, id, changes)
	return args.Error(0)
}

func (m *MockStore) DeleteTask(ctx context.Context, id task.ID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) ListOverrides(ctx context.Context, masterID task.ID) ([]*task.Task, error) {
	args := m.Called(ctx, masterID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockStore) ListTasks(ctx context.Context, includeDeleted bool) ([]*task.Task, error) {
	args := m.Called(ctx, includeDeleted)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*task.Task), args.Error(1)
}

func (m *MockStore) GetInstance(ctx context.Context, id int64) (*task.Instance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*task.Instance), args.Error(1)
}

func (m *MockStore) QueryInstances(ctx context.Context, filter InstanceFilter) ([]task.Instance, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]task.Instance), args.Error(1)
}

func (m *MockStore) ReplaceInstances(ctx context.Context, ownerID task.ID, rows []task.Instance) error {
	args := m.Called(ctx, ownerID, rows)
	return args.Error(0)
}

func (m *MockStore) UnlinkInstance(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
