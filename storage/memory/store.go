// memory based implementation for testing purposes
package memory

import (
	"cmp"
	"context"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
)

// Store implements storage.Store using in-memory maps
type Store struct {
	mu             sync.RWMutex
	tasks          map[task.ID]*task.Task
	instances      map[int64]task.Instance
	nextTaskID     task.ID
	nextInstanceID int64
	now            func() time.Time
	logger         *slog.Logger
}

var _ storage.Store = (*Store)(nil)

// Option represents a configuration option for the Store
type Option func(*Store)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock sets the clock used for created and modified timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new in-memory storage
func New(opts ...Option) *Store {
	s := &Store{
		tasks:     make(map[task.ID]*task.Task),
		instances: make(map[int64]task.Instance),
		now:       time.Now,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Task operations

func (s *Store) GetTask(_ context.Context, id task.ID) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.NotFound("task", id)
	}
	return t.Clone(), nil
}

func (s *Store) InsertTask(_ context.Context, t *task.Task) (task.ID, error) {
	if t == nil {
		return 0, storage.InvalidInput("nil task")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	stored := t.Clone()
	stored.ID = s.nextTaskID
	if stored.UID == "" {
		stored.UID = task.NewUID()
	}
	if stored.Shape == nil {
		stored.Shape = task.Plain{}
	}
	now := s.now()
	stored.Created = now
	stored.LastModified = now
	s.tasks[stored.ID] = stored

	s.logger.Debug("task inserted", "task_id", stored.ID, "kind", stored.Kind())
	return stored.ID, nil
}

func (s *Store) UpdateTask(_ context.Context, id task.ID, changes task.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return storage.NotFound("task", id)
	}
	next := t.Clone()
	if err := changes.Apply(next); err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "update rejected", Err: err}
	}
	next.LastModified = s.now()
	s.tasks[id] = next

	s.logger.Debug("task updated", "task_id", id, "fields", len(changes))
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id task.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return storage.NotFound("task", id)
	}
	delete(s.tasks, id)

	// Delete all instances owned by this task
	for rowID, row := range s.instances {
		if row.TaskID == id || row.MasterID == id {
			delete(s.instances, rowID)
		}
	}

	s.logger.Debug("task deleted", "task_id", id)
	return nil
}

func (s *Store) ListOverrides(_ context.Context, masterID task.ID) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*task.Task
	for _, t := range s.sortedTasks() {
		if o, ok := t.OverrideShape(); ok && o.MasterID == masterID && !t.Deleted {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (s *Store) ListTasks(_ context.Context, includeDeleted bool) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*task.Task
	for _, t := range s.sortedTasks() {
		if t.Deleted && !includeDeleted {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func (s *Store) sortedTasks() []*task.Task {
	return slices.SortedFunc(maps.Values(s.tasks), func(a, b *task.Task) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

// Instance operations

func (s *Store) GetInstance(_ context.Context, id int64) (*task.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.instances[id]
	if !ok {
		return nil, storage.NotFound("instance", id)
	}
	return &row, nil
}

func (s *Store) QueryInstances(_ context.Context, filter storage.InstanceFilter) ([]task.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []task.Instance
	for _, row := range s.instances {
		if filter.Match(row) {
			out = append(out, row)
		}
	}
	slices.SortFunc(out, func(a, b task.Instance) int {
		return cmp.Or(
			cmp.Compare(originalTimestamp(a), originalTimestamp(b)),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return out, nil
}

func originalTimestamp(row task.Instance) int64 {
	ot, ok := row.OriginalTime.Get()
	if !ok {
		return 0
	}
	return ot.Timestamp()
}

func (s *Store) ReplaceInstances(_ context.Context, ownerID task.ID, rows []task.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for rowID, row := range s.instances {
		if row.TaskID == ownerID || row.MasterID == ownerID {
			delete(s.instances, rowID)
		}
	}
	for _, row := range rows {
		s.nextInstanceID++
		row.ID = s.nextInstanceID
		s.instances[row.ID] = row
	}

	s.logger.Debug("instances replaced", "owner_id", ownerID, "count", len(rows))
	return nil
}

func (s *Store) UnlinkInstance(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.instances[id]
	if !ok {
		return storage.NotFound("instance", id)
	}
	row.OriginalTime = mo.None[datetime.DateTime]()
	row.MasterID = 0
	s.instances[id] = row
	return nil
}
