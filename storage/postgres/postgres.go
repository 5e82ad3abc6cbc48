// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

type options struct {
	logger         *slog.Logger
	maxConns       int32
	connectTimeout time.Duration
	logQueries     bool
	now            func() time.Time
}

// Option configures Open and New.
type Option func(*options)

// WithLogger sets the logger for the store
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMaxConns sets the maximum number of pooled connections
func WithMaxConns(n int32) Option {
	return func(o *options) {
		o.maxConns = n
	}
}

// WithConnectTimeout bounds the initial connect and ping
func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) {
		o.connectTimeout = d
	}
}

// WithLogQueries traces every statement through the logger
func WithLogQueries(enable bool) Option {
	return func(o *options) {
		o.logQueries = enable
	}
}

// WithClock sets the clock used for created and modified timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		connectTimeout: 10 * time.Second,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Open connects to databaseURL and verifies the connection.
func Open(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	o := buildOptions(opts)

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}
	if o.logQueries {
		cfg.ConnConfig.Tracer = NewQueryLogger(o.logger)
	}

	ctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Store{pool: pool, logger: o.logger, now: o.now}, nil
}

// New wraps an existing pool. The caller keeps ownership of the pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	o := buildOptions(opts)
	return &Store{pool: pool, logger: o.logger, now: o.now}
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func handleError(err error, kind string, id any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.NotFound(kind, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: fmt.Sprintf("%s %v", kind, id), Err: err}
	}
	return err
}

func taskArgs(r taskRow) pgx.NamedArgs {
	return pgx.NamedArgs{
		"id":                        r.ID,
		"uid":                       r.UID,
		"title":                     r.Title,
		"description":               r.Description,
		"dtstart":                   r.DTStart,
		"due":                       r.Due,
		"duration":                  r.Duration,
		"status":                    r.Status,
		"completed":                 r.Completed,
		"tz":                        r.TZ,
		"kind":                      r.Kind,
		"rrule":                     r.RRule,
		"rdate":                     r.RDate,
		"exdate":                    r.ExDate,
		"original_instance_id":      r.OriginalInstanceID,
		"original_instance_time":    r.OriginalInstanceTime,
		"original_instance_allday":  r.OriginalInstanceAllDay,
		"original_instance_sync_id": r.OriginalInstanceSyncID,
		"sync_id":                   r.SyncID,
		"sync_version":              r.SyncVersion,
		"sync":                      r.Sync,
		"dirty":                     r.Dirty,
		"list_id":                   r.ListID,
		"deleted":                   r.Deleted,
		"created":                   r.Created,
		"last_modified":             r.LastModified,
	}
}

// Task operations

func (s *Store) GetTask(ctx context.Context, id task.ID) (*task.Task, error) {
	return getTask(ctx, s.pool, id, "")
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getTask(ctx context.Context, q querier, id task.ID, suffix string) (*task.Task, error) {
	sql := `SELECT ` + taskColumns + ` ` + taskFrom + ` WHERE t.id = @id ` + suffix
	rows, err := q.Query(ctx, sql, pgx.NamedArgs{"id": int64(id)})
	if err != nil {
		return nil, fmt.Errorf("querying task: %w", err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[taskRow])
	if err != nil {
		return nil, handleError(err, "task", id)
	}
	return row.toTask()
}

func (s *Store) InsertTask(ctx context.Context, t *task.Task) (task.ID, error) {
	if t == nil {
		return 0, storage.InvalidInput("nil task")
	}
	r := fromTask(t)
	if r.UID == "" {
		r.UID = task.NewUID()
	}
	now := s.now()
	r.Created, r.LastModified = now, now

	const sql = `
		INSERT INTO tasks (
			uid, title, description, dtstart, due, duration, status, completed, tz, kind,
			rrule, rdate, exdate, original_instance_id, original_instance_time,
			original_instance_allday, original_instance_sync_id, sync_id, sync_version,
			sync, dirty, list_id, deleted, created, last_modified
		) VALUES (
			@uid, @title, @description, @dtstart, @due, @duration, @status, @completed, @tz, @kind,
			@rrule, @rdate, @exdate, @original_instance_id, @original_instance_time,
			@original_instance_allday, @original_instance_sync_id, @sync_id, @sync_version,
			@sync, @dirty, @list_id, @deleted, @created, @last_modified
		) RETURNING id`

	var id int64
	if err := s.pool.QueryRow(ctx, sql, taskArgs(r)).Scan(&id); err != nil {
		return 0, fmt.Errorf("inserting task: %w", handleError(err, "task", r.UID))
	}

	s.logger.Debug("task inserted", "task_id", id, "kind", t.Kind())
	return task.ID(id), nil
}

// UpdateTask applies changes under a row lock so that concurrent edits of the same task
// serialise.
func (s *Store) UpdateTask(ctx context.Context, id task.ID, changes task.Changes) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	t, err := getTask(ctx, tx, id, "FOR UPDATE OF t")
	if err != nil {
		return err
	}
	if err := changes.Apply(t); err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "update rejected", Err: err}
	}
	r := fromTask(t)
	r.LastModified = s.now()

	const sql = `
		UPDATE tasks SET
			uid = @uid, title = @title, description = @description, dtstart = @dtstart,
			due = @due, duration = @duration, status = @status, completed = @completed,
			tz = @tz, kind = @kind, rrule = @rrule, rdate = @rdate, exdate = @exdate,
			original_instance_id = @original_instance_id,
			original_instance_time = @original_instance_time,
			original_instance_allday = @original_instance_allday,
			original_instance_sync_id = @original_instance_sync_id,
			sync_id = @sync_id, sync_version = @sync_version, sync = @sync, dirty = @dirty,
			list_id = @list_id, deleted = @deleted, last_modified = @last_modified
		WHERE id = @id`
	if _, err := tx.Exec(ctx, sql, taskArgs(r)); err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("task updated", "task_id", id, "fields", len(changes))
	return nil
}

func (s *Store) DeleteTask(ctx context.Context, id task.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	args := pgx.NamedArgs{"id": int64(id)}
	tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = @id`, args)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("task", id)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM instances WHERE task_id = @id OR master_id = @id`, args); err != nil {
		return fmt.Errorf("deleting instances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("task deleted", "task_id", id)
	return nil
}

func (s *Store) ListOverrides(ctx context.Context, masterID task.ID) ([]*task.Task, error) {
	sql := `SELECT ` + taskColumns + ` ` + taskFrom + `
		WHERE t.kind = @kind AND t.original_instance_id = @master AND NOT t.deleted
		ORDER BY t.id`
	return s.queryTasks(ctx, sql, pgx.NamedArgs{
		"kind":   int16(task.KindOverride),
		"master": int64(masterID),
	})
}

func (s *Store) ListTasks(ctx context.Context, includeDeleted bool) ([]*task.Task, error) {
	sql := `SELECT ` + taskColumns + ` ` + taskFrom + `
		WHERE @include_deleted OR NOT t.deleted
		ORDER BY t.id`
	return s.queryTasks(ctx, sql, pgx.NamedArgs{"include_deleted": includeDeleted})
}

func (s *Store) queryTasks(ctx context.Context, sql string, args pgx.NamedArgs) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[taskRow])
	if err != nil {
		return nil, fmt.Errorf("collecting tasks: %w", err)
	}
	out := make([]*task.Task, 0, len(collected))
	for _, r := range collected {
		t, err := r.toTask()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Instance operations

func (s *Store) GetInstance(ctx context.Context, id int64) (*task.Instance, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+instanceColumns+` FROM instances WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}
	r, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[instanceRow])
	if err != nil {
		return nil, handleError(err, "instance", id)
	}
	row, err := r.toInstance()
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) QueryInstances(ctx context.Context, filter storage.InstanceFilter) ([]task.Instance, error) {
	var where []string
	args := pgx.NamedArgs{}
	if filter.TaskID != 0 {
		where = append(where, "task_id = @task_id")
		args["task_id"] = int64(filter.TaskID)
	}
	if filter.MasterID != 0 {
		where = append(where, "master_id = @master_id")
		args["master_id"] = int64(filter.MasterID)
	}
	if filter.Owner != 0 {
		where = append(where, "(task_id = @owner OR master_id = @owner)")
		args["owner"] = int64(filter.Owner)
	}
	if below, ok := filter.DistanceBelow.Get(); ok {
		where = append(where, "distance_from_current < @below")
		args["below"] = below
	}

	sql := `SELECT ` + instanceColumns + ` FROM instances`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY COALESCE(original_time_sorting, 0), id`

	rows, err := s.pool.Query(ctx, sql, args)
	if err != nil {
		return nil, fmt.Errorf("querying instances: %w", err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[instanceRow])
	if err != nil {
		return nil, fmt.Errorf("collecting instances: %w", err)
	}
	out := make([]task.Instance, 0, len(collected))
	for _, r := range collected {
		row, err := r.toInstance()
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

// ReplaceInstances swaps every row owned by ownerID for rows in one transaction.
func (s *Store) ReplaceInstances(ctx context.Context, ownerID task.ID, rows []task.Instance) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM instances WHERE task_id = @owner OR master_id = @owner`,
		pgx.NamedArgs{"owner": int64(ownerID)}); err != nil {
		return fmt.Errorf("deleting instances: %w", err)
	}

	const insert = `
		INSERT INTO instances (
			task_id, master_id, instance_start, instance_start_sorting, instance_due,
			instance_due_sorting, instance_duration, instance_original_time,
			original_time_sorting, distance_from_current, status
		) VALUES (
			@task_id, @master_id, @instance_start, @instance_start_sorting, @instance_due,
			@instance_due_sorting, @instance_duration, @instance_original_time,
			@original_time_sorting, @distance, @status
		)`
	batch := &pgx.Batch{}
	for _, row := range rows {
		r := fromInstance(row)
		batch.Queue(insert, pgx.NamedArgs{
			"task_id":                r.TaskID,
			"master_id":              r.MasterID,
			"instance_start":         r.InstanceStart,
			"instance_start_sorting": r.InstanceStartSorting,
			"instance_due":           r.InstanceDue,
			"instance_due_sorting":   r.InstanceDueSorting,
			"instance_duration":      r.InstanceDuration,
			"instance_original_time": r.InstanceOriginalTime,
			"original_time_sorting":  r.OriginalTimeSorting,
			"distance":               r.Distance,
			"status":                 r.Status,
		})
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting instances: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug("instances replaced", "owner_id", ownerID, "count", len(rows))
	return nil
}

func (s *Store) UnlinkInstance(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE instances
		SET instance_original_time = NULL, original_time_sorting = NULL, master_id = 0
		WHERE id = @id`, pgx.NamedArgs{"id": id})
	if err != nil {
		return fmt.Errorf("unlinking instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.NotFound("instance", id)
	}
	return nil
}
