// Package engine keeps the materialised instances of tasks consistent while single
// occurrences are edited, added, deleted and completed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cyp0633/libtaskinst/instance"
	"github.com/cyp0633/libtaskinst/recurrence"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultScanLimit bounds the rule scan when a master is advanced past completed
// occurrences.
const DefaultScanLimit = 1000

// Ref points at one occurrence: the task backing it and its instance row.
type Ref struct {
	TaskID     task.ID
	InstanceID int64
}

// Engine runs occurrence edits against a store. Public operations are serialised.
type Engine struct {
	mu        sync.Mutex
	store     storage.Store
	evaluator recurrence.Evaluator
	builder   *instance.Builder
	scanLimit int
	logger    *slog.Logger
	metrics   *metrics
	closer    func()
}

type config struct {
	evaluator  recurrence.Evaluator
	scanLimit  int
	logger     *slog.Logger
	registerer prometheus.Registerer
	builder    []instance.Option
}

// Option represents a configuration option for the Engine
type Option func(*config)

// WithLogger sets the logger for the engine and its instance builder
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEvaluator replaces the default rrule based evaluator.
func WithEvaluator(ev recurrence.Evaluator) Option {
	return func(c *config) {
		c.evaluator = ev
	}
}

// WithScanLimit sets how many rule occurrences are scanned when a master is advanced.
// Reaching the limit counts as the end of the series.
func WithScanLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.scanLimit = n
		}
	}
}

// WithHorizon sets how many years past now a series is expanded.
func WithHorizon(years int) Option {
	return func(c *config) {
		c.builder = append(c.builder, instance.WithHorizon(years))
	}
}

// WithClock sets the source of "now".
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.builder = append(c.builder, instance.WithClock(now))
	}
}

// WithLocation sets the zone sorting values are computed in.
func WithLocation(loc *time.Location) Option {
	return func(c *config) {
		c.builder = append(c.builder, instance.WithLocation(loc))
	}
}

// WithInstanceLimit caps the number of instances of a single series.
func WithInstanceLimit(n int) Option {
	return func(c *config) {
		c.builder = append(c.builder, instance.WithLimit(n))
	}
}

// WithRegisterer registers the engine's metrics with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *config) {
		c.registerer = r
	}
}

// New creates an engine working against store.
func New(store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: nil store")
	}
	cfg := &config{
		scanLimit: DefaultScanLimit,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &Engine{
		store:     store,
		scanLimit: cfg.scanLimit,
		logger:    cfg.logger,
		metrics:   newMetrics(),
		closer:    func() {},
	}
	if cfg.evaluator == nil {
		rr := recurrence.NewEngine()
		cfg.evaluator = rr
		e.closer = rr.Close
	}
	e.evaluator = cfg.evaluator

	builder, err := instance.NewBuilder(e.evaluator, append([]instance.Option{instance.WithLogger(cfg.logger)}, cfg.builder...)...)
	if err != nil {
		e.closer()
		return nil, err
	}
	e.builder = builder

	if cfg.registerer != nil {
		if err := e.metrics.register(cfg.registerer); err != nil {
			e.closer()
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}
	return e, nil
}

// Close releases the default evaluator. It is a no-op when an evaluator was supplied.
func (e *Engine) Close() {
	e.closer()
}

// Builder returns the instance builder used by the engine.
func (e *Engine) Builder() *instance.Builder {
	return e.builder
}

// Instances returns the materialised rows owned by a task in original-time order.
func (e *Engine) Instances(ctx context.Context, taskID task.ID) ([]task.Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.store.QueryInstances(ctx, storage.InstanceFilter{Owner: taskID})
}

// RebuildInstances recomputes the instance rows of a task. Rebuilding an override
// rebuilds its master.
func (e *Engine) RebuildInstances(ctx context.Context, taskID task.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rebuild(ctx, taskID)
}

func (e *Engine) rebuild(ctx context.Context, taskID task.ID) error {
	t, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("loading task %d: %w", taskID, err)
	}

	if o, ok := t.OverrideShape(); ok {
		master, err := e.store.GetTask(ctx, o.MasterID)
		switch {
		case err == nil && !master.Deleted:
			t = master
		case err != nil && !storage.IsNotFound(err):
			return fmt.Errorf("loading master %d: %w", o.MasterID, err)
		default:
			e.logger.Warn("override without master", "task_id", t.ID, "master_id", o.MasterID)
		}
	}

	var overrides []*task.Task
	if t.Kind() == task.KindMaster {
		overrides, err = e.store.ListOverrides(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("listing overrides of %d: %w", t.ID, err)
		}
	}

	rows, err := e.builder.Series(t, overrides)
	if err != nil {
		return err
	}
	if err := e.store.ReplaceInstances(ctx, t.ID, rows); err != nil {
		return fmt.Errorf("replacing instances of %d: %w", t.ID, err)
	}

	e.metrics.rebuilds.Inc()
	e.logger.Debug("instances rebuilt", "task_id", t.ID, "count", len(rows))
	return nil
}

func invalidInput(err error, format string, args ...any) error {
	return &storage.Error{Type: storage.ErrInvalidInput, Message: fmt.Sprintf(format, args...), Err: err}
}
