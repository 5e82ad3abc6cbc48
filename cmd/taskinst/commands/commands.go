// Package commands holds the cobra commands of taskinst.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/engine"
	"github.com/cyp0633/libtaskinst/internal/config"
	"github.com/cyp0633/libtaskinst/internal/icaltask"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/storage/memory"
	"github.com/cyp0633/libtaskinst/storage/postgres"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/mo"
	"github.com/spf13/cobra"
)

// app is what every command runs against.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	pg       *postgres.Store
	engine   *engine.Engine
	registry *prometheus.Registry
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// NewRootCommand creates the taskinst root command.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "taskinst",
		Short:         "Materialise and edit recurring task instances",
		Long:          "taskinst expands recurring tasks into instance rows, creates overrides for edited occurrences and detaches completed ones.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "Config file (yaml, toml or json)")
	root.PersistentFlags().StringSlice("load", nil, "iCalendar files to import before running the command")

	root.AddCommand(NewImportCommand())
	root.AddCommand(NewInstancesCommand())
	root.AddCommand(NewCompleteCommand())
	root.AddCommand(NewDeleteCommand())
	root.AddCommand(NewExportCommand())
	root.AddCommand(NewRebuildCommand())
	root.AddCommand(NewMigrateCommand())
	return root
}

// NewImportCommand creates the import command
func NewImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.ics>...",
		Short: "Import VTODOs and materialise their instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := importFiles(ctx, a, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d tasks\n", n)
				return nil
			})
		},
	}
}

// NewInstancesCommand creates the instances command
func NewInstancesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "instances <task-id>",
		Short: "Print the instance rows of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return printInstances(ctx, cmd.OutOrStdout(), a, task.ID(id))
			})
		},
	}
}

// NewCompleteCommand creates the complete command
func NewCompleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <instance-id>",
		Short: "Mark one occurrence as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid instance id %q", args[0])
			}
			cancel, _ := cmd.Flags().GetBool("cancel")
			status := task.StatusCompleted
			if cancel {
				status = task.StatusCancelled
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ref, err := a.engine.UpdateOccurrence(ctx, id, task.Changes{
					task.FieldStatus:    status,
					task.FieldCompleted: time.Now().UTC(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "closed instance %d of task %d\n", ref.InstanceID, ref.TaskID)
				return nil
			})
		},
	}
	cmd.Flags().Bool("cancel", false, "Cancel the occurrence instead of completing it")
	return cmd
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <instance-id>",
		Short: "Delete one occurrence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid instance id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.engine.DeleteOccurrence(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted instance %d\n", id)
				return nil
			})
		},
	}
}

// NewExportCommand creates the export command
func NewExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all live tasks as iCalendar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				w := cmd.OutOrStdout()
				if output != "" && output != "-" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return exportTasks(ctx, w, a)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "", "Output file, stdout if empty")
	return cmd
}

// NewRebuildCommand creates the rebuild command
func NewRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute the instances of every task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.engine.RebuildAll(ctx)
			})
		},
	}
}

// NewMigrateCommand creates the migrate command
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if a.pg == nil {
					return errors.New("migrate needs store.driver=postgres")
				}
				return a.pg.Migrate(ctx)
			})
		},
	}
}

// withApp loads the configuration, opens the store and runs fn.
func withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if files, _ := cmd.Flags().GetStringSlice("load"); len(files) > 0 {
		if _, err := importFiles(ctx, a, files); err != nil {
			return err
		}
	}

	if err := fn(ctx, a); err != nil {
		return err
	}
	logMetrics(a)
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logw io.Writer) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   cfg.Logger.NewLogger(logw),
		registry: prometheus.NewRegistry(),
	}

	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(ctx, cfg.Store.DatabaseURL,
			postgres.WithLogger(a.logger.With("component", "postgres")),
			postgres.WithMaxConns(cfg.Store.MaxConns),
			postgres.WithConnectTimeout(cfg.Store.ConnectTimeout),
			postgres.WithLogQueries(cfg.Store.LogQueries),
		)
		if err != nil {
			return nil, err
		}
		a.pg, a.store = pg, pg
	default:
		a.store = memory.New(memory.WithLogger(a.logger.With("component", "memory")))
	}

	eng, err := engine.New(a.store,
		engine.WithLogger(a.logger.With("component", "engine")),
		engine.WithHorizon(cfg.Engine.HorizonYears),
		engine.WithInstanceLimit(cfg.Engine.InstanceLimit),
		engine.WithScanLimit(cfg.Engine.ScanLimit),
		engine.WithLocation(cfg.Engine.Location()),
		engine.WithRegisterer(a.registry),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = eng
	return a, nil
}

// importFiles imports every series in files and returns the number of stored tasks.
func importFiles(ctx context.Context, a *app, files []string) (int, error) {
	n := 0
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return n, err
		}
		series, err := icaltask.Decode(f)
		f.Close()
		if err != nil {
			return n, fmt.Errorf("%s: %w", path, err)
		}

		for _, s := range series {
			id, err := a.engine.CreateTask(ctx, s.Master)
			if err != nil {
				return n, fmt.Errorf("%s: importing %s: %w", path, s.Master.UID, err)
			}
			n++
			for _, o := range s.Overrides {
				shape, _ := o.OverrideShape()
				shape.MasterID = id
				o.Shape = shape
				if _, err := a.engine.CreateTask(ctx, o); err != nil {
					return n, fmt.Errorf("%s: importing override of %s: %w", path, s.Master.UID, err)
				}
				n++
			}
			a.logger.Debug("series imported", "task_id", id, "uid", s.Master.UID, "overrides", len(s.Overrides))
		}
	}
	return n, nil
}

func printInstances(ctx context.Context, w io.Writer, a *app, id task.ID) error {
	rows, err := a.engine.Instances(ctx, id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTASK\tMASTER\tORIGINAL\tSTART\tDUE\tDISTANCE\tSTATUS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.TaskID, r.MasterID,
			formatDate(r.OriginalTime), formatDate(r.Start), formatDate(r.Due),
			r.Distance, r.Status)
	}
	return tw.Flush()
}

func formatDate(d mo.Option[datetime.DateTime]) string {
	if v, ok := d.Get(); ok {
		return v.String()
	}
	return "-"
}

func exportTasks(ctx context.Context, w io.Writer, a *app) error {
	tasks, err := a.store.ListTasks(ctx, false)
	if err != nil {
		return err
	}

	var series []icaltask.Series
	index := map[task.ID]int{}
	for _, t := range tasks {
		if t.Kind() == task.KindOverride {
			continue
		}
		index[t.ID] = len(series)
		series = append(series, icaltask.Series{Master: t})
	}
	for _, t := range tasks {
		o, ok := t.OverrideShape()
		if !ok {
			continue
		}
		i, ok := index[o.MasterID]
		if !ok {
			a.logger.Warn("override without master skipped", "task_id", t.ID, "master_id", o.MasterID)
			continue
		}
		series[i].Overrides = append(series[i].Overrides, t)
	}
	return icaltask.Encode(w, series, time.Now())
}

// logMetrics writes the non-zero engine counters at debug level.
func logMetrics(a *app) {
	families, err := a.registry.Gather()
	if err != nil {
		a.logger.Warn("gathering metrics failed", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if c := m.GetCounter(); c != nil && c.GetValue() > 0 {
				attrs := []any{"metric", mf.GetName(), "value", c.GetValue()}
				for _, l := range m.GetLabel() {
					attrs = append(attrs, l.GetName(), l.GetValue())
				}
				a.logger.Debug("engine counter", attrs...)
			}
		}
	}
}
