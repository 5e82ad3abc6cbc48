package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/storage"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRowMapping(t *testing.T) {
	completed := time.Date(2021, 2, 3, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		task *task.Task
	}{
		{
			name: "plain",
			task: &task.Task{
				ID:        3,
				UID:       "plain-uid",
				Title:     "buy milk",
				Due:       mo.Some(datetime.MustParse("20210203", "")),
				Status:    task.StatusCompleted,
				Completed: mo.Some(completed),
				Shape:     task.Plain{},
			},
		},
		{
			name: "master",
			task: &task.Task{
				ID:       4,
				UID:      "master-uid",
				Start:    mo.Some(datetime.MustParse("20210201T090000", "Europe/Berlin")),
				Duration: mo.Some(datetime.Seconds(1800)),
				TimeZone: "Europe/Berlin",
				Shape: task.Master{
					Rule:    "FREQ=WEEKLY;COUNT=4",
					RDates:  []datetime.DateTime{datetime.MustParse("20210210T090000", "Europe/Berlin")},
					ExDates: []datetime.DateTime{datetime.MustParse("20210208T090000", "Europe/Berlin")},
				},
				Sync: task.Provenance{SyncID: "remote", SyncVersion: "etag", Dirty: true},
			},
		},
		{
			name: "override",
			task: &task.Task{
				ID:    5,
				UID:   "master-uid",
				Start: mo.Some(datetime.NewFloating(2021, 2, 8, 10, 0, 0)),
				Shape: task.Override{
					MasterID:     4,
					OriginalTime: datetime.NewFloating(2021, 2, 8, 9, 0, 0),
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fromTask(tt.task).toTask()
			require.NoError(t, err)
			assert.Equal(t, tt.task.Kind(), got.Kind())
			assert.Equal(t, tt.task.Title, got.Title)
			assert.Equal(t, tt.task.Status, got.Status)
			assert.Equal(t, tt.task.Sync, got.Sync)
			assert.Equal(t, tt.task.Duration, got.Duration)
			assert.Equal(t, dateText(tt.task.Start), dateText(got.Start))
			assert.Equal(t, dateText(tt.task.Due), dateText(got.Due))
			assert.Equal(t, tt.task.Completed.IsPresent(), got.Completed.IsPresent())

			if m, ok := tt.task.MasterShape(); ok {
				gm, _ := got.MasterShape()
				assert.Equal(t, m.Rule, gm.Rule)
				assert.Equal(t, datesText(m.RDates), datesText(gm.RDates))
				assert.Equal(t, datesText(m.ExDates), datesText(gm.ExDates))
			}
			if o, ok := tt.task.OverrideShape(); ok {
				gotOverride, _ := got.OverrideShape()
				assert.Equal(t, o.MasterID, gotOverride.MasterID)
				assert.Equal(t, o.OriginalTime.String(), gotOverride.OriginalTime.String())
			}
		})
	}
}

func TestTaskRowInvalidOverride(t *testing.T) {
	r := taskRow{ID: 9, Kind: int16(task.KindOverride)}
	_, err := r.toTask()
	assert.Error(t, err)

	bad := "not a date"
	r = taskRow{ID: 9, DTStart: &bad}
	_, err = r.toTask()
	assert.Error(t, err)
}

func TestInstanceRowMapping(t *testing.T) {
	ot := datetime.MustParse("20210201T120000Z", "")
	row := task.Instance{
		ID:           7,
		TaskID:       2,
		MasterID:     1,
		Start:        mo.Some(ot),
		StartSorting: mo.Some(ot.Timestamp()),
		Duration:     mo.Some(int64(3600_000)),
		OriginalTime: mo.Some(ot),
		Distance:     -1,
		Status:       task.StatusCompleted,
	}

	r := fromInstance(row)
	require.NotNil(t, r.OriginalTimeSorting)
	assert.Equal(t, ot.Timestamp(), *r.OriginalTimeSorting)
	assert.Nil(t, r.InstanceDue)

	got, err := r.toInstance()
	require.NoError(t, err)
	assert.Equal(t, row.TaskID, got.TaskID)
	assert.Equal(t, row.MasterID, got.MasterID)
	assert.Equal(t, row.Distance, got.Distance)
	assert.Equal(t, row.Duration, got.Duration)
	assert.True(t, got.OriginalTime.MustGet().Equal(ot))
	assert.False(t, got.Due.IsPresent())
}

func TestCompactSQL(t *testing.T) {
	assert.Equal(t, "SELECT id FROM tasks WHERE id = @id", compactSQL("\n\tSELECT id\n\t\tFROM tasks\n WHERE id = @id  "))
}

// openTestStore connects to the database named by TASKINST_TEST_DATABASE_URL. The
// tables are truncated before each test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TASKINST_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TASKINST_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(ctx))
	// running it twice is a no-op
	require.NoError(t, s.Migrate(ctx))
	_, err = s.pool.Exec(ctx, "TRUNCATE tasks, instances, lists RESTART IDENTITY")
	require.NoError(t, err)
	return s
}

func TestStore_TaskLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.GetTask(ctx, 42)
	assert.True(t, storage.IsNotFound(err))

	_, err = s.pool.Exec(ctx, "INSERT INTO lists (id, name, color) VALUES (1, 'Home', '#ff0000')")
	require.NoError(t, err)

	id, err := s.InsertTask(ctx, &task.Task{
		Title:  "water plants",
		Start:  mo.Some(datetime.MustParse("20210201T090000", "Europe/Berlin")),
		Shape:  task.Master{Rule: "FREQ=DAILY;COUNT=3"},
		ListID: 1,
	})
	require.NoError(t, err)

	got, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "water plants", got.Title)
	assert.NotEmpty(t, got.UID)
	assert.Equal(t, task.KindMaster, got.Kind())
	assert.Equal(t, "Home", got.List.Name)

	require.NoError(t, s.UpdateTask(ctx, id, task.Changes{task.FieldTitle: "water all plants", task.FieldRRule: nil}))
	got, err = s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "water all plants", got.Title)
	assert.Equal(t, task.KindPlain, got.Kind())

	err = s.UpdateTask(ctx, id, task.Changes{task.FieldTitle: 3})
	assert.True(t, storage.IsType(err, storage.ErrInvalidInput))

	override, err := s.InsertTask(ctx, &task.Task{Shape: task.Override{
		MasterID:     id,
		OriginalTime: datetime.MustParse("20210202T090000", "Europe/Berlin"),
	}})
	require.NoError(t, err)
	overrides, err := s.ListOverrides(ctx, id)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, override, overrides[0].ID)

	require.NoError(t, s.DeleteTask(ctx, override))
	assert.True(t, storage.IsNotFound(s.DeleteTask(ctx, override)))

	all, err := s.ListTasks(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_Instances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	day := func(d int) mo.Option[datetime.DateTime] { return mo.Some(datetime.NewAllDay(2021, 2, d)) }

	require.NoError(t, s.ReplaceInstances(ctx, 1, []task.Instance{
		{TaskID: 1, OriginalTime: day(3), Distance: 1},
		{TaskID: 2, MasterID: 1, OriginalTime: day(1), Distance: -1, Status: task.StatusCompleted},
		{TaskID: 1, OriginalTime: day(2), Distance: 0},
	}))
	require.NoError(t, s.ReplaceInstances(ctx, 5, []task.Instance{{TaskID: 5, OriginalTime: day(1)}}))

	owned, err := s.QueryInstances(ctx, storage.InstanceFilter{Owner: 1})
	require.NoError(t, err)
	require.Len(t, owned, 3)
	assert.Equal(t, task.ID(2), owned[0].TaskID)

	closed, err := s.QueryInstances(ctx, storage.InstanceFilter{MasterID: 1, DistanceBelow: mo.Some(0)})
	require.NoError(t, err)
	require.Len(t, closed, 1)

	require.NoError(t, s.UnlinkInstance(ctx, closed[0].ID))
	row, err := s.GetInstance(ctx, closed[0].ID)
	require.NoError(t, err)
	assert.False(t, row.OriginalTime.IsPresent())
	assert.Zero(t, row.MasterID)

	require.NoError(t, s.ReplaceInstances(ctx, 1, nil))
	all, err := s.QueryInstances(ctx, storage.InstanceFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.True(t, storage.IsNotFound(s.UnlinkInstance(ctx, 999)))
}
