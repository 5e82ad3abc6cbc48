package task

import (
	"testing"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecurring(t *testing.T) {
	rdate := datetime.NewAllDay(2021, 2, 3)

	assert.Equal(t, Plain{}, Recurring("", nil, []datetime.DateTime{rdate}))
	assert.Equal(t, KindMaster, Recurring("FREQ=DAILY", nil, nil).Kind())
	assert.Equal(t, KindMaster, Recurring("", []datetime.DateTime{rdate}, nil).Kind())
}

func TestMasterDateSymmetry(t *testing.T) {
	d1 := datetime.NewAllDay(2021, 2, 1)
	d2 := datetime.NewAllDay(2021, 2, 2)
	m := Master{Rule: "FREQ=DAILY", RDates: []datetime.DateTime{d1, d2}}

	excluded := m.WithExDate(d1)
	assert.Equal(t, []datetime.DateTime{d2}, excluded.RDates)
	assert.Equal(t, []datetime.DateTime{d1}, excluded.ExDates)
	// the receiver is left alone
	assert.Len(t, m.RDates, 2)

	again := excluded.WithExDate(d1)
	assert.Len(t, again.ExDates, 1)

	included := excluded.WithRDate(d1)
	assert.Empty(t, included.ExDates)
	assert.Equal(t, []datetime.DateTime{d2, d1}, included.RDates)
}

func TestStatus(t *testing.T) {
	tests := []struct {
		in     string
		status Status
		closed bool
	}{
		{"", StatusNeedsAction, false},
		{"NEEDS-ACTION", StatusNeedsAction, false},
		{"in-process", StatusInProcess, false},
		{"COMPLETED", StatusCompleted, true},
		{"CANCELLED", StatusCancelled, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			s, err := ParseStatus(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.status, s)
			assert.Equal(t, tt.closed, s.IsClosed())
		})
	}

	_, err := ParseStatus("DONE")
	assert.Error(t, err)
}

func TestTaskDerived(t *testing.T) {
	start := datetime.NewAllDay(2017, 6, 6)
	tk := &Task{
		Start:    mo.Some(start),
		Duration: mo.Some(datetime.Days(1)),
		Shape:    Master{Rule: "FREQ=DAILY", ExDates: []datetime.DateTime{start}},
	}

	assert.True(t, tk.IsAllDay())
	assert.Equal(t, KindMaster, tk.Kind())
	assert.Equal(t, "20170607", tk.EffectiveDue().MustGet().Value())
	assert.Equal(t, start, tk.Anchor().MustGet())

	c := tk.Clone()
	m, _ := c.MasterShape()
	m.ExDates[0] = datetime.NewAllDay(2000, 1, 1)
	orig, _ := tk.MasterShape()
	assert.Equal(t, start, orig.ExDates[0])

	assert.Equal(t, KindPlain, (&Task{}).Kind())
	assert.False(t, (&Task{}).EffectiveDue().IsPresent())
}

func TestChangesApply(t *testing.T) {
	start := datetime.NewFloating(2021, 2, 1, 12, 0, 0)
	due := datetime.NewFloating(2021, 2, 1, 13, 0, 0)

	t.Run("plain fields", func(t *testing.T) {
		tk := &Task{Title: "old"}
		completed := time.Date(2021, 2, 1, 13, 0, 0, 0, time.UTC)
		err := Changes{
			FieldTitle:     "new",
			FieldStart:     start,
			FieldStatus:    StatusCompleted,
			FieldCompleted: completed,
		}.Apply(tk)
		require.NoError(t, err)
		assert.Equal(t, "new", tk.Title)
		assert.Equal(t, start, tk.Start.MustGet())
		assert.True(t, tk.IsClosed())
		assert.Equal(t, completed, tk.Completed.MustGet())
	})

	t.Run("nil clears", func(t *testing.T) {
		tk := &Task{Start: mo.Some(start)}
		require.NoError(t, Changes{FieldStart: nil}.Apply(tk))
		assert.False(t, tk.Start.IsPresent())
	})

	t.Run("due wins over duration", func(t *testing.T) {
		tk := &Task{Start: mo.Some(start)}
		require.NoError(t, Changes{FieldDue: due, FieldDuration: datetime.Seconds(60)}.Apply(tk))
		assert.Equal(t, due, tk.Due.MustGet())
		assert.False(t, tk.Duration.IsPresent())
	})

	t.Run("duration replaces due", func(t *testing.T) {
		tk := &Task{Start: mo.Some(start), Due: mo.Some(due)}
		require.NoError(t, Changes{FieldDuration: datetime.Seconds(60)}.Apply(tk))
		assert.False(t, tk.Due.IsPresent())
		assert.Equal(t, datetime.Seconds(60), tk.Duration.MustGet())
	})

	t.Run("recurrence fields", func(t *testing.T) {
		tk := &Task{Start: mo.Some(start)}
		require.NoError(t, Changes{FieldRRule: "FREQ=DAILY;COUNT=3"}.Apply(tk))
		assert.Equal(t, Master{Rule: "FREQ=DAILY;COUNT=3"}, tk.Shape)

		require.NoError(t, Changes{FieldRRule: ""}.Apply(tk))
		assert.Equal(t, Plain{}, tk.Shape)
	})

	t.Run("override rejects recurrence", func(t *testing.T) {
		tk := &Task{Title: "x", Shape: Override{MasterID: 1, OriginalTime: start}}
		err := Changes{FieldTitle: "y", FieldRDate: []datetime.DateTime{due}}.Apply(tk)
		assert.ErrorIs(t, err, ErrInvalidChange)
		assert.Equal(t, "x", tk.Title)
	})

	t.Run("read-only and mistyped fields", func(t *testing.T) {
		tk := &Task{Title: "x"}
		for _, c := range []Changes{
			{FieldInstanceStart: start},
			{FieldOriginalInstanceTime: start},
			{FieldTitle: 42},
			{FieldStart: "20210201"},
		} {
			assert.ErrorIs(t, c.Apply(tk), ErrInvalidChange)
		}
		assert.Equal(t, "x", tk.Title)
	})
}

func TestChangesTouched(t *testing.T) {
	c := Changes{FieldDue: nil}
	assert.True(t, c.Touched(FieldDue))
	assert.False(t, c.Touched(FieldStart))
	assert.True(t, c.TouchedAny(FieldStart, FieldDue))
	assert.False(t, c.TouchedAny(RecurrenceFields...))

	clone := c.Clone()
	clone[FieldStart] = nil
	assert.False(t, c.Touched(FieldStart))
}

func TestInstanceOwner(t *testing.T) {
	assert.Equal(t, ID(3), Instance{TaskID: 3}.Owner())
	assert.Equal(t, ID(1), Instance{TaskID: 3, MasterID: 1}.Owner())

	rows := []Instance{
		{TaskID: 2, OriginalTime: mo.Some(datetime.NewAllDay(2021, 2, 2))},
		{TaskID: 1, OriginalTime: mo.Some(datetime.NewAllDay(2021, 2, 1))},
	}
	SortInstances(rows)
	assert.Equal(t, ID(1), rows[0].TaskID)
}
