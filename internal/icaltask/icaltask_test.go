package icaltask

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/cyp0633/libtaskinst/datetime"
	"github.com/cyp0633/libtaskinst/task"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//Test//EN
BEGIN:VTODO
UID:weekly@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Water plants
DTSTART;TZID=Europe/Berlin:20210104T090000
DUE;TZID=Europe/Berlin:20210104T100000
RRULE:FREQ=WEEKLY;COUNT=5
EXDATE;TZID=Europe/Berlin:20210111T090000,20210118T090000
RDATE;TZID=Europe/Berlin:20210106T090000
END:VTODO
BEGIN:VTODO
UID:weekly@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Water plants (balcony)
RECURRENCE-ID;TZID=Europe/Berlin:20210125T090000
DTSTART;TZID=Europe/Berlin:20210125T180000
DUE;TZID=Europe/Berlin:20210125T190000
STATUS:IN-PROCESS
END:VTODO
BEGIN:VTODO
UID:single@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Pay rent
DUE;VALUE=DATE:20210201
STATUS:COMPLETED
COMPLETED:20210130T101500Z
END:VTODO
BEGIN:VTODO
UID:orphan@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Lost occurrence
RECURRENCE-ID:20210301T120000
DTSTART:20210301T120000
DURATION:PT30M
END:VTODO
END:VCALENDAR
`

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func TestDecode(t *testing.T) {
	series, err := Decode(strings.NewReader(crlf(sample)))
	require.NoError(t, err)
	require.Len(t, series, 3)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	t.Run("master", func(t *testing.T) {
		s := series[0]
		m := s.Master
		assert.Equal(t, "weekly@example.com", m.UID)
		assert.Equal(t, "Water plants", m.Title)
		assert.Equal(t, "Europe/Berlin", m.TimeZone)
		assert.True(t, m.Start.MustGet().Equal(datetime.In(time.Date(2021, 1, 4, 9, 0, 0, 0, berlin))))

		shape, ok := m.MasterShape()
		require.True(t, ok)
		assert.Equal(t, "FREQ=WEEKLY;COUNT=5", shape.Rule)
		require.Len(t, shape.ExDates, 2)
		assert.Equal(t, "TZID=Europe/Berlin:20210118T090000", shape.ExDates[1].String())
		require.Len(t, shape.RDates, 1)
		assert.Equal(t, "TZID=Europe/Berlin:20210106T090000", shape.RDates[0].String())

		require.Len(t, s.Overrides, 1)
		o := s.Overrides[0]
		oshape, ok := o.OverrideShape()
		require.True(t, ok)
		assert.Zero(t, oshape.MasterID)
		assert.Equal(t, "TZID=Europe/Berlin:20210125T090000", oshape.OriginalTime.String())
		assert.False(t, oshape.OriginalAllDay)
		assert.Equal(t, task.StatusInProcess, o.Status)
		assert.Equal(t, "Water plants (balcony)", o.Title)
	})

	t.Run("plain", func(t *testing.T) {
		p := series[1].Master
		assert.Equal(t, task.KindPlain, p.Kind())
		assert.True(t, p.Start.IsAbsent())
		assert.True(t, p.Due.MustGet().IsAllDay())
		assert.Equal(t, "20210201", p.Due.MustGet().Value())
		assert.Equal(t, task.StatusCompleted, p.Status)
		assert.Equal(t, time.Date(2021, 1, 30, 10, 15, 0, 0, time.UTC), p.Completed.MustGet())
		assert.Empty(t, series[1].Overrides)
	})

	t.Run("orphaned override", func(t *testing.T) {
		o := series[2].Master
		assert.Equal(t, task.KindPlain, o.Kind())
		assert.True(t, o.Start.MustGet().IsFloating())
		assert.Equal(t, datetime.Seconds(1800), o.Duration.MustGet())
		assert.Empty(t, o.TimeZone)
	})
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		todo string
	}{
		{"missing uid", "SUMMARY:x\n"},
		{"bad status", "UID:a\nSTATUS:DONE\n"},
		{"bad start", "UID:a\nDTSTART:2021-01-01\n"},
		{"bad duration", "UID:a\nDTSTART:20210101T000000Z\nDURATION:1h\n"},
		{"unknown zone", "UID:a\nDTSTART;TZID=Mars/Olympus:20210101T000000\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ics := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//Test//EN\nBEGIN:VTODO\nDTSTAMP:20210101T000000Z\n" +
				tt.todo + "END:VTODO\nEND:VCALENDAR\n"
			_, err := Decode(strings.NewReader(crlf(ics)))
			assert.Error(t, err)
		})
	}

	t.Run("duplicate master", func(t *testing.T) {
		todo := "BEGIN:VTODO\nUID:a\nDTSTAMP:20210101T000000Z\nEND:VTODO\n"
		ics := "BEGIN:VCALENDAR\nVERSION:2.0\nPRODID:-//Test//Test//EN\n" + todo + todo + "END:VCALENDAR\n"
		_, err := Decode(strings.NewReader(crlf(ics)))
		assert.ErrorContains(t, err, "duplicate")
	})
}

func TestEncodeRoundTrip(t *testing.T) {
	now := time.Date(2021, 2, 1, 8, 0, 0, 0, time.UTC)
	start := datetime.MustParse("20210104T090000", "Europe/Berlin")
	master := &task.Task{
		UID:      "weekly@example.com",
		Title:    "Water plants",
		Start:    mo.Some(start),
		Duration: mo.Some(datetime.Seconds(3600)),
		Shape: task.Master{
			Rule:    "FREQ=WEEKLY;COUNT=5",
			RDates:  []datetime.DateTime{datetime.MustParse("20210106T090000", "Europe/Berlin")},
			ExDates: []datetime.DateTime{datetime.MustParse("20210111T090000", "Europe/Berlin")},
		},
		Created: now.Add(-time.Hour),
	}
	override := &task.Task{
		UID:    "something-local",
		Title:  "Moved",
		Start:  mo.Some(datetime.MustParse("20210118T120000", "Europe/Berlin")),
		Status: task.StatusCompleted,
		Shape: task.Override{
			MasterID:     1,
			OriginalTime: datetime.MustParse("20210118T090000", "Europe/Berlin"),
		},
	}
	allDay := &task.Task{
		UID:   "day@example.com",
		Title: "Holiday",
		Due:   mo.Some(datetime.NewAllDay(2021, time.March, 1)),
		Shape: task.Plain{},
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, []Series{
		{Master: master, Overrides: []*task.Task{override}},
		{Master: allDay},
	}, now))

	out := buf.String()
	assert.Contains(t, out, "PRODID:"+ProductID)
	assert.Contains(t, out, "RRULE:FREQ=WEEKLY;COUNT=5")
	assert.Contains(t, out, "DURATION:PT1H")
	assert.Contains(t, out, "DUE;VALUE=DATE:20210301")
	assert.Equal(t, 2, strings.Count(out, "UID:weekly@example.com"))
	assert.NotContains(t, out, "something-local")

	series, err := Decode(&buf)
	require.NoError(t, err)
	require.Len(t, series, 2)

	got := series[0]
	shape, ok := got.Master.MasterShape()
	require.True(t, ok)
	assert.Equal(t, master.Shape.(task.Master).Rule, shape.Rule)
	assert.True(t, shape.RDates[0].Equal(master.Shape.(task.Master).RDates[0]))
	assert.True(t, shape.ExDates[0].Equal(master.Shape.(task.Master).ExDates[0]))
	assert.True(t, got.Master.Start.MustGet().Equal(start))
	assert.Equal(t, datetime.Seconds(3600), got.Master.Duration.MustGet())

	require.Len(t, got.Overrides, 1)
	oshape, _ := got.Overrides[0].OverrideShape()
	assert.True(t, oshape.OriginalTime.Equal(override.Shape.(task.Override).OriginalTime))
	assert.Equal(t, task.StatusCompleted, got.Overrides[0].Status)

	assert.True(t, series[1].Master.Due.MustGet().IsAllDay())
}
