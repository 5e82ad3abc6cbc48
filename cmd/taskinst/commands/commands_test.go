package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dailyICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Test//Test//EN
BEGIN:VTODO
UID:daily@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Stand-up notes
DTSTART:20210201T090000Z
DUE:20210201T093000Z
RRULE:FREQ=DAILY;COUNT=3
END:VTODO
BEGIN:VTODO
UID:daily@example.com
DTSTAMP:20210101T000000Z
SUMMARY:Stand-up notes (late)
RECURRENCE-ID:20210202T090000Z
DTSTART:20210202T110000Z
DUE:20210202T113000Z
END:VTODO
END:VCALENDAR
`

func writeICS(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "daily.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(dailyICS, "\n", "\r\n")), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TASKINST_STORE_DRIVER", "memory")
	t.Setenv("TASKINST_LOGGER_LEVEL", "error")

	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestImport(t *testing.T) {
	out, err := run(t, "import", writeICS(t))
	require.NoError(t, err)
	assert.Equal(t, "imported 2 tasks\n", out)
}

func TestInstances(t *testing.T) {
	out, err := run(t, "instances", "1", "--load", writeICS(t))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "20210201T090000Z")
	// the override replaces the second occurrence
	assert.Contains(t, lines[2], "20210202T110000Z")
	assert.Contains(t, lines[3], "20210203T090000Z")
}

func TestCompleteAndDelete(t *testing.T) {
	path := writeICS(t)

	// loading the override rebuilds the master, so its rows are 4 to 6
	out, err := run(t, "complete", "4", "--load", path)
	require.NoError(t, err)
	assert.Contains(t, out, "closed instance")

	out, err = run(t, "delete", "6", "--load", path)
	require.NoError(t, err)
	assert.Equal(t, "deleted instance 6\n", out)

	_, err = run(t, "delete", "99", "--load", path)
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	out, err := run(t, "export", "--load", writeICS(t))
	require.NoError(t, err)
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Equal(t, 2, strings.Count(out, "BEGIN:VTODO"))
	assert.Contains(t, out, "RECURRENCE-ID:20210202T090000Z")
	assert.Contains(t, out, "RRULE:FREQ=DAILY;COUNT=3")
}

func TestMigrateNeedsPostgres(t *testing.T) {
	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "postgres")
}

func TestBadArguments(t *testing.T) {
	_, err := run(t, "instances", "abc")
	assert.ErrorContains(t, err, "invalid task id")

	_, err = run(t, "import")
	assert.Error(t, err)
}
