package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	j, err := NewSQLiteJournal(dbPath)
	require.NoError(t, err)
	require.NoError(t, j.Migrate(context.Background()))

	t.Cleanup(func() { j.Close() })
	return j
}

func TestNewSQLiteJournal_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	j, err := NewSQLiteJournal(filepath.Join(dir, "subdir", "test.db"))
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	j := newTestJournal(t)
	assert.NoError(t, j.Migrate(context.Background()))
}

func TestRecordAndList(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{
		Path: "/w/a", UUID: "u1", Description: "fix bug", Project: "work",
		Action: ActionStart, Reason: ReasonVisit, At: base,
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Path: "/w/a", UUID: "u1", Description: "fix bug", Project: "work",
		Action: ActionStop, Reason: ReasonIdle, At: base.Add(30 * time.Minute),
	}))
	require.NoError(t, j.Record(ctx, Entry{
		Path: "/w/b", UUID: "u2", Description: "docs",
		Action: ActionStart, Reason: ReasonVisit, At: base.Add(time.Hour),
	}))

	all, err := j.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.NotEmpty(t, all[0].ID)
	assert.Equal(t, ActionStart, all[0].Action)
	assert.Equal(t, ReasonIdle, all[1].Reason)
	assert.True(t, all[0].At.Equal(base))
	assert.Equal(t, "work", all[0].Project)

	since, err := j.List(ctx, ListFilter{Since: base.Add(45 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "u2", since[0].UUID)

	byTask, err := j.List(ctx, ListFilter{UUID: "u1"})
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	limited, err := j.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestList_IncludeOpen(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	for _, e := range []Entry{
		// u1 runs across the window edge.
		{Path: "/w/a", UUID: "u1", Action: ActionStart, At: at(0)},
		{Path: "/w/a", UUID: "u1", Action: ActionStop, At: at(10)},
		{Path: "/w/a", UUID: "u1", Action: ActionStart, At: at(20)},
		{Path: "/w/a", UUID: "u1", Action: ActionStop, At: at(90)},
		// u2 stopped before the window.
		{Path: "/w/b", UUID: "u2", Action: ActionStart, At: at(5)},
		{Path: "/w/b", UUID: "u2", Action: ActionStop, At: at(30)},
		// u3 is still running.
		{Path: "/w/c", UUID: "u3", Action: ActionStart, At: at(40)},
	} {
		require.NoError(t, j.Record(ctx, e))
	}

	since := at(60)
	plain, err := j.List(ctx, ListFilter{Since: since})
	require.NoError(t, err)
	require.Len(t, plain, 1)

	open, err := j.List(ctx, ListFilter{Since: since, IncludeOpen: true})
	require.NoError(t, err)
	var got []string
	for _, e := range open {
		got = append(got, fmt.Sprintf("%s %s %d", e.UUID, e.Action, int(e.At.Sub(base).Minutes())))
	}
	assert.Equal(t, []string{"u1 start 20", "u3 start 40", "u1 stop 90"}, got)

	byTask, err := j.List(ctx, ListFilter{Since: since, IncludeOpen: true, UUID: "u3"})
	require.NoError(t, err)
	require.Len(t, byTask, 1)
	assert.Equal(t, "u3", byTask[0].UUID)
}

func TestRecord_DefaultsTime(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Record(ctx, Entry{Path: "/w", UUID: "u", Action: ActionStart}))
	entries, err := j.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.WithinDuration(t, time.Now(), entries[0].At, time.Minute)
}

func TestRecord_RejectsUnknownAction(t *testing.T) {
	j := newTestJournal(t)
	err := j.Record(context.Background(), Entry{Path: "/w", UUID: "u", Action: "pause"})
	assert.Error(t, err)
}
