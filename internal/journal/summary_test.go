package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	entries := []*Entry{
		{UUID: "a", Description: "fix bug", Action: ActionStart, At: at(0)},
		{UUID: "a", Description: "fix bug", Action: ActionStop, At: at(20)},
		{UUID: "b", Description: "docs", Action: ActionStart, At: at(25)},
		{UUID: "b", Description: "docs", Action: ActionStop, At: at(30)},
		{UUID: "a", Description: "fix bug", Action: ActionStart, At: at(40)},
		{UUID: "a", Description: "fix bug", Action: ActionStart, At: at(45)}, // duplicate start ignored
		{UUID: "a", Description: "fix bug", Action: ActionStop, At: at(50)},
		{UUID: "c", Description: "review", Action: ActionStop, At: at(55)}, // stop without start
		{UUID: "d", Description: "open", Action: ActionStart, At: at(60)},
	}

	totals := Summarize(entries, time.Time{}, at(75))
	require.Len(t, totals, 4)

	assert.Equal(t, "a", totals[0].UUID)
	assert.Equal(t, 30*time.Minute, totals[0].Duration)
	assert.Equal(t, 2, totals[0].Intervals)
	assert.False(t, totals[0].Open)

	assert.Equal(t, "d", totals[1].UUID)
	assert.Equal(t, 15*time.Minute, totals[1].Duration)
	assert.True(t, totals[1].Open)

	assert.Equal(t, "b", totals[2].UUID)
	assert.Equal(t, 5*time.Minute, totals[2].Duration)

	assert.Equal(t, "c", totals[3].UUID)
	assert.Zero(t, totals[3].Duration)
	assert.Zero(t, totals[3].Intervals)
}

func TestSummarize_ClampsToWindow(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	entries := []*Entry{
		{UUID: "a", Action: ActionStart, At: at(0)},
		{UUID: "b", Action: ActionStart, At: at(30)},
		{UUID: "a", Action: ActionStop, At: at(90)},
	}

	totals := Summarize(entries, at(60), at(120))
	require.Len(t, totals, 2)

	assert.Equal(t, "b", totals[0].UUID)
	assert.Equal(t, time.Hour, totals[0].Duration, "open interval counts from the window start")
	assert.True(t, totals[0].Open)

	assert.Equal(t, "a", totals[1].UUID)
	assert.Equal(t, 30*time.Minute, totals[1].Duration)
	assert.Equal(t, 1, totals[1].Intervals)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Empty(t, Summarize(nil, time.Time{}, time.Now()))
}

func TestParseSince(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"7d", 7 * 24 * time.Hour},
		{"0d", 0},
		{"36h", 36 * time.Hour},
		{"90m", 90 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSince(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "d", "-1d", "soon", "-5h"} {
		_, err := ParseSince(bad)
		assert.Error(t, err, bad)
	}
}
