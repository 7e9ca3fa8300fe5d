package journal

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseSince parses a look-back window such as "7d", "36h" or "90m".
func ParseSince(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid window %q", s)
	}
	return d, nil
}

// Total is the tracked time for one task.
type Total struct {
	UUID        string
	Description string
	Project     string
	Duration    time.Duration
	Intervals   int
	Open        bool // a start without a matching stop
	LastSeen    time.Time
}

// Summarize pairs start/stop entries per task. Entries must be ordered by
// time. Time before since is not counted, and an unmatched start counts until
// now. Results are ordered by duration, longest first.
func Summarize(entries []*Entry, since, now time.Time) []Total {
	totals := make(map[string]*Total)
	started := make(map[string]time.Time)

	for _, e := range entries {
		t, ok := totals[e.UUID]
		if !ok {
			t = &Total{UUID: e.UUID}
			totals[e.UUID] = t
		}
		t.Description = e.Description
		t.Project = e.Project
		t.LastSeen = e.At

		switch e.Action {
		case ActionStart:
			if _, open := started[e.UUID]; !open {
				started[e.UUID] = later(e.At, since)
			}
		case ActionStop:
			if from, open := started[e.UUID]; open {
				if e.At.After(from) {
					t.Duration += e.At.Sub(from)
				}
				t.Intervals++
				delete(started, e.UUID)
			}
		}
	}

	for id, from := range started {
		t := totals[id]
		if now.After(from) {
			t.Duration += now.Sub(from)
		}
		t.Intervals++
		t.Open = true
	}

	out := make([]Total, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Duration != out[k].Duration {
			return out[i].Duration > out[k].Duration
		}
		return out[i].UUID < out[k].UUID
	})
	return out
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
