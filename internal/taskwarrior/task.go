package taskwarrior

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state Taskwarrior reports for a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusRecurring Status = "recurring"
	StatusWaiting   Status = "waiting"
)

// Task is an immutable snapshot of a task as exported by `task export`.
type Task struct {
	ID          int       `json:"id"`
	UUID        string    `json:"uuid"`
	Description string    `json:"description"`
	Project     string    `json:"project,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Status      Status    `json:"status"`
	Entry       Timestamp `json:"entry,omitempty"`
	Start       Timestamp `json:"start,omitempty"`
	Modified    Timestamp `json:"modified,omitempty"`
	End         Timestamp `json:"end,omitempty"`
	Urgency     float64   `json:"urgency"`
}

// Active reports whether Taskwarrior considers the task started.
func (t *Task) Active() bool {
	return t.Start != "" && t.End == ""
}

// ShortUUID returns the first block of the UUID, as Taskwarrior prints it.
func (t *Task) ShortUUID() string {
	if i := strings.IndexByte(t.UUID, '-'); i > 0 {
		return t.UUID[:i]
	}
	return t.UUID
}

// exportLayout is the compact ISO-8601 form Taskwarrior uses in exports.
const exportLayout = "20060102T150405Z"

// TimestampLayout is the normalized form held by Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Timestamp is a normalized local time "YYYY-MM-DD HH:MM:SS", or empty when absent.
type Timestamp string

// NewTimestamp normalizes t into a Timestamp in local time.
func NewTimestamp(t time.Time) Timestamp {
	if t.IsZero() {
		return ""
	}
	return Timestamp(t.Local().Format(TimestampLayout))
}

// Time parses the timestamp back into a time.Time. Absent values yield the zero time.
func (ts Timestamp) Time() (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(TimestampLayout, string(ts), time.Local)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if raw == "" {
		*ts = ""
		return nil
	}
	t, err := time.Parse(exportLayout, raw)
	if err != nil {
		// Already normalized values round-trip unchanged.
		if _, perr := time.ParseInLocation(TimestampLayout, raw, time.Local); perr == nil {
			*ts = Timestamp(raw)
			return nil
		}
		return fmt.Errorf("timestamp %q: %w", raw, err)
	}
	*ts = NewTimestamp(t)
	return nil
}

// ParseExport decodes the JSON array printed by `task export`.
func ParseExport(data []byte) ([]Task, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}
	var tasks []Task
	if err := json.Unmarshal([]byte(trimmed), &tasks); err != nil {
		return nil, fmt.Errorf("parse task export: %w", err)
	}
	return tasks, nil
}
