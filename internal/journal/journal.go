package journal

import (
	"context"
	"time"
)

// Action is the kind of transition recorded.
type Action string

const (
	ActionStart Action = "start"
	ActionStop  Action = "stop"
)

// Reason explains why a transition happened.
type Reason string

const (
	ReasonVisit     Reason = "visit"
	ReasonIdle      Reason = "idle"
	ReasonSwitch    Reason = "switch"
	ReasonExclusive Reason = "exclusive"
	ReasonTeardown  Reason = "teardown"
)

// Entry is one recorded start or stop of a task.
type Entry struct {
	ID          string
	Path        string
	UUID        string
	Description string
	Project     string
	Action      Action
	Reason      Reason
	At          time.Time
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Since time.Time
	// IncludeOpen also returns, per task, the last entry before Since when it
	// is a start, so intervals running across the window edge are seen.
	IncludeOpen bool
	UUID        string
	Limit       int
}

// Journal persists tracking transitions.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, filter ListFilter) ([]*Entry, error)

	Migrate(ctx context.Context) error
	Close() error
}
