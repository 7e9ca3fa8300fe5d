package session

import (
	"maps"
	"slices"
	"time"

	"github.com/joescharf/tasktrack/internal/taskwarrior"
)

// State is the tracking state of a session.
type State string

const (
	StateDormant   State = "dormant"
	StateStarting  State = "starting"
	StateActive    State = "active"
	StateStopping  State = "stopping"
	StateSuspended State = "suspended"
)

// Timer is a single-shot timer that can be cancelled.
type Timer interface {
	Stop() bool
}

// Session is the tracking unit for one descriptor directory.
type Session struct {
	Path           string
	Task           *taskwarrior.Task
	Running        bool // Taskwarrior reports the task as started
	DescriptorPath string
	Fingerprint    string

	// Watchers holds the consumers whose activity refreshes the idle timer.
	Watchers map[string]bool

	timer    Timer
	timerGen uint64
	deadline time.Time

	// op increments for every start/stop issued; completions carrying an
	// older op are stale.
	op       uint64
	starting bool
	stopping bool
	// pending is the start or stop currently in flight.
	pending *inflight
	// waiting are consumers to register once a pending start succeeds.
	waiting map[string]bool
	// resume restarts the task once an in-flight idle stop completes.
	resume bool
}

func newSession(path string) *Session {
	return &Session{
		Path:     path,
		Watchers: make(map[string]bool),
		waiting:  make(map[string]bool),
	}
}

// State derives the session state from its fields.
func (s *Session) State() State {
	switch {
	case s.Task == nil:
		return StateDormant
	case s.starting:
		return StateStarting
	case s.stopping:
		return StateStopping
	case s.Running:
		return StateActive
	default:
		return StateSuspended
	}
}

// Snapshot is a read-only copy of a session for callers outside the engine.
type Snapshot struct {
	Path      string            `json:"path"`
	State     State             `json:"state"`
	Running   bool              `json:"running"`
	Current   bool              `json:"current"`
	Task      *taskwarrior.Task `json:"task,omitempty"`
	Consumers []string          `json:"consumers,omitempty"`
	Deadline  *time.Time        `json:"idle_deadline,omitempty"`
}

func (s *Session) snapshot(current string) Snapshot {
	snap := Snapshot{
		Path:      s.Path,
		State:     s.State(),
		Running:   s.Running,
		Current:   s.Path == current,
		Consumers: slices.Sorted(maps.Keys(s.Watchers)),
	}
	if s.Task != nil {
		t := *s.Task
		snap.Task = &t
	}
	if s.timer != nil {
		d := s.deadline
		snap.Deadline = &d
	}
	return snap
}

// Store maps descriptor directories to sessions. It is owned by one Engine
// and only touched from its dispatcher.
type Store struct {
	sessions map[string]*Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*Session)}
}

// Get returns the session for path, or nil.
func (st *Store) Get(path string) *Session {
	return st.sessions[path]
}

// Put adds or replaces the session keyed by s.Path.
func (st *Store) Put(s *Session) {
	st.sessions[s.Path] = s
}

// All returns the sessions ordered by path.
func (st *Store) All() []*Session {
	out := make([]*Session, 0, len(st.sessions))
	for _, p := range slices.Sorted(maps.Keys(st.sessions)) {
		out = append(out, st.sessions[p])
	}
	return out
}

// Len returns the number of sessions.
func (st *Store) Len() int {
	return len(st.sessions)
}

// Clear drops every session.
func (st *Store) Clear() {
	clear(st.sessions)
}
