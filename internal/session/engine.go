package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/notify"
	"github.com/joescharf/tasktrack/internal/resolve"
	"github.com/joescharf/tasktrack/internal/taskwarrior"
)

// DefaultGranularity is the idle timeout used when none is configured.
const DefaultGranularity = 10 * time.Minute

// ErrStopped is returned by calls made after the engine has shut down.
var ErrStopped = errors.New("session engine stopped")

// Tasks starts and stops tasks in the external tracker. Each call delivers
// exactly one Outcome.
type Tasks interface {
	StartAsync(ctx context.Context, uuid string) <-chan taskwarrior.Outcome
	StopAsync(ctx context.Context, uuid string) <-chan taskwarrior.Outcome
}

// Resolver locates the descriptor for a directory and resolves it to a task.
type Resolver interface {
	Locate(dir string) (*descriptor.Found, error)
	Resolve(ctx context.Context, found *descriptor.Found) (*resolve.Resolution, error)
}

// Watcher turns user activity under a directory into Activity calls.
type Watcher interface {
	Watch(consumer, path string) error
	Unwatch(consumer string)
}

// Recorder persists start/stop transitions.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// AfterFunc arms a single-shot timer calling f after d.
type AfterFunc func(d time.Duration, f func()) Timer

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Granularity    time.Duration
	Exclusive      bool // at most one running session at a time
	CommandTimeout time.Duration
	Watcher        Watcher
	Journal        Recorder
	Notifier       notify.Notifier
}

// Engine is the session state machine. All state lives on the goroutine
// running Run; other goroutines interact through events.
type Engine struct {
	store    *Store
	resolver Resolver
	tasks    Tasks
	watcher  Watcher
	journal  Recorder
	notify   notify.Notifier

	granularity    time.Duration
	exclusive      bool
	commandTimeout time.Duration

	afterFunc AfterFunc
	spawn     func(func())
	now       func() time.Time

	ctx    context.Context
	events chan event
	done   chan struct{}

	// current is the path of the session most recently started or refreshed.
	current string
	// consumers maps a registered consumer to the session path it watches.
	consumers map[string]string
	timerGen  uint64
}

// NewEngine creates an engine over store.
func NewEngine(store *Store, resolver Resolver, tasks Tasks, opts Options) *Engine {
	e := &Engine{
		store:          store,
		resolver:       resolver,
		tasks:          tasks,
		watcher:        opts.Watcher,
		journal:        opts.Journal,
		notify:         opts.Notifier,
		granularity:    opts.Granularity,
		exclusive:      opts.Exclusive,
		commandTimeout: opts.CommandTimeout,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		spawn:     func(f func()) { go f() },
		now:       time.Now,
		ctx:       context.Background(),
		events:    make(chan event, 256),
		done:      make(chan struct{}),
		consumers: make(map[string]string),
	}
	if e.granularity <= 0 {
		e.granularity = DefaultGranularity
	}
	if e.commandTimeout <= 0 {
		e.commandTimeout = 30 * time.Second
	}
	if e.watcher == nil {
		e.watcher = nopWatcher{}
	}
	if e.notify == nil {
		e.notify = notify.Discard
	}
	return e
}

// Run processes events until ctx is cancelled, then stops every running
// session and returns.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return nil
		case ev := <-e.events:
			e.handle(ev)
		}
	}
}

// Visit reports that consumer entered dir. It returns once the visit has been
// applied; a start it triggers completes asynchronously. The returned snapshot
// is nil when dir is not tracked.
func (e *Engine) Visit(ctx context.Context, dir, consumer string) (*Snapshot, error) {
	reply := make(chan visitResult, 1)
	if err := e.send(ctx, visitEvent{ctx: ctx, dir: dir, consumer: consumer, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.snap, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrStopped
	}
}

// Activity reports user activity for consumer. It does not wait.
func (e *Engine) Activity(consumer string) {
	e.post(activityEvent{consumer: consumer})
}

// Sessions returns a snapshot of every session.
func (e *Engine) Sessions(ctx context.Context) ([]Snapshot, error) {
	reply := make(chan []Snapshot, 1)
	if err := e.send(ctx, snapshotEvent{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case snaps := <-reply:
		return snaps, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.done:
		return nil, ErrStopped
	}
}

func (e *Engine) send(ctx context.Context, ev event) error {
	select {
	case <-e.done:
		return ErrStopped
	default:
	}
	select {
	case e.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

func (e *Engine) post(ev event) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

// dispatch runs f off the dispatcher and delivers its completion event.
func (e *Engine) dispatch(f func() event) {
	e.spawn(func() { e.post(f()) })
}

func (e *Engine) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(e.ctx), e.commandTimeout)
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case visitEvent:
		snap, err := e.handleVisit(ev.ctx, ev.dir, ev.consumer)
		ev.reply <- visitResult{snap: snap, err: err}
	case activityEvent:
		e.handleActivity(ev.consumer)
	case timerEvent:
		e.handleTimer(ev)
	case startDone:
		e.handleStartDone(ev)
	case stopDone:
		e.handleStopDone(ev)
	case snapshotEvent:
		snaps := make([]Snapshot, 0, e.store.Len())
		for _, s := range e.store.All() {
			snaps = append(snaps, s.snapshot(e.current))
		}
		ev.reply <- snaps
	}
}

func (e *Engine) handleVisit(ctx context.Context, dir, consumer string) (*Snapshot, error) {
	found, err := e.resolver.Locate(dir)
	if errors.Is(err, descriptor.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		e.notify.Error("%v", err)
		return nil, err
	}

	s := e.store.Get(found.Dir)
	if s != nil && s.Task != nil && s.Fingerprint == found.Fingerprint {
		e.revisit(s, consumer)
		return e.snapshotOf(s), nil
	}

	res, err := e.resolver.Resolve(ctx, found)
	if err == nil && res.Task == nil {
		err = fmt.Errorf("descriptor %s resolved to no task", found.Path)
	}
	if err != nil {
		e.notify.Error("resolve %s: %v", found.Dir, err)
		return nil, fmt.Errorf("resolve %s: %w", found.Dir, err)
	}
	if res.Created {
		e.notify.Info("Created task %d %q", res.Task.ID, res.Task.Description)
	}

	switch {
	case s == nil:
		s = newSession(found.Dir)
		e.store.Put(s)
	case s.Task != nil && s.Task.UUID == res.Task.UUID:
		s.Task = res.Task
		s.Fingerprint = found.Fingerprint
		e.revisit(s, consumer)
		return e.snapshotOf(s), nil
	case s.Task != nil:
		// Descriptor now names a different task: stop the old one first.
		if err := e.stopNow(s, journal.ReasonSwitch); err != nil {
			return e.snapshotOf(s), err
		}
	}

	s.Task = res.Task
	s.Fingerprint = found.Fingerprint
	s.DescriptorPath = found.Path
	s.resume = false
	if err := e.activate(s, consumer); err != nil {
		return e.snapshotOf(s), err
	}
	return e.snapshotOf(s), nil
}

// revisit handles a visit to a session whose task is already known.
func (e *Engine) revisit(s *Session, consumer string) {
	switch {
	case s.stopping:
		s.resume = true
		e.addWaiting(s, consumer)
	case s.starting:
		e.addWaiting(s, consumer)
	case s.Running:
		e.current = s.Path
		e.armTimer(s)
		e.register(s, consumer)
	default:
		if err := e.activate(s, consumer); err != nil {
			e.notify.Error("%v", err)
		}
	}
}

func (e *Engine) addWaiting(s *Session, consumer string) {
	if consumer != "" {
		s.waiting[consumer] = true
	}
}

// activate issues an asynchronous start for s's task.
func (e *Engine) activate(s *Session, consumer string) error {
	if e.exclusive {
		if err := e.stopOthers(s.Path); err != nil {
			return err
		}
	}

	e.addWaiting(s, consumer)
	s.starting = true
	e.issue(s, e.tasks.StartAsync, func(path, uuid string, op uint64, err error) event {
		return startDone{path: path, uuid: uuid, op: op, err: err}
	})
	return nil
}

// inflight is a start or stop handed to the adapter. Its outcome is read
// once, either by the forwarding goroutine or by a synchronous stop that has
// to wait for it.
type inflight struct {
	once sync.Once
	ch   <-chan taskwarrior.Outcome
	err  error
}

func (p *inflight) wait() error {
	p.once.Do(func() { p.err = (<-p.ch).Err })
	return p.err
}

// issue sends an async command for s's task and forwards its outcome to the
// dispatcher as the event built by done.
func (e *Engine) issue(s *Session, call func(context.Context, string) <-chan taskwarrior.Outcome, done func(path, uuid string, op uint64, err error) event) {
	s.op++
	path, uuid, op := s.Path, s.Task.UUID, s.op
	ctx, cancel := e.commandContext()
	p := &inflight{ch: call(ctx, uuid)}
	s.pending = p
	e.dispatch(func() event {
		defer cancel()
		return done(path, uuid, op, p.wait())
	})
}

func (e *Engine) stopOthers(except string) error {
	for _, other := range e.store.All() {
		if other.Path == except || (!other.Running && !other.starting) {
			continue
		}
		if err := e.stopNow(other, journal.ReasonExclusive); err != nil {
			return err
		}
	}
	return nil
}

// stopNow synchronously stops s's task and tears down its timer and watchers.
// A start or stop still in flight is waited for first. On failure the running
// flag is left as it was.
func (e *Engine) stopNow(s *Session, reason journal.Reason) error {
	e.cancelTimer(s)
	e.unregisterAll(s)
	clear(s.waiting)
	s.resume = false

	if s.starting || s.stopping {
		done, err := e.settlePending(s)
		if done || err != nil {
			return err
		}
	}
	if !s.Running {
		return nil
	}

	s.op++
	ctx, cancel := e.commandContext()
	defer cancel()
	if err := (<-e.tasks.StopAsync(ctx, s.Task.UUID)).Err; err != nil {
		e.notify.Error("stop task %d %q: %v", s.Task.ID, s.Task.Description, err)
		return fmt.Errorf("stop %s: %w", s.Task.UUID, err)
	}
	e.stopped(s, reason)
	return nil
}

// settlePending waits for s's in-flight command and applies its outcome here,
// making the forwarded completion stale. done reports that an idle stop
// finished the job.
func (e *Engine) settlePending(s *Session) (done bool, err error) {
	p := s.pending
	starting := s.starting
	s.op++
	s.pending = nil
	s.starting = false
	s.stopping = false
	if p == nil {
		return false, nil
	}

	err = p.wait()
	switch {
	case starting && err != nil:
		// Nothing was started, so there is nothing left to stop.
		e.notify.Error("start task %d %q: %v", s.Task.ID, s.Task.Description, err)
		return true, nil
	case starting:
		s.Running = true
		e.record(s, journal.ActionStart, journal.ReasonVisit)
		return false, nil
	case err != nil:
		e.notify.Error("stop task %d %q: %v", s.Task.ID, s.Task.Description, err)
		return false, fmt.Errorf("stop %s: %w", s.Task.UUID, err)
	default:
		e.stopped(s, journal.ReasonIdle)
		return true, nil
	}
}

func (e *Engine) stopped(s *Session, reason journal.Reason) {
	wasRunning := s.Running
	s.Running = false
	if e.current == s.Path {
		e.current = ""
	}
	if wasRunning {
		e.record(s, journal.ActionStop, reason)
		e.notify.Info("Stopped task %d %q (%s)", s.Task.ID, s.Task.Description, reason)
	}
}

func (e *Engine) handleStartDone(ev startDone) {
	s := e.store.Get(ev.path)
	if s == nil || s.Task == nil || s.Task.UUID != ev.uuid || s.op != ev.op {
		return
	}
	s.starting = false
	s.pending = nil
	if ev.err != nil {
		clear(s.waiting)
		e.notify.Error("start task %d %q: %v", s.Task.ID, s.Task.Description, ev.err)
		return
	}

	s.Running = true
	e.current = s.Path
	e.armTimer(s)
	for c := range s.waiting {
		e.register(s, c)
	}
	clear(s.waiting)
	e.record(s, journal.ActionStart, journal.ReasonVisit)
	e.notify.Info("Started task %d %q", s.Task.ID, s.Task.Description)
}

func (e *Engine) handleActivity(consumer string) {
	path, ok := e.consumers[consumer]
	if !ok {
		return
	}
	s := e.store.Get(path)
	if s == nil || !s.Running || s.stopping || s.timer == nil {
		return
	}
	e.armTimer(s)
}

func (e *Engine) handleTimer(ev timerEvent) {
	s := e.store.Get(ev.path)
	if s == nil || s.Task == nil || s.timer == nil || s.timerGen != ev.gen || s.Task.UUID != ev.uuid {
		return
	}
	s.timer = nil
	e.unregisterAll(s)
	if !s.Running {
		return
	}

	s.stopping = true
	e.issue(s, e.tasks.StopAsync, func(path, uuid string, op uint64, err error) event {
		return stopDone{path: path, uuid: uuid, op: op, err: err}
	})
}

func (e *Engine) handleStopDone(ev stopDone) {
	s := e.store.Get(ev.path)
	if s == nil || s.Task == nil || s.Task.UUID != ev.uuid || s.op != ev.op {
		return
	}
	s.stopping = false
	s.pending = nil
	if ev.err != nil {
		s.resume = false
		e.notify.Error("stop task %d %q: %v", s.Task.ID, s.Task.Description, ev.err)
		return
	}
	e.stopped(s, journal.ReasonIdle)

	if s.resume {
		s.resume = false
		if err := e.activate(s, ""); err != nil {
			e.notify.Error("%v", err)
		}
	}
}

// armTimer replaces the session's idle timer with a fresh one.
func (e *Engine) armTimer(s *Session) {
	e.cancelTimer(s)
	e.timerGen++
	s.timerGen = e.timerGen
	s.deadline = e.now().Add(e.granularity)
	path, uuid, gen := s.Path, s.Task.UUID, s.timerGen
	s.timer = e.afterFunc(e.granularity, func() {
		e.post(timerEvent{path: path, uuid: uuid, gen: gen})
	})
}

func (e *Engine) cancelTimer(s *Session) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (e *Engine) register(s *Session, consumer string) {
	if consumer == "" {
		return
	}
	if prev, ok := e.consumers[consumer]; ok {
		if prev == s.Path && s.Watchers[consumer] {
			return
		}
		if old := e.store.Get(prev); old != nil {
			delete(old.Watchers, consumer)
		}
		e.watcher.Unwatch(consumer)
	}
	if err := e.watcher.Watch(consumer, s.Path); err != nil {
		e.notify.Error("watch %s: %v", s.Path, err)
	}
	e.consumers[consumer] = s.Path
	s.Watchers[consumer] = true
}

func (e *Engine) unregisterAll(s *Session) {
	for c := range s.Watchers {
		if e.consumers[c] == s.Path {
			delete(e.consumers, c)
		}
		e.watcher.Unwatch(c)
	}
	clear(s.Watchers)
}

func (e *Engine) record(s *Session, action journal.Action, reason journal.Reason) {
	if e.journal == nil {
		return
	}
	ctx, cancel := e.commandContext()
	defer cancel()
	err := e.journal.Record(ctx, journal.Entry{
		Path:        s.Path,
		UUID:        s.Task.UUID,
		Description: s.Task.Description,
		Project:     s.Task.Project,
		Action:      action,
		Reason:      reason,
		At:          e.now(),
	})
	if err != nil {
		e.notify.Error("journal: %v", err)
	}
}

func (e *Engine) snapshotOf(s *Session) *Snapshot {
	snap := s.snapshot(e.current)
	return &snap
}

// teardown stops every running session regardless of timer state.
func (e *Engine) teardown() {
	for _, s := range e.store.All() {
		if s.Task == nil {
			continue
		}
		// Errors are already reported through the notifier.
		_ = e.stopNow(s, journal.ReasonTeardown)
	}
}

type nopWatcher struct{}

func (nopWatcher) Watch(string, string) error { return nil }
func (nopWatcher) Unwatch(string)             {}
