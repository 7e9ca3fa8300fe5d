package resolve

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/proc"
	"github.com/joescharf/tasktrack/internal/taskwarrior"
)

// Tasks is the subset of the Taskwarrior client the pipeline needs.
type Tasks interface {
	ExportByID(ctx context.Context, id string) (*taskwarrior.Task, error)
	Pending(ctx context.Context) ([]taskwarrior.Task, error)
	Create(ctx context.Context, args ...string) (int, error)
}

// ResolutionError reports a pipeline step that produced nothing usable.
type ResolutionError struct {
	Fragment string // e.g. "description[1]"; empty for lookup failures
	Msg      string
}

func (e *ResolutionError) Error() string {
	if e.Fragment != "" {
		return fmt.Sprintf("fragment %s: %s", e.Fragment, e.Msg)
	}
	return e.Msg
}

// Composition is the text assembled from a descriptor's fragment lists.
type Composition struct {
	Description string
	Project     string
	Tags        []string
}

// CreateArgs renders the `task add` arguments for the composition.
func (c Composition) CreateArgs() []string {
	args := []string{c.Description}
	if c.Project != "" {
		args = append(args, "project:"+c.Project)
	}
	if len(c.Tags) > 0 {
		args = append(args, "tag:"+strings.Join(c.Tags, ","))
	}
	return args
}

// Resolution is the outcome of resolving a descriptor.
type Resolution struct {
	Task        *taskwarrior.Task
	Composition *Composition // nil on the identifier path
	Created     bool
	// WouldCreate holds the `task add` arguments skipped in dry-run mode.
	WouldCreate []string
}

// Resolver turns descriptors into tasks.
type Resolver struct {
	tasks  Tasks
	runner proc.Runner

	// DryRun stops before creating a task.
	DryRun bool
}

// New creates a Resolver. Helper commands run through r.
func New(tasks Tasks, r proc.Runner) *Resolver {
	return &Resolver{tasks: tasks, runner: r}
}

// Resolve produces the task for d. Helper commands run synchronously in dir.
// Nothing is created unless every fragment produced output.
func (r *Resolver) Resolve(ctx context.Context, dir string, d *descriptor.Descriptor) (*Resolution, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	if d.HasID() {
		task, err := r.tasks.ExportByID(ctx, d.ID)
		if errors.Is(err, taskwarrior.ErrNoTask) {
			return nil, &ResolutionError{Msg: fmt.Sprintf("task not found for identifier %s", d.ID)}
		}
		if err != nil {
			return nil, err
		}
		return &Resolution{Task: task}, nil
	}

	comp, err := r.Compose(ctx, dir, d)
	if err != nil {
		return nil, err
	}

	pending, err := r.tasks.Pending(ctx)
	if err != nil {
		return nil, err
	}
	if task := matchDescription(pending, comp.Description); task != nil {
		return &Resolution{Task: task, Composition: comp}, nil
	}

	args := comp.CreateArgs()
	if r.DryRun {
		return &Resolution{Composition: comp, WouldCreate: args}, nil
	}

	id, err := r.tasks.Create(ctx, args...)
	if err != nil {
		return nil, err
	}
	task, err := r.tasks.ExportByID(ctx, strconv.Itoa(id))
	if err != nil {
		return nil, &ResolutionError{Msg: fmt.Sprintf("cannot find created task for description %s", comp.Description)}
	}
	return &Resolution{Task: task, Composition: comp, Created: true}, nil
}

// Compose runs the fragment lists in order and assembles their text.
func (r *Resolver) Compose(ctx context.Context, dir string, d *descriptor.Descriptor) (*Composition, error) {
	desc, err := r.run(ctx, dir, "description", d.Description)
	if err != nil {
		return nil, err
	}
	project, err := r.run(ctx, dir, "project", d.Project)
	if err != nil {
		return nil, err
	}
	tags, err := r.run(ctx, dir, "tags", d.Tags)
	if err != nil {
		return nil, err
	}
	return &Composition{
		Description: strings.Join(desc, ""),
		Project:     strings.Join(project, ""),
		Tags:        tags,
	}, nil
}

func (r *Resolver) run(ctx context.Context, dir, list string, frags []descriptor.Fragment) ([]string, error) {
	parts := make([]string, 0, len(frags))
	for i, f := range frags {
		ref := fmt.Sprintf("%s[%d]", list, i)
		if !f.IsCommand() {
			parts = append(parts, *f.Text)
			continue
		}

		cmd := proc.Command{Name: f.Command[0], Args: f.Command[1:], Dir: dir}
		res, err := r.runner.Run(ctx, cmd)
		if err != nil {
			return nil, fmt.Errorf("fragment %s: %w", ref, err)
		}

		out, err := extract(res.Stdout, f.Regex)
		if err != nil {
			return nil, &ResolutionError{Fragment: ref, Msg: err.Error()}
		}
		if out == "" {
			return nil, &ResolutionError{Fragment: ref, Msg: fmt.Sprintf("%s produced no output", cmd)}
		}
		parts = append(parts, out)
	}
	return parts, nil
}

// extract applies pattern to output. With a capture group the first group is
// kept, otherwise the whole match. Without a pattern the trimmed output is used.
func extract(output, pattern string) (string, error) {
	if pattern == "" {
		return strings.TrimSpace(output), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("bad regex %q: %w", pattern, err)
	}
	m := re.FindStringSubmatch(output)
	if m == nil {
		return "", nil
	}
	if len(m) > 1 {
		return m[1], nil
	}
	return m[0], nil
}

// matchDescription returns the lowest-id pending task with exactly desc.
func matchDescription(tasks []taskwarrior.Task, desc string) *taskwarrior.Task {
	var best *taskwarrior.Task
	for i := range tasks {
		t := &tasks[i]
		if t.Description != desc {
			continue
		}
		if best == nil || t.ID < best.ID {
			best = t
		}
	}
	return best
}
