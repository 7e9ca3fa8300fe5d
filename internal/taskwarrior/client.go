package taskwarrior

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joescharf/tasktrack/internal/proc"
)

// ErrNoTask is returned when an export matches no task.
var ErrNoTask = errors.New("no matching task")

// baseArgs keep `task` non-interactive and make `add` report the new id.
var baseArgs = []string{
	"rc.confirmation=off",
	"rc.bulk=0",
	"rc.verbose=new-id",
}

var createdRe = regexp.MustCompile(`Created task (\d+)`)

// Client runs the Taskwarrior CLI.
type Client struct {
	bin    string
	env    []string
	runner proc.Runner
}

// NewClient returns a Client invoking bin (usually "task") with extra env vars.
func NewClient(bin string, env []string, r proc.Runner) *Client {
	if bin == "" {
		bin = "task"
	}
	return &Client{bin: bin, env: env, runner: r}
}

func (c *Client) run(ctx context.Context, args ...string) (proc.Result, error) {
	full := make([]string, 0, len(baseArgs)+len(args))
	full = append(full, baseArgs...)
	full = append(full, args...)
	return c.runner.Run(ctx, proc.Command{Name: c.bin, Args: full, Env: c.env})
}

// Start marks the task with the given UUID as started.
func (c *Client) Start(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("start: invalid uuid %q: %w", id, err)
	}
	if _, err := c.run(ctx, id, "start"); err != nil {
		return fmt.Errorf("start %s: %w", id, err)
	}
	return nil
}

// Stop marks the task with the given UUID as stopped.
func (c *Client) Stop(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("stop: invalid uuid %q: %w", id, err)
	}
	if _, err := c.run(ctx, id, "stop"); err != nil {
		return fmt.Errorf("stop %s: %w", id, err)
	}
	return nil
}

// Outcome is the result of an asynchronous Start or Stop.
type Outcome struct {
	UUID string
	Err  error
}

// StartAsync runs Start in a goroutine. The channel receives one Outcome.
func (c *Client) StartAsync(ctx context.Context, id string) <-chan Outcome {
	return c.async(ctx, id, c.Start)
}

// StopAsync runs Stop in a goroutine. The channel receives one Outcome.
func (c *Client) StopAsync(ctx context.Context, id string) <-chan Outcome {
	return c.async(ctx, id, c.Stop)
}

func (c *Client) async(ctx context.Context, id string, f func(context.Context, string) error) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		ch <- Outcome{UUID: id, Err: f(ctx, id)}
	}()
	return ch
}

// Create runs `task add <args>` and returns the numeric id of the new task.
func (c *Client) Create(ctx context.Context, args ...string) (int, error) {
	res, err := c.run(ctx, append([]string{"add"}, args...)...)
	if err != nil {
		return 0, fmt.Errorf("create task: %w", err)
	}
	m := createdRe.FindStringSubmatch(res.Combined)
	if m == nil {
		return 0, fmt.Errorf("create task: no task id in output %q", strings.TrimSpace(res.Combined))
	}
	return strconv.Atoi(m[1])
}

// ExportByID exports a single task by numeric id or UUID.
func (c *Client) ExportByID(ctx context.Context, id string) (*Task, error) {
	tasks, err := c.ExportAll(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTask, id)
	}
	return &tasks[0], nil
}

// ExportAll exports every task matching the filter arguments.
func (c *Client) ExportAll(ctx context.Context, filter ...string) ([]Task, error) {
	args := append(append([]string{"rc.json.array=on"}, filter...), "export")
	res, err := c.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", strings.Join(filter, " "), err)
	}
	return ParseExport([]byte(res.Stdout))
}

// Pending exports all pending tasks.
func (c *Client) Pending(ctx context.Context) ([]Task, error) {
	return c.ExportAll(ctx, "status:pending")
}

// Active exports the tasks Taskwarrior currently reports as started.
func (c *Client) Active(ctx context.Context) ([]Task, error) {
	return c.ExportAll(ctx, "+ACTIVE")
}
