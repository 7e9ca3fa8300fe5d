package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes an external process invocation.
type Command struct {
	Name string
	Args []string
	Dir  string   // working directory; empty means the caller's cwd
	Env  []string // appended to the current environment
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result holds the captured output of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Combined string // stdout and stderr interleaved in write order
}

// Lines returns the non-empty lines of the combined output.
func (r Result) Lines() []string {
	var lines []string
	for line := range strings.SplitSeq(r.Combined, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

// CommandError reports a process that could not be started or exited non-zero.
type CommandError struct {
	Command  Command
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: exit %d: %s", e.Command, e.ExitCode, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes commands. Implementations must block until the process exits.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner returns a Runner backed by real processes.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdout, combined bytes.Buffer
	c.Stdout = io.MultiWriter(&stdout, &combined)
	c.Stderr = &combined

	err := c.Run()
	res := Result{
		Stdout:   stdout.String(),
		Combined: combined.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		return res, &CommandError{
			Command:  cmd,
			ExitCode: res.ExitCode,
			Output:   strings.TrimSpace(res.Combined),
			Err:      err,
		}
	}
	return res, nil
}
