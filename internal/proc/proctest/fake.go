// Package proctest provides a scripted proc.Runner for tests.
package proctest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/joescharf/tasktrack/internal/proc"
)

// Handler produces the outcome of one command.
type Handler func(cmd proc.Command) (proc.Result, error)

// FakeRunner records every command and answers with Handler.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []proc.Command
	Handler Handler
}

// New returns a FakeRunner that answers with h.
func New(h Handler) *FakeRunner {
	return &FakeRunner{Handler: h}
}

func (f *FakeRunner) Run(_ context.Context, cmd proc.Command) (proc.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.Handler
	f.mu.Unlock()

	if h == nil {
		return proc.Result{}, nil
	}
	return h(cmd)
}

// Calls returns a copy of the recorded commands.
func (f *FakeRunner) Calls() []proc.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]proc.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallStrings returns the recorded commands rendered as "name arg arg".
func (f *FakeRunner) CallStrings() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.String())
	}
	return out
}

// Output builds a successful result whose stdout and combined output are s.
func Output(s string) (proc.Result, error) {
	return proc.Result{Stdout: s, Combined: s}, nil
}

// Fail builds a non-zero exit result for cmd.
func Fail(cmd proc.Command, code int, output string) (proc.Result, error) {
	res := proc.Result{ExitCode: code, Combined: output}
	return res, &proc.CommandError{
		Command:  cmd,
		ExitCode: code,
		Output:   strings.TrimSpace(output),
		Err:      fmt.Errorf("exit status %d", code),
	}
}
