// Package notify delivers informational and error messages about tracking
// transitions to the user.
package notify

import (
	"fmt"
	"log/slog"

	"github.com/joescharf/tasktrack/internal/output"
)

// Notifier receives human-readable messages with a severity.
type Notifier interface {
	Info(format string, a ...any)
	Error(format string, a ...any)
}

// UINotifier prints to the terminal through output.UI.
type UINotifier struct {
	UI *output.UI
}

func (n *UINotifier) Info(format string, a ...any)  { n.UI.Success(format, a...) }
func (n *UINotifier) Error(format string, a ...any) { n.UI.Error(format, a...) }

// LogNotifier writes notifications as structured log records.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Info(format string, a ...any) {
	n.Logger.Info(fmt.Sprintf(format, a...), "kind", "notification")
}

func (n *LogNotifier) Error(format string, a ...any) {
	n.Logger.Error(fmt.Sprintf(format, a...), "kind", "notification")
}

type multi []Notifier

// Multi fans every message out to all notifiers.
func Multi(ns ...Notifier) Notifier {
	return multi(ns)
}

func (m multi) Info(format string, a ...any) {
	for _, n := range m {
		n.Info(format, a...)
	}
}

func (m multi) Error(format string, a ...any) {
	for _, n := range m {
		n.Error(format, a...)
	}
}

type discard struct{}

func (discard) Info(string, ...any)  {}
func (discard) Error(string, ...any) {}

// Discard drops every message.
var Discard Notifier = discard{}
