package cmd

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tasktrack/internal/output"
	"github.com/joescharf/tasktrack/internal/session"
)

var sessionsJSON bool

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"ls"},
	Short:   "List the daemon's sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsRun()
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsRun() error {
	snaps, err := newAPIClient().Sessions(context.Background())
	if err != nil {
		return err
	}

	if sessionsJSON {
		if snaps == nil {
			snaps = []session.Snapshot{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(snaps)
	}

	if len(snaps) == 0 {
		ui.Info("No sessions")
		return nil
	}

	active, err := activeTasks()
	if err != nil {
		ui.VerboseLog("Taskwarrior state unavailable: %v", err)
	}

	table := ui.Table([]string{"", "Path", "State", "Taskwarrior", "Task", "Description", "Urgency", "Consumers", "Idle In"})
	for _, s := range snaps {
		mark := ""
		if s.Current {
			mark = "*"
		}
		id, desc, urgency := "", "", ""
		if s.Task != nil {
			id, desc, urgency = s.Task.ShortUUID(), s.Task.Description, output.UrgencyColor(s.Task.Urgency)
		}
		idle := "-"
		if s.Deadline != nil {
			idle = output.Duration(time.Until(*s.Deadline))
		}
		_ = table.Append([]string{
			mark,
			s.Path,
			output.StateColor(string(s.State)),
			trackerState(s, active),
			id,
			desc,
			urgency,
			strings.Join(s.Consumers, ","),
			idle,
		})
	}
	return table.Render()
}

// activeTasks returns the UUIDs Taskwarrior reports as started. A nil set
// means the lookup failed.
func activeTasks() (map[string]bool, error) {
	client, err := newTaskClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("task.timeout"))
	defer cancel()
	tasks, err := client.Active(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		set[t.UUID] = true
	}
	return set, nil
}

// trackerState shows whether Taskwarrior agrees with the session. A session
// the daemon believes running that Taskwarrior has not started is flagged.
func trackerState(s session.Snapshot, active map[string]bool) string {
	switch {
	case s.Task == nil:
		return "-"
	case active == nil:
		return output.Yellow("unknown")
	case active[s.Task.UUID]:
		return output.Green("started")
	case s.Running:
		return output.Red("not started")
	default:
		return "stopped"
	}
}
