package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joescharf/tasktrack/internal/api"
	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/output"
)

var (
	visitConsumer string
	visitQuiet    bool
	touchConsumer string
)

var visitCmd = &cobra.Command{
	Use:   "visit [dir]",
	Short: "Report that a shell entered a directory",
	Long: `Report a directory visit to the daemon. If a .tasktrack.yaml governs the
directory, its task is started (and created if needed).

Shell hooks call this on every directory change; see 'tasktrack hook'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return visitRun(dir)
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch",
	Short: "Report activity for a consumer",
	Long:  "Postpone the idle stop of the session the consumer is registered with.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return touchRun()
	},
}

func init() {
	visitCmd.Flags().StringVar(&visitConsumer, "consumer", defaultConsumer(), "Consumer id whose activity keeps the session alive")
	visitCmd.Flags().BoolVarP(&visitQuiet, "quiet", "q", false, "Print nothing unless tracking changes; ignore a stopped daemon")
	touchCmd.Flags().StringVar(&touchConsumer, "consumer", defaultConsumer(), "Consumer id")
	rootCmd.AddCommand(visitCmd)
	rootCmd.AddCommand(touchCmd)
}

// defaultConsumer identifies the invoking shell.
func defaultConsumer() string {
	return fmt.Sprintf("shell-%d", os.Getppid())
}

func visitRun(dir string) error {
	abs, err := descriptor.Canonical(dir)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", dir, err)
	}

	if dryRun {
		ui.DryRunMsg("Would report visit to %s as %s", abs, visitConsumer)
		return nil
	}

	resp, err := newAPIClient().Visit(context.Background(), abs, visitConsumer)
	if err != nil {
		if visitQuiet && errors.Is(err, api.ErrDaemonNotRunning) {
			return nil
		}
		return err
	}

	if !resp.Tracked {
		if !visitQuiet {
			ui.Info("No %s governs %s", descriptor.FileName, abs)
		}
		return nil
	}

	snap := resp.Session
	if snap.Task == nil {
		ui.VerboseLog("Session %s is %s", snap.Path, snap.State)
		return nil
	}
	if visitQuiet {
		return nil
	}
	ui.Success("Tracking %s (%s) [%s]", snap.Task.Description, snap.Task.ShortUUID(), output.StateColor(string(snap.State)))
	return nil
}

func touchRun() error {
	if dryRun {
		ui.DryRunMsg("Would report activity for %s", touchConsumer)
		return nil
	}
	if err := newAPIClient().Activity(context.Background(), touchConsumer); err != nil {
		return err
	}
	ui.VerboseLog("Activity recorded for %s", touchConsumer)
	return nil
}
