package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/output"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve [dir]",
	Short: "Resolve a directory's descriptor to a task without starting it",
	Long: `Find the .tasktrack.yaml governing a directory and resolve it to a
Taskwarrior task, running helper commands and creating the task if no pending
task matches. With --dry-run the task is never created.

This runs locally and does not need the daemon.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return resolveRun(dir)
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func resolveRun(dir string) error {
	found, err := descriptor.Find(dir)
	if errors.Is(err, descriptor.ErrNotFound) {
		return fmt.Errorf("no %s governs %s", descriptor.FileName, dir)
	}
	if err != nil {
		return err
	}
	ui.Info("Descriptor: %s", output.Cyan(found.Path))

	pipeline, err := newPipeline(dryRun)
	if err != nil {
		return err
	}
	res, err := pipeline.Resolve(context.Background(), found.Dir, found.Descriptor)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", found.Path, err)
	}

	if c := res.Composition; c != nil {
		fmt.Fprintf(ui.Out, "  %-12s %s\n", "description", c.Description)
		if c.Project != "" {
			fmt.Fprintf(ui.Out, "  %-12s %s\n", "project", c.Project)
		}
		if len(c.Tags) > 0 {
			fmt.Fprintf(ui.Out, "  %-12s %s\n", "tags", strings.Join(c.Tags, ", "))
		}
	}

	switch {
	case res.WouldCreate != nil:
		ui.DryRunMsg("Would run: task add %s", strings.Join(res.WouldCreate, " "))
	case res.Task != nil:
		t := res.Task
		verb := "Matched"
		if res.Created {
			verb = "Created"
		}
		ui.Success("%s task %d %s (%s) [%s]", verb, t.ID, t.Description, t.ShortUUID(), output.StatusColor(string(t.Status)))
		ui.VerboseLog("UUID: %s", t.UUID)
	}
	return nil
}
