package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/output"
)

var (
	descriptorForce bool
	descriptorID    string
)

var descriptorCmd = &cobra.Command{
	Use:     "descriptor",
	Aliases: []string{"desc"},
	Short:   "Create or inspect .tasktrack.yaml descriptors",
}

var descriptorInitCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter .tasktrack.yaml",
	Long: `Write a .tasktrack.yaml into a directory. With --id the descriptor names
an existing task by UUID; otherwise it composes a description from the
directory name and the current git branch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return descriptorInitRun(dir)
	},
}

var descriptorShowCmd = &cobra.Command{
	Use:   "show [dir]",
	Short: "Show the descriptor governing a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return descriptorShowRun(dir)
	},
}

func init() {
	descriptorInitCmd.Flags().BoolVarP(&descriptorForce, "force", "f", false, "Overwrite an existing descriptor")
	descriptorInitCmd.Flags().StringVar(&descriptorID, "id", "", "Track the task with this UUID")
	descriptorCmd.AddCommand(descriptorInitCmd)
	descriptorCmd.AddCommand(descriptorShowCmd)
	rootCmd.AddCommand(descriptorCmd)
}

// starterDescriptor builds the descriptor written by init.
func starterDescriptor(dir, id string) (*descriptor.Descriptor, error) {
	if id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("--id %q is not a uuid", id)
		}
		return &descriptor.Descriptor{ID: id}, nil
	}
	name := filepath.Base(dir)
	return &descriptor.Descriptor{
		Description: []descriptor.Fragment{
			descriptor.TextFragment(name + ": "),
			descriptor.CommandFragment("", "git", "branch", "--show-current"),
		},
		Project: []descriptor.Fragment{
			descriptor.TextFragment(name),
		},
	}, nil
}

func descriptorInitRun(dir string) error {
	abs, err := descriptor.Canonical(dir)
	if err != nil {
		return err
	}
	path := filepath.Join(abs, descriptor.FileName)

	if _, err := os.Stat(path); err == nil && !descriptorForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	d, err := starterDescriptor(abs, descriptorID)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode descriptor: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would write %s:\n%s", path, data)
		return nil
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write descriptor: %w", err)
	}
	ui.Success("Wrote %s", path)
	return nil
}

func descriptorShowRun(dir string) error {
	found, err := descriptor.Find(dir)
	if errors.Is(err, descriptor.ErrNotFound) {
		ui.Info("No %s governs %s", descriptor.FileName, dir)
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(found.Path))
	fmt.Fprintf(ui.Out, "  %-12s %s\n", "session", found.Dir)
	fmt.Fprintf(ui.Out, "  %-12s %s\n", "fingerprint", found.Fingerprint[:12])

	d := found.Descriptor
	if d.HasID() {
		fmt.Fprintf(ui.Out, "  %-12s %s\n", "id", d.ID)
		return nil
	}
	for _, list := range []struct {
		name  string
		frags []descriptor.Fragment
	}{
		{"description", d.Description},
		{"project", d.Project},
		{"tags", d.Tags},
	} {
		for i, f := range list.frags {
			fmt.Fprintf(ui.Out, "  %-12s %s\n", fmt.Sprintf("%s[%d]", list.name, i), fragmentString(f))
		}
	}
	return nil
}

func fragmentString(f descriptor.Fragment) string {
	if !f.IsCommand() {
		return fmt.Sprintf("%q", *f.Text)
	}
	s := "$ " + strings.Join(f.Command, " ")
	if f.Regex != "" {
		s += " =~ " + f.Regex
	}
	return s
}
