package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tasktrack/internal/api"
	"github.com/joescharf/tasktrack/internal/journal"
	"github.com/joescharf/tasktrack/internal/output"
)

var (
	reportFormat string
	reportSince  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize tracked time per task",
	Long: `Summarize the start/stop journal into time spent per task.

Intervals still open count until now. The journal is read directly, so the
daemon does not need to be running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun()
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportSince, "since", "7d", "Look-back window, e.g. 7d or 12h")
	reportCmd.Flags().StringVar(&reportFormat, "format", "table", "Output format: table, json, csv, markdown")
	rootCmd.AddCommand(reportCmd)
}

// reportNow is the clock for open intervals, replaceable in tests.
var reportNow = time.Now

func reportRun() error {
	since, err := journal.ParseSince(reportSince)
	if err != nil {
		return err
	}
	j, err := getJournal()
	if err != nil {
		return err
	}

	now := reportNow()
	from := now.Add(-since)
	entries, err := j.List(context.Background(), journal.ListFilter{Since: from, IncludeOpen: true})
	if err != nil {
		return err
	}
	totals := journal.Summarize(entries, from, now)

	switch reportFormat {
	case "table":
		if len(totals) == 0 {
			ui.Info("No tracked time in the last %s", reportSince)
			return nil
		}
		table := ui.Table([]string{"Task", "Description", "Project", "Time", "Intervals", "Last Seen"})
		var sum time.Duration
		for _, t := range totals {
			desc := t.Description
			if t.Open {
				desc += " " + output.Green("(running)")
			}
			_ = table.Append([]string{
				shortUUID(t.UUID),
				desc,
				t.Project,
				output.Duration(t.Duration),
				strconv.Itoa(t.Intervals),
				t.LastSeen.Local().Format("2006-01-02 15:04"),
			})
			sum += t.Duration
		}
		if err := table.Render(); err != nil {
			return err
		}
		fmt.Fprintf(ui.Out, "\nTotal: %s across %d tasks\n", output.Duration(sum), len(totals))
		return nil
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ReportRows(totals))
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"UUID", "Description", "Project", "Seconds", "Intervals", "Open"})
		for _, t := range totals {
			_ = w.Write([]string{t.UUID, t.Description, t.Project,
				strconv.FormatInt(int64(t.Duration/time.Second), 10),
				strconv.Itoa(t.Intervals), strconv.FormatBool(t.Open)})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintf(ui.Out, "# Time Report (last %s)\n", reportSince)
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Description | Project | Time | Intervals |")
		fmt.Fprintln(ui.Out, "|-------------|---------|------|-----------|")
		for _, t := range totals {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d |\n", t.Description, t.Project, output.Duration(t.Duration), t.Intervals)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: table, json, csv, markdown)", reportFormat)
	}
}

func shortUUID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
