package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/joescharf/tasktrack/internal/descriptor"
	"github.com/joescharf/tasktrack/internal/mcp"
	"github.com/joescharf/tasktrack/internal/resolve"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an editor agent report visits and inspect tracking. Configure it
with:

  {
    "mcpServers": {
      "tasktrack": { "command": "tasktrack", "args": ["mcp"] }
    }
  }

Available tools: tasktrack_sessions, tasktrack_visit, tasktrack_touch,
tasktrack_resolve, tasktrack_report`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// lazyPipeline builds the resolver on first use so a misconfigured
// Taskwarrior only fails the resolve tool.
type lazyPipeline struct {
	dry bool
}

func (p lazyPipeline) Resolve(ctx context.Context, dir string, d *descriptor.Descriptor) (*resolve.Resolution, error) {
	r, err := newPipeline(p.dry)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, dir, d)
}

func mcpRun(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	srv := mcp.NewServer(newAPIClient(), func(dry bool) mcp.Pipeline {
		return lazyPipeline{dry: dry || dryRun}
	}, buildVersion)
	return srv.ServeStdio(ctx)
}
