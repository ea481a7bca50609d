package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/flock/internal/agent"
	"github.com/raphaelgruber/flock/internal/config"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools available to the local assistant",
	Long: `List the tools the local assistant can call.

Tools come from the in-process tool host rooted at $FLOCK_TOOL_ROOT, or from
the MCP server started by $FLOCK_TOOL_COMMAND.

Examples:
  flock tools
  FLOCK_TOOL_COMMAND=flock-tools flock tools`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	logger, cleanup := setupLogger()
	defer warnClose("log file", cleanup)

	return listTools(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
}

func listTools(ctx context.Context, w io.Writer, c config.Config, logger *slog.Logger) error {
	exec, err := agent.OpenTools(ctx, c, Version, logger)
	if err != nil {
		return fmt.Errorf("open tools: %w", err)
	}
	defer warnClose("tool host", exec.Close)

	tools, err := exec.Tools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}

	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return nil
	}
	for _, tool := range tools {
		fmt.Fprintf(w, "%-16s %s\n", tool.Name, tool.Description)
	}
	return nil
}
