// Package cli provides the command-line interface for flock.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/flock/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose       bool
	endpointFlag  string
	transportFlag string

	// Global config, loaded before every command
	cfg config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "flock",
	Short: "Multi-session chat client for tool-using assistants",
	Long: `Flock is a terminal chat client for assistants that call tools mid-conversation.

Open several chats side by side, stream replies as they are written, and
watch tool calls turn into results. Any tool result can be sent back as the
next message.

The assistant is reached over HTTP or websocket (see flock-server), or run
in process with --transport local.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if endpointFlag != "" {
			cfg.Endpoint = endpointFlag
		}
		if transportFlag != "" {
			cfg.Transport = strings.ToLower(transportFlag)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and runs it.
// ctx is cancelled on interrupt and stops any running exchange.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "assistant endpoint URL (default $FLOCK_ENDPOINT)")
	rootCmd.PersistentFlags().StringVarP(&transportFlag, "transport", "t", "", "http, ws, local or echo (default $FLOCK_TRANSPORT)")

	// Add subcommands
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flock version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "flock %s\n", Version)
	},
}

// setupLogger returns the logger for line-oriented commands. Logs go to the
// log file only, unless --verbose also asks for debug output on stderr.
func setupLogger() (*slog.Logger, func() error) {
	if verbose {
		return config.SetupLogger(cfg.LogFile, slog.LevelDebug)
	}
	return config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
}

// warnClose reports a failed cleanup without failing the command.
func warnClose(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close %s: %v\n", name, err)
	}
}
