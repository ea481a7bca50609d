package cli

import (
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/flock/internal/chat"
	"github.com/raphaelgruber/flock/internal/config"
	"github.com/raphaelgruber/flock/internal/store"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat window",
	Long: `Open the interactive chat window.

Every tab is an independent conversation. Typing into "New Chat" starts a
new one; replies stream in while you read, and tool calls appear as cards
that fill in with their results.

Keys:
  enter        send the message
  ctrl+t       new chat
  ctrl+w       close the current chat
  tab          next chat (shift+tab: previous)
  ctrl+r       send the latest tool result as the next message
  ctrl+c       quit

Examples:
  flock chat
  flock chat --transport local
  flock chat --endpoint http://devbox:8484/reply`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	// The screen belongs to the UI, so logs only go to the file.
	logger, cleanup := config.SetupFileLogger(cfg.LogFile, cfg.LogLevel)
	defer warnClose("log file", cleanup)

	ctx := cmd.Context()
	streamer, closeStreamer, err := newStreamer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer warnClose("transport", closeStreamer)

	ws := chat.New(ctx, store.New(store.WithLogger(logger)), streamer, chat.WithLogger(logger))
	defer ws.Close()

	logger.Info("chat started", "transport", cfg.Transport, "endpoint", cfg.Endpoint)
	return RunChat(ctx, ws)
}
