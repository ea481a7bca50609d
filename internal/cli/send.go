package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/raphaelgruber/flock/internal/chat"
	"github.com/raphaelgruber/flock/internal/conductor"
	"github.com/raphaelgruber/flock/internal/metrics"
	"github.com/raphaelgruber/flock/internal/models"
	"github.com/raphaelgruber/flock/internal/store"
	"github.com/raphaelgruber/flock/internal/stream"
	"github.com/raphaelgruber/flock/internal/transcript"
)

var (
	sendFormat string
	sendStats  bool
	sendQuiet  bool
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send one message and stream the reply",
	Long: `Send one message in a fresh chat and stream the reply to stdout.

Text is printed as it arrives and tool calls are shown as they complete.
Use --format to print the whole conversation afterwards.

Examples:
  flock send "What does main.go do?"
  flock send --transport local "List the files in internal/"
  flock send -q --format json "Summarize README.md" > chat.json
  flock send --stats "hello"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendFormat, "format", "f", "", "print the transcript afterwards: text, markdown, json or yaml")
	sendCmd.Flags().BoolVar(&sendStats, "stats", false, "print exchange statistics")
	sendCmd.Flags().BoolVarP(&sendQuiet, "quiet", "q", false, "do not stream the reply")
}

// sendOptions controls one send run.
type sendOptions struct {
	format   string
	stats    bool
	quiet    bool
	markdown bool // render markdown transcripts for a terminal
}

func runSend(cmd *cobra.Command, args []string) error {
	logger, cleanup := setupLogger()
	defer warnClose("log file", cleanup)

	ctx := cmd.Context()
	streamer, closeStreamer, err := newStreamer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer warnClose("transport", closeStreamer)

	opts := sendOptions{
		format:   sendFormat,
		stats:    sendStats,
		quiet:    sendQuiet,
		markdown: isTerminal(os.Stdout),
	}
	return sendOnce(ctx, cmd.OutOrStdout(), streamer, strings.Join(args, " "), opts, logger)
}

// sendOnce runs a single exchange on a fresh workspace and writes the reply to w.
func sendOnce(ctx context.Context, w io.Writer, streamer stream.Streamer, text string, opts sendOptions, logger *slog.Logger) error {
	format, err := parseOptionalFormat(opts.format)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	st := store.New(store.WithLogger(logger))
	ws := chat.New(ctx, st, streamer, chat.WithLogger(logger), chat.WithMetrics(collector))
	defer ws.Close()

	if err := ws.Send(text); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	pr := newReplyPrinter(w)
	if opts.quiet {
		pr = newReplyPrinter(io.Discard)
	}

	done := make(chan error, 1)
	go func() { done <- ws.Wait(ctx) }()

	var waitErr error
wait:
	for {
		select {
		case <-ws.Changes():
			pr.update(ws.Messages())
		case waitErr = <-done:
			pr.update(ws.Messages())
			pr.finish()
			break wait
		}
	}

	if format != "" {
		if err := writeTranscript(w, st.Selected(), format, opts.markdown); err != nil {
			return err
		}
	}
	if opts.stats {
		printStats(w, collector.Snapshot())
	}

	if waitErr != nil {
		return waitErr
	}
	if ws.Status() == conductor.StatusError {
		return ws.Err()
	}
	return nil
}

func parseOptionalFormat(s string) (transcript.Format, error) {
	if s == "" {
		return "", nil
	}
	return transcript.ParseFormat(s)
}

// writeTranscript prints sess in format. Markdown is rendered with glamour
// when render is set.
func writeTranscript(w io.Writer, sess models.Session, format transcript.Format, render bool) error {
	fmt.Fprintln(w)
	if format == transcript.FormatMarkdown && render {
		out, err := glamour.Render(transcript.Markdown(sess), "dark")
		if err == nil {
			_, err = io.WriteString(w, out)
			return err
		}
	}
	return transcript.Write(w, sess, format)
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// replyPrinter writes the growing assistant message incrementally: new text
// as it arrives, one line per tool call and the result once it lands.
type replyPrinter struct {
	w       io.Writer
	msgID   string
	printed int
	tools   map[string]models.ToolState
	endsNL  bool
}

func newReplyPrinter(w io.Writer) *replyPrinter {
	return &replyPrinter{w: w, tools: make(map[string]models.ToolState), endsNL: true}
}

func (p *replyPrinter) update(msgs []models.Message) {
	if len(msgs) == 0 {
		return
	}
	last := msgs[len(msgs)-1]
	if last.Role != models.RoleAssistant {
		return
	}
	if last.ID != p.msgID {
		p.finish()
		p.msgID = last.ID
		p.printed = 0
		clear(p.tools)
	}

	if len(last.Content) > p.printed {
		p.write(last.Content[p.printed:])
		p.printed = len(last.Content)
	}

	for _, inv := range last.ToolInvocations {
		state, seen := p.tools[inv.ToolCallID]
		if !seen {
			p.line(fmt.Sprintf("→ %s %s", inv.ToolName, formatArgs(inv)))
			state = models.ToolStateCall
		}
		if inv.State == models.ToolStateResult && state != models.ToolStateResult {
			p.line(indentLines(firstLines(inv.ResultText(), maxResultLines), "  "))
		}
		p.tools[inv.ToolCallID] = inv.State
	}
}

// finish ends the output on a newline.
func (p *replyPrinter) finish() {
	if !p.endsNL {
		p.write("\n")
	}
}

func (p *replyPrinter) line(s string) {
	p.finish()
	p.write(s + "\n")
}

func (p *replyPrinter) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(p.w, s)
	p.endsNL = strings.HasSuffix(s, "\n")
}

func indentLines(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// printStats displays exchange statistics.
func printStats(w io.Writer, s metrics.Snapshot) {
	fmt.Fprintf(w, "\nExchange Statistics\n")
	fmt.Fprintf(w, "═══════════════════════════════════════\n")

	if s.Exchange != nil {
		fmt.Fprintf(w, "Exchanges:\n")
		printOpStats(w, s.Exchange)
		printTokenStats(w, s.Exchange)
	}
	if s.ToolCall != nil {
		fmt.Fprintf(w, "Tool calls:\n")
		printOpStats(w, s.ToolCall)
	}

	fmt.Fprintf(w, "Chunks: %d, Anomalies: %d, Stream failures: %d, Cancelled: %d\n",
		s.Chunks, s.Anomalies, s.StreamFailures, s.Cancelled)
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *metrics.OperationSnapshot) {
	fmt.Fprintf(w, "  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

// printTokenStats displays token statistics if available.
func printTokenStats(w io.Writer, op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Fprintf(w, "  Tokens In: %d, Tokens Out: %d\n", *op.TotalInputTokens, *op.TotalOutputTokens)
}
