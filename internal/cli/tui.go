package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"charm.land/bubbles/v2/spinner"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/glamour"

	"github.com/raphaelgruber/flock/internal/chat"
	"github.com/raphaelgruber/flock/internal/conductor"
	"github.com/raphaelgruber/flock/internal/models"
)

const (
	defaultWidth   = 80
	maxResultLines = 8
)

// changedMsg reports that the workspace view may have changed.
type changedMsg struct{}

// renderedText caches glamour output for one message.
type renderedText struct {
	source string
	out    string
}

// chatModel is the bubbletea model for the chat window.
type chatModel struct {
	ctx      context.Context
	ws       *chat.Workspace
	input    textinput.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
	rendered map[string]renderedText
	theme    Theme

	width  int
	height int
	view   chat.View
	notice string
}

func newChatModel(ctx context.Context, ws *chat.Workspace) chatModel {
	ti := textinput.New()
	ti.Placeholder = "Ask anything (enter to send)"
	ti.Prompt = "> "
	ti.Focus()

	return chatModel{
		ctx:      ctx,
		ws:       ws,
		input:    ti,
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		renderer: newRenderer(defaultWidth),
		rendered: make(map[string]renderedText),
		theme:    defaultTheme,
		width:    defaultWidth,
		view:     ws.View(),
	}
}

// newRenderer returns a markdown renderer, or nil when none can be built.
// Text is shown unformatted without one.
func newRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(max(width-4, 20)),
	)
	if err != nil {
		return nil
	}
	return r
}

// Init starts listening for workspace changes.
func (m chatModel) Init() tea.Cmd {
	return tea.Batch(
		waitForChange(m.ctx, m.ws),
		m.spinner.Tick,
	)
}

// waitForChange blocks until the workspace signals a change.
// Runs in a separate goroutine (command) to avoid blocking Update().
func waitForChange(ctx context.Context, ws *chat.Workspace) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ws.Changes():
			return changedMsg{}
		case <-ctx.Done():
			return nil
		}
	}
}

// Update handles messages and returns the updated model.
func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.SetWidth(max(msg.Width-4, 10))
		m.renderer = newRenderer(msg.Width)
		clear(m.rendered)
		return m, nil

	case changedMsg:
		m.view = m.ws.View()
		return m, waitForChange(m.ctx, m.ws)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if handled, cmd := m.handleKey(msg.String()); handled {
			m.view = m.ws.View()
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleKey runs the intent bound to key. It reports false for keys that
// belong to the input line.
func (m *chatModel) handleKey(key string) (bool, tea.Cmd) {
	switch key {
	case "ctrl+c":
		return true, tea.Quit

	case "enter":
		m.notice = describeRejection(m.ws.Send(m.input.Value()))
		if m.notice == "" {
			m.input.Reset()
		}

	case "ctrl+r":
		text, ok := latestToolResult(m.ws.Messages())
		if !ok {
			m.notice = "no tool result to send yet"
			return true, nil
		}
		m.notice = describeRejection(m.ws.Resubmit(text))

	case "ctrl+t":
		m.ws.NewSession()
		m.notice = ""

	case "ctrl+w":
		m.ws.Remove(m.ws.SelectedID())
		m.notice = ""

	case "tab":
		m.ws.SelectNext(1)
		m.notice = ""

	case "shift+tab":
		m.ws.SelectNext(-1)
		m.notice = ""

	default:
		return false, nil
	}
	return true, nil
}

// describeRejection turns a refused submission into a status hint.
func describeRejection(err error) string {
	switch {
	case err == nil, errors.Is(err, conductor.ErrEmptySubmission):
		return ""
	case errors.Is(err, conductor.ErrExchangeInFlight):
		return "wait for the current reply to finish"
	default:
		return err.Error()
	}
}

// latestToolResult returns the text of the most recent tool result in msgs.
func latestToolResult(msgs []models.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		invs := msgs[i].ToolInvocations
		for j := len(invs) - 1; j >= 0; j-- {
			if invs[j].State == models.ToolStateResult {
				return invs[j].ResultText(), true
			}
		}
	}
	return "", false
}

// View renders the chat window.
func (m chatModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

// renderContent builds the display string.
func (m chatModel) renderContent() string {
	tabs := m.renderTabs()
	status := m.renderStatus()
	input := m.input.View()

	body := m.renderMessages()
	if m.height > 0 {
		avail := m.height - lineCount(tabs) - lineCount(status) - lineCount(input) - 2
		body = lastLines(body, max(avail, 1))
	}

	return tabs + "\n\n" + body + "\n" + status + "\n" + input
}

func (m chatModel) renderTabs() string {
	tabs := make([]string, 0, len(m.view.Sessions)+1)
	for _, s := range m.view.Sessions {
		tabs = append(tabs, m.theme.tabStyle(s.ID == m.view.SelectedID).Render(s.Title))
	}
	placeholder := m.view.SelectedID == models.PlaceholderID
	tabs = append(tabs, m.theme.tabStyle(placeholder).Render("+ "+models.PlaceholderTitle))
	return strings.Join(tabs, " ")
}

func (m chatModel) renderStatus() string {
	var line string
	switch m.view.Status {
	case conductor.StatusStreaming:
		line = m.theme.statusStyle().Render(m.spinner.View() + " streaming")
	case conductor.StatusError:
		text := "error"
		if m.view.Err != nil {
			text = "error: " + m.view.Err.Error()
		}
		line = m.theme.errorStyle().Render("✗ " + text)
	default:
		line = m.theme.successStyle().Render("● idle")
	}

	hint := "enter send · ctrl+t new · ctrl+w close · tab switch · ctrl+r reuse result · ctrl+c quit"
	if m.notice != "" {
		hint = m.notice
	}
	return line + "  " + m.theme.hintStyle().Render(hint)
}

func (m chatModel) renderMessages() string {
	if len(m.view.Messages) == 0 {
		return m.theme.hintStyle().Render("No messages yet.")
	}

	var b strings.Builder
	for _, msg := range m.view.Messages {
		assistant := msg.Role == models.RoleAssistant
		label := "You"
		if assistant {
			label = "Assistant"
		}
		b.WriteString(m.theme.roleStyle(assistant).Render(label))
		b.WriteString("\n")

		for _, part := range msg.Parts() {
			switch p := part.(type) {
			case models.TextPart:
				b.WriteString(m.renderText(msg.ID, p.Text, assistant))
			case models.ToolCallPart:
				b.WriteString(m.renderToolCall(p.Invocation))
			case models.ToolResultPart:
				b.WriteString(m.renderToolResult(p.Invocation))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderText formats assistant prose as markdown. User text is shown as typed.
func (m chatModel) renderText(id, text string, assistant bool) string {
	if !assistant || m.renderer == nil {
		return text
	}
	if cached, ok := m.rendered[id]; ok && cached.source == text {
		return cached.out
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return text
	}
	out = strings.Trim(out, "\n")
	m.rendered[id] = renderedText{source: text, out: out}
	return out
}

func (m chatModel) renderToolCall(inv models.ToolInvocation) string {
	head := fmt.Sprintf("⚙ %s %s", inv.ToolName, formatArgs(inv))
	return m.theme.cardStyle().Render(head + "\n" + m.theme.hintStyle().Render(m.spinner.View()+" running"))
}

func (m chatModel) renderToolResult(inv models.ToolInvocation) string {
	head := fmt.Sprintf("✓ %s %s", inv.ToolName, formatArgs(inv))
	result := firstLines(inv.ResultText(), maxResultLines)
	hint := m.theme.hintStyle().Render("ctrl+r: take flight with this direction")
	return m.theme.cardStyle().Render(head + "\n" + result + "\n" + hint)
}

// formatArgs renders tool arguments as key=value pairs.
func formatArgs(inv models.ToolInvocation) string {
	args := inv.ArgsMap()
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(pairs, " ")
}

func lineCount(s string) int {
	return strings.Count(s, "\n") + 1
}

func firstLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:n], "\n") + fmt.Sprintf("\n… %d more lines", len(lines)-n)
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

// RunChat runs the interactive chat UI until the user quits.
func RunChat(ctx context.Context, ws *chat.Workspace) error {
	p := tea.NewProgram(newChatModel(ctx, ws), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat UI error: %w", err)
	}
	return nil
}
